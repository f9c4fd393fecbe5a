// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the artifact engine binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/open-edge-platform/orch-library/go/dazl"
)

var log = dazl.GetPackageLogger()

const (
	unknownVersion = "unknown-version"
	unknownCommit  = "unknown-gitcommit"
	unknownDirty   = "unknown-gitdirty"
)

// Overridden with -ldflags "-X" at release builds.
var (
	Version   = unknownVersion
	GitCommit = unknownCommit
	GitDirty  = unknownDirty
)

// Build describes the running binary.
type Build struct {
	Version   string
	GitCommit string
	Dirty     bool
	GoVersion string
	Platform  string
}

// Current returns the build of the running binary. Values not set at link
// time are taken from the module build information when there is one.
func Current() Build {
	b := Build{
		Version:   Version,
		GitCommit: GitCommit,
		Dirty:     GitDirty == "true" || GitDirty == "dirty",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		b.fill(info)
	}
	return b
}

func (b *Build) fill(info *debug.BuildInfo) {
	if b.Version == unknownVersion && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.GitCommit == unknownCommit {
				b.GitCommit = s.Value
			}
		case "vcs.modified":
			if GitDirty == unknownDirty {
				b.Dirty = s.Value == "true"
			}
		}
	}
}

// UserAgent identifies the engine to remote services such as registries.
func (b Build) UserAgent() string {
	return "artifact-engine/" + b.Version
}

func (b Build) String() string {
	commit := b.GitCommit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if b.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit %s, %s, %s)", b.Version, commit, b.GoVersion, b.Platform)
}

// LogVersion logs the build of the named binary.
func LogVersion(binary string) Build {
	b := Current()
	log.Infof("Starting %s %s", binary, b)
	return b
}

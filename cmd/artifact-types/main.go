// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/open-edge-platform/app-orch-artifacts/internal/blob/dbstore"
	"github.com/open-edge-platform/app-orch-artifacts/internal/shared/verboseerror"
	"github.com/open-edge-platform/app-orch-artifacts/internal/store"
	"github.com/open-edge-platform/app-orch-artifacts/internal/typeschema"
	"github.com/open-edge-platform/app-orch-artifacts/pkg/schema/validator"
	_ "github.com/open-edge-platform/orch-library/go/dazl/zap"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
	cyan  = color.New(color.FgCyan)
)

func main() {
	if err := getRootCmd().Execute(); err != nil {
		verboseerror.Print(os.Stderr, err)
		os.Exit(1)
	}
}

func getRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "artifact-types {validate, describe, migrate-diff} [flags]",
		Short:         "Artifact type definition and database schema utility",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(
		getValidateCommand(),
		getDescribeCommand(),
		getMigrateDiffCommand(),
	)
	return rootCmd
}

func getValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Validate artifact type definition files",
		RunE:  runValidateCommand,
	}
	cmd.Flags().BoolP("verbose", "v", false, "Emit verbose output")
	return cmd
}

func runValidateCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	results, err := validator.ValidateFiles(args...)
	verbose, _ := cmd.Flags().GetBool("verbose")
	for _, result := range results {
		if result.Err != nil {
			_, _ = red.Fprintf(out, "%s: %s\n", result.Path, result.Message)
		} else if verbose {
			_, _ = green.Fprintf(out, "%s: OK\n", result.Path)
		}
	}
	if err != nil {
		return err
	}
	// schema validation passed; the definitions must also build valid types
	_, err = describe(io.Discard, "", args)
	return err
}

func getDescribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <path>...",
		Args:  cobra.MinimumNArgs(1),
		Short: "Print the JSON Schema of artifact types",
		RunE: func(cmd *cobra.Command, args []string) error {
			typeName, _ := cmd.Flags().GetString("type")
			format, _ := cmd.Flags().GetString("output")
			docs, err := describe(cmd.OutOrStdout(), typeName, args)
			if err != nil {
				return err
			}
			return write(cmd.OutOrStdout(), format, docs)
		},
	}
	cmd.Flags().StringP("type", "t", "", "Describe only this artifact type")
	cmd.Flags().StringP("output", "o", "yaml", "Output format (yaml or json)")
	return cmd
}

// describe builds the types defined under paths and returns their JSON
// Schema documents by type name.
func describe(out io.Writer, typeName string, paths []string) (map[string]any, error) {
	defs, err := typeschema.LoadDefinitions(paths...)
	if err != nil {
		return nil, err
	}
	docs := map[string]any{}
	for _, def := range defs {
		if typeName != "" && def.Name != typeName {
			continue
		}
		s, err := typeschema.NewSchema(def)
		if err != nil {
			return nil, &typeschema.LoadError{Type: def.Name, Msg: "invalid artifact type", Err: err}
		}
		_, _ = cyan.Fprintf(out, "# %s (%d fields)\n", s.TypeName, len(s.Fields()))
		docs[s.TypeName] = s.JSONSchema()
	}
	if typeName != "" && len(docs) == 0 {
		return nil, fmt.Errorf("artifact type %s not found", typeName)
	}
	return docs, nil
}

func write(out io.Writer, format string, docs map[string]any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

func getMigrateDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate-diff <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Generate a versioned migration from a development database",
		RunE:  runMigrateDiffCommand,
	}
	cmd.Flags().String("driver", "postgres", "Database driver (postgres or sqlite3)")
	cmd.Flags().String("dsn", "", "Data source of a disposable development database")
	cmd.Flags().String("dir", "migrations", "Migration directory")
	_ = cmd.MarkFlagRequired("dsn")
	return cmd
}

func runMigrateDiffCommand(cmd *cobra.Command, args []string) error {
	driver, _ := cmd.Flags().GetString("driver")
	dsn, _ := cmd.Flags().GetString("dsn")
	dir, _ := cmd.Flags().GetString("dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	st, err := store.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed opening connection to %s: %w", driver, err)
	}
	defer st.Close()
	if err := store.MigrateDiff(context.Background(), st.Driver(), dir, args[0], dbstore.BlobChunksTable); err != nil {
		return fmt.Errorf("failed generating migration file: %w", err)
	}
	_, _ = green.Fprintf(cmd.OutOrStdout(), "migration %s written to %s\n", args[0], dir)
	return nil
}

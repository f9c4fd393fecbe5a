// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package verboseerror renders errors that carry operator guidance as a
// detailed report for the command line tools.
package verboseerror

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"text/template"
)

// Verbose is implemented by errors able to describe themselves at length.
type Verbose interface {
	Verbose(io.Writer)
}

var templates sync.Map

// Print writes the report of the first Verbose error in the chain of err to
// wr. The message of err comes first when it adds context around that error.
// Errors without a report are written as their message.
func Print(wr io.Writer, err error) {
	if err == nil {
		return
	}
	var v Verbose
	if !errors.As(err, &v) {
		_, _ = fmt.Fprintf(wr, "%v\n", err)
		return
	}
	if inner, ok := v.(error); ok && inner.Error() != err.Error() {
		_, _ = fmt.Fprintf(wr, "%v\n", err)
	}
	v.Verbose(wr)
}

// WriteErrorTemplate renders the named report template with e. Templates are
// parsed once per name. If the report cannot be rendered, e is written as a
// plain message.
func WriteErrorTemplate(name string, contents string, wr io.Writer, e any) {
	t, err := parsed(name, contents)
	if err == nil {
		err = t.Execute(wr, e)
	}
	if err != nil {
		_, _ = fmt.Fprintf(wr, "%v\n(report %s unavailable: %v)\n", e, name, err)
	}
}

func parsed(name string, contents string) (*template.Template, error) {
	if t, ok := templates.Load(name); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New(name).Parse(contents)
	if err != nil {
		return nil, err
	}
	actual, _ := templates.LoadOrStore(name, t)
	return actual.(*template.Template), nil
}

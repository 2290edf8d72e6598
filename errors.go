// Copyright (C) 2022  Shanhu Tech Inc.
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
// for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rbt

import (
	"errors"
	"fmt"
)

// Graph validation failure kinds.
const (
	GraphCycle             = "cycle"
	GraphDuplicateDest     = "duplicate-input-destination"
	GraphOutputNotDeclared = "job-output-not-declared"
	GraphEmptyOutputs      = "empty-outputs-for-referenced-job"
	GraphBadPath           = "bad-path"
	GraphBadRef            = "bad-job-ref"
)

// GraphError reports a graph that failed intake validation.
type GraphError struct {
	Kind string // one of the Graph* kind constants
	Msg  string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("invalid graph: %s: %s", e.Kind, e.Msg)
}

func graphErrf(kind, f string, args ...interface{}) *GraphError {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(f, args...)}
}

// ConfigError reports a build configuration that the evaluator bridge
// rejected.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Msg)
}

// InputMissingError reports a declared source file that was not found
// when hashing inputs.
type InputMissingError struct {
	Path string
}

func (e *InputMissingError) Error() string {
	return fmt.Sprintf("input file %q is missing", e.Path)
}

// ToolNotFoundError reports a system tool that could not be resolved
// on PATH.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found on PATH", e.Name)
}

// ExecFailedError reports a child process that exited nonzero.
type ExecFailedError struct {
	Job  string
	Code int
}

func (e *ExecFailedError) Error() string {
	return fmt.Sprintf("job %q exited with code %d", e.Job, e.Code)
}

// OutputMissingError reports a declared output that was absent from
// the workspace after a successful exit, or that was not a regular
// file or directory.
type OutputMissingError struct {
	Job  string
	Path string
}

func (e *OutputMissingError) Error() string {
	return fmt.Sprintf("job %q did not produce output %q", e.Job, e.Path)
}

// StoreConflictError reports a full fingerprint that mapped to a
// different digest than previously recorded. It indicates a
// non-deterministic job or a corrupted store and is fatal for the
// invocation.
type StoreConflictError struct {
	Fingerprint Digest
	Old, New    Digest
}

func (e *StoreConflictError) Error() string {
	return fmt.Sprintf(
		"store conflict on %s: had %s, got %s",
		e.Fingerprint, e.Old, e.New,
	)
}

// ErrCancelled is returned when an invocation is cancelled before the
// graph completes.
var ErrCancelled = errors.New("build cancelled")

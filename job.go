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

import "sort"

// noJob marks the absence of a job reference in Tool.Job and
// Input.Job.
const noJob = -1

// Tool identifies the executable that a command runs. It is either a
// system tool, an opaque name resolved against PATH when the job is
// isolated, or a file produced by an upstream job. A tool never owns
// its producing job; the dependency edge lives in the job's inputs.
type Tool struct {
	// Name is the system tool name. Empty when the tool comes from
	// a job.
	Name string

	// Job is the arena index of the producing job, or noJob for
	// system tools.
	Job int

	// File is the path of the executable within the producing
	// job's output tree.
	File string
}

func (t *Tool) fromJob() bool { return t.Job != noJob }

// SystemTool returns a tool resolved on the host PATH.
func SystemTool(name string) *Tool {
	return &Tool{Name: name, Job: noJob}
}

// JobTool returns a tool built by the job at the given arena index.
func JobTool(job int, file string) *Tool {
	return &Tool{Job: job, File: file}
}

// Command is a tool invocation: the tool, its ordered argument list
// and its environment. Argument order is significant; the environment
// is an unordered mapping.
type Command struct {
	Tool *Tool
	Args []string
	Env  map[string]string
}

// FileMapping maps a source path within its origin (the project root
// or an upstream output tree) to the destination path the running
// command sees. Both are workspace-relative.
type FileMapping struct {
	Source string
	Dest   string
}

// Input is one tagged input of a job: either a set of project files or
// a set of files from an upstream job's output tree.
type Input struct {
	// Job is the arena index of the producing job, or noJob when
	// the files come from the user's project.
	Job int

	Files []*FileMapping
}

func (in *Input) fromJob() bool { return in.Job != noJob }

// ProjectFiles returns an input reading files from the project root.
func ProjectFiles(files ...*FileMapping) *Input {
	return &Input{Job: noJob, Files: files}
}

// JobOutputs returns an input reading files from the output tree of
// the job at the given arena index.
func JobOutputs(job int, files ...*FileMapping) *Input {
	return &Input{Job: job, Files: files}
}

// Job is one unit of work: a command, the inputs it may read, and the
// outputs it promises to produce. Jobs are immutable after graph
// intake; identity is by arena index, and two structurally identical
// jobs fingerprint identically.
type Job struct {
	// Name is for diagnostics and target selection only; it does
	// not participate in fingerprints.
	Name string

	Command *Command

	Inputs []*Input

	// Outputs are workspace-relative paths the command must
	// produce.
	Outputs []string

	// Saturating hints that the job will use every CPU; the
	// coordinator runs it exclusively.
	Saturating bool
}

// deps returns the arena indices of the jobs this job depends on,
// deduplicated, in ascending order.
func (j *Job) deps() []int {
	seen := make(map[int]bool)
	var ds []int
	add := func(i int) {
		if i == noJob || seen[i] {
			return
		}
		seen[i] = true
		ds = append(ds, i)
	}
	for _, in := range j.Inputs {
		add(in.Job)
	}
	add(j.Command.Tool.Job)
	sort.Ints(ds)
	return ds
}

// Graph is the canonical in-memory job graph: an arena of jobs whose
// edges are expressed as arena indices, plus the designated default
// job. A Graph is only constructed by NewGraph, which validates and
// normalizes it.
type Graph struct {
	jobs    []*Job
	def     int   // index of the default job
	order   []int // topological order, dependencies first
	baseFPs []Digest
	revDeps [][]int // dependents of each job
}

// Jobs returns the job arena.
func (g *Graph) Jobs() []*Job { return g.jobs }

// Default returns the arena index of the default job.
func (g *Graph) Default() int { return g.def }

// Job returns the job at the given arena index.
func (g *Graph) Job(i int) *Job { return g.jobs[i] }

// BaseFingerprint returns the memoized base fingerprint of the job at
// the given arena index.
func (g *Graph) BaseFingerprint(i int) Digest { return g.baseFPs[i] }

// FindJob returns the arena index of the first job with the given
// name, or noJob.
func (g *Graph) FindJob(name string) int {
	for i, j := range g.jobs {
		if j.Name == name {
			return i
		}
	}
	return noJob
}

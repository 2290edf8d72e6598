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
	"bytes"
	"path"
	"sort"
	"strconv"
	"strings"

	"shanhu.io/misc/strutil"
)

// isCleanRelPath reports whether p is a clean, workspace-relative
// path: non-empty, not absolute, no "." or ".." components.
func isCleanRelPath(p string) bool {
	if p == "" || p == "." || path.IsAbs(p) {
		return false
	}
	if p != path.Clean(p) {
		return false
	}
	for _, c := range strings.Split(p, "/") {
		if c == ".." || c == "." {
			return false
		}
	}
	return true
}

// pathWithin reports whether p equals out or lies under out when out
// names a directory.
func pathWithin(p, out string) bool {
	return p == out || strings.HasPrefix(p, out+"/")
}

// NewGraph validates the job arena, normalizes it, and returns the
// canonical graph. It performs no I/O. The jobs are owned by the
// graph after this call and must not be mutated.
func NewGraph(jobs []*Job, def int) (*Graph, error) {
	if len(jobs) == 0 {
		return nil, graphErrf(GraphBadRef, "graph has no jobs")
	}
	if def < 0 || def >= len(jobs) {
		return nil, graphErrf(
			GraphBadRef, "default job %d out of range", def,
		)
	}

	for i, j := range jobs {
		if err := checkJob(jobs, i, j); err != nil {
			return nil, err
		}
	}

	g := &Graph{jobs: jobs, def: def}
	if err := g.sortJobs(); err != nil {
		return nil, err
	}
	g.normalize()
	g.memoizeFingerprints()

	g.revDeps = make([][]int, len(jobs))
	for i, j := range jobs {
		for _, dep := range j.deps() {
			g.revDeps[dep] = append(g.revDeps[dep], i)
		}
	}
	return g, nil
}

func checkJob(jobs []*Job, idx int, j *Job) error {
	name := jobName(j, idx)
	if j.Command == nil || j.Command.Tool == nil {
		return graphErrf(GraphBadRef, "job %s has no command", name)
	}

	checkRef := func(ref int) error {
		if ref < 0 || ref >= len(jobs) {
			return graphErrf(
				GraphBadRef,
				"job %s references job %d, out of range",
				name, ref,
			)
		}
		if ref == idx {
			return graphErrf(
				GraphCycle, "job %s references itself", name,
			)
		}
		if len(jobs[ref].Outputs) == 0 {
			return graphErrf(
				GraphEmptyOutputs,
				"job %s reads from job %s, which declares no outputs",
				name, jobName(jobs[ref], ref),
			)
		}
		return nil
	}

	if tool := j.Command.Tool; tool.fromJob() {
		if err := checkRef(tool.Job); err != nil {
			return err
		}
		if !isCleanRelPath(tool.File) {
			return graphErrf(
				GraphBadPath, "job %s has bad tool path %q",
				name, tool.File,
			)
		}
		if !outputDeclared(jobs[tool.Job], tool.File) {
			return graphErrf(
				GraphOutputNotDeclared,
				"job %s uses tool %q, not a declared output of job %s",
				name, tool.File, jobName(jobs[tool.Job], tool.Job),
			)
		}
	} else if tool.Name == "" {
		return graphErrf(GraphBadRef, "job %s has an empty tool", name)
	}

	for _, out := range j.Outputs {
		if !isCleanRelPath(out) {
			return graphErrf(
				GraphBadPath, "job %s has bad output path %q",
				name, out,
			)
		}
	}

	dests := make(map[string]bool)
	for _, in := range j.Inputs {
		if in.fromJob() {
			if err := checkRef(in.Job); err != nil {
				return err
			}
		}
		for _, m := range in.Files {
			if !isCleanRelPath(m.Source) {
				return graphErrf(
					GraphBadPath,
					"job %s has bad input path %q",
					name, m.Source,
				)
			}
			dest := m.Dest
			if dest == "" {
				dest = m.Source
			}
			if !isCleanRelPath(dest) {
				return graphErrf(
					GraphBadPath,
					"job %s has bad input destination %q",
					name, dest,
				)
			}
			if dests[dest] {
				return graphErrf(
					GraphDuplicateDest,
					"job %s maps two inputs to %q",
					name, dest,
				)
			}
			dests[dest] = true

			if in.fromJob() &&
				!outputDeclared(jobs[in.Job], m.Source) {
				return graphErrf(
					GraphOutputNotDeclared,
					"job %s reads %q, not a declared output of job %s",
					name, m.Source,
					jobName(jobs[in.Job], in.Job),
				)
			}
		}
	}
	return nil
}

func outputDeclared(j *Job, p string) bool {
	for _, out := range j.Outputs {
		if pathWithin(p, out) {
			return true
		}
	}
	return false
}

func jobName(j *Job, idx int) string {
	if j.Name != "" {
		return j.Name
	}
	return "#" + strconv.Itoa(idx)
}

// sortJobs computes the topological order of the arena,
// dependencies first, and rejects cycles.
func (g *Graph) sortJobs() error {
	visited := make(map[int]bool)
	tracer := newWalkTracer()

	var visit func(i int) error
	visit = func(i int) error {
		if visited[i] {
			return nil
		}
		if !tracer.push(i) {
			var names []string
			for _, s := range tracer.stack() {
				names = append(names, jobName(g.jobs[s], s))
			}
			return graphErrf(
				GraphCycle, "dependency cycle: %s",
				strings.Join(names, " -> "),
			)
		}
		defer tracer.pop()

		for _, dep := range g.jobs[i].deps() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		visited[i] = true
		g.order = append(g.order, i)
		return nil
	}

	for i := range g.jobs {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

// normalize fills defaulted destinations and sorts outputs and each
// input's mappings (by source, then destination) in plain string
// order, so that full-fingerprint iteration is deterministic. This
// order can differ from the encoded-byte order in which the base
// fingerprint's sets hash the same mappings.
func (g *Graph) normalize() {
	for _, j := range g.jobs {
		sort.Strings(j.Outputs)
		for _, in := range j.Inputs {
			for _, m := range in.Files {
				if m.Dest == "" {
					m.Dest = m.Source
				}
			}
			sort.Slice(in.Files, func(a, b int) bool {
				fa, fb := in.Files[a], in.Files[b]
				if fa.Source != fb.Source {
					return fa.Source < fb.Source
				}
				return fa.Dest < fb.Dest
			})
		}
	}
}

// memoizeFingerprints computes base fingerprints in topological
// order, then orders each job's inputs by their canonical encoding.
func (g *Graph) memoizeFingerprints() {
	g.baseFPs = make([]Digest, len(g.jobs))
	upstream := func(i int) Digest { return g.baseFPs[i] }
	for _, i := range g.order {
		g.baseFPs[i] = baseFingerprint(g.jobs[i], upstream)
	}

	for _, j := range g.jobs {
		sort.Slice(j.Inputs, func(a, b int) bool {
			ea := encodeInput(j.Inputs[a], upstream)
			eb := encodeInput(j.Inputs[b], upstream)
			return bytes.Compare(ea, eb) < 0
		})
	}
}

// projectFiles returns every distinct project-source path referenced
// by any job in the graph, sorted.
func (g *Graph) projectFiles() []string {
	set := make(map[string]bool)
	for _, j := range g.jobs {
		for _, in := range j.Inputs {
			if in.fromJob() {
				continue
			}
			for _, m := range in.Files {
				set[m.Source] = true
			}
		}
	}
	return strutil.SortedList(set)
}

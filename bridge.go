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
	"fmt"
	"path"

	"shanhu.io/text/lexing"
)

// The evaluator bridge turns the configuration evaluator's value
// representation, the decoded build-file rules, into the engine's Job
// values. It validates shape only: structural problems the evaluator
// could admit but the engine does not are ConfigErrors; semantic
// graph problems are left to intake.

func configErrf(f string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(f, args...)}
}

// BuildGraph bridges job rules into a validated graph. root may be
// nil; the default job is then the one named "default", or the first
// rule.
func BuildGraph(rules []*JobRule, root *BuildRoot) (*Graph, error) {
	if len(rules) == 0 {
		return nil, configErrf("build file declares no jobs")
	}

	index := make(map[string]int)
	for i, r := range rules {
		if _, ok := index[r.Name]; ok {
			return nil, configErrf("job %q redeclared", r.Name)
		}
		index[r.Name] = i
	}

	jobRef := func(from, name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return 0, configErrf(
				"job %q references unknown job %q", from, name,
			)
		}
		return i, nil
	}

	jobs := make([]*Job, 0, len(rules))
	for _, r := range rules {
		j, err := bridgeJob(r, jobRef)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	def := 0
	switch {
	case root != nil && root.Default != "":
		i, err := jobRef("build root", root.Default)
		if err != nil {
			return nil, err
		}
		def = i
	default:
		if i, ok := index["default"]; ok {
			def = i
		}
	}

	g, err := NewGraph(jobs, def)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func bridgeJob(r *JobRule, jobRef func(from, name string) (int, error)) (
	*Job, error,
) {
	var tool *Tool
	switch {
	case r.Tool != "" && r.ToolFrom != nil:
		return nil, configErrf(
			"job %q declares both a system tool and a job tool",
			r.Name,
		)
	case r.Tool != "":
		tool = SystemTool(r.Tool)
	case r.ToolFrom != nil:
		i, err := jobRef(r.Name, r.ToolFrom.Job)
		if err != nil {
			return nil, err
		}
		tool = JobTool(i, r.ToolFrom.File)
	default:
		return nil, configErrf("job %q declares no tool", r.Name)
	}

	for _, out := range r.Outputs {
		if path.IsAbs(out) {
			return nil, configErrf(
				"job %q declares absolute output %q", r.Name, out,
			)
		}
	}

	var inputs []*Input
	if len(r.Files) > 0 {
		inputs = append(inputs, ProjectFiles(bridgeFiles(r.Files)...))
	}
	for _, jf := range r.JobFiles {
		i, err := jobRef(r.Name, jf.Job)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, JobOutputs(i, bridgeFiles(jf.Files)...))
	}

	return &Job{
		Name: r.Name,
		Command: &Command{
			Tool: tool,
			Args: r.Args,
			Env:  r.Env,
		},
		Inputs:     inputs,
		Outputs:    r.Outputs,
		Saturating: r.Saturating,
	}, nil
}

func bridgeFiles(fs []*FileMap) []*FileMapping {
	var ms []*FileMapping
	for _, f := range fs {
		ms = append(ms, &FileMapping{Source: f.From, Dest: f.To})
	}
	return ms
}

// LoadGraph reads a build file and bridges it into a validated graph.
func LoadGraph(file string) (*Graph, []*lexing.Error) {
	rules, root, errs := readBuildFile(file)
	if errs != nil {
		return nil, errs
	}
	g, err := BuildGraph(rules, root)
	if err != nil {
		return nil, lexing.SingleErr(err)
	}
	return g, nil
}

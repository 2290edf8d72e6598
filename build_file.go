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
	"shanhu.io/misc/jsonx"
	"shanhu.io/text/lexing"
)

// BuildFileName is the jsonx series file that declares a project's
// build graph.
const BuildFileName = "BUILD.rbt"

// Build-file rule types.
const (
	ruleJob   = "job"
	ruleBuild = "build"
)

// BuildRoot selects the default job of a build file.
type BuildRoot struct {
	Default string
}

// FileMap is the build-file form of a file mapping. To defaults to
// From.
type FileMap struct {
	From string
	To   string `json:",omitempty"`
}

// JobFiles declares files read from another job's output tree.
type JobFiles struct {
	Job   string
	Files []*FileMap
}

// ToolFrom names an executable produced by another job.
type ToolFrom struct {
	Job  string
	File string
}

// JobRule is the build-file form of a job.
type JobRule struct {
	Name string

	// Tool is a system tool name; ToolFrom takes an executable
	// from another job. Exactly one must be set.
	Tool     string    `json:",omitempty"`
	ToolFrom *ToolFrom `json:",omitempty"`

	Args []string          `json:",omitempty"`
	Env  map[string]string `json:",omitempty"`

	// Files are project-file inputs; JobFiles read upstream
	// output trees.
	Files    []*FileMap  `json:",omitempty"`
	JobFiles []*JobFiles `json:",omitempty"`

	Outputs []string `json:",omitempty"`

	Saturating bool `json:",omitempty"`
}

func makeBuildFileNode(t string) interface{} {
	switch t {
	case ruleJob:
		return new(JobRule)
	case ruleBuild:
		return new(BuildRoot)
	}
	return nil
}

// readBuildFile parses a BUILD.rbt jsonx series file into job rules
// and the optional build root declaration.
func readBuildFile(p string) ([]*JobRule, *BuildRoot, []*lexing.Error) {
	entries, errs := jsonx.ReadSeriesFile(p, makeBuildFileNode)
	if errs != nil {
		return nil, nil, errs
	}

	var rules []*JobRule
	var root *BuildRoot
	errList := lexing.NewErrorList()

	for _, r := range entries {
		switch v := r.V.(type) {
		case *JobRule:
			if v.Name == "" {
				errList.Errorf(r.Pos, "job has no name")
				continue
			}
			rules = append(rules, v)
		case *BuildRoot:
			if root != nil {
				errList.Errorf(r.Pos, "build root redeclared")
				continue
			}
			root = v
		default:
			errList.Errorf(r.Pos, "unknown rule type: %q", r.Type)
		}
	}

	if errs := errList.Errs(); errs != nil {
		return nil, nil, errs
	}
	return rules, root, nil
}

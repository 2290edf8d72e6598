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
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGraphErr(t *testing.T, err error, kind string) {
	t.Helper()
	require.Error(t, err)
	var ge *GraphError
	require.True(t, errors.As(err, &ge), "want GraphError, got %v", err)
	require.Equal(t, kind, ge.Kind)
}

func TestNewGraphRejectsCycle(t *testing.T) {
	jobs := []*Job{
		{
			Name: "a",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{JobOutputs(
				1, &FileMapping{Source: "b.out"},
			)},
			Outputs: []string{"a.out"},
		},
		{
			Name: "b",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{JobOutputs(
				0, &FileMapping{Source: "a.out"},
			)},
			Outputs: []string{"b.out"},
		},
	}
	_, err := NewGraph(jobs, 0)
	requireGraphErr(t, err, GraphCycle)
}

func TestNewGraphRejectsSelfReference(t *testing.T) {
	jobs := []*Job{{
		Name: "a",
		Command: &Command{Tool: SystemTool("true")},
		Inputs: []*Input{JobOutputs(
			0, &FileMapping{Source: "out"},
		)},
		Outputs: []string{"out"},
	}}
	_, err := NewGraph(jobs, 0)
	requireGraphErr(t, err, GraphCycle)
}

func TestNewGraphRejectsDuplicateDestination(t *testing.T) {
	jobs := []*Job{{
		Name: "a",
		Command: &Command{Tool: SystemTool("true")},
		Inputs: []*Input{
			ProjectFiles(&FileMapping{Source: "x", Dest: "same"}),
			ProjectFiles(&FileMapping{Source: "y", Dest: "same"}),
		},
		Outputs: []string{"out"},
	}}
	_, err := NewGraph(jobs, 0)
	requireGraphErr(t, err, GraphDuplicateDest)
}

func TestNewGraphRejectsUndeclaredJobOutput(t *testing.T) {
	jobs := []*Job{
		{
			Name: "up",
			Command: &Command{Tool: SystemTool("true")},
			Outputs: []string{"declared"},
		},
		{
			Name: "down",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{JobOutputs(
				0, &FileMapping{Source: "undeclared"},
			)},
			Outputs: []string{"out"},
		},
	}
	_, err := NewGraph(jobs, 1)
	requireGraphErr(t, err, GraphOutputNotDeclared)
}

func TestNewGraphAllowsOutputUnderDeclaredDir(t *testing.T) {
	jobs := []*Job{
		{
			Name: "up",
			Command: &Command{Tool: SystemTool("true")},
			Outputs: []string{"dir"},
		},
		{
			Name: "down",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{JobOutputs(
				0, &FileMapping{Source: "dir/file"},
			)},
			Outputs: []string{"out"},
		},
	}
	_, err := NewGraph(jobs, 1)
	require.NoError(t, err)
}

func TestNewGraphRejectsEmptyOutputsForReferencedJob(t *testing.T) {
	jobs := []*Job{
		{
			Name: "up",
			Command: &Command{Tool: SystemTool("true")},
		},
		{
			Name: "down",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{JobOutputs(
				0, &FileMapping{Source: "anything"},
			)},
			Outputs: []string{"out"},
		},
	}
	_, err := NewGraph(jobs, 1)
	requireGraphErr(t, err, GraphEmptyOutputs)
}

func TestNewGraphRejectsBadPaths(t *testing.T) {
	for _, bad := range []string{"/abs", "../escape", "a/../b", "", "."} {
		jobs := []*Job{{
			Name: "a",
			Command: &Command{Tool: SystemTool("true")},
			Outputs: []string{bad},
		}}
		_, err := NewGraph(jobs, 0)
		requireGraphErr(t, err, GraphBadPath)
	}
}

func TestNewGraphNormalizes(t *testing.T) {
	jobs := []*Job{{
		Name: "a",
		Command: &Command{Tool: SystemTool("true")},
		Inputs: []*Input{ProjectFiles(
			&FileMapping{Source: "b"},
			&FileMapping{Source: "a"},
		)},
		Outputs: []string{"z", "y", "x"},
	}}
	g, err := NewGraph(jobs, 0)
	require.NoError(t, err)

	j := g.Job(0)
	require.Equal(t, []string{"x", "y", "z"}, j.Outputs)
	require.Equal(t, "a", j.Inputs[0].Files[0].Source)
	require.Equal(t, "a", j.Inputs[0].Files[0].Dest) // defaulted
	require.Equal(t, "b", j.Inputs[0].Files[1].Source)
}

func TestGraphTopologicalOrder(t *testing.T) {
	jobs := []*Job{
		{
			Name: "top",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{
				JobOutputs(1, &FileMapping{Source: "m"}),
				JobOutputs(2, &FileMapping{Source: "n"}),
			},
			Outputs: []string{"out"},
		},
		{
			Name: "mid",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{JobOutputs(
				2, &FileMapping{Source: "n"},
			)},
			Outputs: []string{"m"},
		},
		{
			Name: "leaf",
			Command: &Command{Tool: SystemTool("true")},
			Outputs: []string{"n"},
		},
	}
	g, err := NewGraph(jobs, 0)
	require.NoError(t, err)

	pos := make(map[int]int)
	for i, idx := range g.order {
		pos[idx] = i
	}
	require.Less(t, pos[2], pos[1])
	require.Less(t, pos[1], pos[0])
	require.Len(t, g.order, 3)
}

func TestGraphProjectFiles(t *testing.T) {
	jobs := []*Job{
		{
			Name: "a",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{ProjectFiles(
				&FileMapping{Source: "shared"},
				&FileMapping{Source: "only-a"},
			)},
			Outputs: []string{"a.out"},
		},
		{
			Name: "b",
			Command: &Command{Tool: SystemTool("true")},
			Inputs: []*Input{ProjectFiles(
				&FileMapping{Source: "shared", Dest: "renamed"},
			)},
			Outputs: []string{"b.out"},
		},
	}
	g, err := NewGraph(jobs, 0)
	require.NoError(t, err)
	require.Equal(
		t, []string{"only-a", "shared"}, g.projectFiles(),
	)
}

func TestStructurallyIdenticalJobsCollapse(t *testing.T) {
	mk := func() *Job {
		return &Job{
			Command: &Command{
				Tool: SystemTool("echo"), Args: []string{"x"},
			},
			Outputs: []string{"out"},
		}
	}
	g, err := NewGraph([]*Job{mk(), mk()}, 0)
	require.NoError(t, err)
	require.Equal(t, g.BaseFingerprint(0), g.BaseFingerprint(1))
}

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
	"testing"

	"github.com/stretchr/testify/require"
)

func noUpstream(int) Digest {
	panic("job has no upstream")
}

func echoJob(args ...string) *Job {
	return &Job{
		Command: &Command{Tool: SystemTool("echo"), Args: args},
		Outputs: []string{"out"},
	}
}

func TestBaseFingerprintEnvOrderInsensitive(t *testing.T) {
	a := echoJob("hi")
	a.Command.Env = map[string]string{"A": "1", "B": "2", "C": "3"}
	b := echoJob("hi")
	b.Command.Env = map[string]string{"C": "3", "B": "2", "A": "1"}

	require.Equal(
		t, baseFingerprint(a, noUpstream), baseFingerprint(b, noUpstream),
	)
}

func TestBaseFingerprintSetOrderInsensitive(t *testing.T) {
	a := echoJob("hi")
	a.Inputs = []*Input{ProjectFiles(
		&FileMapping{Source: "x", Dest: "x"},
		&FileMapping{Source: "y", Dest: "y"},
	)}
	a.Outputs = []string{"out", "log"}

	b := echoJob("hi")
	b.Inputs = []*Input{ProjectFiles(
		&FileMapping{Source: "y", Dest: "y"},
		&FileMapping{Source: "x", Dest: "x"},
	)}
	b.Outputs = []string{"log", "out"}

	require.Equal(
		t, baseFingerprint(a, noUpstream), baseFingerprint(b, noUpstream),
	)
}

func TestBaseFingerprintArgOrderSensitive(t *testing.T) {
	a := echoJob("one", "two")
	b := echoJob("two", "one")

	require.NotEqual(
		t, baseFingerprint(a, noUpstream), baseFingerprint(b, noUpstream),
	)
}

func TestBaseFingerprintRenameSensitive(t *testing.T) {
	a := echoJob("hi")
	a.Inputs = []*Input{ProjectFiles(
		&FileMapping{Source: "greeting", Dest: "what"},
	)}
	b := echoJob("hi")
	b.Inputs = []*Input{ProjectFiles(
		&FileMapping{Source: "greeting", Dest: "who"},
	)}

	require.NotEqual(
		t, baseFingerprint(a, noUpstream), baseFingerprint(b, noUpstream),
	)
}

func TestBaseFingerprintToolDiscriminant(t *testing.T) {
	// A system tool and a job tool with colliding payload bytes
	// must not fingerprint identically.
	up := func(int) Digest { return Digest{} }

	a := &Job{
		Command: &Command{Tool: SystemTool("bin")},
		Outputs: []string{"out"},
	}
	b := &Job{
		Command: &Command{Tool: JobTool(0, "bin")},
		Outputs: []string{"out"},
	}
	require.NotEqual(t, baseFingerprint(a, up), baseFingerprint(b, up))
}

func TestBaseFingerprintNameIgnored(t *testing.T) {
	a := echoJob("hi")
	a.Name = "first"
	b := echoJob("hi")
	b.Name = "second"

	require.Equal(
		t, baseFingerprint(a, noUpstream), baseFingerprint(b, noUpstream),
	)
}

func TestBaseFingerprintStableAcrossRuns(t *testing.T) {
	j := echoJob("hello", "world")
	j.Command.Env = map[string]string{"K": "v"}
	j.Inputs = []*Input{ProjectFiles(&FileMapping{Source: "a", Dest: "b"})}

	first := baseFingerprint(j, noUpstream)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, baseFingerprint(j, noUpstream))
	}
}

func TestFullFingerprintDependsOnContent(t *testing.T) {
	jobs := func() []*Job {
		return []*Job{{
			Name: "j",
			Command: &Command{
				Tool: SystemTool("cat"), Args: []string{"in"},
			},
			Inputs:  []*Input{ProjectFiles(&FileMapping{Source: "in"})},
			Outputs: []string{"out"},
		}}
	}

	g1, err := NewGraph(jobs(), 0)
	require.NoError(t, err)
	g2, err := NewGraph(jobs(), 0)
	require.NoError(t, err)

	hash := func(d Digest) func(string) (Digest, error) {
		return func(string) (Digest, error) { return d, nil }
	}
	noCAS := func(int) Digest { panic("no deps") }

	fp1, err := fullFingerprint(g1, 0, hash(digestOf([]byte("one"))), noCAS)
	require.NoError(t, err)
	fp2, err := fullFingerprint(g2, 0, hash(digestOf([]byte("one"))), noCAS)
	require.NoError(t, err)
	fp3, err := fullFingerprint(g2, 0, hash(digestOf([]byte("two"))), noCAS)
	require.NoError(t, err)

	require.Equal(t, fp1, fp2)
	require.NotEqual(t, fp1, fp3)
}

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
	"context"
	"path/filepath"
	"runtime"

	"shanhu.io/misc/errcode"
	"shanhu.io/misc/jsonutil"
)

// RunConfig configures one invocation of the engine.
type RunConfig struct {
	// Project is the root directory that project-file inputs
	// resolve against.
	Project string

	// StateRoot holds the CAS, the persistent maps, logs and
	// transient workspaces.
	StateRoot string

	// Jobs bounds worker parallelism; 0 means the CPU count.
	Jobs int

	// ScrubPath runs commands with an empty PATH instead of the
	// inherited one, forcing every tool to be explicitly resolved.
	ScrubPath bool

	// Force re-executes every job even on a result-map hit. The
	// store still detects conflicting outputs.
	Force bool
}

func (c *RunConfig) jobs() int {
	if c.Jobs > 0 {
		return c.Jobs
	}
	return runtime.NumCPU()
}

// InvocationResult is the outcome of one Run: the per-job results in
// arena order plus the default job's.
type InvocationResult struct {
	Jobs    []*JobResult
	Default *JobResult
	Failed  bool
}

// Find returns the result of the first job with the given name.
func (r *InvocationResult) Find(name string) *JobResult {
	for _, j := range r.Jobs {
		if j.Name == name {
			return j
		}
	}
	return nil
}

// Run drives a validated graph to completion: it opens the
// process-wide store handles, hashes the referenced project files,
// walks the DAG, and writes a build summary under the state root. A
// non-nil error is invocation-fatal (store conflict, cancellation);
// ordinary job failures are reported in the result with Failed set.
func Run(ctx context.Context, g *Graph, cfg *RunConfig) (
	*InvocationResult, error,
) {
	projectRoot, err := filepath.Abs(cfg.Project)
	if err != nil {
		return nil, errcode.Annotate(err, "resolve project root")
	}
	stateRoot, err := filepath.Abs(cfg.StateRoot)
	if err != nil {
		return nil, errcode.Annotate(err, "resolve state root")
	}
	env := newEnv(projectRoot, stateRoot)
	if err := env.prepare(); err != nil {
		return nil, errcode.Annotate(err, "prepare state root")
	}

	store, err := openStore(env)
	if err != nil {
		return nil, errcode.Annotate(err, "open store")
	}
	defer store.close()

	metaCache, err := openMetaHashCache(env.metaCache())
	if err != nil {
		return nil, errcode.Annotate(err, "open hash cache")
	}
	defer metaCache.close()

	hasher, err := newInputHasher(env, metaCache)
	if err != nil {
		return nil, err
	}
	hashes, err := hasher.hashAll(ctx, g.projectFiles())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, errcode.Annotate(err, "hash inputs")
	}

	coord := newCoordinator(env, g, store, hashes, cfg)
	fatal := coord.run(ctx)

	result := &InvocationResult{
		Jobs:    coord.results,
		Default: coord.results[g.Default()],
	}
	for _, r := range result.Jobs {
		if r.Status != StatusCompleted {
			result.Failed = true
		}
	}

	if err := writeSummary(env, result); err != nil && fatal == nil {
		fatal = errcode.Annotate(err, "write build summary")
	}
	return result, fatal
}

type jobSummary struct {
	Name        string
	Status      string
	Cached      bool   `json:",omitempty"`
	Fingerprint string `json:",omitempty"`
	Digest      string `json:",omitempty"`
	CASPath     string `json:",omitempty"`
	Stdout      string `json:",omitempty"`
	Stderr      string `json:",omitempty"`
	Error       string `json:",omitempty"`
}

type buildSummary struct {
	Jobs []*jobSummary
}

func writeSummary(env *env, result *InvocationResult) error {
	sum := new(buildSummary)
	for _, r := range result.Jobs {
		s := &jobSummary{
			Name:   r.Name,
			Status: string(r.Status),
			Cached: r.Cached,
		}
		if r.Status == StatusCompleted {
			s.Fingerprint = r.Fingerprint.String()
			s.Digest = r.Digest.String()
			s.CASPath = r.CASPath
		}
		if r.Logs != nil {
			s.Stdout = r.Logs.Stdout
			s.Stderr = r.Logs.Stderr
		}
		if r.Err != nil {
			s.Error = r.Err.Error()
		}
		sum.Jobs = append(sum.Jobs, s)
	}
	return jsonutil.WriteFile(env.state("last-build.json"), sum)
}

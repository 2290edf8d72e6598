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
	"errors"
	"log"

	"golang.org/x/sync/semaphore"
	"shanhu.io/misc/idutil"
)

// JobStatus is the final state of one job in an invocation.
type JobStatus string

// Job statuses.
const (
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusSkipped   JobStatus = "skipped"
)

// JobResult is the per-job outcome of an invocation.
type JobResult struct {
	Name   string
	Status JobStatus

	// Cached is set when the job completed from the store without
	// executing.
	Cached bool

	Fingerprint Digest
	Digest      Digest // CAS digest, set when completed
	CASPath     string

	Logs *jobLogs
	Err  error
}

// jobDone is the message a worker sends back to the coordinator.
type jobDone struct {
	idx    int
	result *JobResult
	fatal  error // store conflict or other invocation-fatal error
}

// coordinator owns the DAG walk. Workers run jobs and report back
// over a channel; all bookkeeping stays on the coordinator
// goroutine.
type coordinator struct {
	env    *env
	graph  *Graph
	store  *Store
	hashes map[string]Digest // project path -> content hash

	inheritPath bool
	force       bool

	slots int64
	sem   *semaphore.Weighted

	results []*JobResult
}

func newCoordinator(
	env *env, g *Graph, store *Store,
	hashes map[string]Digest, cfg *RunConfig,
) *coordinator {
	slots := int64(cfg.jobs())
	return &coordinator{
		env:         env,
		graph:       g,
		store:       store,
		hashes:      hashes,
		inheritPath: !cfg.ScrubPath,
		force:       cfg.Force,
		slots:       slots,
		sem:         semaphore.NewWeighted(slots),
		results:     make([]*JobResult, len(g.Jobs())),
	}
}

// casOf resolves a completed dependency to its CAS directory.
func (c *coordinator) casOf(job int) string {
	return c.store.casPath(c.results[job].Digest)
}

func (c *coordinator) contentHash(path string) (Digest, error) {
	d, ok := c.hashes[path]
	if !ok {
		return Digest{}, &InputMissingError{Path: path}
	}
	return d, nil
}

// run drives the graph to completion. It returns a non-nil error only
// for invocation-fatal conditions (store conflict, cancellation);
// per-job failures land in the results.
func (c *coordinator) run(ctx context.Context) error {
	g := c.graph
	n := len(g.Jobs())

	pending := make([]int, n)
	var ready []int
	for i, j := range g.Jobs() {
		pending[i] = len(j.deps())
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	done := make(chan *jobDone)
	inFlight := 0
	remaining := n
	var fatal error

	for remaining > 0 {
		if fatal == nil && ctx.Err() == nil {
			for _, idx := range ready {
				c.dispatch(ctx, idx, done)
				inFlight++
			}
			ready = ready[:0]
		} else {
			ready = ready[:0]
		}

		if inFlight == 0 {
			break
		}

		d := <-done
		inFlight--
		remaining--
		c.results[d.idx] = d.result

		if d.fatal != nil && fatal == nil {
			fatal = d.fatal
		}

		if d.result.Status == StatusCompleted {
			for _, dep := range g.revDeps[d.idx] {
				pending[dep]--
				if pending[dep] == 0 {
					ready = append(ready, dep)
				}
			}
		} else {
			remaining -= c.skipDescendants(d.idx)
		}
	}

	if fatal == nil && ctx.Err() != nil {
		fatal = ErrCancelled
	}

	// Anything never dispatched is skipped.
	for i, r := range c.results {
		if r == nil {
			c.results[i] = &JobResult{
				Name:   jobName(g.Job(i), i),
				Status: StatusSkipped,
			}
		}
	}
	return fatal
}

// skipDescendants marks every transitive dependent of idx as skipped
// and returns how many jobs it marked.
func (c *coordinator) skipDescendants(idx int) int {
	g := c.graph
	marked := 0
	var walk func(i int)
	walk = func(i int) {
		for _, dep := range g.revDeps[i] {
			if c.results[dep] != nil {
				continue
			}
			c.results[dep] = &JobResult{
				Name:   jobName(g.Job(dep), dep),
				Status: StatusSkipped,
			}
			marked++
			walk(dep)
		}
	}
	walk(idx)
	return marked
}

// dispatch computes the job's full fingerprint and hands it to a
// worker goroutine. Dependencies are complete here, so every upstream
// CAS digest is known.
func (c *coordinator) dispatch(
	ctx context.Context, idx int, done chan<- *jobDone,
) {
	g := c.graph
	j := g.Job(idx)
	name := jobName(j, idx)

	fp, err := fullFingerprint(g, idx, c.contentHash, func(job int) Digest {
		return c.results[job].Digest
	})
	if err != nil {
		go func() {
			done <- &jobDone{idx: idx, result: &JobResult{
				Name: name, Status: StatusFailed, Err: err,
			}}
		}()
		return
	}

	go func() {
		done <- c.work(ctx, idx, name, fp)
	}()
}

// work runs the per-job pipeline: store lookup, isolate and execute
// on a miss, materialize and insert. Saturating jobs reserve every
// worker slot.
func (c *coordinator) work(
	ctx context.Context, idx int, name string, fp Digest,
) *jobDone {
	j := c.graph.Job(idx)
	result := &JobResult{Name: name, Fingerprint: fp}

	weight := int64(1)
	if j.Saturating {
		weight = c.slots
	}
	if err := c.sem.Acquire(ctx, weight); err != nil {
		result.Status = StatusSkipped
		result.Err = ErrCancelled
		return &jobDone{idx: idx, result: result}
	}
	defer c.sem.Release(weight)

	if !c.force {
		d, ok, err := c.store.lookup(fp)
		if err != nil {
			result.Status = StatusFailed
			result.Err = err
			return &jobDone{idx: idx, result: result, fatal: err}
		}
		if ok {
			log.Printf("cached %s (%s)", name, idutil.Short(d.String()))
			result.Status = StatusCompleted
			result.Cached = true
			result.Digest = d
			result.CASPath = c.store.casPath(d)
			return &jobDone{idx: idx, result: result}
		}
	}

	toolPath, err := resolveTool(j.Command.Tool, c.casOf)
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		return &jobDone{idx: idx, result: result}
	}

	log.Printf("BUILD %s", name)
	x := &execJob{
		env:         c.env,
		name:        name,
		job:         j,
		fullFP:      fp,
		toolPath:    toolPath,
		casOf:       c.casOf,
		inheritPath: c.inheritPath,
	}
	d, logs, err := x.run(ctx, c.store)
	result.Logs = logs
	if err != nil {
		result.Status = StatusFailed
		result.Err = err
		if errors.Is(err, ErrCancelled) {
			result.Status = StatusSkipped
		}
		return &jobDone{idx: idx, result: result}
	}

	if err := c.store.insert(fp, d); err != nil {
		result.Status = StatusFailed
		result.Err = err
		var conflict *StoreConflictError
		if errors.As(err, &conflict) {
			return &jobDone{idx: idx, result: result, fatal: err}
		}
		return &jobDone{idx: idx, result: result}
	}

	result.Status = StatusCompleted
	result.Digest = d
	result.CASPath = c.store.casPath(d)
	return &jobDone{idx: idx, result: result}
}

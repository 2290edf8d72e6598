package rbt

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Canonical encoding: scalars are little-endian length-prefixed byte
// strings, lists carry a count header and keep their order, sets sort
// their elements by encoded bytes, and every sum type leads with a
// discriminant byte so distinct variants never collide.
const (
	tagSystemTool   byte = 0x01
	tagJobTool      byte = 0x02
	tagProjectFiles byte = 0x03
	tagJobOutputs   byte = 0x04
)

type canonEncoder struct {
	buf bytes.Buffer
}

func (e *canonEncoder) tag(b byte) { e.buf.WriteByte(b) }

func (e *canonEncoder) raw(bs []byte) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(bs)))
	e.buf.Write(n[:])
	e.buf.Write(bs)
}

func (e *canonEncoder) str(s string) { e.raw([]byte(s)) }

func (e *canonEncoder) count(n int) {
	var bs [8]byte
	binary.LittleEndian.PutUint64(bs[:], uint64(n))
	e.buf.Write(bs[:])
}

// set emits a count header and the elements sorted by their encoded
// bytes, so enumeration order never reaches the digest.
func (e *canonEncoder) set(items [][]byte) {
	sorted := make([][]byte, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i], sorted[j]) < 0
	})
	e.count(len(sorted))
	for _, it := range sorted {
		e.raw(it)
	}
}

func (e *canonEncoder) sum() Digest { return digestOf(e.buf.Bytes()) }

func encodeMapping(m *FileMapping) []byte {
	e := new(canonEncoder)
	e.str(m.Source)
	e.str(m.Dest)
	return e.buf.Bytes()
}

func encodeMappings(ms []*FileMapping) [][]byte {
	items := make([][]byte, 0, len(ms))
	for _, m := range ms {
		items = append(items, encodeMapping(m))
	}
	return items
}

// encodeInput encodes one input variant. Job references are encoded
// as the referenced job's base fingerprint, which keeps the encoding
// stable across arena layouts and hosts.
func encodeInput(in *Input, upstream func(int) Digest) []byte {
	e := new(canonEncoder)
	if in.fromJob() {
		e.tag(tagJobOutputs)
		ref := upstream(in.Job)
		e.raw(ref[:])
	} else {
		e.tag(tagProjectFiles)
	}
	e.set(encodeMappings(in.Files))
	return e.buf.Bytes()
}

// baseFingerprint computes the configuration-only digest of a job.
// It performs no I/O. upstream resolves an arena index to the base
// fingerprint of the referenced job; the graph being a DAG guarantees
// those are computable first.
func baseFingerprint(j *Job, upstream func(int) Digest) Digest {
	e := new(canonEncoder)

	tool := j.Command.Tool
	if tool.fromJob() {
		e.tag(tagJobTool)
		ref := upstream(tool.Job)
		e.raw(ref[:])
		e.str(tool.File)
	} else {
		e.tag(tagSystemTool)
		e.str(tool.Name)
	}

	e.count(len(j.Command.Args))
	for _, arg := range j.Command.Args {
		e.str(arg)
	}

	var envItems [][]byte
	for k, v := range j.Command.Env {
		pair := new(canonEncoder)
		pair.str(k)
		pair.str(v)
		envItems = append(envItems, pair.buf.Bytes())
	}
	e.set(envItems)

	var inputItems [][]byte
	for _, in := range j.Inputs {
		inputItems = append(inputItems, encodeInput(in, upstream))
	}
	e.set(inputItems)

	var outItems [][]byte
	for _, out := range j.Outputs {
		item := new(canonEncoder)
		item.str(out)
		outItems = append(outItems, item.buf.Bytes())
	}
	e.set(outItems)

	return e.sum()
}

// fullFingerprint combines a job's base fingerprint with the content
// hashes of its project files and the CAS digests of its
// dependencies, in canonical input order. contentHash resolves a
// project-relative path; casDigest resolves an arena index to the
// dependency's committed CAS digest.
func fullFingerprint(
	g *Graph, idx int,
	contentHash func(path string) (Digest, error),
	casDigest func(job int) Digest,
) (Digest, error) {
	j := g.Job(idx)
	e := new(canonEncoder)

	base := g.BaseFingerprint(idx)
	e.raw(base[:])

	// The graph is normalized: inputs are in canonical encoded order
	// and their mappings in string order already.
	for _, in := range j.Inputs {
		if in.fromJob() {
			d := casDigest(in.Job)
			e.raw(d[:])
			continue
		}
		for _, m := range in.Files {
			h, err := contentHash(m.Source)
			if err != nil {
				return Digest{}, err
			}
			e.raw(h[:])
		}
	}

	if tool := j.Command.Tool; tool.fromJob() {
		d := casDigest(tool.Job)
		e.raw(d[:])
	}

	return e.sum(), nil
}

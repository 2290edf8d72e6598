package rbt

import (
	"encoding/hex"

	"lukechampine.com/blake3"
	"shanhu.io/misc/errcode"
)

// Digest is a 256-bit BLAKE3 digest. It is the common currency of the
// engine: base and full fingerprints, file content hashes and CAS tree
// digests are all Digest values.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func digestOf(bs []byte) Digest { return blake3.Sum256(bs) }

func parseDigest(s string) (Digest, error) {
	var d Digest
	bs, err := hex.DecodeString(s)
	if err != nil {
		return d, errcode.Annotate(err, "decode digest")
	}
	if len(bs) != len(d) {
		return d, errcode.InvalidArgf(
			"digest has %d bytes, want %d", len(bs), len(d),
		)
	}
	copy(d[:], bs)
	return d, nil
}

// Package cidutil derives content identifiers for stored blobs.
//
// All blob content ids in this repo are CIDv1 strings using the "raw"
// multicodec and a sha2-256 multihash, so an id is recomputable from the
// stored bytes alone.
package cidutil

import (
	"crypto/sha256"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// RawSHA256 returns the CIDv1 (raw + sha2-256) for data.
func RawSHA256(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// RawSHA256String returns the CIDv1 string for data, or "" if derivation
// fails (unreachable for sha2-256 with default length).
func RawSHA256String(data []byte) string {
	id, err := RawSHA256(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// FromSHA256Digest wraps an already-computed sha2-256 digest in a CIDv1.
// Used by streaming writers that hash while copying.
func FromSHA256Digest(digest []byte) (cid.Cid, error) {
	sum, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, multihash.Multihash(sum)), nil
}

// SumReader consumes r to EOF and returns the CIDv1 of the bytes read along
// with the byte count.
func SumReader(r io.Reader) (cid.Cid, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return cid.Undef, n, err
	}
	id, err := FromSHA256Digest(h.Sum(nil))
	return id, n, err
}

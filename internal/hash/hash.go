// Package hash provides the stable, streaming cryptographic digest used to
// derive cache keys, manifest hashes and include-set fingerprints.
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Size is the digest length in bytes (256 bits).
const Size = sha256.Size

// blockSize is the read chunk used for file hashing.
const blockSize = 64 * 1024

// Digest is a fixed-width 256-bit hash value.
type Digest [Size]byte

// Hex renders the digest as a 64-hex-char lowercase string.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// IsZero reports whether d is the zero digest (never a real hash output,
// used as a sentinel for "no entry").
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ShardHex returns the first two hex characters of the digest, the shard
// directory name used throughout the object and manifest stores.
func (d Digest) ShardHex() string {
	return d.Hex()[:2]
}

// RestHex returns the hex digits after the shard prefix.
func (d Digest) RestHex() string {
	return d.Hex()[2:]
}

// DigestFromHex parses a 64-hex-char string back into a Digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("hash: invalid hex digest %q: %w", s, err)
	}
	if len(b) != Size {
		return d, fmt.Errorf("hash: digest %q has %d bytes, want %d", s, len(b), Size)
	}
	copy(d[:], b)
	return d, nil
}

// Hasher streams input into a single digest. The zero value is not usable;
// construct with New.
type Hasher struct {
	h hash.Hash
}

// New returns a Hasher ready to accept Update calls.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Update feeds raw bytes into the digest. Callers that need unambiguous
// concatenation of multiple components (where one component's trailing bytes
// could be confused with the next component's leading bytes) should use
// UpdateTuple instead.
func (h *Hasher) Update(b []byte) {
	h.h.Write(b) //nolint:errcheck // hash.Hash.Write never fails
}

// UpdateString is a convenience wrapper around Update.
func (h *Hasher) UpdateString(s string) {
	h.Update([]byte(s))
}

// UpdateTuple writes each part prefixed with its length as a big-endian
// uint64, so that distinct sequences of parts never hash identically
// (e.g. ["ab","c"] vs ["a","bc"] produce different digests).
func (h *Hasher) UpdateTuple(parts ...[]byte) {
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.h.Write(lenBuf[:]) //nolint:errcheck
		h.h.Write(p)         //nolint:errcheck
	}
}

// UpdateTupleStrings is UpdateTuple for string components.
func (h *Hasher) UpdateTupleStrings(parts ...string) {
	var lenBuf [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(p)))
		h.h.Write(lenBuf[:])  //nolint:errcheck
		h.h.Write([]byte(p)) //nolint:errcheck
	}
}

// Finalize returns the digest accumulated so far. The Hasher remains usable
// for further updates; call Finalize again to get the new running digest.
func (h *Hasher) Finalize() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

// File hashes the contents of path in blockSize chunks, as required for
// large object/source files (spec: "reads the file in 64 KiB blocks").
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	return Reader(f)
}

// Reader hashes all bytes available from r.
func Reader(r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return Digest{}, err
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Bytes hashes a single byte slice directly (no length-prefix framing
// needed since there is only one component).
func Bytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(sum)
}

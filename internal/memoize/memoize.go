// Package memoize implements the optional external hash-memoization
// adapter (spec §1, §4.4, §6: CLCACHE_SERVER): a lookup client that can
// answer "what's the content hash of this file" from a shared, possibly
// remote, cache keyed by (path, last-modified, size), sparing every build
// agent from re-hashing headers the fleet has already hashed.
//
// New relative to this project's ancestor: the ancestor has no
// caller-facing lookup client of this shape (its own remote-hash notion
// lives inside the distributed compile protocol, not behind a small
// interface), so this package's only grounding is the HashMemoizer
// interface spec §9 names plus the ancestor's resty-based HTTP usage
// pattern for its other REST touchpoints.
package memoize

import (
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/dgehri/clcache/internal/hash"
)

// HashMemoizer answers content-hash lookups for a (path, mtime, size)
// triple without reading the file, and records hashes this process
// computed itself so other processes can reuse them (spec §4.4).
type HashMemoizer interface {
	Lookup(path string, mtime, size int64) (hash.Digest, bool, error)
	Store(path string, mtime, size int64, digest hash.Digest) error
}

// Noop never has an answer; every Lookup is a clean miss and Store is a
// no-op. Used when CLCACHE_SERVER is unset (spec §6 default).
type Noop struct{}

func (Noop) Lookup(string, int64, int64) (hash.Digest, bool, error) { return hash.Digest{}, false, nil }
func (Noop) Store(string, int64, int64, hash.Digest) error          { return nil }

// HTTPClient talks to an external hash-memoization server over HTTP,
// keyed by (path, mtime, size) as spec §4.4 specifies.
type HTTPClient struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPClient returns a HashMemoizer backed by the server at baseURL
// (CLCACHE_SERVER, spec §6).
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{client: resty.New(), baseURL: baseURL}
}

type lookupResponse struct {
	Found bool   `json:"found"`
	Hash  string `json:"hash"`
}

// Lookup queries the memoization server for a previously-stored hash of
// path at the given mtime/size. A network error or non-2xx response is
// treated as a clean miss (spec §7: "cache errors never cause a build to
// fail that would otherwise succeed") rather than propagated as an error.
func (c *HTTPClient) Lookup(path string, mtime, size int64) (hash.Digest, bool, error) {
	var out lookupResponse
	resp, err := c.client.R().
		SetQueryParams(map[string]string{
			"path":  path,
			"mtime": fmt.Sprintf("%d", mtime),
			"size":  fmt.Sprintf("%d", size),
		}).
		SetResult(&out).
		Get(c.baseURL + "/lookup")
	if err != nil || resp.IsError() || !out.Found {
		return hash.Digest{}, false, nil
	}

	digest, derr := hash.DigestFromHex(out.Hash)
	if derr != nil {
		return hash.Digest{}, false, nil
	}
	return digest, true, nil
}

type storeRequest struct {
	Path  string `json:"path"`
	Mtime int64  `json:"mtime"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash"`
}

// Store reports a freshly-computed hash to the memoization server,
// best-effort: a failure here never fails the calling build.
func (c *HTTPClient) Store(path string, mtime, size int64, digest hash.Digest) error {
	_, err := c.client.R().
		SetBody(storeRequest{Path: path, Mtime: mtime, Size: size, Hash: digest.Hex()}).
		Post(c.baseURL + "/store")
	return err
}

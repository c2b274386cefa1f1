package records

import (
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ComputeCID returns the CIDv1 (raw codec, sha2-256) of data in its default
// base32 string form.
func ComputeCID(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// ParseCID validates s and returns its canonical string form.
func ParseCID(s string) (string, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: bad cid", common.ErrInvalidRequest)
	}
	return c.String(), nil
}

// MatchesCID reports whether data hashes to the content id s.
func MatchesCID(s string, data []byte) bool {
	want, err := cid.Decode(s)
	if err != nil {
		return false
	}
	got, err := want.Prefix().Sum(data)
	if err != nil {
		return false
	}
	return got.Equals(want)
}

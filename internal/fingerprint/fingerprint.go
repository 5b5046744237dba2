// Package fingerprint computes the chained digests used by the sample
// cache (see internal/sample) to decide which cache entries survive an
// edit to a pipeline and which must be recomputed.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cespare/xxhash/v2"
)

// Digest is a 256-bit chained fingerprint. The zero Digest (all zero
// bytes) is not the hash of any input and is not used as a chain root;
// chains start from Of.
type Digest [sha256.Size]byte

// String renders the digest as a hex string, for use in filenames and logs.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Of hashes a single descriptor into a fresh digest. It is the base case
// used to compute Entry0's fingerprint from the dataset's column tuples.
func Of(descriptor []byte) Digest {
	return sha256.Sum256(descriptor)
}

// Chain extends prev with a single descriptor: H(prev || H(descriptor)).
// Splitting the mix this way (rather than H(prev || descriptor)) keeps the
// digest size fixed regardless of descriptor length. The sample cache
// uses ChainParts instead, since its entries mix a step hash and a
// filter-definition hash.
func Chain(prev Digest, descriptor []byte) Digest {
	mid := sha256.Sum256(descriptor)
	h := sha256.New()
	h.Write(prev[:])
	h.Write(mid[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// ChainParts extends prev by mixing in several already-hashed parts in
// order, used when a cache entry's descriptor is itself composed of
// several independently-hashed pieces (e.g. the step body and the filter
// definition it resolves to).
func ChainParts(prev Digest, parts ...Digest) Digest {
	h := sha256.New()
	h.Write(prev[:])
	for _, p := range parts {
		h.Write(p[:])
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// QuickKey derives a short, non-cryptographic key suitable for naming
// on-disk artefacts (the .sample.NAME.LANGS file) deterministically from
// a digest, without exposing or truncating the cryptographic fingerprint
// itself in a filename.
func QuickKey(d Digest) string {
	h := xxhash.Sum64(d[:])
	return hex.EncodeToString([]byte{
		byte(h >> 56), byte(h >> 48), byte(h >> 40), byte(h >> 32),
		byte(h >> 24), byte(h >> 16), byte(h >> 8), byte(h),
	})
}

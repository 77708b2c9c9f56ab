// Package transform implements the payload cipher selected by a
// community's transop_id (spec.md §3, §6). spec.md treats the concrete
// cryptographic primitives as external collaborators ("Twofish, AES,
// ChaCha20, SPECK, AEAD auth") whose interface the core only needs to
// consume; this package defines that interface plus a small registry of
// concrete transforms, grounded on kcptun's own transop dispatch
// (`switch config.Crypt { case "aes": ... case "twofish": ... }` in
// client/main.go and server/main.go).
package transform

import "github.com/pkg/errors"

// ID identifies a symmetric transform variant on the wire, carried in the
// PACKET message's transop_id field (spec.md §4.3, §6).
type ID uint16

const (
	IDNull ID = iota
	IDAES
	IDTwofish
	IDChaCha20Poly1305
)

// Transform encrypts/decrypts PACKET payloads. Implementations must be
// safe for concurrent use by multiple goroutines (the resolver and
// reactor never share one, but tests exercise transforms directly).
type Transform interface {
	ID() ID
	// Overhead is the number of extra bytes Encode appends (nonce/tag);
	// callers size wire buffers accordingly.
	Overhead() int
	// Encode appends the transformed ciphertext (and any header/tag) for
	// plaintext to dst, returning the extended slice.
	Encode(dst, plaintext []byte) ([]byte, error)
	// Decode returns the recovered plaintext from ciphertext, or an error
	// wrapping ErrCryptoFailed on authentication/format failure.
	Decode(ciphertext []byte) ([]byte, error)
}

// ErrCryptoFailed is the sentinel spec.md §7 requires for transform
// failures: the caller drops the datagram, increments a counter, and logs
// at debug; it must never propagate further.
var ErrCryptoFailed = errors.New("transform: crypto failed")

// Registry maps a transop ID to a constructor taking the community's
// derived key.
type Registry map[ID]func(key []byte) (Transform, error)

// DefaultRegistry wires every transform this package provides.
func DefaultRegistry() Registry {
	return Registry{
		IDNull:             func(key []byte) (Transform, error) { return NewNull(), nil },
		IDAES:              NewAES,
		IDTwofish:          NewTwofish,
		IDChaCha20Poly1305: NewChaCha20Poly1305,
	}
}

// New constructs the Transform named by id using key, via reg.
func (reg Registry) New(id ID, key []byte) (Transform, error) {
	ctor, ok := reg[id]
	if !ok {
		return nil, errors.Errorf("transform: unknown transop id %d", id)
	}
	return ctor(key)
}

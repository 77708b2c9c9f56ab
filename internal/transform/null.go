package transform

// Null is the passthrough transform, transop id 0, used for debugging and
// for communities that opt out of confidentiality (spec.md's "optional
// confidentiality" language in §1).
type Null struct{}

// NewNull constructs the no-op transform.
func NewNull() *Null { return &Null{} }

func (*Null) ID() ID        { return IDNull }
func (*Null) Overhead() int { return 0 }

func (*Null) Encode(dst, plaintext []byte) ([]byte, error) {
	return append(dst, plaintext...), nil
}

func (*Null) Decode(ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	return out, nil
}

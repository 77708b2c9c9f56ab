package transform

import (
	"crypto/cipher"

	"github.com/n3n-go/edge/internal/util"
	"github.com/pkg/errors"
	"golang.org/x/crypto/twofish"
)

// Twofish implements the payload transform using Twofish-CTR, transop id
// 2 (IDTwofish), matching spec.md's explicit mention of Twofish as a supported
// transform and kcptun's own "twofish" crypt option.
type Twofish struct {
	block cipher.Block
}

// NewTwofish builds a Twofish-CTR transform from a 16/24/32-byte key.
func NewTwofish(key []byte) (Transform, error) {
	block, err := twofish.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(ErrCryptoFailed, err.Error())
	}
	return &Twofish{block: block}, nil
}

func (tf *Twofish) ID() ID        { return IDTwofish }
func (tf *Twofish) Overhead() int { return twofish.BlockSize }

func (tf *Twofish) Encode(dst, plaintext []byte) ([]byte, error) {
	iv := make([]byte, twofish.BlockSize)
	if err := util.MemRnd(iv); err != nil {
		return nil, errors.Wrap(ErrCryptoFailed, err.Error())
	}
	out := make([]byte, len(plaintext))
	cipher.NewCTR(tf.block, iv).XORKeyStream(out, plaintext)
	dst = append(dst, iv...)
	dst = append(dst, out...)
	return dst, nil
}

func (tf *Twofish) Decode(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < twofish.BlockSize {
		return nil, errors.Wrap(ErrCryptoFailed, "ciphertext shorter than IV")
	}
	iv := ciphertext[:twofish.BlockSize]
	body := ciphertext[twofish.BlockSize:]
	out := make([]byte, len(body))
	cipher.NewCTR(tf.block, iv).XORKeyStream(out, body)
	return out, nil
}

// Package codec turns plaintext numeric values into the ciphertext-shaped
// payloads submitted to the StartupOps contract.
//
// The transform is a placeholder for a homomorphic-encryption SDK: it is
// deterministic and reversible and offers no confidentiality. Callers depend
// only on the Encode/Decode contract so a real backend can replace it.
package codec

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/crypto/hkdf"
)

// ProofSize is the fixed length of the integrity token.
const ProofSize = 32

var (
	// ErrInvalidValue is returned by Encode for NaN, infinite or negative input.
	ErrInvalidValue = errors.New("codec: invalid value")
	// ErrMalformedPayload is returned by Decode when the ciphertext does not
	// reverse to a finite non-negative decimal.
	ErrMalformedPayload = errors.New("codec: malformed payload")
)

// Payload is an encoded value plus its integrity token.
type Payload struct {
	Ciphertext string
	Proof      [ProofSize]byte
}

// ProofBytes returns the token as a slice, the shape the contract call takes.
func (p Payload) ProofBytes() []byte {
	b := make([]byte, ProofSize)
	copy(b, p.Proof[:])
	return b
}

// Option configures a Codec.
type Option func(*Codec)

// WithSeed makes the integrity token a function of seed and ciphertext
// instead of the all-zero default.
func WithSeed(seed []byte) Option {
	return func(c *Codec) {
		if len(seed) > 0 {
			c.seed = append([]byte(nil), seed...)
		}
	}
}

// Codec encodes and decodes values. The zero value is usable and produces
// zero-filled tokens.
type Codec struct {
	seed []byte
}

// New creates a codec.
func New(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode renders value as decimal text, base64-encodes it and reverses the
// character order.
func (c *Codec) Encode(value float64) (Payload, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	if value == 0 {
		value = 0 // drop the sign of -0
	}

	text := strconv.FormatFloat(value, 'f', -1, 64)
	ciphertext := reverse(base64.StdEncoding.EncodeToString([]byte(text)))

	proof, err := c.proof(ciphertext)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Ciphertext: ciphertext, Proof: proof}, nil
}

// Decode inverts Encode.
func (c *Codec) Decode(ciphertext string) (float64, error) {
	if ciphertext == "" {
		return 0, fmt.Errorf("%w: empty ciphertext", ErrMalformedPayload)
	}
	raw, err := base64.StdEncoding.DecodeString(reverse(ciphertext))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	value, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, fmt.Errorf("%w: %q is not a finite non-negative number", ErrMalformedPayload, raw)
	}
	return value, nil
}

// Verify checks that a payload is well formed: the ciphertext decodes and the
// token matches what this codec would have produced for it.
func (c *Codec) Verify(p Payload) error {
	if _, err := c.Decode(p.Ciphertext); err != nil {
		return err
	}
	want, err := c.proof(p.Ciphertext)
	if err != nil {
		return err
	}
	if want != p.Proof {
		return fmt.Errorf("%w: integrity token mismatch", ErrMalformedPayload)
	}
	return nil
}

func (c *Codec) proof(ciphertext string) ([ProofSize]byte, error) {
	var out [ProofSize]byte
	if len(c.seed) == 0 {
		return out, nil
	}
	r := hkdf.New(sha256.New, c.seed, []byte("startupops-proof"), []byte(ciphertext))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("codec: derive token: %w", err)
	}
	return out, nil
}

// reverse reverses byte order. Base64 output is ASCII so bytes and runes agree.
func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

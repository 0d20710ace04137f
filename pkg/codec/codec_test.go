package codec

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KnownValue(t *testing.T) {
	p, err := New().Encode(500)
	require.NoError(t, err)
	// "500" -> base64 "NTAw" -> reversed
	assert.Equal(t, "wATN", p.Ciphertext)
	assert.Equal(t, [ProofSize]byte{}, p.Proof)
	assert.Len(t, p.ProofBytes(), ProofSize)
}

func TestEncode_RejectsInvalid(t *testing.T) {
	c := New()
	for _, v := range []float64{-1, -0.0001, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := c.Encode(v)
		assert.ErrorIs(t, err, ErrInvalidValue, "value %v", v)
	}
}

func TestEncode_NegativeZero(t *testing.T) {
	c := New()
	p, err := c.Encode(math.Copysign(0, -1))
	require.NoError(t, err)
	v, err := c.Decode(p.Ciphertext)
	require.NoError(t, err)
	assert.False(t, math.Signbit(v))
}

func TestDecode_Malformed(t *testing.T) {
	c := New()
	tests := []struct {
		name       string
		ciphertext string
	}{
		{"empty", ""},
		{"not base64", "!!!"},
		{"not a number", reverse("aGVsbG8=")},  // "hello"
		{"negative", reverse("LTU=")},          // "-5"
		{"infinite", reverse("SW5m")},          // "Inf"
		{"non ascii", "wATNé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.ciphertext)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestRoundTrip_Table(t *testing.T) {
	c := New()
	for _, v := range []float64{0, 1, 0.1, 500, 1234.5678, 4294967295, 1e21, math.SmallestNonzeroFloat64, math.MaxFloat64} {
		p, err := c.Encode(v)
		require.NoError(t, err)
		got, err := c.Decode(p.Ciphertext)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestSeededProof(t *testing.T) {
	seeded := New(WithSeed([]byte("dashboard-seed")))
	a, err := seeded.Encode(42)
	require.NoError(t, err)
	b, err := seeded.Encode(42)
	require.NoError(t, err)
	c, err := seeded.Encode(43)
	require.NoError(t, err)

	assert.Equal(t, a.Proof, b.Proof, "token is deterministic")
	assert.NotEqual(t, a.Proof, c.Proof)
	assert.NotEqual(t, [ProofSize]byte{}, a.Proof)

	require.NoError(t, seeded.Verify(a))
	assert.ErrorIs(t, New().Verify(a), ErrMalformedPayload, "zero-token codec rejects a seeded token")
}

func TestVerify_TamperedCiphertext(t *testing.T) {
	c := New()
	p, err := c.Encode(7)
	require.NoError(t, err)
	p.Ciphertext = "%%%"
	assert.ErrorIs(t, c.Verify(p), ErrMalformedPayload)
}

// Property: Decode(Encode(v).Ciphertext) == v for every finite v >= 0.
func TestRoundTrip_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	roundTrips := func(c *Codec) func(float64) bool {
		return func(v float64) bool {
			p, err := c.Encode(v)
			if err != nil {
				return false
			}
			got, err := c.Decode(p.Ciphertext)
			return err == nil && got == v
		}
	}

	properties.Property("small values round trip", prop.ForAll(
		roundTrips(New()),
		gen.Float64Range(0, 1e6),
	))
	properties.Property("large values round trip", prop.ForAll(
		roundTrips(New()),
		gen.Float64Range(0, math.MaxFloat64),
	))
	properties.Property("seeded codec round trips and verifies", prop.ForAll(
		func(v float64, seed string) bool {
			c := New(WithSeed([]byte(seed)))
			p, err := c.Encode(v)
			if err != nil {
				return false
			}
			return c.Verify(p) == nil
		},
		gen.Float64Range(0, 1e12),
		gen.AlphaString(),
	))
	properties.Property("negative values are rejected", prop.ForAll(
		func(v float64) bool {
			_, err := New().Encode(-v)
			return err != nil
		},
		gen.Float64Range(1e-9, 1e12),
	))

	properties.TestingRun(t)
}

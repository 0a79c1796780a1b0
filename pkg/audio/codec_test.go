package audio

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Positive samples scale by 32767 on encode but decode divides by 32768,
// so near +1 the rounded value can land one and a half steps away.
const roundTripTolerance = 1.5/32768.0 + 1e-9

func TestNegativeRoundTripWithinHalfStep(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	samples := make([]float32, 256)
	for i := range samples {
		samples[i] = -rng.Float32()
	}

	decoded, err := Decode(Encode(samples))
	require.NoError(t, err)

	for i := range samples {
		diff := math.Abs(float64(samples[i]) - float64(decoded[i]))
		assert.LessOrEqual(t, diff, 0.5/32768.0+1e-9, "sample %d", i)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for n := 0; n < 50; n++ {
		samples := make([]float32, rng.Intn(512))
		for i := range samples {
			samples[i] = rng.Float32()*2 - 1
		}

		decoded, err := Decode(Encode(samples))
		require.NoError(t, err)
		require.Len(t, decoded, len(samples))

		for i := range samples {
			diff := math.Abs(float64(samples[i]) - float64(decoded[i]))
			assert.LessOrEqual(t, diff, roundTripTolerance, "sample %d", i)
		}
	}
}

func TestEncodeBoundaries(t *testing.T) {
	pcm := Encode([]float32{1, -1, 0, 2, -3})
	require.Len(t, pcm, 10)

	// 32767, -32768, 0, clamped 32767, clamped -32768
	assert.Equal(t, []byte{0xff, 0x7f, 0x00, 0x80, 0x00, 0x00, 0xff, 0x7f, 0x00, 0x80}, pcm)

	decoded, err := Decode(pcm)
	require.NoError(t, err)
	assert.Equal(t, float32(-1), decoded[1])
	assert.Equal(t, float32(0), decoded[2])
}

func TestDecodeOddLength(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOddLength)

	_, err = DecodeSamples(EncodeBase64([]byte{0x01}))
	assert.ErrorIs(t, err, ErrOddLength)
}

func TestBase64Composition(t *testing.T) {
	samples := []float32{0.25, -0.5, 0.75}

	text := EncodeSamples(samples)
	decoded, err := DecodeSamples(text)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.InDelta(t, -0.5, decoded[1], 1e-9)

	_, err = DecodeBase64("not base64!!")
	assert.Error(t, err)
}

func TestEncodeEmpty(t *testing.T) {
	assert.Empty(t, Encode(nil))

	decoded, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BytesPerSample is the width of one PCM16 sample on the wire.
const BytesPerSample = 2

var ErrOddLength = errors.New("pcm16 payload has odd byte length")

// Encode converts linear samples in [-1,1] to PCM16 little-endian.
// Out of range samples are clamped.
func Encode(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}

		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 32768))
		} else {
			v = int16(math.Round(float64(s) * 32767))
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(v))
	}
	return out
}

// Decode is the inverse of Encode.
func Decode(pcm []byte) ([]float32, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("decode %d bytes: %w", len(pcm), ErrOddLength)
	}

	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

func DecodeBase64(text string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return pcm, nil
}

// EncodeSamples produces the transport text form of a sample block.
func EncodeSamples(samples []float32) string {
	return EncodeBase64(Encode(samples))
}

// DecodeSamples parses the transport text form back into samples.
func DecodeSamples(text string) ([]float32, error) {
	pcm, err := DecodeBase64(text)
	if err != nil {
		return nil, err
	}
	return Decode(pcm)
}

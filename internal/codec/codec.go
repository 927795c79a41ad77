// Package codec converts between 16-bit PCM, normalized float samples and
// the base64 text carried on the wire.
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

const bytesPerSample = 2

// ErrMisalignedPCM is returned when a PCM payload is not a whole number of samples.
var ErrMisalignedPCM = errors.New("pcm payload not aligned to 16-bit samples")

// SamplesToBytes serializes samples as little-endian int16.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*bytesPerSample:], uint16(s)) //nolint:gosec // PCM16 bit pattern
	}
	return buf
}

// BytesToSamples reinterprets little-endian bytes as int16 samples.
func BytesToSamples(b []byte) ([]int16, error) {
	if len(b)%bytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMisalignedPCM, len(b))
	}
	out := make([]int16, len(b)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*bytesPerSample:])) //nolint:gosec // PCM16 bit pattern
	}
	return out, nil
}

// EncodeSamples packs samples little-endian and base64-encodes the result.
func EncodeSamples(samples []int16) string {
	return BytesToBase64(SamplesToBytes(samples))
}

// DecodeToFloat converts Int16LE bytes to floats in [-1, 1) by dividing by 32768.
func DecodeToFloat(b []byte) ([]float32, error) {
	samples, err := BytesToSamples(b)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out, nil
}

// FloatToSample scales a normalized sample by 32767 and truncates toward zero.
// Input outside [-1, 1] is not clamped.
func FloatToSample(f float32) int16 {
	return int16(f * 0x7fff)
}

// BytesToBase64 encodes b with the standard padded alphabet.
func BytesToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64ToBytes is the inverse of BytesToBase64.
func Base64ToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return b, nil
}

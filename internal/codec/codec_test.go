package codec

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 64; n++ {
		in := make([]byte, n)
		rng.Read(in)

		out, err := Base64ToBytes(BytesToBase64(in))
		if err != nil {
			t.Fatalf("len %d: decode failed: %v", n, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("len %d: round trip mismatch: %v != %v", n, in, out)
		}
	}
}

func TestPCMRoundTrip(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768, 1234, -4321}
	raw, err := Base64ToBytes(EncodeSamples(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	out, err := BytesToSamples(raw)
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("sample %d: expected %d, got %d", i, in[i], out[i])
		}
	}
}

func TestSamplesToBytesLittleEndian(t *testing.T) {
	t.Parallel()

	got := SamplesToBytes([]int16{0x0102, -2})
	want := []byte{0x02, 0x01, 0xfe, 0xff}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDecodeToFloat(t *testing.T) {
	t.Parallel()

	got, err := DecodeToFloat(SamplesToBytes([]int16{-32768, 0, 16384}))
	if err != nil {
		t.Fatalf("DecodeToFloat failed: %v", err)
	}
	want := []float32{-1, 0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestDecodeToFloatRejectsOddLength(t *testing.T) {
	t.Parallel()

	if _, err := DecodeToFloat([]byte{1, 2, 3}); !errors.Is(err, ErrMisalignedPCM) {
		t.Fatalf("expected ErrMisalignedPCM, got %v", err)
	}
}

func TestFloatToSampleTruncates(t *testing.T) {
	t.Parallel()

	cases := map[float32]int16{
		1:       32767,
		-1:      -32767,
		0:       0,
		0.5:     16383,
		-0.5:    -16383,
		0.00001: 0,
	}
	for in, want := range cases {
		if got := FloatToSample(in); got != want {
			t.Errorf("FloatToSample(%v): expected %d, got %d", in, want, got)
		}
	}
}

func TestBase64ToBytesInvalid(t *testing.T) {
	t.Parallel()

	if _, err := Base64ToBytes("not base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

package audio

import (
	"bytes"
	"testing"
)

func TestWAV(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := WAV(pcm, sampleRate)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("expected RIFF prefix")
	}
	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestResamplePassthrough(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	out := Resample(pcm, 16000, 16000)
	if &out[0] != &pcm[0] {
		t.Errorf("expected passthrough to return the same backing array")
	}
}

func TestResampleEmpty(t *testing.T) {
	out := Resample(nil, 48000, 16000)
	if len(out) != 0 {
		t.Errorf("expected empty output for empty input, got %d bytes", len(out))
	}
}

func TestResampleDownsampleLength(t *testing.T) {
	n := 4800 // 100ms @ 48kHz
	pcm := make([]byte, n*2)
	out := Resample(pcm, 48000, 16000)
	expected := n * 16000 / 48000
	if len(out) != expected*2 {
		t.Errorf("expected %d bytes, got %d", expected*2, len(out))
	}
}

func TestResampleRoundTrip(t *testing.T) {
	n := 4800
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(i % 1000)
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}

	down := Resample(pcm, 48000, 16000)
	up := Resample(down, 16000, 48000)

	diff := len(up)/2 - n
	if diff < -2 || diff > 2 {
		t.Errorf("expected round-trip sample count within +/-2 of %d, got %d", n, len(up)/2)
	}
}

// Package audio converts interleaved 16-bit signed PCM mono streams between
// sample rates and exports them as WAV for diagnostics (spec.md §4.3).
package audio

import "encoding/binary"

// Resample converts pcm (interleaved little-endian 16-bit signed mono
// samples) from srcRate to dstRate using linear interpolation. It is
// stateless per call, never allocates when srcRate == dstRate (passthrough),
// and on any internal error returns pcm unchanged rather than raising
// (spec.md §4.3 — higher-fidelity algorithms are not required).
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if len(pcm) == 0 {
		return pcm
	}
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate {
		return pcm
	}

	n := len(pcm) / 2
	if n == 0 {
		return pcm
	}

	out := safeResample(pcm, n, srcRate, dstRate)
	if out == nil {
		return pcm
	}
	return out
}

func safeResample(pcm []byte, n, srcRate, dstRate int) (out []byte) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()

	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}

	outN := int(float64(n) * float64(dstRate) / float64(srcRate))
	if outN <= 0 {
		return []byte{}
	}

	result := make([]byte, outN*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < outN; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		var s0, s1 int16
		s0 = samples[idx]
		if idx+1 < n {
			s1 = samples[idx+1]
		} else {
			s1 = s0
		}

		interpolated := float64(s0) + (float64(s1)-float64(s0))*frac
		binary.LittleEndian.PutUint16(result[i*2:i*2+2], uint16(int16(interpolated)))
	}

	return result
}

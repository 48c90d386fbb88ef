package audio

import "encoding/binary"

// Int16ToFloat32 converts little-endian 16-bit signed PCM bytes to mono
// float32 samples normalised to [-1.0, 1.0]. A trailing odd byte is ignored.
func Int16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalised float32 samples to little-endian
// 16-bit signed PCM bytes, clamping out-of-range values.
func Float32ToInt16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// StereoToMonoFloat32 averages interleaved stereo float32 samples into a
// mono stream. A trailing unpaired sample is dropped.
func StereoToMonoFloat32(samples []float32) []float32 {
	frames := len(samples) / 2
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		out[i] = (samples[i*2] + samples[i*2+1]) / 2
	}
	return out
}

package audio

import (
	"encoding/binary"
	"math"
)

// PCM16ToFloat converts little-endian int16 PCM to float32 samples in the range
// [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// F32LEToFloat decodes little-endian IEEE-754 float32 samples, the native
// capture format of most desktop audio backends. Trailing bytes that do not
// form a full sample are ignored.
func F32LEToFloat(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// DownmixFloat averages interleaved multi-channel samples into mono. When
// channels is 1 or less the input is returned unchanged. Incomplete trailing
// frames are dropped.
func DownmixFloat(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

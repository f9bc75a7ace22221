package audio

import (
	"encoding/binary"
	"math"
)

// Level returns the normalized RMS loudness of 16-bit little-endian PCM in
// [0,1]. Empty input is silent.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(n)) / 32768
	return min(rms, 1)
}

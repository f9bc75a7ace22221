package whisper

import (
	"encoding/binary"

	"github.com/MrWong99/tartil/pkg/audio"
	"github.com/MrWong99/tartil/pkg/recitation"
)

// segmentSamples returns seg as mono float32 samples at the model rate.
func segmentSamples(seg *recitation.CapturedAudioSegment) []float32 {
	pcm := audio.Downmix(seg.Bytes, seg.Channels)
	if seg.SampleRate > 0 {
		pcm = audio.ResampleMono16(pcm, seg.SampleRate, modelSampleRate)
	}
	return pcmToFloat32(pcm)
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. A trailing odd byte is
// ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

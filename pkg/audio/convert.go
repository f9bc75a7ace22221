package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// FormatConverter brings device frames into the capture format. Captures
// are always mono, so any channel layout is downmixed before resampling.
// Frames with a trailing odd byte are dropped with a single warning.
// Create one per capture; it is not safe for concurrent use.
type FormatConverter struct {
	Target Format

	mismatch sync.Once
	corrupt  sync.Once
}

// Convert returns frame in the target format. A frame already in the target
// format is returned as is.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	out := AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}

	if len(frame.Data)%2 != 0 {
		c.corrupt.Do(func() {
			slog.Warn("audio: misaligned PCM from device, dropping frame", "bytes", len(frame.Data), "format", src)
		})
		return out
	}
	if src == c.Target {
		return frame
	}
	c.mismatch.Do(func() {
		slog.Warn("audio: device format differs from capture format, converting", "from", src, "to", c.Target)
	})

	out.Data = ResampleMono16(Downmix(frame.Data, src.Channels), src.SampleRate, c.Target.SampleRate)
	return out
}

// Downmix averages the interleaved channels of 16-bit PCM into one. Mono
// input is returned unchanged; incomplete trailing frames are discarded.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	out := make([]byte, len(pcm)/stride*2)
	for i := range len(pcm) / stride {
		var sum int32
		for ch := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*stride+ch*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 converts 16-bit mono PCM from srcRate to dstRate by linear
// interpolation. Equal or non-positive rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	n := len(pcm) / 2
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || n == 0 {
		return pcm
	}
	sample := func(i int) float64 {
		i = min(i, n-1)
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	out := make([]byte, outN*2)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		v := sample(j)*(1-frac) + sample(j+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

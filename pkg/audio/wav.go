package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// ErrInvalidWAV is returned by [DecodeWAV] for input that is not 16-bit PCM WAV.
var ErrInvalidWAV = errors.New("audio: invalid wav")

const wavHeaderSize = 44

// EncodeWAV wraps the segment's PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(seg *recitation.CapturedAudioSegment) ([]byte, error) {
	if seg == nil || seg.Released() {
		return nil, fmt.Errorf("audio: encode wav: segment has no audio")
	}
	if seg.SampleRate <= 0 || seg.Channels <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid format %dHz %dch", seg.SampleRate, seg.Channels)
	}
	return encodePCM16WAV(seg.Bytes, Format{SampleRate: seg.SampleRate, Channels: seg.Channels}), nil
}

func encodePCM16WAV(pcm []byte, f Format) []byte {
	blockAlign := f.Channels * 2
	buf := make([]byte, wavHeaderSize, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	return append(buf, pcm...)
}

// DecodeWAV reads a 16-bit PCM WAV file and returns its samples and format.
// Chunks other than "fmt " and "data" are skipped.
func DecodeWAV(r io.Reader) ([]byte, Format, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		f       Format
		haveFmt bool
	)
	rd := bytes.NewReader(data[12:])
	for {
		var hdr struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(rd, binary.LittleEndian, &hdr); err != nil {
			return nil, Format{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
		}
		body := make([]byte, hdr.Size)
		if _, err := io.ReadFull(rd, body); err != nil {
			return nil, Format{}, fmt.Errorf("%w: truncated %q chunk", ErrInvalidWAV, hdr.ID[:])
		}
		if hdr.Size%2 == 1 {
			_, _ = rd.ReadByte() // pad byte
		}

		switch string(hdr.ID[:]) {
		case "fmt ":
			if len(body) < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if binary.LittleEndian.Uint16(body[0:2]) != 1 || binary.LittleEndian.Uint16(body[14:16]) != 16 {
				return nil, Format{}, fmt.Errorf("%w: only 16-bit PCM is supported", ErrInvalidWAV)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt chunk", ErrInvalidWAV)
			}
			return body, f, nil
		}
	}
}

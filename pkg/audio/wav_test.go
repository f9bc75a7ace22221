package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/tartil/pkg/audio"
	"github.com/MrWong99/tartil/pkg/recitation"
)

func TestEncodeWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{1, -1, 1000, -1000})
	seg := &recitation.CapturedAudioSegment{SampleRate: 16000, Channels: 1, Bytes: pcm}

	wav, err := audio.EncodeWAV(seg)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d", got)
	}

	gotPCM, f, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("format = %+v", f)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Errorf("pcm = %v, want %v", gotPCM, pcm)
	}
}

func TestEncodeWAV_ReleasedSegment(t *testing.T) {
	seg := &recitation.CapturedAudioSegment{SampleRate: 16000, Channels: 1, Bytes: []byte{0, 0}}
	seg.Release()
	if _, err := audio.EncodeWAV(seg); err == nil {
		t.Fatal("EncodeWAV of released segment succeeded")
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	pcm := samplesToBytes([]int16{7, 8, 9})
	seg := &recitation.CapturedAudioSegment{SampleRate: 22050, Channels: 2, Bytes: pcm}
	wav, err := audio.EncodeWAV(seg)
	if err != nil {
		t.Fatal(err)
	}

	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte("LIST\x03\x00\x00\x00abc\x00")
	withList := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	got, f, err := audio.DecodeWAV(bytes.NewReader(withList))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.SampleRate != 22050 || f.Channels != 2 || !bytes.Equal(got, pcm) {
		t.Errorf("decoded %+v %v", f, got)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	cases := map[string][]byte{
		"empty":   nil,
		"not wav": []byte("OggS0000000000000000"),
		"no data": []byte("RIFF\x04\x00\x00\x00WAVE"),
	}
	for name, in := range cases {
		if _, _, err := audio.DecodeWAV(bytes.NewReader(in)); !errors.Is(err, audio.ErrInvalidWAV) {
			t.Errorf("%s: err = %v, want ErrInvalidWAV", name, err)
		}
	}
}

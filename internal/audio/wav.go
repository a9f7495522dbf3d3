package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Minimal 16-bit PCM WAV reader. Uploaded clips are small mono recordings;
// the inference service wants the raw PCM payload and the extractor wants
// normalized samples, so this pulls both out of one parse.

var errNotWAV = errors.New("not a RIFF/WAVE file")

// Clip is a decoded WAV upload.
type Clip struct {
	PCM        []byte // raw little-endian int16 frames, as the wire wants them
	SampleRate int
	Channels   int
}

// DecodeWAV parses a PCM16LE WAV file. Compressed or non-16-bit files are
// rejected rather than guessed at.
func DecodeWAV(b []byte) (*Clip, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, errNotWAV
	}

	clip := &Clip{}
	var haveFmt, haveData bool

	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: short fmt chunk (%d bytes)", size)
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("wav: unsupported audio format %d (want PCM)", format)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if bits != 16 {
				return nil, fmt.Errorf("wav: unsupported bit depth %d (want 16)", bits)
			}
			haveFmt = true
		case "data":
			clip.PCM = b[body : body+size]
			haveData = true
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || !haveData {
		return nil, errors.New("wav: missing fmt or data chunk")
	}
	if clip.Channels <= 0 || clip.SampleRate <= 0 {
		return nil, errors.New("wav: invalid fmt chunk")
	}
	return clip, nil
}

// Samples converts the clip's PCM to normalized mono floats in [-1,1].
// Multi-channel frames are averaged down to mono.
func (c *Clip) Samples() []float64 {
	frames := len(c.PCM) / 2 / c.Channels
	out := make([]float64, 0, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < c.Channels; ch++ {
			off := (i*c.Channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(c.PCM[off : off+2]))
			sum += float64(s) / 32768.0
		}
		out = append(out, sum/float64(c.Channels))
	}
	return out
}

package ringer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// WAV format codes for G.711 codecs.
const (
	wavFormatPCMU = 7 // G.711 u-law
	wavFormatPCMA = 6 // G.711 a-law

	sampleRate = 8000

	// frameSamples is the number of samples written per frame.
	// At 8 kHz with 20ms frames, each frame carries 160 one-byte samples.
	frameSamples = 160

	// frameDuration is the real-time length of one frame.
	frameDuration = 20 * time.Millisecond
)

// Encoding is the G.711 companding law of a tone.
type Encoding uint16

const (
	EncodingULaw Encoding = wavFormatPCMU
	EncodingALaw Encoding = wavFormatPCMA
)

// silence returns the byte value of a zero sample.
func (e Encoding) silence() byte {
	if e == EncodingALaw {
		return 0xD5
	}
	return 0xFF
}

// Tone is decoded ringtone audio: raw G.711 samples at 8 kHz mono.
type Tone struct {
	Encoding Encoding
	Samples  []byte
}

// Duration is the play length of one pass over the tone.
func (t Tone) Duration() time.Duration {
	return time.Duration(len(t.Samples)) * time.Second / sampleRate
}

// wavHeader holds the parsed fields from a WAV file header.
type wavHeader struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32 // size of the "data" chunk in bytes
}

// parseWAVHeader reads and validates a WAV file header, leaving the reader
// positioned at the start of audio data.
func parseWAVHeader(r io.ReadSeeker) (*wavHeader, error) {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r, riffHeader[:]); err != nil {
		return nil, fmt.Errorf("reading riff header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" {
		return nil, errors.New("not a RIFF file")
	}
	if string(riffHeader[8:12]) != "WAVE" {
		return nil, errors.New("not a WAVE file")
	}

	hdr := &wavHeader{}
	foundFmt := false
	foundData := false

	for !foundData {
		var chunkID [4]byte
		var chunkSize uint32

		if _, err := io.ReadFull(r, chunkID[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("reading chunk id: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &chunkSize); err != nil {
			return nil, fmt.Errorf("reading chunk size: %w", err)
		}

		switch string(chunkID[:]) {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
			}
			fields := []any{&hdr.AudioFormat, &hdr.NumChannels, &hdr.SampleRate,
				&hdr.ByteRate, &hdr.BlockAlign, &hdr.BitsPerSample}
			for _, f := range fields {
				if err := binary.Read(r, binary.LittleEndian, f); err != nil {
					return nil, fmt.Errorf("reading fmt chunk: %w", err)
				}
			}
			if chunkSize > 16 {
				if _, err := r.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("skipping extra fmt data: %w", err)
				}
			}
			foundFmt = true

		case "data":
			hdr.DataSize = chunkSize
			foundData = true

		default:
			// Chunks are padded to an even boundary.
			skip := int64(chunkSize)
			if chunkSize%2 != 0 {
				skip++
			}
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skipping chunk %q: %w", string(chunkID[:]), err)
			}
		}
	}

	if !foundFmt {
		return nil, errors.New("wav file missing fmt chunk")
	}
	if !foundData {
		return nil, errors.New("wav file missing data chunk")
	}

	return hdr, nil
}

func (h *wavHeader) validate() error {
	switch h.AudioFormat {
	case wavFormatPCMU, wavFormatPCMA:
	default:
		return fmt.Errorf("unsupported wav format %d: only G.711 a-law (6) and u-law (7) are supported", h.AudioFormat)
	}
	if h.NumChannels != 1 {
		return fmt.Errorf("wav file must be mono, got %d channels", h.NumChannels)
	}
	if h.SampleRate != sampleRate {
		return fmt.Errorf("wav file must be 8000 Hz, got %d Hz", h.SampleRate)
	}
	if h.BitsPerSample != 8 {
		return fmt.Errorf("wav file must be 8-bit, got %d-bit", h.BitsPerSample)
	}
	return nil
}

// DecodeWAV parses an in-memory G.711 WAV ringtone.
func DecodeWAV(data []byte) (Tone, error) {
	r := bytes.NewReader(data)
	hdr, err := parseWAVHeader(r)
	if err != nil {
		return Tone{}, fmt.Errorf("invalid wav: %w", err)
	}
	if err := hdr.validate(); err != nil {
		return Tone{}, err
	}

	samples := make([]byte, hdr.DataSize)
	n, err := io.ReadFull(r, samples)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Tone{}, fmt.Errorf("reading audio data: %w", err)
	}
	if n == 0 {
		return Tone{}, errors.New("wav file has no audio data")
	}
	return Tone{Encoding: Encoding(hdr.AudioFormat), Samples: samples[:n]}, nil
}

// LoadWAV reads a G.711 WAV ringtone from disk.
func LoadWAV(path string) (Tone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tone{}, fmt.Errorf("reading ringtone: %w", err)
	}
	tone, err := DecodeWAV(data)
	if err != nil {
		return Tone{}, fmt.Errorf("decoding ringtone %s: %w", path, err)
	}
	return tone, nil
}

// EncodeWAV wraps G.711 samples in a minimal WAV container.
func EncodeWAV(t Tone) []byte {
	var buf bytes.Buffer
	dataSize := uint32(len(t.Samples))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(t.Encoding))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(8))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(t.Samples)
	return buf.Bytes()
}

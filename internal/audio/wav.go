package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// ErrNotWAV is returned when a file lacks a RIFF/WAVE header
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// Format describes interleaved PCM audio
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// PCM16Mono returns 16-bit mono PCM at the given rate
func PCM16Mono(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}
}

// FrameSize returns bytes per sample frame across all channels
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesPerMs returns the byte rate per millisecond
func (f Format) BytesPerMs() int {
	return f.SampleRate * f.FrameSize() / 1000
}

// WAVHeader represents a canonical 44-byte PCM WAV header
type WAVHeader struct {
	// RIFF chunk descriptor
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 36 + Subchunk2Size
	Format    [4]byte // "WAVE"

	// "fmt " sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16

	// "data" sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

func newWAVHeader(format Format, dataSize uint32) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * format.FrameSize()),
		BlockAlign:    uint16(format.FrameSize()),
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Bytes encodes the header in little-endian layout
func (h WAVHeader) Bytes() []byte {
	b := make([]byte, wavHeaderSize)

	copy(b[0:4], h.ChunkID[:])
	binary.LittleEndian.PutUint32(b[4:8], h.ChunkSize)
	copy(b[8:12], h.Format[:])

	copy(b[12:16], h.Subchunk1ID[:])
	binary.LittleEndian.PutUint32(b[16:20], h.Subchunk1Size)
	binary.LittleEndian.PutUint16(b[20:22], h.AudioFormat)
	binary.LittleEndian.PutUint16(b[22:24], h.NumChannels)
	binary.LittleEndian.PutUint32(b[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(b[28:32], h.ByteRate)
	binary.LittleEndian.PutUint16(b[32:34], h.BlockAlign)
	binary.LittleEndian.PutUint16(b[34:36], h.BitsPerSample)

	copy(b[36:40], h.Subchunk2ID[:])
	binary.LittleEndian.PutUint32(b[40:44], h.Subchunk2Size)

	return b
}

// WAVWriter writes PCM audio to a WAV file. Sizes in the header are patched
// on Close.
type WAVWriter struct {
	file    *os.File
	format  Format
	written uint32
	closed  bool
}

// CreateWAV creates (or truncates) path and writes a placeholder header
func CreateWAV(path string, format Format) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}

	if _, err := f.Write(newWAVHeader(format, 0).Bytes()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write wav header: %w", err)
	}

	return &WAVWriter{file: f, format: format}, nil
}

// Path returns the file location
func (w *WAVWriter) Path() string {
	return w.file.Name()
}

// Written returns the number of PCM bytes written so far
func (w *WAVWriter) Written() int {
	return int(w.written)
}

// Write appends PCM data
func (w *WAVWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	n, err := w.file.Write(p)
	w.written += uint32(n)
	return n, err
}

// Close patches the header sizes, syncs and closes the file
func (w *WAVWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.file.WriteAt(newWAVHeader(w.format, w.written).Bytes(), 0); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize wav header: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to sync wav file: %w", err)
	}
	return w.file.Close()
}

// ReadWAV parses a RIFF/WAVE stream and returns the PCM format and a reader
// positioned at the start of the data chunk. Unknown chunks are skipped.
func ReadWAV(r io.Reader) (Format, io.Reader, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, nil, fmt.Errorf("failed to read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
		chunk   [8]byte
	)
	for {
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Format{}, nil, fmt.Errorf("failed to read wav chunk: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if audioFormat := binary.LittleEndian.Uint16(body[0:2]); audioFormat != 1 {
				return Format{}, nil, fmt.Errorf("unsupported wav encoding %d, want PCM", audioFormat)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
			if size%2 == 1 {
				io.CopyN(io.Discard, r, 1)
			}
		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("data chunk before fmt chunk")
			}
			return format, io.LimitReader(r, int64(size)), nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Format{}, nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

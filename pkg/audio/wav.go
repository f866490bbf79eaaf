package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// WAV audio format tags used in the fmt chunk.
const (
	wavFormatPCM   = 1 // integer PCM
	wavFormatFloat = 3 // IEEE 754 float
)

// wavHeaderSize is the byte length of the canonical RIFF/fmt/data header.
const wavHeaderSize = 44

// ErrUnsupportedWAV is returned when a WAV file uses a format tag, bit depth,
// or layout this codec does not handle.
var ErrUnsupportedWAV = errors.New("audio: unsupported wav format")

// Writer streams interleaved float32 samples into a 32-bit float WAV file.
// The RIFF and data chunk sizes are written as placeholders and patched on
// Close, so the destination must support seeking. Not safe for concurrent use.
type Writer struct {
	ws     io.WriteSeeker
	format Format
	frames int
	closed bool
}

// NewWriter writes a 32-bit float WAV header for format to ws and returns a
// Writer ready to accept samples.
func NewWriter(ws io.WriteSeeker, format Format) (*Writer, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid wav format %s", format)
	}
	w := &Writer{ws: ws, format: format}
	if err := w.writeHeader(0); err != nil {
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return w, nil
}

// Write appends interleaved float32 samples to the data chunk.
func (w *Writer) Write(samples []float32) error {
	if w.closed {
		return errors.New("audio: wav writer is closed")
	}
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	if _, err := w.ws.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	w.frames += len(samples) / w.format.Channels
	return nil
}

// Frames returns the number of complete sample frames written so far.
func (w *Writer) Frames() int {
	return w.frames
}

// Close patches the chunk sizes in the header. The underlying file is not
// closed; that remains the caller's responsibility. Calling Close more than
// once is safe and returns nil.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("audio: seek wav header: %w", err)
	}
	dataSize := w.frames * w.format.Channels * 4
	if err := w.writeHeader(dataSize); err != nil {
		return fmt.Errorf("audio: finalize wav header: %w", err)
	}
	if _, err := w.ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("audio: seek wav end: %w", err)
	}
	return nil
}

// writeHeader emits the canonical 44-byte RIFF header for dataSize bytes of
// 32-bit float samples.
func (w *Writer) writeHeader(dataSize int) error {
	const bitsPerSample = 32
	byteRate := w.format.SampleRate * w.format.Channels * bitsPerSample / 8
	blockAlign := w.format.Channels * bitsPerSample / 8

	buf := make([]byte, wavHeaderSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size - 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatFloat)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(w.format.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(w.format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	_, err := w.ws.Write(buf)
	return err
}

// ReadAll decodes a WAV stream into interleaved float32 samples. It accepts
// the 32-bit float layout this package writes, plus 16-bit integer PCM for
// files produced elsewhere. Unknown chunks between fmt and data are skipped.
func ReadAll(r io.Reader) ([]float32, Format, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, Format{}, fmt.Errorf("audio: read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedWAV)
	}

	var (
		format    Format
		formatTag uint16
		bits      uint16
		haveFmt   bool
	)

	for {
		var chunkHdr [8]byte
		if _, err := io.ReadFull(r, chunkHdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrUnsupportedWAV)
			}
			return nil, Format{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		chunkID := string(chunkHdr[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHdr[4:8])

		switch chunkID {
		case "fmt ":
			fmtBuf := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, fmtBuf); err != nil {
				return nil, Format{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if chunkSize < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedWAV)
			}
			formatTag = binary.LittleEndian.Uint16(fmtBuf[0:2])
			format.Channels = int(binary.LittleEndian.Uint16(fmtBuf[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(fmtBuf[4:8]))
			bits = binary.LittleEndian.Uint16(fmtBuf[14:16])
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data chunk before fmt", ErrUnsupportedWAV)
			}
			data := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, Format{}, fmt.Errorf("audio: read data chunk: %w", err)
			}
			samples, err := decodeSamples(data, formatTag, bits)
			if err != nil {
				return nil, Format{}, err
			}
			return samples, format, nil

		default:
			// Skip fact, LIST, and other chunks.
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return nil, Format{}, fmt.Errorf("audio: skip %q chunk: %w", chunkID, err)
			}
		}
	}
}

// decodeSamples converts raw data chunk bytes into float32 samples.
func decodeSamples(data []byte, formatTag, bits uint16) ([]float32, error) {
	switch {
	case formatTag == wavFormatFloat && bits == 32:
		n := len(data) / 4
		out := make([]float32, n)
		for i := range n {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out, nil

	case formatTag == wavFormatPCM && bits == 16:
		n := len(data) / 2
		out := make([]float32, n)
		for i := range n {
			s := int16(binary.LittleEndian.Uint16(data[i*2:]))
			out[i] = float32(s) / 32768
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: format tag %d with %d bits", ErrUnsupportedWAV, formatTag, bits)
	}
}

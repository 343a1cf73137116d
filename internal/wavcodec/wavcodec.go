// Package wavcodec parses canonical WAV containers and converts PCM payloads.
//
// The canonical format across the benchmark pipeline is RIFF/WAVE, PCM,
// mono, 16 kHz, signed 16-bit little-endian samples. Engines never see
// anything else; the normalizer guarantees it on upload.
package wavcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// SampleRate is the canonical sample rate in Hz.
	SampleRate = 16000
	// BitsPerSample is the canonical sample width.
	BitsPerSample = 16
	// Channels is the canonical channel count.
	Channels = 1

	headerSize = 44
	pcmFormat  = 1
)

// ErrInvalidWav reports a buffer that is not a canonical WAV container.
var ErrInvalidWav = errors.New("invalid wav data")

// ExtractPCM validates that wav is a canonical container and returns the raw
// PCM payload of its data chunk.
//
// The size field of the data chunk is not trusted: encoders writing to a
// non-seekable pipe leave it unset or bogus, so the reported size is clamped
// to the bytes actually present after the chunk header.
func ExtractPCM(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidWav, len(data))
	}
	if !hasASCII(data, 0, "RIFF") || !hasASCII(data, 8, "WAVE") {
		return nil, fmt.Errorf("%w: missing RIFF/WAVE magic", ErrInvalidWav)
	}
	if !hasASCII(data, 12, "fmt ") {
		return nil, fmt.Errorf("%w: fmt chunk not at offset 12", ErrInvalidWav)
	}
	subchunk1Size := int(int32(binary.LittleEndian.Uint32(data[16:])))
	audioFormat := int(binary.LittleEndian.Uint16(data[20:]))
	numChannels := int(binary.LittleEndian.Uint16(data[22:]))
	sampleRate := int(int32(binary.LittleEndian.Uint32(data[24:])))
	bitsPerSample := int(binary.LittleEndian.Uint16(data[34:]))
	if audioFormat != pcmFormat || numChannels != Channels || sampleRate != SampleRate || bitsPerSample != BitsPerSample {
		return nil, fmt.Errorf("%w: format=%d channels=%d rate=%d bits=%d, expected PCM s16le mono 16k",
			ErrInvalidWav, audioFormat, numChannels, sampleRate, bitsPerSample)
	}

	dataOffset := findDataChunk(data, 12+8+subchunk1Size)
	if dataOffset < 0 || dataOffset+8 > len(data) {
		return nil, fmt.Errorf("%w: data chunk not found", ErrInvalidWav)
	}
	reported := int(int32(binary.LittleEndian.Uint32(data[dataOffset+4:])))
	remaining := len(data) - (dataOffset + 8)
	size := reported
	if size < 0 || size > remaining {
		size = remaining
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: data chunk size invalid (reported=%d)", ErrInvalidWav, reported)
	}
	return data[dataOffset+8 : dataOffset+8+size], nil
}

// IsCanonical reports whether data already satisfies the canonical format,
// including the presence of a non-empty data chunk.
func IsCanonical(data []byte) bool {
	_, err := ExtractPCM(data)
	return err == nil
}

// PCMToFloat32 converts s16le PCM bytes to normalized samples in [-1, 1].
// A trailing odd byte is ignored.
func PCMToFloat32(pcm []byte) []float32 {
	samples := make([]float32, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		val := int16(binary.LittleEndian.Uint16(pcm[i:]))
		f := float32(val) / 32767.0
		if f > 1.0 {
			f = 1.0
		} else if f < -1.0 {
			f = -1.0
		}
		samples = append(samples, f)
	}
	return samples
}

// Duration reports the playable duration of a canonical WAV buffer, derived
// from the data chunk payload. Used for operator logging only; recognition
// never depends on it.
func Duration(data []byte) (time.Duration, error) {
	pcm, err := ExtractPCM(data)
	if err != nil {
		return 0, err
	}
	samples := len(pcm) / (BitsPerSample / 8)
	return time.Duration(samples) * time.Second / SampleRate, nil
}

// Encode wraps raw canonical PCM bytes in a minimal 44-byte WAV header.
func Encode(pcm []byte) []byte {
	out := make([]byte, headerSize+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], pcmFormat)
	binary.LittleEndian.PutUint16(out[22:], Channels)
	binary.LittleEndian.PutUint32(out[24:], SampleRate)
	binary.LittleEndian.PutUint32(out[28:], SampleRate*Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(out[32:], Channels*BitsPerSample/8)
	binary.LittleEndian.PutUint16(out[34:], BitsPerSample)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[headerSize:], pcm)
	return out
}

// WriteFile writes canonical PCM bytes to path as a WAV file. The go-audio
// encoder needs a seekable writer, so this always goes through a real file.
func WriteFile(path string, pcm []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()

	samples := make([]int, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		samples = append(samples, int(int16(binary.LittleEndian.Uint16(pcm[i:]))))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
		SourceBitDepth: BitsPerSample,
		Data:           samples,
	}

	encoder := wav.NewEncoder(f, SampleRate, BitsPerSample, Channels, pcmFormat)
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// findDataChunk walks RIFF subchunks starting at start looking for "data".
// Invalid or overflowing size fields degrade the walk to a byte-wise scan.
func findDataChunk(data []byte, start int) int {
	i := start
	if i < 12 {
		i = 12
	}
	for i+8 <= len(data) {
		if hasASCII(data, i, "data") {
			return i
		}
		size := int(int32(binary.LittleEndian.Uint32(data[i+4:])))
		if size < 0 || i+8+size > len(data) {
			i++
			continue
		}
		i += 8 + size
	}
	return -1
}

func hasASCII(data []byte, offset int, ref string) bool {
	if offset+len(ref) > len(data) {
		return false
	}
	return string(data[offset:offset+len(ref)]) == ref
}

// Package wav handles the canonical 44-byte RIFF/WAVE container used by the
// synthesis backends.
package wav

import (
	"errors"
	"fmt"
)

// WAV format constants.
const (
	// HeaderSize is the size of a canonical uncompressed WAV header in bytes.
	HeaderSize = 44

	// FormatPCM is the audio format code for uncompressed PCM.
	FormatPCM = 1
)

// ErrShortContainer is returned when a payload is smaller than a WAV header.
var ErrShortContainer = errors.New("payload shorter than WAV header")

// StripHeader returns the PCM payload that follows the fixed-size header.
// The returned slice aliases data.
func StripHeader(data []byte) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortContainer, len(data))
	}
	return data[HeaderSize:], nil
}

// WrapRawPCM adds a canonical WAV header to raw PCM data.
func WrapRawPCM(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, HeaderSize, HeaderSize+dataSize)

	copy(header[0:4], "RIFF")
	PutLE32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	PutLE32(header[16:20], 16)
	PutLE16(header[20:22], FormatPCM)
	PutLE16(header[22:24], uint16(channels))
	PutLE32(header[24:28], uint32(sampleRate))
	PutLE32(header[28:32], uint32(byteRate))
	PutLE16(header[32:34], uint16(blockAlign))
	PutLE16(header[34:36], uint16(bitsPerSample))

	copy(header[36:40], "data")
	PutLE32(header[40:44], uint32(dataSize))

	return append(header, pcm...)
}

// PutLE16 writes v in little-endian order.
func PutLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// PutLE32 writes v in little-endian order.
func PutLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Silent builds a WAV container holding numSamples zero samples.
func Silent(numSamples, sampleRate, channels, bitsPerSample int) []byte {
	pcm := make([]byte, numSamples*channels*bitsPerSample/8)
	return WrapRawPCM(pcm, sampleRate, channels, bitsPerSample)
}

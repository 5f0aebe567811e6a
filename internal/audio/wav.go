package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"
)

// DefaultSampleRate is assumed when a caller does not know the rate of the
// PCM bytes it captured from a reply stream.
const DefaultSampleRate = 16000

// EncodeWAV wraps raw PCM16LE mono samples in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataSize := uint32(len(pcm))

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	writeU32 := func(v uint32) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	writeU16 := func(v uint16) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	writeU32(36 + dataSize)
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeU32(16)
	writeU16(1) // PCM
	writeU16(channels)
	writeU32(uint32(sampleRate))
	writeU32(byteRate)
	writeU16(blockAlign)
	writeU16(bitsPerSample)

	buf.WriteString("data")
	writeU32(dataSize)
	buf.Write(pcm)
	return buf.Bytes()
}

// WriteWAVFile writes raw PCM16LE mono samples to path as a WAV file.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	return os.WriteFile(path, EncodeWAV(pcm, sampleRate), 0o644)
}

// Duration reports the playback length of raw PCM16LE mono samples.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// PCMFromWAV extracts the data chunk from a canonical 44-byte-header WAV
// buffer, the format EncodeWAV produces.
func PCMFromWAV(wav []byte) ([]byte, int, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a WAV buffer")
	}
	sampleRate := int(binary.LittleEndian.Uint32(wav[24:28]))
	dataSize := int(binary.LittleEndian.Uint32(wav[40:44]))
	if dataSize > len(wav)-44 {
		dataSize = len(wav) - 44
	}
	return wav[44 : 44+dataSize], sampleRate, nil
}

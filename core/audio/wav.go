package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps mono PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, encoding EncodingInfo) ([]byte, error) {
	var formatTag uint16
	switch encoding.Format {
	case EncodingLinear16:
		formatTag = 1
	case EncodingALaw:
		formatTag = 6
	case EncodingMulaw:
		formatTag = 7
	default:
		return nil, fmt.Errorf("cannot encode %q audio as wav", encoding.Format.Name())
	}

	sampleSize := encoding.Format.ByteSize()
	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatTag,
		NumChannels:   1,
		SampleRate:    uint32(encoding.SampleRate),
		ByteRate:      uint32(encoding.SampleRate * sampleSize),
		BlockAlign:    uint16(sampleSize),
		BitsPerSample: uint16(sampleSize * 8),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

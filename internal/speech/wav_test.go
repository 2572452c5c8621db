package speech

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestWrapPCM16(t *testing.T) {
	sampleRate := 16000
	numSamples := sampleRate / 10
	pcm := make([]byte, numSamples*2)

	for i := 0; i < numSamples; i++ {
		v := int16(16383 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	wav, err := WrapPCM16(pcm, sampleRate)
	if err != nil {
		t.Fatalf("WrapPCM16 failed: %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Errorf("Expected WAV size %d, got %d", 44+len(pcm), len(wav))
	}

	header, err := ReadWAVHeader(wav)
	if err != nil {
		t.Fatalf("Generated WAV is invalid: %v", err)
	}

	if header.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, header.SampleRate)
	}
	if header.NumChannels != 1 {
		t.Errorf("Expected 1 channel, got %d", header.NumChannels)
	}
	if header.Subchunk2Size != uint32(len(pcm)) {
		t.Errorf("Expected data size %d, got %d", len(pcm), header.Subchunk2Size)
	}
}

func TestWrapPCM16Errors(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
	}{
		{"empty audio", nil, 16000},
		{"odd byte count", []byte{1, 2, 3}, 16000},
		{"zero sample rate", []byte{0, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := WrapPCM16(tt.pcm, tt.sampleRate); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestReadWAVHeaderRejectsGarbage(t *testing.T) {
	if _, err := ReadWAVHeader([]byte("short")); err == nil {
		t.Error("Expected error for short data")
	}

	data := make([]byte, 44)
	copy(data, "RIFX")
	if _, err := ReadWAVHeader(data); err == nil {
		t.Error("Expected error for missing RIFF header")
	}
}

package engine

import (
	"context"
	"fmt"

	"github.com/metriclabs/speechbench/internal/wavcodec"
)

// MockBackend stands in for a native engine in tests and model-less dev
// environments. It still validates the canonical WAV contract.
type MockBackend struct {
	name string
}

func NewMockBackend(name string) *MockBackend {
	if name == "" {
		name = "mock"
	}
	return &MockBackend{name: Slugify(name)}
}

func (b *MockBackend) Name() string {
	return b.name
}

func (b *MockBackend) Transcribe(_ context.Context, wav []byte) (Transcription, error) {
	pcm, err := wavcodec.ExtractPCM(wav)
	if err != nil {
		return Transcription{}, err
	}
	return Transcription{
		Text: fmt.Sprintf("[mock transcript samples=%d]", len(pcm)/2),
	}, nil
}

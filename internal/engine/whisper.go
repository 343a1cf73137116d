package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/metriclabs/speechbench/internal/config"
	"github.com/metriclabs/speechbench/internal/wavcodec"
)

// Beam-search decoding defaults. Temperature starts at zero and the decoder
// backs off in 0.2 increments when a segment fails its quality checks.
const (
	whisperBeamSize       = 5
	whisperTemperature    = 0.0
	whisperTemperatureInc = 0.2
)

var whisperModels = newModelCache[whisper.Model]()

// WhisperBackend is the batch adapter over whisper.cpp. The ggml model is
// shared process-wide per path; each Transcribe call decodes through a fresh
// context so calls never share native decoder state.
type WhisperBackend struct {
	name     string
	model    whisper.Model
	language string
	log      *slog.Logger
}

func NewWhisperBackend(cfg config.EngineConfig, log *slog.Logger) (*WhisperBackend, error) {
	name := cfg.Name
	if name == "" {
		name = NameForModelPath(cfg.ModelPath)
	}
	model, err := whisperModels.load(cfg.ModelPath, func(path string) (whisper.Model, error) {
		m, err := whisper.New(path)
		if err != nil {
			return nil, fmt.Errorf("load whisper model at %s: %w", path, err)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("whisper backend ready", slog.String("engine", name), slog.String("model_path", cfg.ModelPath))
	return &WhisperBackend{
		name:     name,
		model:    model,
		language: cfg.Language,
		log:      log.With(slog.String("engine", name)),
	}, nil
}

func (b *WhisperBackend) Name() string {
	return b.name
}

func (b *WhisperBackend) Transcribe(ctx context.Context, wav []byte) (Transcription, error) {
	pcm, err := wavcodec.ExtractPCM(wav)
	if err != nil {
		return Transcription{}, err
	}
	samples := wavcodec.PCMToFloat32(pcm)
	if len(samples) == 0 {
		return Transcription{}, fmt.Errorf("no audio samples in wav payload")
	}
	if err := ctx.Err(); err != nil {
		return Transcription{}, err
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return Transcription{}, fmt.Errorf("create whisper context: %w", err)
	}
	wctx.SetTranslate(false)
	if b.language != "" {
		if err := wctx.SetLanguage(b.language); err != nil {
			return Transcription{}, fmt.Errorf("set whisper language %q: %w", b.language, err)
		}
	}
	wctx.SetBeamSize(whisperBeamSize)
	wctx.SetTemperature(whisperTemperature)
	wctx.SetTemperatureFallback(whisperTemperatureInc)

	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Transcription{}, fmt.Errorf("whisper transcription: %w", err)
	}

	var text strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Transcription{}, fmt.Errorf("read whisper segment: %w", err)
		}
		text.WriteString(segment.Text)
	}
	elapsed := time.Since(start)

	return Transcription{Text: strings.TrimSpace(text.String()), ModelTime: elapsed}, nil
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/metriclabs/speechbench/internal/config"
	"github.com/metriclabs/speechbench/internal/wavcodec"
)

// PCM is fed to the graph decoder in fixed-size chunks.
const voskChunkSize = 4096

var voskModels = newModelCache[*vosk.VoskModel]()

// VoskBackend is the streaming adapter over the Vosk graph decoder. The
// loaded model is shared process-wide per path; every Transcribe call holds
// its own short-lived recognizer on top of it.
type VoskBackend struct {
	name  string
	model *vosk.VoskModel
	log   *slog.Logger
}

func NewVoskBackend(cfg config.EngineConfig, log *slog.Logger) (*VoskBackend, error) {
	name := cfg.Name
	if name == "" {
		name = NameForModelPath(cfg.ModelPath)
	}
	model, err := voskModels.load(cfg.ModelPath, func(path string) (*vosk.VoskModel, error) {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("vosk model not found at %s: %w", path, err)
		}
		m, err := vosk.NewModel(path)
		if err != nil {
			return nil, fmt.Errorf("load vosk model at %s: %w", path, err)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("vosk backend ready", slog.String("engine", name), slog.String("model_path", cfg.ModelPath))
	return &VoskBackend{
		name:  name,
		model: model,
		log:   log.With(slog.String("engine", name)),
	}, nil
}

func (b *VoskBackend) Name() string {
	return b.name
}

func (b *VoskBackend) Transcribe(ctx context.Context, wav []byte) (Transcription, error) {
	pcm, err := wavcodec.ExtractPCM(wav)
	if err != nil {
		return Transcription{}, err
	}

	rec, err := vosk.NewRecognizer(b.model, float64(wavcodec.SampleRate))
	if err != nil {
		return Transcription{}, fmt.Errorf("create vosk recognizer: %w", err)
	}
	defer rec.Free()

	start := time.Now()
	for offset := 0; offset < len(pcm); offset += voskChunkSize {
		if err := ctx.Err(); err != nil {
			return Transcription{}, err
		}
		end := min(offset+voskChunkSize, len(pcm))
		rec.AcceptWaveform(pcm[offset:end])
	}
	raw := rec.FinalResult()
	elapsed := time.Since(start)

	var payload struct {
		Text string `json:"text"`
	}
	text := raw
	if err := json.Unmarshal([]byte(raw), &payload); err == nil {
		text = payload.Text
	} else {
		b.log.Warn("vosk result is not JSON, returning raw string", slog.String("error", err.Error()))
	}
	return Transcription{Text: text, ModelTime: elapsed}, nil
}

// Package audio normalizes arbitrary uploaded audio into the canonical WAV
// format the recognition backends expect.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/metriclabs/speechbench/internal/config"
	"github.com/metriclabs/speechbench/internal/wavcodec"
)

// Normalizer converts audio bytes to WAV PCM s16le mono 16 kHz, delegating
// to an external transcoder (ffmpeg by default) when the input is not
// already canonical.
type Normalizer struct {
	cmd []string
	log *slog.Logger
}

func NewNormalizer(cfg config.TranscoderConfig, log *slog.Logger) (*Normalizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcoder command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcoder command is empty")
	}
	return &Normalizer{
		cmd: args,
		log: log.With(slog.String("component", "normalizer")),
	}, nil
}

// Normalize returns canonical WAV bytes for the given input. Empty input is
// returned unchanged, already-canonical input is passed through untouched,
// and anything else is transcoded.
func (n *Normalizer) Normalize(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	if wavcodec.IsCanonical(data) {
		n.log.Debug("input already canonical", slog.Int("bytes", len(data)))
		return data, nil
	}

	out, err := n.transcode(ctx, data)
	if err != nil {
		return nil, err
	}
	if _, err := wavcodec.ExtractPCM(out); err != nil {
		return nil, fmt.Errorf("transcoder produced non-canonical output: %w", err)
	}
	return out, nil
}

func (n *Normalizer) transcode(ctx context.Context, data []byte) ([]byte, error) {
	args := append([]string{}, n.cmd[1:]...)
	args = append(args,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "wav",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		"pipe:1",
	)

	command := exec.CommandContext(ctx, n.cmd[0], args...)
	command.Stdin = bytes.NewReader(data)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	n.log.Debug("starting transcoder", slog.Int("input_bytes", len(data)))
	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("transcoder failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("transcoder produced no output")
	}
	n.log.Debug("transcoder finished", slog.Int("output_bytes", stdout.Len()))
	return stdout.Bytes(), nil
}

// WavExtension rewrites a display file name so it carries the .wav suffix of
// the stored canonical container. Blank names fall back to "audio.wav".
func WavExtension(name string) string {
	if strings.TrimSpace(name) == "" {
		return "audio.wav"
	}
	if strings.EqualFold(filepath.Ext(name), ".wav") {
		return name
	}
	ext := filepath.Ext(name)
	if ext != "" && ext != name {
		return strings.TrimSuffix(name, ext) + ".wav"
	}
	return name + ".wav"
}

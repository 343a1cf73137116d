// Package engine hosts the pluggable speech recognition backends and the
// registry that names them.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Transcription is the outcome of a single backend invocation. ModelTime
// covers only the native decoder call, excluding WAV parsing and scoring.
type Transcription struct {
	Text      string
	ModelTime time.Duration
}

// Backend abstracts one recognition engine over canonical WAV input.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, wav []byte) (Transcription, error)
}

// NotFoundError reports a lookup for an engine slug that is not registered.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("engine not found: %s", e.Name)
}

var (
	modelExtension = regexp.MustCompile(`\.(bin|model)$`)
	nonSlugRuns    = regexp.MustCompile(`[^a-z0-9]+`)
)

// Slugify lowercases source, collapses non-alphanumeric runs to single
// hyphens and trims the edges. Blank input degrades to "model".
func Slugify(source string) string {
	slug := strings.ToLower(strings.TrimSpace(source))
	slug = nonSlugRuns.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "model"
	}
	return slug
}

// NameForModelPath derives the stable engine slug from a model file path:
// the basename minus a .bin/.model extension, slugified. Backslash
// separators are accepted so configs written on Windows keep their names.
func NameForModelPath(modelPath string) string {
	normalized := strings.ReplaceAll(modelPath, "\\", "/")
	base := normalized[strings.LastIndex(normalized, "/")+1:]
	base = modelExtension.ReplaceAllString(base, "")
	return Slugify(base)
}

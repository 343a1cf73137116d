// Package recognition coordinates clip loading, engine invocation, accuracy
// scoring, persistence and aggregation. It is the only component that writes
// recognition state.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/metriclabs/speechbench/internal/accuracy"
	"github.com/metriclabs/speechbench/internal/engine"
	"github.com/metriclabs/speechbench/internal/store"
)

// ErrEmptySuite reports a suite run with no clips.
var ErrEmptySuite = errors.New("suite input is empty")

// SuiteEntry is one clip of a suite run together with its ground-truth
// transcript. Entries are processed in slice order.
type SuiteEntry struct {
	ClipID   uuid.UUID
	Expected string
}

// Result is the caller-facing view of one persisted recognition.
type Result struct {
	ID                uuid.UUID  `json:"id"`
	ClipID            uuid.UUID  `json:"clip_id"`
	OwnerID           uuid.UUID  `json:"owner_id"`
	EngineName        string     `json:"engine_name"`
	RecognizedText    string     `json:"recognized_text"`
	ExpectedText      string     `json:"expected_text"`
	Accuracy          float64    `json:"accuracy"`
	ModelProcessingMS int64      `json:"model_processing_ms"`
	SuiteID           *uuid.UUID `json:"suite_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Suite is the outcome of one batch run: the suite header plus every result
// it produced, in clip order then registry order.
type Suite struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	Results   []Result  `json:"results"`
}

// EngineOverview aggregates the full result history of one engine.
type EngineOverview struct {
	EngineName      string      `json:"engine_name"`
	ResultIDs       []uuid.UUID `json:"result_ids"`
	AvgAccuracyPct  float64     `json:"avg_accuracy_pct"`
	Count           int         `json:"count"`
	AvgProcessingMS float64     `json:"avg_processing_ms"`
}

// Publisher receives completion events. Implementations must not block the
// recognition path; publish failures are the publisher's to log.
type Publisher interface {
	ResultCreated(ctx context.Context, result Result) error
	SuiteCompleted(ctx context.Context, suite Suite) error
}

// Orchestrator runs recognitions against the registry and persists every
// outcome. Backends execute sequentially; decoder contexts are not assumed
// to be safe for concurrent use.
type Orchestrator struct {
	store     *store.Store
	registry  *engine.Registry
	log       *slog.Logger
	publisher Publisher

	runCounter   metric.Int64Counter
	failCounter  metric.Int64Counter
	modelTimeMS  metric.Float64Histogram
	accuracyHist metric.Float64Histogram
}

// New builds an orchestrator. publisher may be nil when no bus is configured.
func New(st *store.Store, registry *engine.Registry, publisher Publisher, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		registry:  registry,
		log:       log.With(slog.String("component", "orchestrator")),
		publisher: publisher,
	}
	if err := o.initMetrics(); err != nil {
		o.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return o
}

func (o *Orchestrator) initMetrics() error {
	meter := otel.Meter("github.com/metriclabs/speechbench/recognition")
	var err error
	if o.runCounter, err = meter.Int64Counter("speechbench.recognitions.total",
		metric.WithDescription("Completed engine invocations")); err != nil {
		return err
	}
	if o.failCounter, err = meter.Int64Counter("speechbench.recognitions.failed",
		metric.WithDescription("Engine invocations converted to empty transcripts")); err != nil {
		return err
	}
	if o.modelTimeMS, err = meter.Float64Histogram("speechbench.recognition.model_ms",
		metric.WithDescription("Model-only transcription wall time in milliseconds")); err != nil {
		return err
	}
	o.accuracyHist, err = meter.Float64Histogram("speechbench.recognition.accuracy",
		metric.WithDescription("Per-invocation accuracy in [0,1]"))
	return err
}

// RecognizeOne runs a single engine over a stored clip and persists the
// outcome.
func (o *Orchestrator) RecognizeOne(ctx context.Context, clipID uuid.UUID, expected, engineName string) (Result, error) {
	clip, err := o.store.GetClip(ctx, clipID)
	if err != nil {
		return Result{}, err
	}
	backend, err := o.registry.Get(engineName)
	if err != nil {
		return Result{}, err
	}

	row := o.invoke(ctx, clip, backend, expected, nil)
	if err := o.store.InsertResults(ctx, []*store.RecognitionResult{row}); err != nil {
		return Result{}, fmt.Errorf("persist result: %w", err)
	}

	result := toResult(*row)
	o.publishResult(ctx, result)
	return result, nil
}

// RecognizeAll runs every registered engine over a stored clip. A backend
// failure does not abort the run; the failed engine contributes an empty
// transcript. All produced rows commit in one transaction and are returned
// in registry order.
func (o *Orchestrator) RecognizeAll(ctx context.Context, clipID uuid.UUID, expected string) ([]Result, error) {
	clip, err := o.store.GetClip(ctx, clipID)
	if err != nil {
		return nil, err
	}

	rows := o.invokeAll(ctx, clip, expected, nil)
	if err := o.store.InsertResults(ctx, rows); err != nil {
		return nil, fmt.Errorf("persist results: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		result := toResult(*row)
		o.publishResult(ctx, result)
		results = append(results, result)
	}
	return results, nil
}

// RunSuite runs every engine over every clip of the input, tagging each row
// with a fresh suite id. Clips are processed in slice order; within a clip,
// results follow registry order. Either the whole result set commits or none
// of it does.
func (o *Orchestrator) RunSuite(ctx context.Context, entries []SuiteEntry, ownerID uuid.UUID) (Suite, error) {
	if len(entries) == 0 {
		return Suite{}, ErrEmptySuite
	}

	suite := &store.RecognitionSuite{OwnerID: ownerID}
	if err := o.store.SaveSuite(ctx, suite); err != nil {
		return Suite{}, fmt.Errorf("persist suite: %w", err)
	}

	var rows []*store.RecognitionResult
	for _, entry := range entries {
		clip, err := o.store.GetClip(ctx, entry.ClipID)
		if err != nil {
			return Suite{}, err
		}
		rows = append(rows, o.invokeAll(ctx, clip, entry.Expected, &suite.ID)...)
	}
	if err := o.store.InsertResults(ctx, rows); err != nil {
		return Suite{}, fmt.Errorf("persist suite results: %w", err)
	}

	out := Suite{ID: suite.ID, OwnerID: suite.OwnerID, CreatedAt: suite.CreatedAt}
	for _, row := range rows {
		out.Results = append(out.Results, toResult(*row))
	}

	o.log.Info("suite completed",
		slog.String("suite_id", suite.ID.String()),
		slog.Int("clips", len(entries)),
		slog.Int("results", len(out.Results)))
	if o.publisher != nil {
		if err := o.publisher.SuiteCompleted(ctx, out); err != nil {
			o.log.Warn("failed to publish suite event", slog.String("error", err.Error()))
		}
	}
	return out, nil
}

// Overview aggregates the persisted history of one engine, matched
// case-insensitively. An engine with no results yields a zero-valued
// overview rather than an error.
func (o *Orchestrator) Overview(ctx context.Context, engineName string) (EngineOverview, error) {
	results, err := o.store.ResultsByEngine(ctx, engineName)
	if err != nil {
		return EngineOverview{}, err
	}

	overview := EngineOverview{EngineName: engineName, Count: len(results)}
	if len(results) == 0 {
		return overview, nil
	}

	var accSum, msSum float64
	for _, r := range results {
		overview.ResultIDs = append(overview.ResultIDs, r.ID)
		accSum += r.Accuracy
		msSum += float64(r.ModelProcessingMS)
	}
	n := float64(len(results))
	overview.AvgAccuracyPct = accSum / n * 100
	overview.AvgProcessingMS = msSum / n
	return overview, nil
}

// OverviewAll maps Overview over the registry, preserving registry order.
func (o *Orchestrator) OverviewAll(ctx context.Context) ([]EngineOverview, error) {
	names := o.registry.Names()
	overviews := make([]EngineOverview, 0, len(names))
	for _, name := range names {
		overview, err := o.Overview(ctx, name)
		if err != nil {
			return nil, err
		}
		overviews = append(overviews, overview)
	}
	return overviews, nil
}

// ResultsByEngine returns the full stored history of one engine.
func (o *Orchestrator) ResultsByEngine(ctx context.Context, engineName string) ([]Result, error) {
	rows, err := o.store.ResultsByEngine(ctx, engineName)
	if err != nil {
		return nil, err
	}
	return toResults(rows), nil
}

// ResultsByOwner returns every result belonging to one owner.
func (o *Orchestrator) ResultsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Result, error) {
	rows, err := o.store.ResultsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return toResults(rows), nil
}

// invokeAll runs every backend over one clip, sequentially.
func (o *Orchestrator) invokeAll(ctx context.Context, clip store.AudioClip, expected string, suiteID *uuid.UUID) []*store.RecognitionResult {
	backends := o.registry.All()
	rows := make([]*store.RecognitionResult, 0, len(backends))
	for _, backend := range backends {
		rows = append(rows, o.invoke(ctx, clip, backend, expected, suiteID))
	}
	return rows
}

// invoke runs one backend over one clip. A backend error is logged and
// scored as an empty transcript; the row is produced regardless.
func (o *Orchestrator) invoke(ctx context.Context, clip store.AudioClip, backend engine.Backend, expected string, suiteID *uuid.UUID) *store.RecognitionResult {
	attrs := metric.WithAttributes(attribute.String("engine", backend.Name()))

	transcription, err := backend.Transcribe(ctx, clip.Data)
	if err != nil {
		o.log.Warn("transcription failed",
			slog.String("engine", backend.Name()),
			slog.String("clip_id", clip.ID.String()),
			slog.String("error", err.Error()))
		if o.failCounter != nil {
			o.failCounter.Add(ctx, 1, attrs)
		}
		transcription = engine.Transcription{}
	}

	score := accuracy.Score(expected, transcription.Text)
	modelMS := transcription.ModelTime.Milliseconds()

	if o.runCounter != nil {
		o.runCounter.Add(ctx, 1, attrs)
	}
	if o.modelTimeMS != nil {
		o.modelTimeMS.Record(ctx, float64(modelMS), attrs)
	}
	if o.accuracyHist != nil {
		o.accuracyHist.Record(ctx, score, attrs)
	}

	return &store.RecognitionResult{
		ClipID:            clip.ID,
		OwnerID:           clip.OwnerID,
		EngineName:        backend.Name(),
		RecognizedText:    transcription.Text,
		ExpectedText:      expected,
		Accuracy:          score,
		ModelProcessingMS: modelMS,
		SuiteID:           suiteID,
	}
}

func (o *Orchestrator) publishResult(ctx context.Context, result Result) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.ResultCreated(ctx, result); err != nil {
		o.log.Warn("failed to publish result event", slog.String("error", err.Error()))
	}
}

func toResult(row store.RecognitionResult) Result {
	return Result{
		ID:                row.ID,
		ClipID:            row.ClipID,
		OwnerID:           row.OwnerID,
		EngineName:        row.EngineName,
		RecognizedText:    row.RecognizedText,
		ExpectedText:      row.ExpectedText,
		Accuracy:          row.Accuracy,
		ModelProcessingMS: row.ModelProcessingMS,
		SuiteID:           row.SuiteID,
		CreatedAt:         row.CreatedAt,
	}
}

func toResults(rows []store.RecognitionResult) []Result {
	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		out = append(out, toResult(row))
	}
	return out
}

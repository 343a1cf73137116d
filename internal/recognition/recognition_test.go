package recognition

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/metriclabs/speechbench/internal/config"
	"github.com/metriclabs/speechbench/internal/engine"
	"github.com/metriclabs/speechbench/internal/store"
	"github.com/metriclabs/speechbench/internal/wavcodec"
)

// stubBackend returns a scripted transcript or error.
type stubBackend struct {
	name      string
	text      string
	err       error
	modelTime time.Duration
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Transcribe(context.Context, []byte) (engine.Transcription, error) {
	if b.err != nil {
		return engine.Transcription{}, b.err
	}
	return engine.Transcription{Text: b.text, ModelTime: b.modelTime}, nil
}

type recordingPublisher struct {
	results []Result
	suites  []Suite
}

func (p *recordingPublisher) ResultCreated(_ context.Context, result Result) error {
	p.results = append(p.results, result)
	return nil
}

func (p *recordingPublisher) SuiteCompleted(_ context.Context, suite Suite) error {
	p.suites = append(p.suites, suite)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "bench.db")}
	s, err := store.Open(context.Background(), cfg, newTestLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func saveClip(t *testing.T, s *store.Store, owner uuid.UUID) uuid.UUID {
	t.Helper()
	clip := &store.AudioClip{
		OwnerID:  owner,
		FileName: "clip.wav",
		Data:     wavcodec.Encode(make([]byte, 640)),
	}
	if err := s.SaveClip(context.Background(), clip); err != nil {
		t.Fatalf("save clip: %v", err)
	}
	return clip.ID
}

func newRegistry(t *testing.T, backends ...engine.Backend) *engine.Registry {
	t.Helper()
	reg, err := engine.NewRegistry(backends...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func TestRecognizeOnePersistsResult(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	clipID := saveClip(t, s, owner)
	reg := newRegistry(t, &stubBackend{name: "vosk-small", text: "hello world", modelTime: 250 * time.Millisecond})
	pub := &recordingPublisher{}
	orch := New(s, reg, pub, newTestLogger())

	result, err := orch.RecognizeOne(context.Background(), clipID, "Hello, world!", "vosk-small")
	if err != nil {
		t.Fatalf("recognize one: %v", err)
	}
	if result.Accuracy != 1.0 {
		t.Fatalf("expected accuracy 1.0, got %v", result.Accuracy)
	}
	if result.EngineName != "vosk-small" || result.OwnerID != owner || result.ClipID != clipID {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ModelProcessingMS != 250 {
		t.Fatalf("expected model time 250ms, got %d", result.ModelProcessingMS)
	}
	if result.SuiteID != nil {
		t.Fatal("single recognition must not carry a suite id")
	}

	stored, err := s.ResultsByEngine(context.Background(), "vosk-small")
	if err != nil {
		t.Fatalf("results by engine: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != result.ID {
		t.Fatalf("result not persisted as returned: %+v", stored)
	}
	if len(pub.results) != 1 || pub.results[0].ID != result.ID {
		t.Fatalf("result event not published: %+v", pub.results)
	}
}

func TestRecognizeOneUnknownClip(t *testing.T) {
	s := newTestStore(t)
	reg := newRegistry(t, &stubBackend{name: "vosk-small"})
	orch := New(s, reg, nil, newTestLogger())

	_, err := orch.RecognizeOne(context.Background(), uuid.New(), "x", "vosk-small")
	if !errors.Is(err, store.ErrClipNotFound) {
		t.Fatalf("expected ErrClipNotFound, got %v", err)
	}
}

func TestRecognizeOneUnknownEngine(t *testing.T) {
	s := newTestStore(t)
	clipID := saveClip(t, s, uuid.New())
	reg := newRegistry(t, &stubBackend{name: "vosk-small"})
	orch := New(s, reg, nil, newTestLogger())

	_, err := orch.RecognizeOne(context.Background(), clipID, "x", "missing")
	var notFound *engine.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}

	results, err := s.ResultsByOwner(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatalf("results by owner: %v", err)
	}
	if len(results) != 0 {
		t.Fatal("failed lookup must not persist a result")
	}
}

func TestRecognizeAllToleratesBackendFailure(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	clipID := saveClip(t, s, owner)
	reg := newRegistry(t,
		&stubBackend{name: "vosk-large", text: "one two"},
		&stubBackend{name: "vosk-small", err: errors.New("decoder crashed")},
		&stubBackend{name: "whisper-base", text: "one two"},
	)
	orch := New(s, reg, nil, newTestLogger())

	results, err := orch.RecognizeAll(context.Background(), clipID, "one two")
	if err != nil {
		t.Fatalf("recognize all: %v", err)
	}
	if len(results) != reg.Len() {
		t.Fatalf("expected %d results, got %d", reg.Len(), len(results))
	}

	wantNames := reg.Names()
	for i, r := range results {
		if r.EngineName != wantNames[i] {
			t.Fatalf("result %d out of registry order: got %q want %q", i, r.EngineName, wantNames[i])
		}
	}
	if results[0].Accuracy != 1.0 || results[2].Accuracy != 1.0 {
		t.Fatalf("healthy engines should score 1.0: %+v", results)
	}
	if results[1].RecognizedText != "" || results[1].Accuracy != 0.0 {
		t.Fatalf("failed engine should persist an empty zero-score transcript: %+v", results[1])
	}

	stored, err := s.ResultsByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("results by owner: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("all rows including the failure must persist, got %d", len(stored))
	}
}

func TestRunSuite(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	clipA := saveClip(t, s, owner)
	clipB := saveClip(t, s, owner)
	reg := newRegistry(t,
		&stubBackend{name: "vosk-large", text: "one"},
		&stubBackend{name: "whisper-base", text: "two"},
	)
	pub := &recordingPublisher{}
	orch := New(s, reg, pub, newTestLogger())

	suite, err := orch.RunSuite(context.Background(), []SuiteEntry{
		{ClipID: clipA, Expected: "one"},
		{ClipID: clipB, Expected: "two"},
	}, owner)
	if err != nil {
		t.Fatalf("run suite: %v", err)
	}

	if len(suite.Results) != 2*reg.Len() {
		t.Fatalf("expected %d results, got %d", 2*reg.Len(), len(suite.Results))
	}
	for _, r := range suite.Results {
		if r.SuiteID == nil || *r.SuiteID != suite.ID {
			t.Fatalf("result not tagged with suite id: %+v", r)
		}
		if r.OwnerID != owner {
			t.Fatalf("result owner mismatch: %+v", r)
		}
	}

	// Clip order outer, registry order inner.
	wantEngines := []string{"vosk-large", "whisper-base", "vosk-large", "whisper-base"}
	wantClips := []uuid.UUID{clipA, clipA, clipB, clipB}
	for i, r := range suite.Results {
		if r.EngineName != wantEngines[i] || r.ClipID != wantClips[i] {
			t.Fatalf("result %d out of order: %+v", i, r)
		}
	}

	stored, err := s.ResultsBySuite(context.Background(), suite.ID)
	if err != nil {
		t.Fatalf("results by suite: %v", err)
	}
	if len(stored) != len(suite.Results) {
		t.Fatalf("persisted %d results, returned %d", len(stored), len(suite.Results))
	}
	if len(pub.suites) != 1 || pub.suites[0].ID != suite.ID {
		t.Fatalf("suite event not published: %+v", pub.suites)
	}
}

func TestRunSuiteEmptyInput(t *testing.T) {
	s := newTestStore(t)
	reg := newRegistry(t, &stubBackend{name: "vosk-small"})
	orch := New(s, reg, nil, newTestLogger())

	if _, err := orch.RunSuite(context.Background(), nil, uuid.New()); !errors.Is(err, ErrEmptySuite) {
		t.Fatalf("expected ErrEmptySuite, got %v", err)
	}
}

func TestOverviewAggregation(t *testing.T) {
	s := newTestStore(t)
	owner := uuid.New()
	clipID := saveClip(t, s, owner)
	reg := newRegistry(t, &stubBackend{name: "whisper-base"})
	orch := New(s, reg, nil, newTestLogger())

	err := s.InsertResults(context.Background(), []*store.RecognitionResult{
		{ClipID: clipID, OwnerID: owner, EngineName: "whisper-base", Accuracy: 1.0, ModelProcessingMS: 100},
		{ClipID: clipID, OwnerID: owner, EngineName: "Whisper-Base", Accuracy: 0.5, ModelProcessingMS: 300},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	overview, err := orch.Overview(context.Background(), "whisper-base")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Count != 2 || len(overview.ResultIDs) != 2 {
		t.Fatalf("expected both rows counted, got %+v", overview)
	}
	if math.Abs(overview.AvgAccuracyPct-75.0) > 1e-9 {
		t.Fatalf("expected 75%% mean accuracy, got %v", overview.AvgAccuracyPct)
	}
	if math.Abs(overview.AvgProcessingMS-200.0) > 1e-9 {
		t.Fatalf("expected 200ms mean processing, got %v", overview.AvgProcessingMS)
	}
}

func TestOverviewEmptyEngine(t *testing.T) {
	s := newTestStore(t)
	reg := newRegistry(t, &stubBackend{name: "vosk-large"})
	orch := New(s, reg, nil, newTestLogger())

	overview, err := orch.Overview(context.Background(), "vosk-large")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.Count != 0 || overview.AvgAccuracyPct != 0 || overview.AvgProcessingMS != 0 || len(overview.ResultIDs) != 0 {
		t.Fatalf("expected zero-valued overview, got %+v", overview)
	}
}

func TestOverviewAllPreservesRegistryOrder(t *testing.T) {
	s := newTestStore(t)
	reg := newRegistry(t,
		&stubBackend{name: "vosk-large"},
		&stubBackend{name: "vosk-small"},
		&stubBackend{name: "whisper-base"},
	)
	orch := New(s, reg, nil, newTestLogger())

	overviews, err := orch.OverviewAll(context.Background())
	if err != nil {
		t.Fatalf("overview all: %v", err)
	}
	names := reg.Names()
	if len(overviews) != len(names) {
		t.Fatalf("expected %d overviews, got %d", len(names), len(overviews))
	}
	for i, overview := range overviews {
		if overview.EngineName != names[i] {
			t.Fatalf("overview %d out of order: got %q want %q", i, overview.EngineName, names[i])
		}
	}
}

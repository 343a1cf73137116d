package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/metriclabs/speechbench/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "bench.db")}
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClipRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clip := &AudioClip{
		OwnerID:  uuid.New(),
		FileName: "greeting.wav",
		Data:     []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x01},
	}
	if err := s.SaveClip(ctx, clip); err != nil {
		t.Fatalf("save clip: %v", err)
	}
	if clip.ID == uuid.Nil {
		t.Fatal("save should assign an id")
	}

	loaded, err := s.GetClip(ctx, clip.ID)
	if err != nil {
		t.Fatalf("get clip: %v", err)
	}
	if loaded.FileName != "greeting.wav" || loaded.OwnerID != clip.OwnerID {
		t.Fatalf("unexpected clip: %+v", loaded)
	}
	if !bytes.Equal(loaded.Data, clip.Data) {
		t.Fatal("audio bytes did not survive the round trip")
	}
	if loaded.CreatedAt.IsZero() {
		t.Fatal("created_at not persisted")
	}
}

func TestGetClipNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetClip(context.Background(), uuid.New())
	if !errors.Is(err, ErrClipNotFound) {
		t.Fatalf("expected ErrClipNotFound, got %v", err)
	}
}

func TestRenameClip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	clip := &AudioClip{OwnerID: uuid.New(), FileName: "a.wav", Data: []byte{1}}
	if err := s.SaveClip(ctx, clip); err != nil {
		t.Fatalf("save clip: %v", err)
	}
	if err := s.RenameClip(ctx, clip.ID, "b.wav"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	loaded, err := s.GetClip(ctx, clip.ID)
	if err != nil {
		t.Fatalf("get clip: %v", err)
	}
	if loaded.FileName != "b.wav" {
		t.Fatalf("rename not applied, got %q", loaded.FileName)
	}

	if err := s.RenameClip(ctx, uuid.New(), "x.wav"); !errors.Is(err, ErrClipNotFound) {
		t.Fatalf("expected ErrClipNotFound for missing clip, got %v", err)
	}
}

func TestDeleteClipCascadesResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()

	clip := &AudioClip{OwnerID: owner, FileName: "a.wav", Data: []byte{1}}
	if err := s.SaveClip(ctx, clip); err != nil {
		t.Fatalf("save clip: %v", err)
	}
	err := s.InsertResults(ctx, []*RecognitionResult{{
		ClipID: clip.ID, OwnerID: owner, EngineName: "vosk-small",
		RecognizedText: "hi", ExpectedText: "hi", Accuracy: 1,
	}})
	if err != nil {
		t.Fatalf("insert result: %v", err)
	}

	existed, err := s.DeleteClip(ctx, clip.ID)
	if err != nil || !existed {
		t.Fatalf("delete clip: existed=%v err=%v", existed, err)
	}

	results, err := s.ResultsByEngine(ctx, "vosk-small")
	if err != nil {
		t.Fatalf("results by engine: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected cascade to remove results, got %d", len(results))
	}

	existed, err = s.DeleteClip(ctx, clip.ID)
	if err != nil || existed {
		t.Fatalf("second delete should report absence: existed=%v err=%v", existed, err)
	}
}

func TestListClipIDsByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		clip := &AudioClip{OwnerID: owner, FileName: "c.wav", Data: []byte{1}, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.SaveClip(ctx, clip); err != nil {
			t.Fatalf("save clip: %v", err)
		}
		want = append(want, clip.ID)
	}
	other := &AudioClip{OwnerID: uuid.New(), FileName: "x.wav", Data: []byte{1}}
	if err := s.SaveClip(ctx, other); err != nil {
		t.Fatalf("save clip: %v", err)
	}

	ids, err := s.ListClipIDsByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids out of order at %d: got %s want %s", i, ids[i], want[i])
		}
	}
}

func TestResultsByEngineIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()

	clip := &AudioClip{OwnerID: owner, FileName: "a.wav", Data: []byte{1}}
	if err := s.SaveClip(ctx, clip); err != nil {
		t.Fatalf("save clip: %v", err)
	}
	err := s.InsertResults(ctx, []*RecognitionResult{{
		ClipID: clip.ID, OwnerID: owner, EngineName: "whisper-base",
		RecognizedText: "a", ExpectedText: "a", Accuracy: 1, ModelProcessingMS: 12,
	}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.ResultsByEngine(ctx, "WHISPER-Base")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].EngineName != "whisper-base" {
		t.Fatalf("case-insensitive match failed: %+v", results)
	}
	if results[0].ModelProcessingMS != 12 || results[0].SuiteID != nil {
		t.Fatalf("unexpected result row: %+v", results[0])
	}
}

func TestSuiteRoundTripAndResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()

	clip := &AudioClip{OwnerID: owner, FileName: "a.wav", Data: []byte{1}}
	if err := s.SaveClip(ctx, clip); err != nil {
		t.Fatalf("save clip: %v", err)
	}
	suite := &RecognitionSuite{OwnerID: owner}
	if err := s.SaveSuite(ctx, suite); err != nil {
		t.Fatalf("save suite: %v", err)
	}

	err := s.InsertResults(ctx, []*RecognitionResult{
		{ClipID: clip.ID, OwnerID: owner, EngineName: "vosk-large", SuiteID: &suite.ID},
		{ClipID: clip.ID, OwnerID: owner, EngineName: "whisper-base", SuiteID: &suite.ID},
		{ClipID: clip.ID, OwnerID: owner, EngineName: "vosk-large"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	loaded, err := s.GetSuite(ctx, suite.ID)
	if err != nil {
		t.Fatalf("get suite: %v", err)
	}
	if loaded.OwnerID != owner {
		t.Fatalf("unexpected suite owner %s", loaded.OwnerID)
	}

	results, err := s.ResultsBySuite(ctx, suite.ID)
	if err != nil {
		t.Fatalf("results by suite: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 suite results, got %d", len(results))
	}
	for _, r := range results {
		if r.SuiteID == nil || *r.SuiteID != suite.ID {
			t.Fatalf("result missing suite tag: %+v", r)
		}
	}

	suites, err := s.SuitesByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("suites by owner: %v", err)
	}
	if len(suites) != 1 || suites[0].ID != suite.ID {
		t.Fatalf("unexpected suites: %+v", suites)
	}

	if _, err := s.GetSuite(ctx, uuid.New()); !errors.Is(err, ErrSuiteNotFound) {
		t.Fatalf("expected ErrSuiteNotFound, got %v", err)
	}
}

func TestResultsByOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()

	clip := &AudioClip{OwnerID: owner, FileName: "a.wav", Data: []byte{1}}
	if err := s.SaveClip(ctx, clip); err != nil {
		t.Fatalf("save clip: %v", err)
	}
	err := s.InsertResults(ctx, []*RecognitionResult{
		{ClipID: clip.ID, OwnerID: owner, EngineName: "vosk-small", Accuracy: 0.5},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := s.ResultsByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].Accuracy != 0.5 {
		t.Fatalf("unexpected results: %+v", results)
	}

	none, err := s.ResultsByOwner(ctx, uuid.New())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no results for unknown owner, got %d", len(none))
	}
}

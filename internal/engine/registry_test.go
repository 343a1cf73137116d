package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/metriclabs/speechbench/internal/config"
	"github.com/metriclabs/speechbench/internal/wavcodec"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ggml-base.en", "ggml-base-en"},
		{"Vosk Model EN US 0.22", "vosk-model-en-us-0-22"},
		{"  --weird__name--  ", "weird-name"},
		{"", "model"},
		{"###", "model"},
		{"already-a-slug", "already-a-slug"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNameForModelPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/app/models/ggml-base.en.bin", "ggml-base-en"},
		{"/app/models/vosk-model-small-en-us-0.15", "vosk-model-small-en-us-0-15"},
		{`C:\models\ggml-small.en-q8_0.bin`, "ggml-small-en-q8-0"},
		{"custom.model", "custom"},
		{"", "model"},
	}
	for _, tt := range tests {
		if got := NameForModelPath(tt.in); got != tt.want {
			t.Fatalf("NameForModelPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegistryLookupMatchesOrder(t *testing.T) {
	reg, err := NewRegistry(
		NewMockBackend("vosk-large"),
		NewMockBackend("vosk-small"),
		NewMockBackend("whisper-base"),
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	names := reg.Names()
	backends := reg.All()
	if len(names) != 3 || len(backends) != 3 {
		t.Fatalf("expected 3 engines, got %d names / %d backends", len(names), len(backends))
	}
	for i, name := range names {
		got, err := reg.Get(name)
		if err != nil {
			t.Fatalf("get %q: %v", name, err)
		}
		if got != backends[i] {
			t.Fatalf("Get(%q) does not match All()[%d]", name, i)
		}
	}
	if names[0] != "vosk-large" || names[2] != "whisper-base" {
		t.Fatalf("registration order not preserved: %v", names)
	}
}

func TestRegistryUnknownEngine(t *testing.T) {
	reg, err := NewRegistry(NewMockBackend("only"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = reg.Get("missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.Name != "missing" {
		t.Fatalf("expected error to carry the name, got %q", notFound.Name)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	if _, err := NewRegistry(NewMockBackend("dup"), NewMockBackend("dup")); err == nil {
		t.Fatal("expected error for duplicate names")
	}
}

func TestBuildMockRegistry(t *testing.T) {
	reg, err := Build([]config.EngineConfig{
		{Name: "alpha", Kind: "mock"},
		{Name: "beta", Kind: "mock"},
	}, newTestLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := reg.Names(); len(got) != 2 || got[0] != "alpha" {
		t.Fatalf("unexpected names: %v", got)
	}
}

func TestNamesOnlyDerivesSlugsFromModelPaths(t *testing.T) {
	reg, err := NamesOnly([]config.EngineConfig{
		{Name: "vosk-large", Kind: "vosk", ModelPath: "/app/models/vosk-model-en-us-0.22-lgraph"},
		{Kind: "whisper", ModelPath: "/app/models/ggml-base.en.bin"},
		{Kind: "whisper", ModelPath: "/app/models/ggml-small.en-q8_0.bin"},
	})
	if err != nil {
		t.Fatalf("names only: %v", err)
	}
	want := []string{"vosk-large", "ggml-base-en", "ggml-small-en-q8-0"}
	got := reg.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("name %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	_, err := Build([]config.EngineConfig{{Name: "x", Kind: "sphinx"}}, newTestLogger())
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestMockBackendTranscribe(t *testing.T) {
	backend := NewMockBackend("mock")
	wav := wavcodec.Encode(make([]byte, 320))

	result, err := backend.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.Contains(result.Text, "samples=160") {
		t.Fatalf("unexpected mock transcript: %q", result.Text)
	}

	if _, err := backend.Transcribe(context.Background(), []byte("junk")); err == nil {
		t.Fatal("expected error for non-canonical input")
	}
}

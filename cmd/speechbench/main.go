// Command speechbench is the operator CLI. It works against the same store
// and engine configuration as the daemon, in process, so benchmarks can run
// on a box without any server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/metriclabs/speechbench/internal/audio"
	"github.com/metriclabs/speechbench/internal/config"
	"github.com/metriclabs/speechbench/internal/engine"
	"github.com/metriclabs/speechbench/internal/recognition"
	"github.com/metriclabs/speechbench/internal/store"
	"github.com/metriclabs/speechbench/internal/wavcodec"
)

var version = "0.1.0-dev"

const usage = `usage: speechbench <command> [flags]

commands:
  upload     normalize an audio file and store it as a clip
  recognize  run one clip through one engine, or through all engines
  suite      run a manifest of clips through every engine as one suite
  overview   print per-engine aggregates
  clips      list, rename or delete stored clips
  version    print version and exit
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "upload":
		err = runUpload(ctx, os.Args[2:])
	case "recognize":
		err = runRecognize(ctx, os.Args[2:])
	case "suite":
		err = runSuite(ctx, os.Args[2:])
	case "overview":
		err = runOverview(ctx, os.Args[2:])
	case "clips":
		err = runClips(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (*store.Store, error) {
	return store.Open(ctx, cfg.Store, log)
}

func runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", "speechbench.yaml", "Path to configuration file")
	filePath := fs.String("file", "", "Audio file to upload")
	owner := fs.String("owner", "", "Owner id (UUID)")
	name := fs.String("name", "", "Stored file name (defaults to the input name)")
	fs.Parse(args)

	if *filePath == "" {
		return fmt.Errorf("upload: -file is required")
	}
	ownerID, err := parseOwner(*owner)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	data, err := os.ReadFile(*filePath)
	if err != nil {
		return err
	}

	normalizer, err := audio.NewNormalizer(cfg.Transcoder, log)
	if err != nil {
		return err
	}
	canonical, err := normalizer.Normalize(ctx, data)
	if err != nil {
		return fmt.Errorf("normalize %s: %w", *filePath, err)
	}

	fileName := *name
	if fileName == "" {
		fileName = *filePath
	}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	clip := &store.AudioClip{
		OwnerID:  ownerID,
		FileName: audio.WavExtension(fileName),
		Data:     canonical,
	}
	if err := st.SaveClip(ctx, clip); err != nil {
		return err
	}

	if dur, err := wavcodec.Duration(canonical); err == nil {
		fmt.Fprintf(os.Stderr, "stored %s (%s)\n", clip.FileName, dur)
	}
	fmt.Println(clip.ID)
	return nil
}

func runRecognize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recognize", flag.ExitOnError)
	configPath := fs.String("config", "speechbench.yaml", "Path to configuration file")
	clipArg := fs.String("clip", "", "Clip id (UUID)")
	expected := fs.String("expected", "", "Ground-truth transcript")
	engineName := fs.String("engine", "", "Engine slug; empty runs every engine")
	fs.Parse(args)

	clipID, err := uuid.Parse(*clipArg)
	if err != nil {
		return fmt.Errorf("recognize: invalid -clip: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	registry, err := engine.Build(cfg.Engines, log)
	if err != nil {
		return err
	}
	orch := recognition.New(st, registry, nil, log)

	if *engineName != "" {
		result, err := orch.RecognizeOne(ctx, clipID, *expected, *engineName)
		if err != nil {
			return err
		}
		return printJSON(result)
	}
	results, err := orch.RecognizeAll(ctx, clipID, *expected)
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runSuite(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("suite", flag.ExitOnError)
	configPath := fs.String("config", "speechbench.yaml", "Path to configuration file")
	manifestPath := fs.String("manifest", "", "Manifest file: one 'clip-id = expected text' per line")
	owner := fs.String("owner", "", "Owner id (UUID)")
	fs.Parse(args)

	if *manifestPath == "" {
		return fmt.Errorf("suite: -manifest is required")
	}
	ownerID, err := parseOwner(*owner)
	if err != nil {
		return err
	}
	entries, err := loadManifest(*manifestPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	registry, err := engine.Build(cfg.Engines, log)
	if err != nil {
		return err
	}
	orch := recognition.New(st, registry, nil, log)

	suite, err := orch.RunSuite(ctx, entries, ownerID)
	if err != nil {
		return err
	}
	return printJSON(suite)
}

func runOverview(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("overview", flag.ExitOnError)
	configPath := fs.String("config", "speechbench.yaml", "Path to configuration file")
	engineName := fs.String("engine", "", "Engine slug; empty prints every engine")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// Aggregation only needs engine names, not loaded models.
	registry, err := engine.NamesOnly(cfg.Engines)
	if err != nil {
		return err
	}
	orch := recognition.New(st, registry, nil, log)

	if *engineName != "" {
		overview, err := orch.Overview(ctx, *engineName)
		if err != nil {
			return err
		}
		return printJSON(overview)
	}
	overviews, err := orch.OverviewAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(overviews)
}

func runClips(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clips", flag.ExitOnError)
	configPath := fs.String("config", "speechbench.yaml", "Path to configuration file")
	owner := fs.String("owner", "", "Owner id (UUID); lists the owner's clips")
	deleteArg := fs.String("delete", "", "Clip id to delete")
	renameArg := fs.String("rename", "", "Clip id to rename")
	name := fs.String("name", "", "New file name for -rename")
	exportArg := fs.String("export", "", "Clip id to export as a WAV file")
	out := fs.String("out", "", "Output path for -export (defaults to the stored name)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case *deleteArg != "":
		id, err := uuid.Parse(*deleteArg)
		if err != nil {
			return fmt.Errorf("clips: invalid -delete: %w", err)
		}
		existed, err := st.DeleteClip(ctx, id)
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("clips: %s not found", id)
		}
		fmt.Println("deleted")
		return nil

	case *renameArg != "":
		id, err := uuid.Parse(*renameArg)
		if err != nil {
			return fmt.Errorf("clips: invalid -rename: %w", err)
		}
		if *name == "" {
			return fmt.Errorf("clips: -rename requires -name")
		}
		if err := st.RenameClip(ctx, id, audio.WavExtension(*name)); err != nil {
			return err
		}
		fmt.Println("renamed")
		return nil

	case *exportArg != "":
		id, err := uuid.Parse(*exportArg)
		if err != nil {
			return fmt.Errorf("clips: invalid -export: %w", err)
		}
		clip, err := st.GetClip(ctx, id)
		if err != nil {
			return err
		}
		pcm, err := wavcodec.ExtractPCM(clip.Data)
		if err != nil {
			return err
		}
		path := *out
		if path == "" {
			path = clip.FileName
		}
		if err := wavcodec.WriteFile(path, pcm); err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	default:
		ownerID, err := parseOwner(*owner)
		if err != nil {
			return err
		}
		ids, err := st.ListClipIDsByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func parseOwner(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, fmt.Errorf("-owner is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid -owner: %w", err)
	}
	return id, nil
}

func loadManifest(path string) ([]recognition.SuiteEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []recognition.SuiteEntry
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		clipRaw, expected, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected 'clip-id = expected text'", path, lineNo)
		}
		clipID, err := uuid.Parse(strings.TrimSpace(clipRaw))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid clip id: %w", path, lineNo, err)
		}
		entries = append(entries, recognition.SuiteEntry{
			ClipID:   clipID,
			Expected: strings.TrimSpace(expected),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

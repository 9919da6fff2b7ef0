// Command transcodectl is the operator tool for the transcode worker:
// enqueue a job manually, drain the queue, run the health checks, or probe a
// local file without touching the pipeline.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/clipstream/transcoder/internal/config"
	"github.com/clipstream/transcoder/internal/database"
	"github.com/clipstream/transcoder/internal/ffmpeg"
	"github.com/clipstream/transcoder/internal/health"
	"github.com/clipstream/transcoder/internal/queue"
	"github.com/clipstream/transcoder/internal/repository"
	"github.com/clipstream/transcoder/internal/worker"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: transcodectl <command> [flags]

commands:
  enqueue -asset <id> [-attempt <n>]   enqueue a transcode job
  drain                                fail all waiting messages on the topic
  health                               run the worker health checks
  probe -file <path>                   probe a local media file and print JSON
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	logger := hclog.New(&hclog.LoggerOptions{Name: "transcodectl", Level: hclog.Warn})
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "enqueue":
		err = cmdEnqueue(ctx, os.Args[2:], logger)
	case "drain":
		err = cmdDrain(ctx, logger)
	case "health":
		err = cmdHealth(ctx, logger)
	case "probe":
		err = cmdProbe(ctx, os.Args[2:], logger)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env loads configuration and opens the shared handles the queue-facing
// commands need.
type env struct {
	cfg *config.Config
	db  *gorm.DB
	q   *queue.Queue
}

func openEnv(logger hclog.Logger) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	q := queue.New(db, queue.Options{
		Topic:             cfg.QueueTopic,
		BackoffBase:       cfg.BackoffBase(),
		MaxAttempts:       cfg.MaxAttempts,
		VisibilityTimeout: cfg.VisibilityTimeout(),
	}, logger)
	return &env{cfg: cfg, db: db, q: q}, nil
}

func cmdEnqueue(ctx context.Context, args []string, logger hclog.Logger) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	assetID := fs.String("asset", "", "media asset ID (required)")
	attempt := fs.Int("attempt", 0, "domain attempt number; 0 picks the next one")
	fs.Parse(args)
	if *assetID == "" {
		return fmt.Errorf("-asset is required")
	}

	e, err := openEnv(logger)
	if err != nil {
		return err
	}
	defer database.Close(e.db)

	store := repository.NewStore(e.db)
	if _, err := store.GetAsset(ctx, *assetID); err != nil {
		return err
	}

	n := *attempt
	if n == 0 {
		// Next domain attempt: one past the latest recorded row.
		var latest database.TranscodeJob
		err := e.db.WithContext(ctx).
			Where("media_asset_id = ?", *assetID).
			Order("attempt DESC").
			First(&latest).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			n = 1
		case err != nil:
			return err
		default:
			n = latest.Attempt + 1
		}
	}

	msg, err := e.q.Enqueue(ctx, queue.Payload{MediaAssetID: *assetID, Attempt: n})
	if err != nil {
		return err
	}
	fmt.Printf("enqueued message %d for asset %s (attempt %d)\n", msg.ID, *assetID, n)
	return nil
}

func cmdDrain(ctx context.Context, logger hclog.Logger) error {
	e, err := openEnv(logger)
	if err != nil {
		return err
	}
	defer database.Close(e.db)

	n, err := e.q.Drain(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("drained %d waiting messages\n", n)
	return nil
}

func cmdHealth(ctx context.Context, logger hclog.Logger) error {
	e, err := openEnv(logger)
	if err != nil {
		return err
	}
	defer database.Close(e.db)

	check := health.NewCheck(e.db, e.q, e.cfg.ScratchDir, worker.GopsutilDiskFree)
	status := check.Run(ctx)

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if !status.Healthy {
		os.Exit(1)
	}
	return nil
}

// cmdProbe deliberately skips full config validation: the diagnostic only
// needs the ffprobe binary, not buckets or a database.
func cmdProbe(ctx context.Context, args []string, logger hclog.Logger) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	file := fs.String("file", "", "local media file (required)")
	fs.Parse(args)
	if *file == "" {
		return fmt.Errorf("-file is required")
	}

	ffprobePath := os.Getenv("FFPROBE_PATH")
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	runner := ffmpeg.NewExecRunner(2 * time.Minute)
	prober := ffmpeg.NewProber(runner, ffprobePath, logger)

	result, err := prober.Probe(ctx, *file)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

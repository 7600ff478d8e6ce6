package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/evalfactory/evalfactory/archive"
	"github.com/evalfactory/evalfactory/config"
	"github.com/evalfactory/evalfactory/log"
	"github.com/evalfactory/evalfactory/mempool"
	"github.com/evalfactory/evalfactory/metrics"
	"github.com/evalfactory/evalfactory/orchestrate"
	"github.com/evalfactory/evalfactory/sandbox"
	"github.com/evalfactory/evalfactory/stage"
	"github.com/evalfactory/evalfactory/store"
	"github.com/evalfactory/evalfactory/taskset"
	"github.com/evalfactory/evalfactory/validate"
)

// Exit codes for the run command.
const (
	exitSuccess        = 0
	exitInstanceFailed = 1
	exitInfrastructure = 2
)

// RunCommand returns the run command.
// This is the only command that executes work.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Synthesize and validate evaluation environments for a task set",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tasks",
				Usage:    "Path to the task set file (JSONL)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "task",
				Usage: "Process only the named instance (repeatable)",
			},
			&cli.StringFlag{
				Name:  "task-list",
				Usage: "Path to a file of instance IDs, one per line",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to evalfactory.yaml",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent instances",
			},
			&cli.IntFlag{
				Name:  "rounds",
				Usage: "Retry round budget per instance",
			},
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Directory for per-instance outputs",
			},
			&cli.StringFlag{
				Name:  "work-dir",
				Usage: "Scratch directory shared with the sandbox",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "Path to the result store (JSONL)",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Reprocess instances already present in the result store",
			},
			// Backend flags
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Generation backend command (receives a JSON request on stdin)",
			},
			&cli.StringSliceFlag{
				Name:  "backend-arg",
				Usage: "Fixed argument for the backend command (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "backend-timeout",
				Usage: "Timeout per backend invocation",
			},
			// Sandbox flags
			&cli.StringFlag{
				Name:  "platform",
				Usage: "Image build platform (e.g. linux/amd64)",
			},
			&cli.DurationFlag{
				Name:  "build-timeout",
				Usage: "Timeout per image build",
			},
			&cli.DurationFlag{
				Name:  "run-timeout",
				Usage: "Timeout per harness run",
			},
			&cli.BoolFlag{
				Name:  "keep-images",
				Usage: "Keep sandbox images after the batch (debugging)",
			},
			&cli.IntFlag{
				Name:  "min-fix-edits",
				Usage: "Non-gold edits seeded by the minimal-fix check (0 disables)",
			},
			// Memory pool flags
			&cli.StringFlag{
				Name:  "pool-backend",
				Usage: "Memory pool backend: memory, file, or redis",
			},
			&cli.StringFlag{
				Name:  "pool-path",
				Usage: "Snapshot path for the file pool backend",
			},
			&cli.StringFlag{
				Name:  "pool-url",
				Usage: "Redis URL for the redis pool backend",
			},
			&cli.StringFlag{
				Name:  "pool-prefix",
				Usage: "Key prefix for the redis pool backend",
			},
			// Archive flags
			&cli.StringFlag{
				Name:  "archive-bucket",
				Usage: "S3 bucket for accepted-artifact archiving (empty disables)",
			},
			&cli.StringFlag{
				Name:  "archive-prefix",
				Usage: "Key prefix within the archive bucket",
			},
			&cli.StringFlag{
				Name:  "archive-region",
				Usage: "AWS region for the archive bucket",
			},
			&cli.StringFlag{
				Name:  "archive-endpoint",
				Usage: "Custom S3 endpoint (R2, MinIO, etc.)",
			},
			&cli.BoolFlag{
				Name:  "archive-path-style",
				Usage: "Force path-style S3 addressing",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitInfrastructure)
	}

	instances, err := taskset.Load(c.String("tasks"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("load task set: %v", err), exitInfrastructure)
	}

	ids := c.StringSlice("task")
	if listPath := c.String("task-list"); listPath != "" {
		fromFile, err := taskset.LoadIDFile(listPath)
		if err != nil {
			return cli.Exit(fmt.Sprintf("load task list: %v", err), exitInfrastructure)
		}
		ids = append(ids, fromFile...)
	}
	instances, err = taskset.Filter(instances, ids)
	if err != nil {
		return cli.Exit(fmt.Sprintf("filter task set: %v", err), exitInfrastructure)
	}
	if len(instances) == 0 {
		fmt.Fprintln(os.Stderr, "no instances to process")
		return nil
	}

	batchID := uuid.NewString()
	logger := log.NewLogger(batchID, "")
	collector := metrics.NewCollector(cfg.Backend.Command, batchID)

	engine, err := sandbox.NewDockerEngine()
	if err != nil {
		return cli.Exit(fmt.Sprintf("sandbox unavailable: %v", err), exitInfrastructure)
	}
	defer func() { _ = engine.Close() }()

	validator := validate.New(engine, logger, validate.Options{
		BuildTimeout: cfg.Sandbox.BuildTimeout.Duration,
		RunTimeout:   cfg.Sandbox.RunTimeout.Duration,
		Platform:     cfg.Sandbox.Platform,
		KeepImages:   cfg.Sandbox.KeepImages,
		MinFixEdits:  *cfg.MinFixEdits,
		Metrics:      collector,
	})

	registry, err := stage.NewCommandRegistry(cfg.Backend.Command, cfg.Backend.Args, cfg.Backend.Timeout.Duration)
	if err != nil {
		return cli.Exit(fmt.Sprintf("configure generation backend: %v", err), exitInfrastructure)
	}

	pool, err := mempool.New(cfg.MemoryPool)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open memory pool: %v", err), exitInfrastructure)
	}
	defer func() { _ = pool.Close() }()

	results, err := store.Open(cfg.StorePath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("open result store: %v", err), exitInfrastructure)
	}

	var uploader *archive.Uploader
	if cfg.Archive.Bucket != "" {
		uploader, err = archive.New(c.Context, archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Prefix:       cfg.Archive.Prefix,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			UsePathStyle: cfg.Archive.UsePathStyle,
		}, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("configure archive: %v", err), exitInfrastructure)
		}
	}

	orch := orchestrate.New(cfg, registry, validator, pool, results, uploader, collector)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	start := time.Now()
	batch := orch.ProcessAll(ctx, instances)
	orch.Close(context.WithoutCancel(ctx))

	printBatchSummary(batch, collector, len(instances), time.Since(start))

	switch {
	case batch.Errored > 0:
		for _, procErr := range batch.Errors {
			fmt.Fprintf(os.Stderr, "error: %v\n", procErr)
		}
		return cli.Exit("", exitInfrastructure)
	case batch.Failed > 0:
		return cli.Exit("", exitInstanceFailed)
	default:
		return nil
	}
}

// buildConfig loads the config file when given and layers explicitly set
// flags on top. Flags always win over file values.
func buildConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("rounds") {
		cfg.Rounds = c.Int("rounds")
	}
	if c.IsSet("output-dir") {
		cfg.OutputDir = c.String("output-dir")
	}
	if c.IsSet("work-dir") {
		cfg.WorkDir = c.String("work-dir")
	}
	if c.IsSet("store") {
		cfg.StorePath = c.String("store")
	}
	if c.IsSet("force") {
		cfg.ForceRefresh = c.Bool("force")
	}
	if c.IsSet("backend") {
		cfg.Backend.Command = c.String("backend")
	}
	if c.IsSet("backend-arg") {
		cfg.Backend.Args = c.StringSlice("backend-arg")
	}
	if c.IsSet("backend-timeout") {
		cfg.Backend.Timeout.Duration = c.Duration("backend-timeout")
	}
	if c.IsSet("platform") {
		cfg.Sandbox.Platform = c.String("platform")
	}
	if c.IsSet("build-timeout") {
		cfg.Sandbox.BuildTimeout.Duration = c.Duration("build-timeout")
	}
	if c.IsSet("run-timeout") {
		cfg.Sandbox.RunTimeout.Duration = c.Duration("run-timeout")
	}
	if c.IsSet("keep-images") {
		cfg.Sandbox.KeepImages = c.Bool("keep-images")
	}
	if c.IsSet("min-fix-edits") {
		edits := c.Int("min-fix-edits")
		cfg.MinFixEdits = &edits
	}
	if c.IsSet("pool-backend") {
		cfg.MemoryPool.Backend = c.String("pool-backend")
	}
	if c.IsSet("pool-path") {
		cfg.MemoryPool.Path = c.String("pool-path")
	}
	if c.IsSet("pool-url") {
		cfg.MemoryPool.URL = c.String("pool-url")
	}
	if c.IsSet("pool-prefix") {
		cfg.MemoryPool.Prefix = c.String("pool-prefix")
	}
	if c.IsSet("archive-bucket") {
		cfg.Archive.Bucket = c.String("archive-bucket")
	}
	if c.IsSet("archive-prefix") {
		cfg.Archive.Prefix = c.String("archive-prefix")
	}
	if c.IsSet("archive-region") {
		cfg.Archive.Region = c.String("archive-region")
	}
	if c.IsSet("archive-endpoint") {
		cfg.Archive.Endpoint = c.String("archive-endpoint")
	}
	if c.IsSet("archive-path-style") {
		cfg.Archive.UsePathStyle = c.Bool("archive-path-style")
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "evalfactory")
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "results.jsonl"
	}
	if cfg.Backend.Command == "" {
		return nil, fmt.Errorf("a generation backend is required (--backend or backend.command)")
	}
	if cfg.Backend.Timeout.Duration <= 0 {
		cfg.Backend.Timeout.Duration = 10 * time.Minute
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printBatchSummary(batch *orchestrate.BatchResult, collector *metrics.Collector, total int, elapsed time.Duration) {
	snap := collector.Snapshot()

	fmt.Printf("\n=== Batch Summary ===\n")
	fmt.Printf("Instances:    %d\n", total)
	fmt.Printf("Accepted:     %d\n", batch.Accepted)
	fmt.Printf("Failed:       %d\n", batch.Failed)
	fmt.Printf("Errored:      %d\n", batch.Errored)
	fmt.Printf("Skipped:      %d\n", snap.InstancesSkipped)
	fmt.Printf("Rounds:       %d\n", snap.RoundsConsumed)
	fmt.Printf("Pool hits:    %d/%d\n", snap.PoolHits, snap.PoolHits+snap.PoolMisses)
	fmt.Printf("Duration:     %s\n", elapsed.Round(time.Millisecond))

	if len(snap.Classifications) > 0 {
		fmt.Printf("\n=== Classifications ===\n")
		for _, line := range sortedCounts(snap.Classifications) {
			fmt.Println(line)
		}
	}

	if reasons := batch.FailureReasons(); len(reasons) > 0 {
		fmt.Printf("\n=== Failure Reasons ===\n")
		for _, line := range reasons {
			fmt.Println(line)
		}
	}
}

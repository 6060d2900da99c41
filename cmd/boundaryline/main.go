// Command boundaryline acquires, validates, and persists administrative
// boundary artifacts for the city catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/atlas-data/boundaryline/internal/catalog"
	"github.com/atlas-data/boundaryline/internal/config"
	"github.com/atlas-data/boundaryline/internal/fsutil"
	"github.com/atlas-data/boundaryline/internal/geo"
	"github.com/atlas-data/boundaryline/internal/httputil"
	"github.com/atlas-data/boundaryline/internal/overpass"
	"github.com/atlas-data/boundaryline/internal/persist"
	"github.com/atlas-data/boundaryline/internal/pipeline"
	"github.com/atlas-data/boundaryline/internal/report"
	"github.com/atlas-data/boundaryline/internal/resultdb"
	"github.com/atlas-data/boundaryline/internal/source"
	"github.com/atlas-data/boundaryline/internal/timeutil"
	"github.com/atlas-data/boundaryline/internal/validate"
	"github.com/atlas-data/boundaryline/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "single":
		handleSingle(args)
	case "batch":
		handleBatch(args)
	case "retry-failed":
		handleRetryFailed(args)
	case "test":
		handleTest(args)
	case "report":
		handleReport(args)
	case "migrate":
		handleMigrate(args)
	case "version":
		fmt.Printf("boundaryline version %s (%s, built %s)\n",
			version.Version, version.GitSHA, version.BuildTime)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`boundaryline - administrative boundary acquisition pipeline

Usage: boundaryline <command> [options]

Commands:
  single        Acquire one place's boundary (--id, or --name/--country/...)
  batch         Acquire boundaries for catalog entries without one
  retry-failed  Reprocess places whose latest recorded result failed
  test          Run the fixed three-city fixture set
  report        Render an HTML summary of a run
  migrate       Manage the result database schema (up|down|version|force)
  version       Show version
  help          Show this help message

Common Flags:
  --config <file>   JSON tuning config overlaying the defaults
  --approximate     Allow the circular placeholder fallback for
                    countries without a wired boundary source

A completed run exits 0 even when individual places failed; only
orchestration-level misconfiguration (unreadable catalog, bad config)
exits nonzero.`)
}

// env is everything a run mode needs, wired from config.
type env struct {
	cfg      config.Pipeline
	pipeline *pipeline.Pipeline
	db       *resultdb.DB
}

func buildEnv(configPath string, approximate bool) (*env, error) {
	cfg := config.Defaults()
	if configPath != "" {
		fc, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Apply(fc); err != nil {
			return nil, err
		}
	}

	fs := fsutil.OSFileSystem{}
	cat, err := catalog.Load(fs, cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	db, err := resultdb.Open(cfg.ResultDBPath)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	clock := timeutil.RealClock{}
	client := overpass.NewClient(overpass.Config{
		BaseURL:         cfg.OverpassURL,
		HTTP:            httputil.NewStandardClient(&http.Client{Timeout: cfg.RequestTimeout}),
		Clock:           clock,
		MaxAttempts:     cfg.MaxFetchAttempts,
		BackoffBase:     cfg.BackoffBase,
		MinRequestDelay: cfg.RequestDelay,
	})

	mgr := persist.NewManager(fs, clock, cfg.BoundaryDir, cfg.BackupDir)
	mgr.Catalog = cat

	gates := validate.DefaultGates()
	gates.ClosureTolerance = cfg.StitchToleranceDeg
	gates.MinAreaRatio = cfg.MinAreaRatio
	gates.MaxAreaRatio = cfg.MaxAreaRatio
	gates.MinAreaKm2 = cfg.MinAbsoluteAreaKm2
	gates.MaxAreaKm2 = cfg.MaxAbsoluteAreaKm2
	gates.MaxCentroidDistanceKm = cfg.DistanceThresholdKm

	return &env{
		cfg: cfg,
		db:  db,
		pipeline: &pipeline.Pipeline{
			Catalog:            cat,
			Client:             client,
			Persister:          mgr,
			Results:            db,
			Gates:              gates,
			StitchTol:          cfg.StitchToleranceDeg,
			Clock:              clock,
			AllowApproximation: approximate,
		},
	}, nil
}

// runContext cancels on SIGINT/SIGTERM; the in-flight place aborts,
// completed artifacts stay valid.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func finishRun(stats *pipeline.Stats, err error) {
	if stats != nil {
		fmt.Printf("run %s: %s\n", stats.RunID, stats.Summary())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "run interrupted: %v\n", err)
		os.Exit(1)
	}
}

func handleSingle(args []string) {
	fs := flag.NewFlagSet("single", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON tuning config")
	id := fs.String("id", "", "Catalog entry id to acquire")
	name := fs.String("name", "", "Place name (when not using --id)")
	country := fs.String("country", "", "Place country (when not using --id)")
	lat := fs.Float64("lat", 0, "Expected latitude")
	lon := fs.Float64("lon", 0, "Expected longitude")
	refArea := fs.Float64("ref-area", 0, "Reference area in km²")
	subdivision := fs.String("subdivision", "", "State or province, for disambiguation")
	relation := fs.Int64("relation", 0, "Known relation id, skips discovery")
	approximate := fs.Bool("approximate", false, "Allow circular placeholder fallback")
	fs.Parse(args)

	e, err := buildEnv(*configPath, *approximate)
	if err != nil {
		fatal(err)
	}
	defer e.db.Close()

	var req source.PlaceRequest
	switch {
	case *id != "":
		req, err = e.pipeline.RequestForCatalogID(*id)
		if err != nil {
			fatal(err)
		}
	case *name != "" && *country != "":
		req = source.PlaceRequest{
			ID:                 *name,
			Name:               *name,
			Country:            *country,
			Subdivision:        *subdivision,
			ReferenceAreaKm2:   *refArea,
			KnownRelationID:    *relation,
			AllowApproximation: *approximate,
		}
		if *lat != 0 || *lon != 0 {
			req.Expected = &geo.Point{Lon: *lon, Lat: *lat}
		}
	default:
		fatal(fmt.Errorf("single needs --id, or --name and --country"))
	}

	ctx, cancel := runContext()
	defer cancel()
	finishRun(e.pipeline.RunSingle(ctx, req))
}

func handleBatch(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON tuning config")
	limit := fs.Int("limit", 0, "Max places to process (0 = no limit)")
	approximate := fs.Bool("approximate", false, "Allow circular placeholder fallback")
	fs.Parse(args)

	e, err := buildEnv(*configPath, *approximate)
	if err != nil {
		fatal(err)
	}
	defer e.db.Close()

	// Places already acquired in earlier runs are skipped even when the
	// catalog flag lags behind.
	succeeded, err := e.db.SucceededPlaceIDs()
	if err != nil {
		fatal(err)
	}

	ctx, cancel := runContext()
	defer cancel()
	finishRun(e.pipeline.RunBatch(ctx, *limit, pipeline.NewProgress(succeeded...)))
}

func handleRetryFailed(args []string) {
	fs := flag.NewFlagSet("retry-failed", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON tuning config")
	limit := fs.Int("limit", 0, "Max places to retry (0 = no limit)")
	approximate := fs.Bool("approximate", false, "Allow circular placeholder fallback")
	fs.Parse(args)

	e, err := buildEnv(*configPath, *approximate)
	if err != nil {
		fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := runContext()
	defer cancel()
	finishRun(e.pipeline.RunRetryFailed(ctx, *limit))
}

func handleTest(args []string) {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON tuning config")
	fs.Parse(args)

	e, err := buildEnv(*configPath, false)
	if err != nil {
		fatal(err)
	}
	defer e.db.Close()

	ctx, cancel := runContext()
	defer cancel()
	finishRun(e.pipeline.RunTest(ctx))
}

func handleReport(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON tuning config")
	runID := fs.String("run", "", "Run id to report on (default: latest)")
	out := fs.String("out", "boundary_report.html", "Output HTML file")
	fs.Parse(args)

	cfg := config.Defaults()
	if *configPath != "" {
		fc, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		if err := cfg.Apply(fc); err != nil {
			fatal(err)
		}
	}

	db, err := resultdb.Open(cfg.ResultDBPath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	f, err := os.Create(*out)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	if err := report.Generate(db, *runID, f); err != nil {
		fatal(err)
	}
	fmt.Printf("report written to %s\n", *out)
}

func handleMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "JSON tuning config")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fatal(fmt.Errorf("usage: boundaryline migrate <up|down|version|force N>"))
	}

	cfg := config.Defaults()
	if *configPath != "" {
		fc, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		if err := cfg.Apply(fc); err != nil {
			fatal(err)
		}
	}

	db, err := resultdb.Open(cfg.ResultDBPath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	switch action := fs.Arg(0); action {
	case "up":
		if err := db.MigrateUp(); err != nil {
			fatal(err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := db.MigrateDown(); err != nil {
			fatal(err)
		}
		fmt.Println("rolled back one migration")
	case "version":
		v, dirty, err := db.MigrateVersion()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("version %d (dirty=%v)\n", v, dirty)
	case "force":
		if fs.NArg() < 2 {
			fatal(fmt.Errorf("usage: boundaryline migrate force <version>"))
		}
		var v int
		if _, err := fmt.Sscanf(fs.Arg(1), "%d", &v); err != nil {
			fatal(fmt.Errorf("invalid version %q", fs.Arg(1)))
		}
		if err := db.MigrateForce(v); err != nil {
			fatal(err)
		}
		fmt.Printf("forced version to %d\n", v)
	default:
		fatal(fmt.Errorf("unknown migrate action %q", action))
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

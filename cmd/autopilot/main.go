// Autopilot is the workflow orchestration daemon.
//
// It serves the HTTP API, executes workflow runs in the background, and
// watches the project registry for changes.
//
// Configuration is read from ~/.config/autopilot/config.yaml (or -config)
// and AUTOPILOT_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	autopilot
//
//	# Configure via environment
//	AUTOPILOT_SERVER_HTTP_PORT=9090 autopilot -config ./autopilot.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/autopilot/internal/bugfix"
	"github.com/fyrsmithlabs/autopilot/internal/config"
	"github.com/fyrsmithlabs/autopilot/internal/github"
	"github.com/fyrsmithlabs/autopilot/internal/governance"
	apihttp "github.com/fyrsmithlabs/autopilot/internal/http"
	"github.com/fyrsmithlabs/autopilot/internal/logging"
	"github.com/fyrsmithlabs/autopilot/internal/monitor"
	"github.com/fyrsmithlabs/autopilot/internal/orchestrator"
	"github.com/fyrsmithlabs/autopilot/internal/process"
	"github.com/fyrsmithlabs/autopilot/internal/project"
	"github.com/fyrsmithlabs/autopilot/internal/repo"
	"github.com/fyrsmithlabs/autopilot/internal/runs"
	"github.com/fyrsmithlabs/autopilot/internal/stages"
	"github.com/fyrsmithlabs/autopilot/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	maxConcurrent := flag.Int64("max-concurrent", 4, "maximum workflow runs executing at once")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  autopilot [-config path]   Start the autopilot daemon\n")
			fmt.Fprintf(os.Stderr, "  autopilot version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *maxConcurrent); err != nil {
		log.Fatalf("autopilot: %v", err)
	}
}

func printVersion() {
	fmt.Printf("autopilot by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until ctx is cancelled:
//  1. Loads configuration
//  2. Initializes telemetry and the logger
//  3. Opens the project registry
//  4. Builds stage runners and collaborators
//  5. Starts the run manager and HTTP server
//  6. Shuts everything down in reverse order
func run(ctx context.Context, configPath string, maxConcurrent int64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	telemetry.ServiceVersion = version

	tel := telemetry.New(ctx, cfg.Observability)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromAppConfig(cfg.Logging, false)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if degraded, derr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(derr))
	}

	registry, err := project.OpenRegistry(config.ExpandHome(cfg.Projects.RegistryFile),
		project.WithRegistryLogger(logger.Named("projects")))
	if err != nil {
		return fmt.Errorf("opening project registry: %w", err)
	}
	projectsDir := config.ExpandHome(cfg.Projects.ProjectsDir)
	if abs, err := filepath.Abs(projectsDir); err == nil {
		projectsDir = abs
	}
	resolver := project.NewResolver(registry, projectsDir)

	deps, err := collaborators(ctx, cfg, resolver, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := orchestrator.New(deps,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
		orchestrator.WithTracer(tel.Tracer("github.com/fyrsmithlabs/autopilot/internal/orchestrator")),
		orchestrator.WithRunTimeout(cfg.Engine.RunTimeout.Duration()),
	)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	manager := runs.NewManager(engine,
		runs.WithLogger(logger.Named("runs")),
		runs.WithMaxConcurrent(maxConcurrent),
	)

	server, err := apihttp.NewServer(apihttp.Deps{
		Runs:        manager,
		Projects:    registry,
		Resolver:    resolver,
		Governance:  deps.Governance,
		Monitor:     monitor.NewScanner(monitor.WithLogger(logger.Named("monitor"))),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		HTTPMetrics: apihttp.NewHTTPMetrics(logger),
	}, logger.Named("http"), &apihttp.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.HTTPPort,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	logger.Info(ctx, "starting autopilot",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("registry", registry.Path()),
		zap.String("projects_dir", projectsDir),
		zap.Int64("max_concurrent", maxConcurrent))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	if !cfg.Projects.DisableWatch {
		g.Go(func() error {
			if err := registry.Watch(gctx); err != nil {
				logger.Warn(gctx, "project registry watch stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return errors.Join(server.Shutdown(shutdownCtx), manager.Shutdown(shutdownCtx))
	})

	err = g.Wait()
	logger.Info(context.Background(), "autopilot stopped")
	return err
}

// collaborators builds the stage runners and external collaborators from
// the engine configuration.
func collaborators(ctx context.Context, cfg *config.Config, resolver *project.Resolver, logger *logging.Logger) (orchestrator.Deps, error) {
	e := cfg.Engine
	runner := process.NewRunner(
		process.WithGracePeriod(e.KillGracePeriod.Duration()),
		process.WithMaxOutput(e.MaxOutputBytes),
		process.WithLogger(logger.Named("process")),
	)
	stageLogger := logger.Named("stages")

	suggester, err := bugfix.NewSuggester(cfg.LLM, logger.Named("bugfix"))
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("creating fix suggester: %w", err)
	}

	git := repo.NewSource(logger.Named("repo"))
	client, err := github.NewClient(ctx, cfg.GitHub)
	switch {
	case errors.Is(err, github.ErrNoToken):
		logger.Info(ctx, "github token not set, pull requests will be stubbed")
	case err != nil:
		return orchestrator.Deps{}, fmt.Errorf("creating github client: %w", err)
	}
	retryCfg := github.DefaultRetryConfig()
	retryCfg.MaxRetries = uint(cfg.GitHub.MaxRetries)

	return orchestrator.Deps{
		Projects: resolver,
		Codegen:  stages.NewCodegenStageRunner(runner, 0, stageLogger),
		Tests:    stages.NewTestStageRunner(runner, e.TestTimeout.Duration(), stageLogger),
		Smoke: stages.NewSmokeStageRunner(runner,
			stages.WithStartupWait(e.SmokeStartupWait.Duration()),
			stages.WithPollInterval(e.SmokePollInterval.Duration()),
			stages.WithHost(e.SmokeHost),
			stages.WithPreflight(stages.NewPortPreflight(e.KillGracePeriod.Duration(), stageLogger)),
			stages.WithSmokeLogger(stageLogger),
		),
		Diffs:      git,
		Governance: governance.NewEvaluator(),
		Bugfix: bugfix.NewInvoker(suggester,
			bugfix.WithTimeout(e.BugfixTimeout.Duration()),
			bugfix.WithMaxOutput(e.MaxOutputBytes),
			bugfix.WithLogger(logger.Named("bugfix")),
		),
		PR: github.NewPreparer(client, git,
			github.WithToken(cfg.GitHub.Token),
			github.WithRetry(retryCfg),
			github.WithLogger(logger.Named("github")),
		),
	}, nil
}

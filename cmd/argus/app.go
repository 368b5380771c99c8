package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"argus/internal/config"
	"argus/internal/crawler"
	"argus/internal/discovery"
	"argus/internal/evidence"
	"argus/internal/knowledge"
	"argus/internal/pipeline"
	"argus/internal/repair"
	"argus/internal/storage"
	"argus/internal/trace"
	"argus/internal/translator"
	"argus/internal/verifier"
)

// app is one wired pipeline plus the sinks of its run.
type app struct {
	runID    string
	pipeline *pipeline.Pipeline
	crawler  *crawler.Crawler
	files    *trace.FileSink
	store    *storage.SQLiteStore // nil without trace.sqlite
	closers  []io.Closer
	started  time.Time
}

// newApp wires every stage from cfg. Without a usable reasoning provider
// discovery, reasoning translation and repair contribute nothing, which can
// only lower verdicts.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{runID: pipeline.NewRunID(), started: time.Now()}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if c, isCloser := gen.(io.Closer); isCloser {
		a.closers = append(a.closers, c)
	}

	validator := evidence.NewValidator(cfg.Evidence.SourceTypes...)
	var source discovery.CandidateSource
	if gen != nil && cfg.Pipeline.Discovery {
		source = discovery.NewGeneratorSource(gen)
	}
	adapter := discovery.NewAdapter(source,
		discovery.WithLogger(logger.Named("discovery")),
		discovery.WithValidator(validator),
	)

	router := verifier.NewRouter(
		[]verifier.Driver{
			verifier.NewLeanDriver(engineConfig(verifier.DefaultLean, cfg.Verifier.Lean), verifier.ExecRunner{}),
			verifier.NewDafnyDriver(engineConfig(verifier.DefaultDafny, cfg.Verifier.Dafny), verifier.ExecRunner{}),
		},
		verifier.WithSandbox(cfg.Verifier.RequireSandbox, cfg.Verifier.AllowLocal),
		verifier.WithLogger(logger.Named("verifier")),
	)

	a.files, err = trace.NewFileSink(cfg.Trace.Root, a.runID)
	if err != nil {
		return nil, err
	}
	sink := trace.MultiSink{a.files}
	if cfg.Trace.SQLite != "" {
		a.store, err = storage.NewSQLiteStore(cfg.Trace.SQLite)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace database: %w", err)
		}
		a.closers = append(a.closers, a.store)
		sink = append(sink, a.store)
	}

	opts := []pipeline.Option{
		pipeline.WithDiscovery(adapter),
		pipeline.WithValidator(validator),
		pipeline.WithTranslators(translator.NewRegistry(
			translator.ASTTranslator{},
			translator.LoopTranslator{},
			translator.NewReasoningTranslator(gen),
		)),
		pipeline.WithSink(sink),
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithProviderTimeout(cfg.AI.Timeout),
	}
	if gen != nil && cfg.Pipeline.Repair {
		opts = append(opts, pipeline.WithProposer(repair.NewGeneratorProposer(gen, logger.Named("repair"))))
	}
	a.pipeline, err = pipeline.New(router, opts...)
	if err != nil {
		return nil, err
	}
	a.crawler = crawler.NewCrawler(a.pipeline.Extractor())

	ok = true
	return a, nil
}

// newGenerator returns nil when no provider is configured.
func newGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (knowledge.Generator, error) {
	provider := strings.ToLower(cfg.AI.Provider)
	keyless := provider == "ollama" || (provider == "openai" && cfg.AI.BaseURL != "")
	if cfg.AI.APIKey == "" && !keyless {
		logger.Warn("no reasoning provider configured; discovery, reasoning translation and repair are disabled",
			zap.String("provider", cfg.AI.Provider))
		return nil, nil
	}
	gen, err := knowledge.NewGenerator(ctx, knowledge.GeneratorOptions{
		Provider: cfg.AI.Provider,
		APIKey:   cfg.AI.APIKey,
		Model:    cfg.AI.Model,
		BaseURL:  cfg.AI.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning provider: %w", err)
	}
	return gen, nil
}

// engineConfig overlays the configured fields on the driver defaults.
func engineConfig(def verifier.EngineConfig, e config.Engine) verifier.EngineConfig {
	out := def
	if e.Command != "" {
		out.Command = e.Command
	}
	if len(e.Args) > 0 {
		out.Args = e.Args
	}
	if e.ProjectDir != "" {
		out.ProjectDir = e.ProjectDir
	}
	if e.Timeout > 0 {
		out.Timeout = e.Timeout
	}
	return out
}

// run verifies inputs and persists the manifest, verdict rows and summary.
func (a *app) run(ctx context.Context, mode string, inputs []pipeline.Input) ([]*pipeline.Result, error) {
	files := make([]string, 0, len(inputs))
	seen := map[string]bool{}
	for _, in := range inputs {
		if !seen[in.Path] {
			seen[in.Path] = true
			files = append(files, in.Path)
		}
	}
	if err := a.files.WriteManifest(trace.Manifest{
		RunID:     a.runID,
		Mode:      mode,
		Files:     files,
		Config:    redacted(cfg),
		StartedAt: a.started.UTC(),
	}); err != nil {
		return nil, err
	}

	results, err := a.pipeline.RunBatch(ctx, a.runID, inputs)
	if a.store != nil {
		// Persisted even when ctx ended so finished units are not lost.
		wctx := context.WithoutCancel(ctx)
		for _, res := range results {
			if res == nil {
				continue
			}
			if serr := a.store.SaveVerdict(wctx, verdictRow(res)); serr != nil {
				logger.Error("failed to save verdict", zap.String("unit", res.Unit), zap.Error(serr))
			}
		}
	}
	if serr := a.files.WriteSummary(pipeline.Summarize(a.runID, results, time.Since(a.started))); serr != nil {
		err = errors.Join(err, serr)
	}
	return results, err
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

func verdictRow(res *pipeline.Result) storage.VerdictRow {
	row := storage.VerdictRow{
		RunID:      res.RunID,
		Unit:       res.Unit,
		Verdict:    string(res.Verdict),
		Reason:     res.Reason,
		Engine:     "none",
		Translator: "none",
		Attempts:   len(res.Attempts),
		Error:      res.Error,
		RecordedAt: time.Now().UTC(),
	}
	if res.Route != nil {
		row.Engine = res.Route.Engine.String()
		row.Translator = res.Route.Translator.String()
	}
	if res.PropertySet != nil {
		row.PropertyHash = res.PropertySet.Hash
	}
	return row
}

// redacted is the config snapshot stored in the manifest.
func redacted(c *config.Config) config.Config {
	out := *c
	if out.AI.APIKey != "" {
		out.AI.APIKey = "REDACTED"
	}
	return out
}

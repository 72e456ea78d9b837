package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/newsgauge/internal/config"
	"github.com/elonfeng/newsgauge/internal/scheduler"
	"github.com/elonfeng/newsgauge/internal/store"
	"github.com/elonfeng/newsgauge/pkg/alert"
	"github.com/elonfeng/newsgauge/pkg/extract"
	"github.com/elonfeng/newsgauge/pkg/saturation"
	"github.com/elonfeng/newsgauge/pkg/search"
	"github.com/elonfeng/newsgauge/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func buildOrchestrator(cfg *config.Config, db store.Store, logger *zap.Logger) (*saturation.Orchestrator, *search.Gate, error) {
	extractor := extract.New(extract.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.LLM.ParseTimeout(),
	}, logger)

	calc, err := saturation.NewCalculator(cfg.Scoring)
	if err != nil {
		return nil, nil, fmt.Errorf("scoring config: %w", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	provider := search.NewHTTPProvider(cfg.Search.BaseURL, cfg.Search.Token, cfg.Search.ParseTimeout())
	gate := search.NewGate(db, logger)

	engine := saturation.NewEngine(provider, gate, calc, saturation.EngineConfig{
		Lookback:    time.Duration(cfg.Search.LookbackHours) * time.Hour,
		QueryLimit:  cfg.Search.QueryLimit,
		QueryDelay:  cfg.Search.ParseQueryDelay(),
		Language:    cfg.Search.Language,
		BucketHours: cfg.Search.BucketHours,
		Location:    loc,
	}, logger)

	return saturation.NewOrchestrator(extractor, engine, db, logger), gate, nil
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runQuantify(dryRun bool, limit int, itemID, output string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var items []saturation.Item
	if itemID != "" {
		ev, err := db.GetEvaluation(ctx, itemID)
		if err != nil {
			return fmt.Errorf("load evaluation %s: %w", itemID, err)
		}
		if ev == nil {
			return fmt.Errorf("evaluation %s not found", itemID)
		}
		items = append(items, saturation.Item{ID: ev.ID, Text: ev.Text, PriorLevel: ev.PriorLevel})
	} else {
		if limit == 0 {
			limit = cfg.Quantify.BatchLimit
		}
		evs, err := db.ListEvaluations(ctx, store.EvaluationListOpts{
			ContentType: cfg.Quantify.ContentType,
			Limit:       limit,
		})
		if err != nil {
			return fmt.Errorf("load evaluations: %w", err)
		}
		for _, ev := range evs {
			items = append(items, saturation.Item{ID: ev.ID, Text: ev.Text, PriorLevel: ev.PriorLevel})
		}
	}

	if len(items) == 0 {
		fmt.Println("no evaluations to quantify")
		return nil
	}

	orch, _, err := buildOrchestrator(cfg, db, logger)
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx, items, saturation.RunOptions{DryRun: dryRun})
	if err != nil {
		return fmt.Errorf("quantify: %w", err)
	}

	if !dryRun {
		if err := db.SaveReport(ctx, report); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	}

	if output != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	printReport(report)
	return nil
}

func printReport(report *saturation.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tTOPIC\tSCORE\tLEVEL\tPRIOR\tSTATUS")
	for _, r := range report.Results {
		topic, score, level := "-", "-", "-"
		if r.Signature != nil {
			topic = r.Signature.Topic
		}
		if r.Measurement != nil && !r.Measurement.Failed() {
			score = fmt.Sprintf("%.3f", r.Measurement.SaturationScore)
			level = string(r.Measurement.SuggestedLevel)
		}
		status := r.MatchStatus
		if r.Err != "" {
			status = "error: " + r.Err
		} else if r.DryRun {
			status = "dry-run"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, topic, score, level, r.PriorLevel, status)
	}
	w.Flush()

	fmt.Printf("\nrun %s: %d match, %d diff, %d errors\n",
		report.RunID, report.MatchCount, report.DiffCount, report.ErrorCount)
}

func runResults(jsonOutput bool, runID string, diffOnly bool, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	recs, err := db.ListMeasurements(context.Background(), store.MeasurementListOpts{
		RunID:    runID,
		DiffOnly: diffOnly,
		Limit:    limit,
	})
	if err != nil {
		return fmt.Errorf("list measurements: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}

	if len(recs) == 0 {
		fmt.Println("no measurements found (run a batch first: newsgauge quantify)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tITEM\tSCORE\tLEVEL\tPRIOR\tSTATUS\tMEASURED")
	for _, rec := range recs {
		score, level := "-", "-"
		if rec.Measurement != nil && !rec.Measurement.Failed() {
			score = fmt.Sprintf("%.3f", rec.Measurement.SaturationScore)
			level = string(rec.Measurement.SuggestedLevel)
		}
		status := rec.MatchStatus
		if rec.Error != "" {
			status = "error: " + rec.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(rec.RunID), rec.ItemID, score, level, rec.PriorLevel, status,
			rec.MeasuredAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runServe(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	orch, gate, err := buildOrchestrator(cfg, db, logger)
	if err != nil {
		return err
	}

	srv := server.New(db, orch, gate, port, logger)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port == 0 {
		port = cfg.Server.Port
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	orch, gate, err := buildOrchestrator(cfg, db, logger)
	if err != nil {
		return err
	}
	alertMgr := buildAlertManager(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(db, orch, alertMgr,
		cfg.Schedule.ParseQuantifyInterval(),
		cfg.Quantify.BatchLimit,
		logger,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
	}()

	srv := server.New(db, orch, gate, port, logger)
	return srv.ListenAndServe()
}

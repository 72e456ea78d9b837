package saturation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elonfeng/newsgauge/pkg/authority"
	"github.com/elonfeng/newsgauge/pkg/extract"
)

// Match status of a computed level against the prior qualitative label.
const (
	MatchStatusMatch = "MATCH"
	MatchStatusDiff  = "DIFF"
)

// Item is one batch input: a news-like post and the level an upstream
// qualitative classifier assigned to it.
type Item struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	PriorLevel Level  `json:"prior_level"`
}

// ItemResult is the per-item outcome. Exactly one result is emitted per
// input item, errors included, so callers can tell "measured and
// low-saturation" from "not measured".
type ItemResult struct {
	ID          string             `json:"id"`
	Signature   *extract.Signature `json:"signature,omitempty"`
	PriorLevel  Level              `json:"prior_level"`
	Measurement *Measurement       `json:"measurement,omitempty"`
	MatchStatus string             `json:"match_status,omitempty"`
	DryRun      bool               `json:"dry_run,omitempty"`
	Err         string             `json:"error,omitempty"`
}

// Report summarizes one batch run.
type Report struct {
	RunID      string       `json:"run_id"`
	MeasuredAt time.Time    `json:"measured_at"`
	Results    []ItemResult `json:"results"`
	MatchCount int          `json:"match_count"`
	DiffCount  int          `json:"diff_count"`
	ErrorCount int          `json:"error_count"`
}

// TopicExtractor derives a topic signature from post text.
type TopicExtractor interface {
	Extract(ctx context.Context, text string) (*extract.Signature, error)
}

// Measurer runs one saturation measurement.
type Measurer interface {
	Measure(ctx context.Context, sig *extract.Signature, reg *authority.Registry) *Measurement
}

// RegistryLoader loads the authority registry. It is read once per batch;
// a registry updated mid-run is not observed live.
type RegistryLoader interface {
	LoadRegistry(ctx context.Context) (*authority.Registry, error)
}

// RunOptions are the batch knobs.
type RunOptions struct {
	// DryRun extracts signatures but skips measurement entirely.
	DryRun bool
	// Limit truncates the batch; zero means no limit.
	Limit int
}

// Orchestrator drives extract → measure over a batch, one topic at a
// time. Items are processed strictly in input order; the shared provider
// rate budget is why nothing fans out.
type Orchestrator struct {
	extractor TopicExtractor
	measurer  Measurer
	registry  RegistryLoader
	logger    *zap.Logger
}

// NewOrchestrator creates a batch driver.
func NewOrchestrator(ex TopicExtractor, m Measurer, reg RegistryLoader, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{extractor: ex, measurer: m, registry: reg, logger: logger}
}

// Run processes the batch. Per-item failures are recorded and never abort
// the run; only context cancellation stops it early.
func (o *Orchestrator) Run(ctx context.Context, items []Item, opts RunOptions) (*Report, error) {
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}

	reg, err := o.registry.LoadRegistry(ctx)
	if err != nil {
		return nil, err
	}
	o.logger.Info("authority registry loaded", zap.Int("persons", reg.Len()))

	report := &Report{
		RunID:      uuid.NewString(),
		MeasuredAt: time.Now(),
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		o.logger.Info("processing item",
			zap.Int("index", i+1), zap.Int("of", len(items)), zap.String("id", item.ID))

		report.Results = append(report.Results, o.processItem(ctx, item, reg, opts))

		switch last := report.Results[len(report.Results)-1]; {
		case last.Err != "":
			report.ErrorCount++
		case last.MatchStatus == MatchStatusMatch:
			report.MatchCount++
		case last.MatchStatus == MatchStatusDiff:
			report.DiffCount++
		}
	}

	o.logger.Info("batch complete",
		zap.String("run_id", report.RunID),
		zap.Int("items", len(report.Results)),
		zap.Int("match", report.MatchCount),
		zap.Int("diff", report.DiffCount),
		zap.Int("errors", report.ErrorCount))
	return report, nil
}

func (o *Orchestrator) processItem(ctx context.Context, item Item, reg *authority.Registry, opts RunOptions) ItemResult {
	res := ItemResult{ID: item.ID, PriorLevel: item.PriorLevel}

	sig, err := o.extractor.Extract(ctx, item.Text)
	if err != nil {
		o.logger.Warn("extraction failed, skipping item",
			zap.String("id", item.ID), zap.Error(err))
		res.Err = "extraction_failed"
		return res
	}
	res.Signature = sig
	o.logger.Info("signature extracted",
		zap.String("id", item.ID),
		zap.String("topic", sig.Topic),
		zap.String("primary_phrase", sig.PrimaryPhrase),
		zap.Strings("secondary_phrases", sig.SecondaryPhrases))

	if opts.DryRun {
		res.DryRun = true
		return res
	}

	m := o.measurer.Measure(ctx, sig, reg)
	res.Measurement = m
	if m.Failed() {
		res.Err = string(m.Reason)
		return res
	}

	if m.SuggestedLevel == item.PriorLevel {
		res.MatchStatus = MatchStatusMatch
	} else {
		res.MatchStatus = MatchStatusDiff
		o.logger.Info("level disagreement",
			zap.String("id", item.ID),
			zap.String("prior", string(item.PriorLevel)),
			zap.String("measured", string(m.SuggestedLevel)),
			zap.Int("total", m.TotalCount),
			zap.Float64("score", m.SaturationScore))
	}
	return res
}

// Disagreements returns the DIFF results for manual review.
func (r *Report) Disagreements() []ItemResult {
	var out []ItemResult
	for _, res := range r.Results {
		if res.MatchStatus == MatchStatusDiff {
			out = append(out, res)
		}
	}
	return out
}

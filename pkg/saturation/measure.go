package saturation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/elonfeng/newsgauge/pkg/authority"
	"github.com/elonfeng/newsgauge/pkg/extract"
	"github.com/elonfeng/newsgauge/pkg/resilience"
	"github.com/elonfeng/newsgauge/pkg/search"
)

// FailReason tags a measurement that could not run, or ran partially.
type FailReason string

const (
	// ReasonRateLimited: the gate reported the provider throttled before
	// any query was issued. The result is a sentinel.
	ReasonRateLimited FailReason = "rate_limited"
	// ReasonRateLimitedDuringSearch: throttling hit mid-stream. Collected
	// posts were kept and scored; the reduced sample lowers confidence.
	ReasonRateLimitedDuringSearch FailReason = "rate_limited_during_search"
	// ReasonCancelled: the run's context was cancelled before the queries
	// completed. The result is a sentinel, never a zero-mention score.
	ReasonCancelled FailReason = "cancelled"
)

// Mention is one distinct post observed about the topic. Mentions live
// in memory for a single run; only aggregates are persisted.
type Mention struct {
	Identity    string
	Timestamp   time.Time
	Author      string
	IsAuthority bool
	Popularity  int
}

// AuthorityHit is one distinct key person seen during a run.
type AuthorityHit struct {
	Handle      string `json:"handle"`
	Appearances int    `json:"appearances"`
}

// Measurement is the aggregate output of one engine run.
type Measurement struct {
	PrimaryPhrase      string         `json:"primary_phrase"`
	PrimaryCount       int            `json:"primary_count"`
	SecondaryCount     int            `json:"secondary_count"`
	TotalCount         int            `json:"total_count"`
	AuthorityHits      []AuthorityHit `json:"authority_hits"`
	EarliestMention    time.Time      `json:"earliest_mention,omitzero"`
	HourlyDistribution map[string]int `json:"hourly_distribution"`
	SaturationScore    float64        `json:"saturation_score"`
	SuggestedLevel     Level          `json:"suggested_level"`
	Confidence         float64        `json:"confidence"`
	Reason             FailReason     `json:"error,omitempty"`
}

// Failed reports whether no score was computed at all. A mid-stream
// throttle is not a failure: partial data still produced a score.
func (m *Measurement) Failed() bool {
	return m.Reason != "" && m.Reason != ReasonRateLimitedDuringSearch
}

// Partial reports whether the score came from a truncated sample.
func (m *Measurement) Partial() bool {
	return m.Reason == ReasonRateLimitedDuringSearch
}

// sentinelMeasurement is the fixed shape returned when measurement never
// ran. The -1 score cannot be mistaken for a real one.
func sentinelMeasurement(reason FailReason) *Measurement {
	return &Measurement{
		AuthorityHits:      []AuthorityHit{},
		HourlyDistribution: map[string]int{},
		SaturationScore:    -1,
		SuggestedLevel:     LevelUnknown,
		Confidence:         0,
		Reason:             reason,
	}
}

// EngineConfig tunes one measurement run.
type EngineConfig struct {
	// Lookback restricts counted mentions to this window before now.
	Lookback time.Duration
	// QueryLimit caps results per query; approximate counts are the
	// goal, not exhaustive recall.
	QueryLimit int
	// QueryDelay paces consecutive provider queries, within a run and
	// across runs sharing the engine.
	QueryDelay time.Duration
	// Language filters the provider query.
	Language string
	// BucketHours is the histogram bucket width.
	BucketHours int
	// Location is the reference timezone mentions are normalized to.
	Location *time.Location
}

func (c *EngineConfig) applyDefaults() {
	if c.Lookback == 0 {
		c.Lookback = 72 * time.Hour
	}
	if c.QueryLimit == 0 {
		c.QueryLimit = 50
	}
	if c.QueryDelay == 0 {
		c.QueryDelay = 2 * time.Second
	}
	if c.BucketHours == 0 {
		c.BucketHours = 6
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Engine measures topic saturation against the search provider.
type Engine struct {
	provider search.Provider
	gate     *search.Gate
	breaker  *resilience.Breaker
	calc     *Calculator
	cfg      EngineConfig
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates a measurement engine. The internal limiter enforces
// the inter-query delay for every query issued through this engine, so
// batch callers get item pacing for free.
func NewEngine(provider search.Provider, gate *search.Gate, calc *Calculator, cfg EngineConfig, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		provider: provider,
		gate:     gate,
		breaker:  resilience.NewBreaker("search-provider", resilience.BreakerConfig{}),
		calc:     calc,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.QueryDelay), 1),
		logger:   logger,
		now:      time.Now,
	}
}

// runState accumulates dedup and authority bookkeeping shared by both
// queries of a run.
type runState struct {
	seen     map[string]bool
	mentions []Mention
	counted  map[string]bool
	hits     []AuthorityHit
	registry *authority.Registry
	cutoff   time.Time
	loc      *time.Location
}

// observe applies dedup, the lookback window, and the authority tally to
// one streamed post. Returns true when the post was kept.
func (st *runState) observe(p search.Post) bool {
	if st.seen[p.ID] {
		return false
	}
	ts := p.CreatedAt.In(st.loc)
	if ts.Before(st.cutoff) {
		return false
	}
	st.seen[p.ID] = true

	handle := authority.Normalize(p.AuthorHandle)
	person, isAuth := st.registry.Lookup(handle)

	st.mentions = append(st.mentions, Mention{
		Identity:    p.ID,
		Timestamp:   ts,
		Author:      handle,
		IsAuthority: isAuth,
		Popularity:  p.Likes,
	})
	if isAuth && !st.counted[handle] {
		st.counted[handle] = true
		st.hits = append(st.hits, AuthorityHit{Handle: handle, Appearances: person.Appearances})
	}
	return true
}

// Measure runs the two-query protocol for one topic signature.
//
// Query 1 uses the primary phrase. Query 2 uses only the single most
// specific secondary phrase, capping provider cost at two queries per
// topic no matter how many phrases were extracted. A throttle detected
// during either query aborts the remaining queries but keeps and scores
// what was already collected.
func (e *Engine) Measure(ctx context.Context, sig *extract.Signature, reg *authority.Registry) *Measurement {
	if ok, until := e.gate.Available(ctx, search.OpSearch); !ok {
		e.logger.Warn("search provider throttled, skipping measurement",
			zap.Time("retry_at", until))
		return sentinelMeasurement(ReasonRateLimited)
	}

	now := e.now().In(e.cfg.Location)
	st := &runState{
		seen:     map[string]bool{},
		counted:  map[string]bool{},
		hits:     []AuthorityHit{},
		registry: reg,
		cutoff:   now.Add(-e.cfg.Lookback),
		loc:      e.cfg.Location,
	}

	base := search.Query{
		Language:       e.cfg.Language,
		Since:          now.Add(-e.cfg.Lookback),
		Until:          now.AddDate(0, 0, 1),
		ExcludeReposts: true,
		Limit:          e.cfg.QueryLimit,
	}

	q1 := base
	q1.Phrase = sig.PrimaryPhrase
	throttled, err := e.runQuery(ctx, "primary", q1, st)
	if err != nil {
		return sentinelMeasurement(ReasonCancelled)
	}
	primaryCount := len(st.mentions)

	if !throttled && len(sig.SecondaryPhrases) > 0 {
		q2 := base
		q2.Phrase = sig.SecondaryPhrases[0]
		if throttled, err = e.runQuery(ctx, "secondary", q2, st); err != nil {
			return sentinelMeasurement(ReasonCancelled)
		}
	}
	secondaryCount := len(st.mentions) - primaryCount

	earliest, hourly := e.aggregate(st.mentions, now)

	score, level, confidence := e.calc.Score(len(st.mentions), len(st.hits), earliest, now)

	m := &Measurement{
		PrimaryPhrase:      sig.PrimaryPhrase,
		PrimaryCount:       primaryCount,
		SecondaryCount:     secondaryCount,
		TotalCount:         len(st.mentions),
		AuthorityHits:      st.hits,
		EarliestMention:    earliest,
		HourlyDistribution: hourly,
		SaturationScore:    round(score, 3),
		SuggestedLevel:     level,
		Confidence:         round(confidence, 2),
	}
	if throttled {
		m.Reason = ReasonRateLimitedDuringSearch
	}

	e.logger.Info("measurement complete",
		zap.String("primary_phrase", sig.PrimaryPhrase),
		zap.Int("total", m.TotalCount),
		zap.Int("authority_hits", len(m.AuthorityHits)),
		zap.Float64("score", m.SaturationScore),
		zap.String("level", string(m.SuggestedLevel)),
		zap.Bool("partial", throttled))
	return m
}

// runQuery issues one paced query through the circuit breaker, feeding
// results into st. Returns throttled=true when the provider throttled
// mid-stream. Context cancellation is the only error returned; other
// provider errors fail this query only and the run continues.
func (e *Engine) runQuery(ctx context.Context, name string, q search.Query, st *runState) (throttled bool, err error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return false, err
	}

	e.logger.Debug("search query", zap.String("query", q.String()))
	err = e.breaker.Execute(ctx, func(ctx context.Context) error {
		return e.provider.Search(ctx, q, func(p search.Post) error {
			st.observe(p)
			return nil
		})
	})
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, search.ErrRateLimited):
		e.logger.Warn("rate limit hit during search", zap.String("query_kind", name))
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		e.logger.Error("search query failed",
			zap.String("query_kind", name), zap.Error(err))
		return false, nil
	}
}

// aggregate computes the earliest mention and a fixed-width histogram of
// mention ages relative to now.
func (e *Engine) aggregate(mentions []Mention, now time.Time) (time.Time, map[string]int) {
	hourly := make(map[string]int)
	var earliest time.Time

	for _, m := range mentions {
		if earliest.IsZero() || m.Timestamp.Before(earliest) {
			earliest = m.Timestamp
		}
		hoursAgo := now.Sub(m.Timestamp).Hours()
		if hoursAgo < 0 {
			hoursAgo = 0
		}
		lo := int(hoursAgo) / e.cfg.BucketHours * e.cfg.BucketHours
		hourly[fmt.Sprintf("%d-%dh", lo, lo+e.cfg.BucketHours)]++
	}
	return earliest, hourly
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/newsgauge/pkg/authority"
	"github.com/elonfeng/newsgauge/pkg/extract"
	"github.com/elonfeng/newsgauge/pkg/saturation"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEvaluationsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertEvaluation(ctx, &Evaluation{
		ID: "old", Text: "older post", ContentType: "ai_news",
		PriorLevel: saturation.LevelEarly, EvaluatedAt: base,
	}))
	require.NoError(t, s.UpsertEvaluation(ctx, &Evaluation{
		ID: "new", Text: "newer post", ContentType: "ai_news",
		PriorLevel: saturation.LevelMainstream, EvaluatedAt: base.Add(time.Hour),
	}))
	require.NoError(t, s.UpsertEvaluation(ctx, &Evaluation{
		ID: "meme", Text: "not news", ContentType: "meme",
		EvaluatedAt: base.Add(2 * time.Hour),
	}))

	evs, err := s.ListEvaluations(ctx, EvaluationListOpts{ContentType: "ai_news"})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	// Newest first.
	assert.Equal(t, "new", evs[0].ID)
	assert.Equal(t, saturation.LevelMainstream, evs[0].PriorLevel)

	evs, err = s.ListEvaluations(ctx, EvaluationListOpts{ContentType: "ai_news", Limit: 1})
	require.NoError(t, err)
	require.Len(t, evs, 1)

	got, err := s.GetEvaluation(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, "older post", got.Text)
}

func TestLoadRegistry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertKeyPerson(ctx, authority.Person{
		Handle: "@Karpathy", Appearances: 12, Topics: map[string]int{"llm": 7},
	}))
	require.NoError(t, s.UpsertKeyPerson(ctx, authority.Person{Handle: "sama", Appearances: 3}))

	reg, err := s.LoadRegistry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	p, ok := reg.Lookup("karpathy")
	require.True(t, ok)
	assert.Equal(t, 12, p.Appearances)
	assert.Equal(t, 7, p.Topics["llm"])
}

func TestOperationLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No row yet: zero time, no error.
	expiry, err := s.OperationLock(ctx, "search_timeline")
	require.NoError(t, err)
	assert.True(t, expiry.IsZero())

	until := time.Date(2026, 8, 30, 13, 45, 0, 0, time.UTC)
	require.NoError(t, s.SetOperationLock(ctx, "search_timeline", until))

	expiry, err = s.OperationLock(ctx, "search_timeline")
	require.NoError(t, err)
	assert.True(t, expiry.Equal(until))
}

func TestOperationLockMalformedValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO provider_locks (op, locked_until) VALUES ('search_timeline', 'garbage')")
	require.NoError(t, err)

	_, err = s.OperationLock(ctx, "search_timeline")
	assert.Error(t, err)
}

func TestSaveAndListReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	report := &saturation.Report{
		RunID:      "run-1",
		MeasuredAt: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
		Results: []saturation.ItemResult{
			{
				ID:         "a",
				PriorLevel: saturation.LevelMainstream,
				Signature:  &extract.Signature{PrimaryPhrase: "phrase a"},
				Measurement: &saturation.Measurement{
					TotalCount: 40, SuggestedLevel: saturation.LevelMainstream,
					SaturationScore: 0.51, Confidence: 1.0,
				},
				MatchStatus: saturation.MatchStatusMatch,
			},
			{
				ID:         "b",
				PriorLevel: saturation.LevelLate,
				Signature:  &extract.Signature{PrimaryPhrase: "phrase b"},
				Measurement: &saturation.Measurement{
					TotalCount: 0, SuggestedLevel: saturation.LevelFirstMover,
					Confidence: 0.3,
				},
				MatchStatus: saturation.MatchStatusDiff,
			},
			{ID: "c", Err: "extraction_failed"},
		},
	}
	require.NoError(t, s.SaveReport(ctx, report))

	recs, err := s.ListMeasurements(ctx, MeasurementListOpts{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byID := map[string]MeasurementRecord{}
	for _, r := range recs {
		byID[r.ItemID] = r
	}
	assert.Equal(t, "phrase a", byID["a"].Signature.PrimaryPhrase)
	assert.Equal(t, 40, byID["a"].Measurement.TotalCount)
	assert.Equal(t, "extraction_failed", byID["c"].Error)

	diffs, err := s.ListMeasurements(ctx, MeasurementListOpts{DiffOnly: true})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "b", diffs[0].ItemID)
}

package saturation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/newsgauge/pkg/authority"
	"github.com/elonfeng/newsgauge/pkg/extract"
)

type fakeExtractor struct {
	sigs map[string]*extract.Signature // keyed by text; missing = failure
}

func (f *fakeExtractor) Extract(_ context.Context, text string) (*extract.Signature, error) {
	if sig, ok := f.sigs[text]; ok {
		return sig, nil
	}
	return nil, extract.ErrExtractionFailed
}

type fakeMeasurer struct {
	byPhrase map[string]*Measurement
	calls    int
}

func (f *fakeMeasurer) Measure(_ context.Context, sig *extract.Signature, _ *authority.Registry) *Measurement {
	f.calls++
	if m, ok := f.byPhrase[sig.PrimaryPhrase]; ok {
		return m
	}
	return sentinelMeasurement(ReasonRateLimited)
}

type fakeRegistryLoader struct{}

func (fakeRegistryLoader) LoadRegistry(context.Context) (*authority.Registry, error) {
	return authority.NewRegistry(nil), nil
}

func measured(level Level, total int) *Measurement {
	return &Measurement{
		TotalCount:         total,
		SuggestedLevel:     level,
		SaturationScore:    0.5,
		Confidence:         0.8,
		AuthorityHits:      []AuthorityHit{},
		HourlyDistribution: map[string]int{},
	}
}

func TestOrchestratorMatchAndDiff(t *testing.T) {
	ex := &fakeExtractor{sigs: map[string]*extract.Signature{
		"text-a": {PrimaryPhrase: "phrase a"},
		"text-b": {PrimaryPhrase: "phrase b"},
	}}
	me := &fakeMeasurer{byPhrase: map[string]*Measurement{
		"phrase a": measured(LevelMainstream, 40),
		"phrase b": measured(LevelFirstMover, 0),
	}}
	o := NewOrchestrator(ex, me, fakeRegistryLoader{}, nil)

	report, err := o.Run(context.Background(), []Item{
		{ID: "a", Text: "text-a", PriorLevel: LevelMainstream},
		{ID: "b", Text: "text-b", PriorLevel: LevelLate},
	}, RunOptions{})

	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, MatchStatusMatch, report.Results[0].MatchStatus)
	assert.Equal(t, MatchStatusDiff, report.Results[1].MatchStatus)
	assert.Equal(t, 1, report.MatchCount)
	assert.Equal(t, 1, report.DiffCount)
	assert.Equal(t, 0, report.ErrorCount)

	diffs := report.Disagreements()
	require.Len(t, diffs, 1)
	assert.Equal(t, "b", diffs[0].ID)
}

func TestOrchestratorExtractionFailureDoesNotAbortBatch(t *testing.T) {
	ex := &fakeExtractor{sigs: map[string]*extract.Signature{
		"good": {PrimaryPhrase: "fine phrase"},
	}}
	me := &fakeMeasurer{byPhrase: map[string]*Measurement{
		"fine phrase": measured(LevelEarly, 5),
	}}
	o := NewOrchestrator(ex, me, fakeRegistryLoader{}, nil)

	report, err := o.Run(context.Background(), []Item{
		{ID: "bad-item", Text: "unparseable"},
		{ID: "good-item", Text: "good", PriorLevel: LevelEarly},
	}, RunOptions{})

	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "extraction_failed", report.Results[0].Err)
	assert.Nil(t, report.Results[0].Measurement)
	assert.Equal(t, MatchStatusMatch, report.Results[1].MatchStatus)
	assert.Equal(t, 1, report.ErrorCount)
	// The failed item was skipped, not measured as zero saturation.
	assert.Equal(t, 1, me.calls)
}

func TestOrchestratorFailedMeasurementRecordedAsError(t *testing.T) {
	ex := &fakeExtractor{sigs: map[string]*extract.Signature{
		"t": {PrimaryPhrase: "gated phrase"},
	}}
	o := NewOrchestrator(ex, &fakeMeasurer{}, fakeRegistryLoader{}, nil)

	report, err := o.Run(context.Background(), []Item{{ID: "x", Text: "t"}}, RunOptions{})

	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, string(ReasonRateLimited), res.Err)
	assert.Empty(t, res.MatchStatus)
	require.NotNil(t, res.Measurement)
	assert.True(t, res.Measurement.Failed())
	assert.Equal(t, 1, report.ErrorCount)
}

func TestOrchestratorDryRunSkipsMeasurement(t *testing.T) {
	ex := &fakeExtractor{sigs: map[string]*extract.Signature{
		"t": {PrimaryPhrase: "some phrase"},
	}}
	me := &fakeMeasurer{}
	o := NewOrchestrator(ex, me, fakeRegistryLoader{}, nil)

	report, err := o.Run(context.Background(), []Item{{ID: "x", Text: "t"}}, RunOptions{DryRun: true})

	require.NoError(t, err)
	assert.Equal(t, 0, me.calls)
	assert.True(t, report.Results[0].DryRun)
	assert.NotNil(t, report.Results[0].Signature)
	assert.Nil(t, report.Results[0].Measurement)
}

func TestOrchestratorLimitTruncatesBatch(t *testing.T) {
	ex := &fakeExtractor{sigs: map[string]*extract.Signature{}}
	o := NewOrchestrator(ex, &fakeMeasurer{}, fakeRegistryLoader{}, nil)

	items := []Item{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	report, err := o.Run(context.Background(), items, RunOptions{Limit: 2, DryRun: true})

	require.NoError(t, err)
	assert.Len(t, report.Results, 2)
}

func TestOrchestratorContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(&fakeExtractor{}, &fakeMeasurer{}, fakeRegistryLoader{}, nil)
	report, err := o.Run(ctx, []Item{{ID: "1"}}, RunOptions{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Results)
}

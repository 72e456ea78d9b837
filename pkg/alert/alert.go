package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/elonfeng/newsgauge/pkg/saturation"
)

// Notification is the run summary sent to alert destinations.
type Notification struct {
	Title         string                  `json:"title"`
	RunID         string                  `json:"run_id"`
	Measured      int                     `json:"measured"`
	MatchCount    int                     `json:"match_count"`
	DiffCount     int                     `json:"diff_count"`
	ErrorCount    int                     `json:"error_count"`
	Disagreements []saturation.ItemResult `json:"disagreements,omitempty"`
}

// FromReport builds a notification from a batch report.
func FromReport(report *saturation.Report) *Notification {
	return &Notification{
		Title:         "Saturation measurement run",
		RunID:         report.RunID,
		Measured:      report.MatchCount + report.DiffCount,
		MatchCount:    report.MatchCount,
		DiffCount:     report.DiffCount,
		ErrorCount:    report.ErrorCount,
		Disagreements: report.Disagreements(),
	}
}

// Summary renders the notification as a short text block.
func (n *Notification) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", n.Title, n.RunID)
	fmt.Fprintf(&b, "measured: %d (match: %d, diff: %d)", n.Measured, n.MatchCount, n.DiffCount)
	if n.ErrorCount > 0 {
		fmt.Fprintf(&b, ", errors: %d", n.ErrorCount)
	}
	for _, d := range n.Disagreements {
		m := d.Measurement
		fmt.Fprintf(&b, "\nDIFF %s: prior=%s measured=%s (count=%d, score=%.3f)",
			d.ID, d.PriorLevel, m.SuggestedLevel, m.TotalCount, m.SaturationScore)
	}
	return b.String()
}

// Notifier delivers notifications to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

package apierror

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/rentgw/internal/audit"
)

// Pattern counter defaults.
const (
	DefaultAlertThreshold = 50
	DefaultAlertWindow    = time.Minute
)

type patternKey struct {
	status int
	code   string
}

type patternEntry struct {
	hits      []time.Time
	alertedAt time.Time
}

// PatternCounter counts error responses per (status, errorCode) over a
// rolling window and raises a security alert when a pair reaches the
// threshold. At most one alert is raised per pair per window. It never
// influences the response.
type PatternCounter struct {
	threshold int
	window    time.Duration
	auditor   audit.Logger
	metrics   *Metrics
	now       func() time.Time

	mu      sync.Mutex
	entries map[patternKey]*patternEntry
}

// PatternCounterOption configures a PatternCounter.
type PatternCounterOption func(*PatternCounter)

// WithPatternAuditLogger sets the logger receiving security alerts.
func WithPatternAuditLogger(l audit.Logger) PatternCounterOption {
	return func(p *PatternCounter) {
		p.auditor = l
	}
}

// WithPatternMetrics sets the metrics.
func WithPatternMetrics(m *Metrics) PatternCounterOption {
	return func(p *PatternCounter) {
		p.metrics = m
	}
}

// WithPatternClock overrides the time source.
func WithPatternClock(now func() time.Time) PatternCounterOption {
	return func(p *PatternCounter) {
		p.now = now
	}
}

// NewPatternCounter creates a counter. Non-positive arguments select the
// defaults.
func NewPatternCounter(threshold int, window time.Duration, opts ...PatternCounterOption) *PatternCounter {
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	if window <= 0 {
		window = DefaultAlertWindow
	}

	p := &PatternCounter{
		threshold: threshold,
		window:    window,
		auditor:   audit.NewNoopLogger(),
		now:       time.Now,
		entries:   make(map[patternKey]*patternEntry),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Observe records one occurrence and reports whether it raised an alert.
func (p *PatternCounter) Observe(ctx context.Context, status int, code string) bool {
	now := p.now()
	key := patternKey{status: status, code: code}

	p.mu.Lock()
	entry, ok := p.entries[key]
	if !ok {
		entry = &patternEntry{}
		p.entries[key] = entry
	}
	entry.hits = append(prune(entry.hits, now.Add(-p.window)), now)
	count := len(entry.hits)

	alert := count >= p.threshold &&
		(entry.alertedAt.IsZero() || now.Sub(entry.alertedAt) >= p.window)
	if alert {
		entry.alertedAt = now
	}
	p.mu.Unlock()

	if alert {
		p.metrics.recordAlert(status, code)
		p.auditor.LogSecurity(ctx, audit.ActionErrorPatternAlert, nil, map[string]interface{}{
			"status":     status,
			"error_code": code,
			"count":      count,
			"window":     p.window.String(),
			"threshold":  p.threshold,
		})
	}

	return alert
}

// Count returns the occurrences of (status, code) inside the current window.
func (p *PatternCounter) Count(status int, code string) int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[patternKey{status: status, code: code}]
	if !ok {
		return 0
	}
	entry.hits = prune(entry.hits, now.Add(-p.window))
	return len(entry.hits)
}

// Sweep drops pairs with no occurrence inside the window.
func (p *PatternCounter) Sweep() {
	cutoff := p.now().Add(-p.window)

	p.mu.Lock()
	defer p.mu.Unlock()

	for key, entry := range p.entries {
		entry.hits = prune(entry.hits, cutoff)
		if len(entry.hits) == 0 {
			delete(p.entries, key)
		}
	}
}

// prune drops hits at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Run sweeps expired pairs once per window until ctx is done.
func (p *PatternCounter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Package audit records every decision and aggregates the audit trail.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudgate/internal/domain"
	"github.com/opensource-finance/fraudgate/internal/metrics"
)

// Paging limits for List.
const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

const statsKeyPrefix = "stats:"

// Recorder appends audit logs and serves stats. Stats are cached per
// window and invalidated whenever a log is written on this node; other
// nodes see new logs once their cached entry expires.
type Recorder struct {
	repo     domain.AuditRepository
	cache    domain.Cache
	statsTTL time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRecorder creates a recorder. cache may be nil to disable stats caching.
func NewRecorder(repo domain.AuditRepository, cache domain.Cache, statsTTL time.Duration, m *metrics.Metrics) *Recorder {
	return &Recorder{
		repo:     repo,
		cache:    cache,
		statsTTL: statsTTL,
		metrics:  m,
		now:      time.Now,
	}
}

// Record persists the decision. A failure is logged and counted; the caller
// already has its decision and should not fail because of it.
func (r *Recorder) Record(ctx context.Context, app *domain.Application, decision *domain.Decision) (int64, error) {
	entry := &domain.AuditLog{
		ApplicationID:    app.ID,
		ApplicationType:  app.Type,
		SourceSystem:     app.SourceSystem,
		RulesEvaluated:   decision.RulesEvaluated,
		RulesMatched:     decision.RulesMatched,
		MatchedRuleIDs:   decision.MatchedRuleIDs,
		MatchedRuleNames: decision.MatchedRuleNames,
		FinalAction:      decision.FinalAction,
		ProcessedAt:      decision.DecidedAt,
	}

	if decision.ActionDetails != nil {
		details, err := json.Marshal(decision.ActionDetails)
		if err != nil {
			return 0, r.fail(app, fmt.Errorf("failed to marshal action details: %w", err))
		}
		entry.ActionDetails = string(details)
	}

	if err := r.repo.SaveAuditLog(ctx, entry); err != nil {
		return 0, r.fail(app, fmt.Errorf("failed to save audit log: %w", err))
	}

	r.invalidate(ctx)

	slog.Debug("audit log recorded",
		"audit_id", entry.ID,
		"application_id", app.ID,
		"final_action", decision.Action(),
	)
	return entry.ID, nil
}

func (r *Recorder) fail(app *domain.Application, err error) error {
	r.metrics.AuditFailure()
	slog.Error("audit write failed",
		"application_id", app.ID,
		"error", err,
	)
	return err
}

// Stats aggregates the audit trail. A zero window covers every log;
// otherwise only logs processed within the trailing window count.
func (r *Recorder) Stats(ctx context.Context, window time.Duration) (domain.Stats, error) {
	if window < 0 {
		return domain.Stats{}, fmt.Errorf("%w: window must not be negative", domain.ErrInvalidInput)
	}

	key := statsKeyPrefix + window.String()
	if cached, ok := r.cachedStats(ctx, key); ok {
		return cached, nil
	}

	now := r.now().UTC()
	var since time.Time
	if window > 0 {
		since = now.Add(-window)
	}

	stats, err := r.repo.CountAudits(ctx, since, now.Add(-24*time.Hour))
	if err != nil {
		return domain.Stats{}, fmt.Errorf("failed to count audit logs: %w", err)
	}
	if window > 0 {
		stats.Window = window.String()
	}

	r.storeStats(ctx, key, stats)
	return stats, nil
}

// List returns one page of audit logs, newest first. page is zero-based.
func (r *Recorder) List(ctx context.Context, page, size int) (*domain.AuditPage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	logs, total, err := r.repo.ListAuditLogs(ctx, page*size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	if logs == nil {
		logs = []*domain.AuditLog{}
	}

	return &domain.AuditPage{
		Content:       logs,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
	}, nil
}

func (r *Recorder) cachedStats(ctx context.Context, key string) (domain.Stats, bool) {
	if r.cache == nil || r.statsTTL <= 0 {
		return domain.Stats{}, false
	}
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("stats cache read failed", "key", key, "error", err)
		return domain.Stats{}, false
	}
	if data == nil {
		return domain.Stats{}, false
	}
	var stats domain.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return domain.Stats{}, false
	}
	return stats, true
}

func (r *Recorder) storeStats(ctx context.Context, key string, stats domain.Stats) {
	if r.cache == nil || r.statsTTL <= 0 {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.statsTTL); err != nil {
		slog.Warn("stats cache write failed", "key", key, "error", err)
	}
}

// invalidate drops the all-time entry and the 24h entry the dashboard
// polls. Other windows age out on their TTL.
func (r *Recorder) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	for _, window := range []time.Duration{0, 24 * time.Hour} {
		if err := r.cache.Delete(ctx, statsKeyPrefix+window.String()); err != nil {
			slog.Warn("stats cache invalidation failed", "error", err)
		}
	}
}

package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/propcompliance/internal/anchor"
	"github.com/aristath/propcompliance/internal/audit"
	"github.com/aristath/propcompliance/internal/supervisor"
)

// StatusLogJob periodically logs the supervisor's per-account status view
// and process resource usage, for operators without a scrape-based metrics
// pipeline in front of GET /health.
type StatusLogJob struct {
	sup *supervisor.Supervisor
	log zerolog.Logger
}

// NewStatusLogJob builds a job that logs sup's status through log.
func NewStatusLogJob(sup *supervisor.Supervisor, log zerolog.Logger) *StatusLogJob {
	return &StatusLogJob{sup: sup, log: log.With().Str("job", "supervisor-status-log").Logger()}
}

func (j *StatusLogJob) Name() string { return "supervisor-status-log" }

func (j *StatusLogJob) Run() error {
	stats := j.sup.SystemStats()
	evt := j.log.Info().Float64("cpu_percent", stats.CPUPercent).Float64("ram_percent", stats.RAMPercent)
	for _, a := range j.sup.Status() {
		evt = evt.Str(a.Label+"_state", string(a.State))
	}
	evt.Msg("supervisor status")
	return nil
}

// AnchorGCJob prunes in-memory day-start anchors for accounts that have not
// reported an observation recently, keeping the anchor tracker's memory
// bounded across long-running processes whose account set changes over
// time. Pruning an in-memory entry never loses durable state when a
// FileStore is configured — it only clears the in-memory cache, which the
// next observation repopulates from disk.
type AnchorGCJob struct {
	tracker *anchor.Tracker
	maxAge  time.Duration
}

// NewAnchorGCJob builds a job that prunes anchors idle longer than maxAge.
func NewAnchorGCJob(tracker *anchor.Tracker, maxAge time.Duration) *AnchorGCJob {
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	return &AnchorGCJob{tracker: tracker, maxAge: maxAge}
}

func (j *AnchorGCJob) Name() string { return "anchor-gc" }

func (j *AnchorGCJob) Run() error {
	j.tracker.PruneStale(time.Now().UTC().Add(-j.maxAge))
	return nil
}

// AuditDigestJob drains the audit collector's accumulated per-account daily
// breach digests and uploads each to S3-compatible storage. It is a no-op
// when uploader is nil (archival disabled), so it is safe to register
// unconditionally.
type AuditDigestJob struct {
	collector *audit.Collector
	uploader  *audit.Uploader
	log       zerolog.Logger
}

// NewAuditDigestJob builds a job draining collector through uploader.
func NewAuditDigestJob(collector *audit.Collector, uploader *audit.Uploader, log zerolog.Logger) *AuditDigestJob {
	return &AuditDigestJob{collector: collector, uploader: uploader, log: log.With().Str("job", "audit-digest-upload").Logger()}
}

func (j *AuditDigestJob) Name() string { return "audit-digest-upload" }

func (j *AuditDigestJob) Run() error {
	if j.uploader == nil {
		return nil
	}

	ctx := context.Background()
	for _, account := range j.collector.PendingAccounts() {
		for _, date := range j.collector.PendingDates(account) {
			digest, ok := j.collector.Drain(account, date)
			if !ok {
				continue
			}
			if err := j.uploader.Upload(ctx, digest); err != nil {
				j.log.Error().Err(err).Str("account", account).Str("date", date).Msg("failed to upload breach digest")
			}
		}
	}
	return nil
}

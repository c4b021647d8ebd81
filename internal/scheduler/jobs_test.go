package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/propcompliance/internal/anchor"
	"github.com/aristath/propcompliance/internal/audit"
	"github.com/aristath/propcompliance/internal/evaluator"
	"github.com/aristath/propcompliance/internal/supervisor"
)

func TestStatusLogJob_RunDoesNotError(t *testing.T) {
	sup := supervisor.New(zerolog.Nop(), nil, time.Second)
	job := NewStatusLogJob(sup, zerolog.Nop())

	assert.Equal(t, "supervisor-status-log", job.Name())
	require.NoError(t, job.Run())
}

func TestAnchorGCJob_PrunesOldAnchors(t *testing.T) {
	tr := anchor.New(nil)
	tr.Update("acct-1", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 1000, 1000)

	job := NewAnchorGCJob(tr, time.Hour)
	assert.Equal(t, "anchor-gc", job.Name())
	require.NoError(t, job.Run())

	_, ok := tr.Current("acct-1")
	assert.False(t, ok, "anchor idle far longer than maxAge should have been pruned")
}

func TestAnchorGCJob_DefaultsMaxAgeWhenZero(t *testing.T) {
	tr := anchor.New(nil)
	job := NewAnchorGCJob(tr, 0)
	assert.Equal(t, 48*time.Hour, job.maxAge)
}

func TestAuditDigestJob_NoopWhenUploaderDisabled(t *testing.T) {
	c := audit.NewCollector()
	c.Record("acct-1", "2026-07-30", []evaluator.RuleBreach{{Code: evaluator.CodeDailyDrawdown}})

	job := NewAuditDigestJob(c, nil, zerolog.Nop())
	assert.Equal(t, "audit-digest-upload", job.Name())
	require.NoError(t, job.Run())

	assert.Contains(t, c.PendingAccounts(), "acct-1", "digest should remain undrained when archival is disabled")
}

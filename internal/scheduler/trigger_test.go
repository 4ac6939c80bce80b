package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/datafeed/internal/domain"
)

func TestValidateTrigger(t *testing.T) {
	tests := []struct {
		name    string
		trigger domain.Trigger
		wantErr bool
	}{
		{"interval", domain.Trigger{Type: domain.TriggerInterval, Interval: time.Hour}, false},
		{"interval zero", domain.Trigger{Type: domain.TriggerInterval}, true},
		{"interval negative", domain.Trigger{Type: domain.TriggerInterval, Interval: -time.Minute}, true},
		{"cron", domain.Trigger{Type: domain.TriggerCron, CronExpr: "30 2 * * *"}, false},
		{"cron malformed", domain.Trigger{Type: domain.TriggerCron, CronExpr: "not a cron"}, true},
		{"cron empty", domain.Trigger{Type: domain.TriggerCron}, true},
		{"once", domain.Trigger{Type: domain.TriggerOnce}, false},
		{"unknown type", domain.Trigger{Type: "hourly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrigger(tt.trigger)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextRun_IntervalAnchorsOnLastRun(t *testing.T) {
	lastRun := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	// The run took 10 minutes; the next slot still counts from the start.
	now := lastRun.Add(10 * time.Minute)

	next := NextRun(domain.Trigger{Type: domain.TriggerInterval, Interval: time.Hour}, lastRun, now)

	require.NotNil(t, next)
	assert.Equal(t, lastRun.Add(time.Hour), *next)
}

func TestNextRun_CronUsesNextOccurrence(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	next := NextRun(domain.Trigger{Type: domain.TriggerCron, CronExpr: "CRON_TZ=UTC 30 2 * * *"}, now.Add(-time.Hour), now)

	require.NotNil(t, next)
	assert.True(t, next.Equal(time.Date(2024, 6, 2, 2, 30, 0, 0, time.UTC)))
}

func TestNextRun_OnceNeverReschedules(t *testing.T) {
	now := time.Now()
	assert.Nil(t, NextRun(domain.Trigger{Type: domain.TriggerOnce}, now, now))
}

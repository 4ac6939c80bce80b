package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quantpulse/datafeed/internal/domain"
)

// ValidateTrigger rejects trigger descriptors the scheduler cannot evaluate.
func ValidateTrigger(t domain.Trigger) error {
	switch t.Type {
	case domain.TriggerInterval:
		if t.Interval <= 0 {
			return fmt.Errorf("interval trigger requires a positive interval")
		}
	case domain.TriggerCron:
		if _, err := cron.ParseStandard(t.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
		}
	case domain.TriggerOnce:
		// nothing to validate; runs immediately upon creation
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// NextRun computes when the job is due again. Interval triggers anchor on
// the last run; cron triggers pick the next matching wall-clock instant
// from now; one-shot triggers never reschedule.
func NextRun(t domain.Trigger, lastRun, now time.Time) *time.Time {
	switch t.Type {
	case domain.TriggerInterval:
		next := lastRun.Add(t.Interval)
		return &next
	case domain.TriggerCron:
		schedule, err := cron.ParseStandard(t.CronExpr)
		if err != nil {
			return nil // rejected at creation; treated as unschedulable here
		}
		next := schedule.Next(now)
		return &next
	default:
		return nil
	}
}

package manager

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pdu-bridge/internal/history"
	"pdu-bridge/internal/logging"
)

// scheduler runs the bridge's periodic background jobs: the hourly
// retention sweep and the Monday-morning weekly report generation. The
// 30s device-info refresh is not here — each Poller already paces its
// own /device republish internally (poller.go's lastDevicePublish
// check), so a second bridge-wide timer for the same job would just
// race it.
type scheduler struct {
	cron *cron.Cron
	log  logging.Logger
}

func newScheduler(log logging.Logger) *scheduler {
	return &scheduler{
		cron: cron.New(),
		log:  log.With("component", "scheduler"),
	}
}

// Start registers the retention sweep and report jobs against hist and
// deviceIDs (evaluated fresh on every firing so hot add/remove is
// picked up without restarting the scheduler) and begins running them.
func (s *scheduler) Start(hist *history.Store, retentionDays int, deviceIDs func() []string) {
	s.cron.AddFunc("0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := hist.Sweep(ctx, retentionDays); err != nil {
			s.log.Error().Err(err).Msg("retention sweep failed")
		}
	})

	s.cron.AddFunc("5 0 * * MON", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		weekStart, _ := history.WeekWindow(time.Now().AddDate(0, 0, -1))
		for _, id := range deviceIDs() {
			if _, err := hist.GenerateReport(ctx, id, weekStart); err != nil {
				s.log.Error().Err(err).Str("device_id", id).Msg("weekly report generation failed")
			}
		}
	})

	s.cron.Start()
}

func (s *scheduler) Stop() {
	<-s.cron.Stop().Done()
}

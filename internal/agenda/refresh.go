package agenda

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "taskcal/internal/log"
)

const refreshTimeout = 2 * time.Minute

// StartRefresh runs Refresh on spec (standard 5-field cron) until ctx ends.
// Overlapping runs are skipped.
func (s *Service) StartRefresh(ctx context.Context, spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if err := s.Refresh(runCtx); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("agenda: invalid refresh schedule %q: %w", spec, err)
	}

	c.Start()
	appLog.Info("refresh scheduler started", "spec", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return nil
}

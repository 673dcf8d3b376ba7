package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tracksync/internal/timeutil"
)

// Daily runs job once immediately and then every day at hour:minute in loc
// until ctx is done. Job errors are logged and never stop the schedule.
func Daily(ctx context.Context, hour, minute int, loc *time.Location, logger zerolog.Logger, job func(context.Context) error) error {
	if loc == nil {
		loc = time.Local
	}

	for {
		if err := job(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Error().Err(err).Msg("scheduled sync failed")
		}

		next := timeutil.NextDailyAt(time.Now().In(loc), hour, minute)
		logger.Info().Time("next_run", next).Msg("waiting for next scheduled sync")
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

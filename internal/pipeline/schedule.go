package pipeline

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Schedule re-runs the pipeline for req on a cron spec (five fields or a
// descriptor such as @daily) until ctx is done. With runNow the first run
// happens before the schedule starts. A failed run is logged and the
// schedule continues; a run still in progress when the next one is due
// causes that tick to be skipped.
func (p *Pipeline) Schedule(ctx context.Context, spec string, req Request, runNow bool) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	run := func() {
		out, err := p.Run(ctx, req)
		if err != nil {
			p.logger.Error().Err(err).Str("ticker", req.Ticker).Msg("scheduled fetch failed")
			return
		}
		p.logger.Info().Str("ticker", out.Ticker).Int("files", len(out.Files)).Msg("scheduled fetch done")
	}
	if _, err := c.AddFunc(spec, run); err != nil {
		return fmt.Errorf("pipeline: schedule %q: %w", spec, err)
	}

	if runNow {
		run()
	}
	c.Start()
	p.logger.Info().Str("schedule", spec).Msg("fetch scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info().Msg("fetch scheduler stopped")
	return nil
}

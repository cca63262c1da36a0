package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/metrics"
	"github.com/nextlevelbuilder/astra/internal/platform"
)

// welcomeJob is one pending welcome DM.
type welcomeJob struct {
	user  platform.UserID
	guild platform.GuildID
	dueAt time.Time
}

// welcomeQueue defers welcome DMs after a join and drains them at a strict
// global rate so platform DM limits are respected.
type welcomeQueue struct {
	cfg     config.WelcomeDMConfig
	actions platform.Actions
	log     *slog.Logger
	met     *metrics.Metrics

	jobs  chan welcomeJob
	sleep func(ctx context.Context, d time.Duration) error
}

func newWelcomeQueue(cfg config.WelcomeDMConfig, actions platform.Actions, log *slog.Logger, met *metrics.Metrics) *welcomeQueue {
	return &welcomeQueue{
		cfg:     cfg,
		actions: actions,
		log:     log,
		met:     met,
		jobs:    make(chan welcomeJob, 1024),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// schedule queues a welcome DM for a fresh join. Drops silently when the
// queue is saturated; a missed welcome is not worth backpressure.
func (w *welcomeQueue) schedule(ev platform.Event, now time.Time) {
	if !w.cfg.Enabled || ev.GuildID == 0 {
		return
	}
	job := welcomeJob{
		user:  ev.AuthorID,
		guild: ev.GuildID,
		dueAt: now.Add(w.cfg.Defer.Or(3500 * time.Millisecond)),
	}
	select {
	case w.jobs <- job:
	default:
		w.log.Warn("welcome queue full, dropping", "user", ev.AuthorID, "guild", ev.GuildID)
	}
}

// run drains the queue at one DM per send interval.
func (w *welcomeQueue) run(ctx context.Context) {
	interval := w.cfg.SendInterval.Or(1200 * time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			if err := w.sleep(ctx, time.Until(job.dueAt)); err != nil {
				return
			}
			w.send(ctx, job)
			if err := w.sleep(ctx, interval); err != nil {
				return
			}
		}
	}
}

// send delivers one welcome DM with a single retry on transient failure.
func (w *welcomeQueue) send(ctx context.Context, job welcomeJob) {
	msg := "Welcome! I'm around if you have questions — just mention me or send a DM. Enjoy the server! 👋"

	err := w.actions.SendDM(ctx, job.user, msg)
	if err != nil && platform.KindOf(err).Transient() {
		if serr := w.sleep(ctx, time.Second); serr != nil {
			return
		}
		err = w.actions.SendDM(ctx, job.user, msg)
	}

	outcome := "sent"
	switch {
	case err == nil:
	case platform.KindOf(err) == platform.ErrForbidden:
		// The member has server DMs off; expected, not an error.
		outcome = "dms_disabled"
	default:
		outcome = "failed"
		w.log.Warn("welcome DM failed", "user", job.user, "guild", job.guild, "error", err)
	}
	if w.met != nil {
		w.met.WelcomeDMs.WithLabelValues(outcome).Inc()
	}
}

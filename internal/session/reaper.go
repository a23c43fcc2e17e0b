package session

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically removes terminated and abandoned sessions so a
// call that never receives its final webhook cannot leak memory
// forever.
type Reaper struct {
	store    Store
	idleTTL  time.Duration
	schedule string
	cron     *cron.Cron
	onReap   func(reaped int)
}

// NewReaper creates a reaper running on a cron schedule (standard
// 5-field spec, e.g. "*/5 * * * *"). onReap may be nil; when set it
// receives the count of removed sessions after every pass, which the
// server uses to keep the active-session gauge honest.
func NewReaper(store Store, idleTTL time.Duration, schedule string, onReap func(reaped int)) *Reaper {
	return &Reaper{
		store:    store,
		idleTTL:  idleTTL,
		schedule: schedule,
		cron:     cron.New(),
		onReap:   onReap,
	}
}

// Start registers the reap job and starts the scheduler.
func (r *Reaper) Start() error {
	_, err := r.cron.AddFunc(r.schedule, r.runOnce)
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (r *Reaper) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Reaper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reaped, err := r.store.Reap(ctx, r.idleTTL)
	if err != nil {
		log.Printf("session reap failed: %v", err)
		return
	}
	if reaped > 0 {
		log.Printf("session reap removed %d session(s)", reaped)
	}
	if r.onReap != nil {
		r.onReap(reaped)
	}
}

// Package sweeper runs the periodic job that reaps lapsed seat holds and
// expires their bookings.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/ridehub/seat-booking/internal/lockstore"
	"github.com/ridehub/seat-booking/internal/monitoring"
)

// Locks is the slice of the seat lock store the sweeper drives.  ExpireDue
// performs the HELD-to-EXPIRED compare-and-swap in the database, so two
// sweeper instances racing each other reap each lease exactly once.
type Locks interface {
	ExpireDue(ctx context.Context, limit int) ([]lockstore.ExpiredLease, error)
}

// Coordinator closes out the booking that owned a reaped lease.
type Coordinator interface {
	Expire(ctx context.Context, reaped lockstore.ExpiredLease) error
}

// PendingCounter reports how many bookings are currently PENDING.  May be
// nil; the gauge simply stays unset then.
type PendingCounter interface {
	CountPending(ctx context.Context) (int, error)
}

// Sweeper periodically reaps expired seat holds.
type Sweeper struct {
	Locks       Locks
	Coordinator Coordinator
	Pending     PendingCounter
	Interval    time.Duration // default 5s
	BatchLimit  int           // leases per sweep, default 100

	scheduler gocron.Scheduler
}

// Start schedules the sweep and begins running it.  The returned stop
// function shuts the scheduler down and waits for a running sweep to
// finish.
func (s *Sweeper) Start() (stop func() error, err error) {
	if s.Interval <= 0 {
		s.Interval = 5 * time.Second
	}
	if s.BatchLimit <= 0 {
		s.BatchLimit = 100
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	s.scheduler = sched

	_, err = sched.NewJob(
		gocron.DurationJob(s.Interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
			defer cancel()
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("sweeper: %v", err)
			}
		}),
		// A slow database must not pile up overlapping sweeps.
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	sched.Start()
	return sched.Shutdown, nil
}

// Sweep runs one reap cycle and returns the number of leases expired.
// Exported so the recovery path can force a sweep outside the schedule.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	started := time.Now()
	reaped, err := s.Locks.ExpireDue(ctx, s.BatchLimit)
	if err != nil {
		return len(reaped), err
	}
	for _, lease := range reaped {
		if err := s.Coordinator.Expire(ctx, lease); err != nil {
			// The lease rows are already EXPIRED; a failed booking transition
			// here is picked up by the next recovery scan.
			log.Printf("sweeper: expire booking for lease %s: %v", lease.LeaseID, err)
		}
	}
	if n := len(reaped); n > 0 {
		monitoring.LeasesExpired(n)
		log.Printf("sweeper: expired %d lease(s)", n)
	}
	monitoring.ObserveSweep(time.Since(started).Seconds())
	if s.Pending != nil {
		if n, err := s.Pending.CountPending(ctx); err == nil {
			monitoring.SetPendingBookings(n)
		}
	}
	return len(reaped), nil
}

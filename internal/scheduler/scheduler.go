// Package scheduler runs the periodic retention sweep that drops
// interaction records past the configured age.
package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

type store interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

type Sweeper struct {
	cron    *cron.Cron
	store   store
	maxDays int
}

// NewSweeper builds an hourly retention sweep. maxDays of zero or less
// means records are kept forever and the sweeper stays idle.
func NewSweeper(st store, maxDays int) *Sweeper {
	return &Sweeper{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		store:   st,
		maxDays: maxDays,
	}
}

func (s *Sweeper) Start() error {
	if s.maxDays <= 0 {
		log.Println("retention disabled, records are kept forever")
		return nil
	}
	if _, err := s.cron.AddFunc("0 * * * *", s.sweepOnce); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("retention sweep scheduled hourly, max age %d days", s.maxDays)
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweepOnce() {
	cutoff := time.Now().AddDate(0, 0, -s.maxDays)
	n, err := s.store.DeleteOlderThan(cutoff)
	if err != nil {
		log.Printf("retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("retention sweep removed %d records", n)
	}
}

func (s *Sweeper) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}

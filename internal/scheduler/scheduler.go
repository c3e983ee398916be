// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Entry is one named recurring job.
type Entry struct {
	Name     string
	Schedule string
	Fn       func()
}

// Scheduler fires named jobs on cron schedules.
type Scheduler struct {
	mu      sync.Mutex
	entries []Entry
	cron    *cron.Cron
	running bool
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{cron: newCron()}
}

func newCron() *cron.Cron {
	return cron.New(cron.WithParser(cronParser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
}

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Add registers fn under name. Jobs added after Start take effect on the
// next Reload.
func (s *Scheduler) Add(name, schedule string, fn func()) error {
	if err := Validate(schedule); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{Name: name, Schedule: schedule, Fn: fn})
	return nil
}

// Entries returns the registered jobs.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Start registers every job with the cron ticker and starts it.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		e := e
		if _, err := s.cron.AddFunc(e.Schedule, func() {
			slog.Info("cron firing job", "name", e.Name)
			e.Fn()
		}); err != nil {
			return fmt.Errorf("schedule %s: %w", e.Name, err)
		}
		slog.Info("scheduled job", "name", e.Name, "schedule", e.Schedule)
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Reload stops the existing cron, creates a new one, and starts it again.
func (s *Scheduler) Reload() error {
	s.Stop()
	s.mu.Lock()
	s.cron = newCron()
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, running := s.cron, s.running
	s.running = false
	s.mu.Unlock()
	if running {
		<-c.Stop().Done()
	}
}

// Package scheduler fires the reminder and auto-pay sweeps once per day at
// fixed wall-clock times.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Dan9191/loan-service/internal/autopay"
	"github.com/Dan9191/loan-service/internal/config"
	"github.com/Dan9191/loan-service/internal/reminder"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	JobReminders = "reminders"
	JobAutoPay   = "autopay"
)

type ReminderRunner interface {
	Run(ctx context.Context) (reminder.Summary, error)
}

type AutoPayRunner interface {
	Run(ctx context.Context) (autopay.Summary, error)
}

// Entry describes a registered job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// RunState is the last known state of a sweep, whether cron or an operator
// started it.
type RunState struct {
	Running      bool      `json:"running"`
	LastStarted  time.Time `json:"last_started"`
	LastFinished time.Time `json:"last_finished"`
	LastError    string    `json:"last_error,omitempty"`
	LastSummary  any       `json:"last_summary,omitempty"`
	Runs         int       `json:"runs"`

	active int
}

// JobStatus combines a job's schedule with its run state.
type JobStatus struct {
	Entry
	RunState
}

// Scheduler owns the cron instance; nothing runs until Start.
type Scheduler struct {
	cron      *cron.Cron
	reminders ReminderRunner
	autopay   AutoPayRunner
	jobs      map[cron.EntryID]Entry
	log       *logrus.Logger

	mu     sync.Mutex
	states map[string]*RunState
	now    func() time.Time
}

func New(cfg *config.Config, reminders ReminderRunner, autopay AutoPayRunner, log *logrus.Logger) (*Scheduler, error) {
	loc := cfg.Timezone
	if loc == nil {
		loc = time.UTC
	}
	cronLog := cron.PrintfLogger(log)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		reminders: reminders,
		autopay:   autopay,
		jobs:      make(map[cron.EntryID]Entry),
		log:       log,
		states:    map[string]*RunState{JobReminders: {}, JobAutoPay: {}},
		now:       time.Now,
	}

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{JobReminders, cfg.ReminderCron, func() { s.RunReminders(context.Background()) }},
		{JobAutoPay, cfg.AutoPayCron, func() { s.RunAutoPay(context.Background()) }},
	}
	for _, j := range jobs {
		id, err := s.cron.AddFunc(j.spec, j.run)
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s job %q: %w", j.name, j.spec, err)
		}
		s.jobs[id] = Entry{Name: j.name, Spec: j.spec}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.Entries() {
		s.log.WithFields(logrus.Fields{"job": e.Name, "spec": e.Spec, "next": e.Next}).Info("Scheduled job")
	}
}

// Stop prevents further firings and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) Entries() []Entry {
	var out []Entry
	for _, ce := range s.cron.Entries() {
		e := s.jobs[ce.ID]
		e.Next = ce.Next
		e.Prev = ce.Prev
		out = append(out, e)
	}
	return out
}

// Status reports every scheduled job with its run state, reminders first.
func (s *Scheduler) Status() []JobStatus {
	entries := make(map[string]Entry)
	for _, e := range s.Entries() {
		entries[e.Name] = e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.states))
	for _, name := range []string{JobReminders, JobAutoPay} {
		out = append(out, JobStatus{Entry: entries[name], RunState: *s.states[name]})
	}
	return out
}

// RunReminders runs the reminder sweep now. Errors are logged and returned;
// a panic in the sweep becomes an error.
func (s *Scheduler) RunReminders(ctx context.Context) (summary reminder.Summary, err error) {
	err = s.guard(JobReminders, func() error {
		var runErr error
		summary, runErr = s.reminders.Run(ctx)
		return runErr
	})
	s.finish(JobReminders, summary, err)
	return summary, err
}

// RunAutoPay runs the auto-pay sweep now, with the same error handling as
// RunReminders.
func (s *Scheduler) RunAutoPay(ctx context.Context) (summary autopay.Summary, err error) {
	err = s.guard(JobAutoPay, func() error {
		var runErr error
		summary, runErr = s.autopay.Run(ctx)
		return runErr
	})
	s.finish(JobAutoPay, summary, err)
	return summary, err
}

func (s *Scheduler) guard(job string, run func() error) (err error) {
	log := s.log.WithField("job", job)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Sweep panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%s sweep panicked: %v", job, r)
		}
	}()

	s.begin(job)
	start := time.Now()
	if err := run(); err != nil {
		log.Errorf("Sweep failed: %v", err)
		return err
	}
	log.WithField("elapsed", time.Since(start).String()).Info("Sweep completed")
	return nil
}

func (s *Scheduler) begin(job string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[job]
	st.active++
	st.Running = true
	st.LastStarted = s.now()
}

func (s *Scheduler) finish(job string, summary any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[job]
	st.active--
	st.Running = st.active > 0
	st.LastFinished = s.now()
	st.Runs++
	st.LastSummary = summary
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
		st.LastSummary = nil
	}
}

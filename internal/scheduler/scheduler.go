// Package scheduler runs periodic maintenance jobs next to the engine.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/logging"
)

// Job is a named task evaluated every Interval.
type Job struct {
	Name     string
	Interval time.Duration

	// RunAtStart evaluates the job once as soon as the scheduler runs
	RunAtStart bool

	Run func(ctx context.Context) error
}

// JobStatus reports the runs of one job.
type JobStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int           `json:"runs"`
	Failures  int           `json:"failures"`
	Running   bool          `json:"running"`
	LastRun   *time.Time    `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	NextRun   *time.Time    `json:"next_run,omitempty"`
}

// Scheduler manages maintenance jobs. A job never overlaps with itself;
// different jobs run concurrently.
type Scheduler struct {
	log *logrus.Entry

	mu     sync.Mutex
	jobs   []Job
	status map[string]*JobStatus
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		log:    logging.For("scheduler"),
		status: make(map[string]*JobStatus),
	}
}

// Add registers a job. Jobs added after Run has started are not picked up.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.status[job.Name]; dup {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.status[job.Name] = &JobStatus{Name: job.Name, Interval: job.Interval}
	return nil
}

// Run evaluates every job until ctx is done, then waits for running jobs
// to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	s.log.WithField("jobs", len(jobs)).Info("scheduler started")

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()

	s.log.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.setNext(job.Name, time.Now().Add(job.Interval))
	if job.RunAtStart {
		s.execute(ctx, job)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, job)
			s.setNext(job.Name, time.Now().Add(job.Interval))
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	start := time.Now()
	s.mu.Lock()
	s.status[job.Name].Running = true
	s.mu.Unlock()

	err := job.Run(ctx)

	s.mu.Lock()
	st := s.status[job.Name]
	st.Running = false
	st.Runs++
	st.LastRun = &start
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
	s.mu.Unlock()

	log := s.log.WithFields(logrus.Fields{"job": job.Name, "duration": time.Since(start).String()})
	if err != nil {
		log.WithError(err).Warn("scheduled job failed")
		return
	}
	log.Debug("scheduled job completed")
}

func (s *Scheduler) setNext(name string, t time.Time) {
	s.mu.Lock()
	s.status[name].NextRun = &t
	s.mu.Unlock()
}

// Status returns a copy of every job's status, sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

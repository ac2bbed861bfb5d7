package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"promopay-engine/pkg/cache"
	"promopay-engine/pkg/cachekey"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const historyLimit = 50

// JobFunc is one cron job's body. Failures increment the job's error
// counter; they never stop the scheduler or the other jobs.
type JobFunc func(ctx context.Context) error

// CronJob is one named, independently switchable recurring job.
type CronJob struct {
	Name        string `json:"name"`
	Schedule    string `json:"schedule"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	RunCount    uint64 `json:"run_count"`
	ErrorCount  uint64 `json:"error_count"`

	fn      JobFunc
	entryID cron.EntryID
}

// HistoryEntry records one execution for later inspection.
type HistoryEntry struct {
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Scheduler is the process-wide cron registry: an explicit owned object
// constructed at service start and torn down at stop, with its counters
// snapshotted to the cache so restarts do not reset history.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*CronJob
	cache   *cache.Cache
	running bool
}

func New(c *cache.Cache) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron:  cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		jobs:  make(map[string]*CronJob),
		cache: c,
	}
}

// AddCronJob registers a named job. Registering while running schedules it
// immediately when enabled.
func (s *Scheduler) AddCronJob(name, schedule, description string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &CronJob{
		Name:        name,
		Schedule:    schedule,
		Description: description,
		Enabled:     true,
		fn:          fn,
	}

	if s.running {
		if err := s.scheduleLocked(job); err != nil {
			return err
		}
	} else {
		// validate the expression up front so a bad schedule fails at
		// registration, not at Start
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(schedule); err != nil {
			return err
		}
	}

	s.jobs[name] = job
	return nil
}

// RemoveCronJob unregisters a job. Removing an unknown name returns false
// rather than erroring.
func (s *Scheduler) RemoveCronJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return false
	}
	if job.entryID != 0 {
		s.cron.Remove(job.entryID)
	}
	delete(s.jobs, name)
	return true
}

func (s *Scheduler) EnableCronJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return false
	}
	if job.Enabled {
		return true
	}
	job.Enabled = true
	if s.running {
		if err := s.scheduleLocked(job); err != nil {
			zap.L().Error("[Cron] failed to re-schedule job", zap.String("job", name), zap.Error(err))
			job.Enabled = false
			return false
		}
	}
	s.persistJobLocked(job)
	return true
}

func (s *Scheduler) DisableCronJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return false
	}
	if job.entryID != 0 {
		s.cron.Remove(job.entryID)
		job.entryID = 0
	}
	job.Enabled = false
	s.persistJobLocked(job)
	return true
}

// Start restores persisted job state from the cache, then begins the timers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	for _, job := range s.jobs {
		s.restoreJobLocked(ctx, job)
		if !job.Enabled {
			continue
		}
		if err := s.scheduleLocked(job); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.running = true
	zap.L().Info("[Cron] scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop halts the timers, letting in-flight executions finish, then persists
// the counters.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCtx := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		zap.L().Warn("[Cron] stop deadline reached with jobs still running")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		// drop the timer entry so a later Start does not register it twice
		if job.entryID != 0 {
			s.cron.Remove(job.entryID)
			job.entryID = 0
		}
		s.persistJobLocked(job)
	}
	zap.L().Info("[Cron] scheduler stopped")
	return nil
}

func (s *Scheduler) scheduleLocked(job *CronJob) error {
	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		s.runJob(job.Name)
	})
	if err != nil {
		return err
	}
	job.entryID = entryID
	return nil
}

// runJob wraps one execution: counters, history, and failure isolation.
func (s *Scheduler) runJob(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok || !job.Enabled {
		s.mu.Unlock()
		return
	}
	fn := job.fn
	s.mu.Unlock()

	ctx := context.Background()
	started := time.Now().UTC()

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = &panicError{value: r}
			}
		}()
		runErr = fn(ctx)
	}()

	finished := time.Now().UTC()
	entry := HistoryEntry{
		Success:    runErr == nil,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMS: finished.Sub(started).Milliseconds(),
	}

	s.mu.Lock()
	job.RunCount++
	if runErr != nil {
		job.ErrorCount++
		entry.Error = runErr.Error()
	}
	s.persistJobLocked(job)
	s.mu.Unlock()

	raw, _ := json.Marshal(entry)
	if err := s.cache.LPushTrimmed(ctx, cachekey.BuildCronHistoryKey(name), string(raw), historyLimit, 0); err != nil {
		zap.L().Warn("[Cron] failed to append job history", zap.String("job", name), zap.Error(err))
	}

	if runErr != nil {
		zap.L().Error("[Cron] job execution failed",
			zap.String("job", name),
			zap.Duration("duration", finished.Sub(started)),
			zap.Error(runErr),
		)
		return
	}
	zap.L().Info("[Cron] job executed",
		zap.String("job", name),
		zap.Duration("duration", finished.Sub(started)),
	)
}

type persistedJob struct {
	Enabled    bool   `json:"enabled"`
	RunCount   uint64 `json:"run_count"`
	ErrorCount uint64 `json:"error_count"`
}

func (s *Scheduler) persistJobLocked(job *CronJob) {
	state := persistedJob{Enabled: job.Enabled, RunCount: job.RunCount, ErrorCount: job.ErrorCount}
	if err := s.cache.SetJSON(context.Background(), cachekey.BuildCronJobKey(job.Name), state, 0); err != nil {
		zap.L().Warn("[Cron] failed to persist job state", zap.String("job", job.Name), zap.Error(err))
	}
}

func (s *Scheduler) restoreJobLocked(ctx context.Context, job *CronJob) {
	var state persistedJob
	if ok := s.cache.GetJSON(ctx, cachekey.BuildCronJobKey(job.Name), &state); !ok {
		return
	}
	job.Enabled = state.Enabled
	job.RunCount = state.RunCount
	job.ErrorCount = state.ErrorCount
}

// GetJobHistory returns the most recent executions, newest first. No
// history yet yields an empty list, not an error.
func (s *Scheduler) GetJobHistory(ctx context.Context, name string, limit int) ([]HistoryEntry, error) {
	raw, err := s.cache.LRange(ctx, cachekey.BuildCronHistoryKey(name), int64(limit))
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// JobStatus is one job's public state snapshot.
type JobStatus struct {
	Name        string `json:"name"`
	Schedule    string `json:"schedule"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	RunCount    uint64 `json:"run_count"`
	ErrorCount  uint64 `json:"error_count"`
}

// Status reports the scheduler's running state and every job's counters.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

// CheckHealth reports whether the timers are running.
func (s *Scheduler) CheckHealth(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("scheduler not running")
	}
	return nil
}

func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running}
	for _, job := range s.jobs {
		st.Jobs = append(st.Jobs, JobStatus{
			Name:        job.Name,
			Schedule:    job.Schedule,
			Description: job.Description,
			Enabled:     job.Enabled,
			RunCount:    job.RunCount,
			ErrorCount:  job.ErrorCount,
		})
	}
	return st
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return "panic: " + stringify(e.value)
}

func stringify(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/repos"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// JobRunner executes one claimed job and returns its result payload.
type JobRunner func(ctx context.Context, job *types.JobRun) (map[string]any, error)

type JobService interface {
	// RunInline wraps synchronous work in a JobRun record so failures are
	// recorded and retryable like background work.
	RunInline(ctx context.Context, workspaceID uuid.UUID, sessionID *uuid.UUID, jobType string, payload map[string]any, fn JobRunner) (*types.JobRun, map[string]any, error)

	Enqueue(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, sessionID *uuid.UUID, jobType string, payload map[string]any) (*types.JobRun, error)
	RetryJob(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error)
	GetJobErrors(ctx context.Context, sessionID uuid.UUID, limit int) ([]*types.JobRun, error)
	GetByID(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error)

	RegisterRunner(jobType string, fn JobRunner)
	StartWorker(ctx context.Context)
}

type jobService struct {
	db      *gorm.DB
	log     *logger.Logger
	repo    repos.JobRunRepo
	notify  StudioNotifier
	runners map[string]JobRunner

	pollInterval time.Duration
	staleRunning time.Duration
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, notify StudioNotifier) JobService {
	return &jobService{
		db:           db,
		log:          baseLog.With("service", "JobService"),
		repo:         repo,
		notify:       notify,
		runners:      map[string]JobRunner{},
		pollInterval: 2 * time.Second,
		staleRunning: 5 * time.Minute,
	}
}

func marshalJSON(m map[string]any) datatypes.JSON {
	if m == nil {
		return datatypes.JSON([]byte(`{}`))
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON([]byte(`{}`))
	}
	return datatypes.JSON(b)
}

func (s *jobService) newJob(workspaceID uuid.UUID, sessionID *uuid.UUID, jobType string, payload map[string]any) *types.JobRun {
	now := time.Now()
	return &types.JobRun{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		SessionID:   sessionID,
		JobType:     jobType,
		Status:      types.JobStatusQueued,
		MaxRetries:  3,
		Payload:     marshalJSON(payload),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *jobService) notifySession(job *types.JobRun, fn func(sessionID uuid.UUID)) {
	if s.notify == nil || job == nil || job.SessionID == nil || *job.SessionID == uuid.Nil {
		return
	}
	fn(*job.SessionID)
}

func (s *jobService) RunInline(ctx context.Context, workspaceID uuid.UUID, sessionID *uuid.UUID, jobType string, payload map[string]any, fn JobRunner) (*types.JobRun, map[string]any, error) {
	if workspaceID == uuid.Nil {
		return nil, nil, fmt.Errorf("missing workspace_id")
	}
	if jobType == "" {
		return nil, nil, fmt.Errorf("missing job_type")
	}

	job := s.newJob(workspaceID, sessionID, jobType, payload)
	if _, err := s.repo.Create(ctx, nil, []*types.JobRun{job}); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}
	s.notifySession(job, func(sid uuid.UUID) { s.notify.JobCreated(sid, job) })

	now := time.Now()
	if err := s.repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":       types.JobStatusRunning,
		"locked_at":    now,
		"heartbeat_at": now,
	}); err != nil {
		return job, nil, err
	}
	job.Status = types.JobStatusRunning

	result, runErr := fn(ctx, job)
	if runErr != nil {
		s.markFailed(ctx, job, runErr)
		return job, nil, runErr
	}
	s.markDone(ctx, job, result)
	return job, result, nil
}

func (s *jobService) Enqueue(ctx context.Context, tx *gorm.DB, workspaceID uuid.UUID, sessionID *uuid.UUID, jobType string, payload map[string]any) (*types.JobRun, error) {
	if workspaceID == uuid.Nil {
		return nil, fmt.Errorf("missing workspace_id")
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if _, ok := s.runners[jobType]; !ok {
		return nil, fmt.Errorf("no runner registered for job_type %q", jobType)
	}
	job := s.newJob(workspaceID, sessionID, jobType, payload)
	if _, err := s.repo.Create(ctx, tx, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.notifySession(job, func(sid uuid.UUID) { s.notify.JobCreated(sid, job) })
	return job, nil
}

// RetryJob re-queues a failed job for the worker. Refused once the
// retry budget is spent.
func (s *jobService) RetryJob(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.repo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status != types.JobStatusFailed {
		return nil, fmt.Errorf("job %s is %s, only failed jobs can be retried", job.ID, job.Status)
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, fmt.Errorf("%w: job %s used %d of %d retries", ErrRetryBudgetExhausted, job.ID, job.RetryCount, job.MaxRetries)
	}
	if err := s.repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":      types.JobStatusQueued,
		"retry_count": job.RetryCount + 1,
		"error":       "",
		"locked_at":   nil,
	}); err != nil {
		return nil, err
	}
	job.Status = types.JobStatusQueued
	job.RetryCount++
	job.Error = ""
	s.log.Info("Job re-queued for retry", "job_id", job.ID, "job_type", job.JobType, "retry_count", job.RetryCount)
	return job, nil
}

func (s *jobService) GetJobErrors(ctx context.Context, sessionID uuid.UUID, limit int) ([]*types.JobRun, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session_id")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListFailedBySession(ctx, nil, sessionID, limit)
}

func (s *jobService) GetByID(ctx context.Context, jobID uuid.UUID) (*types.JobRun, error) {
	job, err := s.repo.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func (s *jobService) RegisterRunner(jobType string, fn JobRunner) {
	s.runners[jobType] = fn
}

// StartWorker polls for claimable jobs until the context ends. Run once
// per process.
func (s *jobService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		s.log.Info("Job worker started", "poll_interval", s.pollInterval.String())
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Job worker stopped")
				return
			case <-ticker.C:
				for {
					job, err := s.repo.ClaimNextRunnable(ctx, nil, s.staleRunning)
					if err != nil {
						s.log.Warn("Job claim failed", "error", err)
						break
					}
					if job == nil {
						break
					}
					s.runClaimed(ctx, job)
				}
			}
		}
	}()
}

func (s *jobService) runClaimed(ctx context.Context, job *types.JobRun) {
	runner, ok := s.runners[job.JobType]
	if !ok {
		s.markFailed(ctx, job, fmt.Errorf("no runner registered for job_type %q", job.JobType))
		return
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				_ = s.repo.Heartbeat(hbCtx, nil, job.ID)
			}
		}
	}()

	result, err := runner(ctx, job)
	if err != nil {
		s.markFailed(ctx, job, err)
		return
	}
	s.markDone(ctx, job, result)
}

func (s *jobService) markDone(ctx context.Context, job *types.JobRun, result map[string]any) {
	if err := s.repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":    types.JobStatusDone,
		"result":    marshalJSON(result),
		"locked_at": nil,
	}); err != nil {
		s.log.Warn("Failed to mark job done", "job_id", job.ID, "error", err)
		return
	}
	job.Status = types.JobStatusDone
	job.Result = marshalJSON(result)
	s.notifySession(job, func(sid uuid.UUID) { s.notify.JobDone(sid, job) })
}

func (s *jobService) markFailed(ctx context.Context, job *types.JobRun, runErr error) {
	now := time.Now()
	if err := s.repo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"error":         runErr.Error(),
		"last_error_at": now,
		"locked_at":     nil,
	}); err != nil {
		s.log.Warn("Failed to mark job failed", "job_id", job.ID, "error", err)
		return
	}
	job.Status = types.JobStatusFailed
	job.Error = runErr.Error()
	job.LastErrorAt = &now
	s.log.Warn("Job failed", "job_id", job.ID, "job_type", job.JobType, "error", runErr)
	s.notifySession(job, func(sid uuid.UUID) { s.notify.JobFailed(sid, job, runErr.Error()) })
}

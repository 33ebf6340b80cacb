package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

func TestRunInline_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	job, result, err := env.jobs.RunInline(ctx, env.workspaceID, &sessionID, types.JobTypeConcept,
		map[string]any{"session_id": sessionID.String()},
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) {
			return map[string]any{"rendered": 6}, nil
		})
	if err != nil {
		t.Fatalf("RunInline: %v", err)
	}
	if job.Status != types.JobStatusDone {
		t.Fatalf("expected done, got %s", job.Status)
	}
	if result["rendered"] != 6 {
		t.Fatalf("unexpected result %v", result)
	}

	stored, err := env.jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.JobStatusDone {
		t.Fatalf("persisted status %s", stored.Status)
	}
	if !strings.Contains(string(stored.Result), "rendered") {
		t.Fatalf("result not persisted: %s", stored.Result)
	}
	if stored.LockedAt != nil {
		t.Fatalf("done job should release its lock")
	}
}

func TestRunInline_FailureRecordsError(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	boom := errors.New("render exploded")
	job, _, err := env.jobs.RunInline(ctx, env.workspaceID, &sessionID, types.JobTypeSketch, nil,
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) {
			return nil, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the run error back, got %v", err)
	}
	stored, err := env.jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != types.JobStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.Error != "render exploded" {
		t.Fatalf("error not recorded: %q", stored.Error)
	}
	if stored.LastErrorAt == nil {
		t.Fatalf("last_error_at should be set")
	}
}

func TestRetryJob_RequeuesFailedJob(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	job, _, _ := env.jobs.RunInline(ctx, env.workspaceID, &sessionID, types.JobTypeConcept, nil,
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) {
			return nil, fmt.Errorf("transient")
		})

	retried, err := env.jobs.RetryJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != types.JobStatusQueued || retried.RetryCount != 1 {
		t.Fatalf("unexpected retried job: %+v", retried)
	}
	if retried.Error != "" {
		t.Fatalf("retry should clear the error, got %q", retried.Error)
	}
}

func TestRetryJob_RefusesNonFailedJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	job, _, err := env.jobs.RunInline(ctx, env.workspaceID, &sessionID, types.JobTypeConcept, nil,
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("RunInline: %v", err)
	}
	if _, err := env.jobs.RetryJob(ctx, job.ID); err == nil {
		t.Fatalf("retrying a done job should fail")
	}
}

func TestRetryJob_BudgetExhausted(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	job, _, _ := env.jobs.RunInline(ctx, env.workspaceID, &sessionID, types.JobTypeConcept, nil,
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) {
			return nil, fmt.Errorf("always broken")
		})

	for i := 0; i < 3; i++ {
		if _, err := env.jobs.RetryJob(ctx, job.ID); err != nil {
			t.Fatalf("retry %d: %v", i+1, err)
		}
		// Simulate the worker failing the attempt again.
		if err := env.jobRepo.UpdateFields(ctx, nil, job.ID, map[string]interface{}{
			"status": types.JobStatusFailed,
		}); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}
	if _, err := env.jobs.RetryJob(ctx, job.ID); !errors.Is(err, ErrRetryBudgetExhausted) {
		t.Fatalf("expected ErrRetryBudgetExhausted, got %v", err)
	}
}

func TestRetryJob_UnknownJob(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.jobs.RetryJob(context.Background(), uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEnqueue_RequiresRegisteredRunner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	if _, err := env.jobs.Enqueue(ctx, nil, env.workspaceID, &sessionID, "unknown_type", nil); err == nil {
		t.Fatalf("expected refusal for unregistered job type")
	}

	env.jobs.RegisterRunner(types.JobTypeConcept, func(ctx context.Context, job *types.JobRun) (map[string]any, error) {
		return nil, nil
	})
	job, err := env.jobs.Enqueue(ctx, nil, env.workspaceID, &sessionID, types.JobTypeConcept, map[string]any{"session_id": sessionID.String()})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != types.JobStatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
}

func TestGetJobErrors_ListsFailuresForSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	sessionID := uuid.New()
	otherID := uuid.New()

	for i := 0; i < 2; i++ {
		_, _, _ = env.jobs.RunInline(ctx, env.workspaceID, &sessionID, types.JobTypeConcept, nil,
			func(ctx context.Context, _ *types.JobRun) (map[string]any, error) { return nil, fmt.Errorf("fail %d", i) })
	}
	_, _, _ = env.jobs.RunInline(ctx, env.workspaceID, &otherID, types.JobTypeConcept, nil,
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) { return nil, fmt.Errorf("other session") })
	_, _, err := env.jobs.RunInline(ctx, env.workspaceID, &sessionID, types.JobTypeConcept, nil,
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) { return nil, nil })
	if err != nil {
		t.Fatalf("successful run: %v", err)
	}

	failed, err := env.jobs.GetJobErrors(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("GetJobErrors: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("expected 2 failed jobs for the session, got %d", len(failed))
	}
	for _, j := range failed {
		if j.Status != types.JobStatusFailed || j.SessionID == nil || *j.SessionID != sessionID {
			t.Fatalf("unexpected job in error list: %+v", j)
		}
	}
}

package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/sse"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// StudioNotifier pushes concierge progress to connected clients. The
// channel is the session ID so a front-end subscribes once per
// conversation.
type StudioNotifier interface {
	JobCreated(sessionID uuid.UUID, job *types.JobRun)
	JobDone(sessionID uuid.UUID, job *types.JobRun)
	JobFailed(sessionID uuid.UUID, job *types.JobRun, errorMessage string)
	VariantsReady(sessionID uuid.UUID, jobID uuid.UUID, variants []*types.ConceptVariant)
	SketchFinalized(sessionID uuid.UUID, sketch *types.FinalSketch)
	ARPackReady(sessionID uuid.UUID, pack *types.ARPack)
	StageChanged(sessionID uuid.UUID, from, to string)
}

type studioNotifier struct {
	hub *sse.SSEHub
	bus SSEBus
}

// NewStudioNotifier broadcasts through the local hub and, when a bus is
// configured, publishes for other instances too.
func NewStudioNotifier(hub *sse.SSEHub, bus SSEBus) StudioNotifier {
	return &studioNotifier{hub: hub, bus: bus}
}

func (n *studioNotifier) emit(msg sse.SSEMessage) {
	if n == nil || msg.Channel == "" {
		return
	}
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
	if n.bus != nil {
		_ = n.bus.Publish(context.Background(), msg)
	}
}

func (n *studioNotifier) JobCreated(sessionID uuid.UUID, job *types.JobRun) {
	n.emit(sse.SSEMessage{
		Channel: sessionID.String(),
		Event:   sse.SSEEventJobCreated,
		Data:    map[string]any{"job": job},
	})
}

func (n *studioNotifier) JobDone(sessionID uuid.UUID, job *types.JobRun) {
	n.emit(sse.SSEMessage{
		Channel: sessionID.String(),
		Event:   sse.SSEEventJobDone,
		Data: map[string]any{
			"job_id":   safeJobID(job),
			"job_type": safeJobType(job),
			"job":      job,
		},
	})
}

func (n *studioNotifier) JobFailed(sessionID uuid.UUID, job *types.JobRun, errorMessage string) {
	n.emit(sse.SSEMessage{
		Channel: sessionID.String(),
		Event:   sse.SSEEventJobFailed,
		Data: map[string]any{
			"job_id":   safeJobID(job),
			"job_type": safeJobType(job),
			"error":    errorMessage,
			"job":      job,
		},
	})
}

func (n *studioNotifier) VariantsReady(sessionID uuid.UUID, jobID uuid.UUID, variants []*types.ConceptVariant) {
	n.emit(sse.SSEMessage{
		Channel: sessionID.String(),
		Event:   sse.SSEEventVariantsReady,
		Data: map[string]any{
			"job_id":   jobID,
			"variants": variants,
		},
	})
}

func (n *studioNotifier) SketchFinalized(sessionID uuid.UUID, sketch *types.FinalSketch) {
	n.emit(sse.SSEMessage{
		Channel: sessionID.String(),
		Event:   sse.SSEEventSketchFinalized,
		Data:    map[string]any{"sketch": sketch},
	})
}

func (n *studioNotifier) ARPackReady(sessionID uuid.UUID, pack *types.ARPack) {
	n.emit(sse.SSEMessage{
		Channel: sessionID.String(),
		Event:   sse.SSEEventARPackReady,
		Data:    map[string]any{"ar_pack": pack},
	})
}

func (n *studioNotifier) StageChanged(sessionID uuid.UUID, from, to string) {
	n.emit(sse.SSEMessage{
		Channel: sessionID.String(),
		Event:   sse.SSEEventSessionStageChanged,
		Data: map[string]any{
			"from": from,
			"to":   to,
		},
	})
}

func safeJobID(job *types.JobRun) uuid.UUID {
	if job == nil {
		return uuid.Nil
	}
	return job.ID
}

func safeJobType(job *types.JobRun) string {
	if job == nil {
		return ""
	}
	return job.JobType
}

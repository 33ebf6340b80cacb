package services

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/inkflowhq/inkflow-backend/internal/types"
)

// Completed actions that drive stage transitions. Stages never move on
// readiness score alone.
const (
	TransitionMessageProcessed = "message_processed"
	TransitionConceptGenerated = "concept_generated"
	TransitionSketchFinalized  = "sketch_finalized"
	TransitionBookingRequested = "booking_requested"
	TransitionDepositRequested = "deposit_requested"
	TransitionDepositPaid      = "deposit_paid"
)

type transitionKey struct {
	stage  string
	action string
}

var stageTransitions = map[transitionKey]string{
	{types.StageDiscovery, TransitionMessageProcessed}:       types.StageBriefBuilding,
	{types.StageDiscovery, TransitionConceptGenerated}:       types.StageDesignAlignment,
	{types.StageBriefBuilding, TransitionConceptGenerated}:   types.StageDesignAlignment,
	{types.StageDesignAlignment, TransitionConceptGenerated}: types.StageDesignAlignment,
	{types.StageDesignAlignment, TransitionSketchFinalized}:  types.StagePreviewReady,
	{types.StagePreviewReady, TransitionSketchFinalized}:     types.StagePreviewReady,
	{types.StagePreviewReady, TransitionBookingRequested}:    types.StageScheduling,
	{types.StageScheduling, TransitionDepositRequested}:      types.StageDeposit,
	{types.StageDeposit, TransitionDepositPaid}:              types.StageConfirmed,
}

// NextStage resolves the transition table. Re-processing a message in a
// later stage is a no-op rather than an error; everything else not in
// the table is illegal.
func NextStage(current, completedAction string) (string, error) {
	if next, ok := stageTransitions[transitionKey{current, completedAction}]; ok {
		return next, nil
	}
	if completedAction == TransitionMessageProcessed && types.StageRank(current) >= types.StageRank(types.StageBriefBuilding) {
		return current, nil
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, completedAction)
}

// SessionLocks serializes mutations per session so each conversation
// stays single-writer inside this process. Cross-session work never
// contends.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (s *SessionLocks) Lock(id uuid.UUID) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

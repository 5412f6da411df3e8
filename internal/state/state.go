package state

import (
	"time"

	"github.com/google/uuid"
)

// State is the orchestrator's control state.
type State string

const (
	Idle           State = "IDLE"
	Recording      State = "RECORDING"
	Capturing      State = "CAPTURING"
	Transcribing   State = "TRANSCRIBING"
	AnalyzingImage State = "ANALYZING_IMAGE"
	Synthesizing   State = "SYNTHESIZING"
	Speaking       State = "SPEAKING"
	Error          State = "ERROR"
)

// All lists every state in pipeline order, ERROR last.
var All = []State{Idle, Recording, Capturing, Transcribing, AnalyzingImage, Synthesizing, Speaking, Error}

func (s State) String() string { return string(s) }

// Busy reports whether a question/answer cycle is in flight, i.e. a press
// arriving now must be discarded.
func (s State) Busy() bool {
	switch s {
	case Capturing, Transcribing, AnalyzingImage, Synthesizing, Speaking, Error:
		return true
	default:
		return false
	}
}

// CanTransition enforces the allowed state machine edges.
func CanTransition(from, to State) bool {
	if to == Error {
		return from != Idle && from != Error
	}

	switch from {
	case Idle:
		return to == Recording
	case Recording:
		// IDLE only through shutdown of a live recording.
		return to == Capturing || to == Idle
	case Capturing:
		return to == Transcribing
	case Transcribing:
		return to == AnalyzingImage
	case AnalyzingImage:
		return to == Synthesizing
	case Synthesizing:
		return to == Speaking
	case Speaking, Error:
		return to == Idle
	default:
		return false
	}
}

// Session holds everything produced by one question/answer cycle.
type Session struct {
	ID           string
	CreatedAt    time.Time
	AudioPath    string
	ImagePath    string
	Transcript   string
	Description  string
	ResponsePath string
}

// NewSession creates a session stamped at now.
func NewSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
	}
}

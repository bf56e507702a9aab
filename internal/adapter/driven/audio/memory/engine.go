package memory

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/mumblecall/internal/core/domain"
	"github.com/Wyydra/mumblecall/internal/core/port"
)

// AudioEngine tracks which session owns the audio path and forwards
// changes to the next subsystem. Only one session may transmit: activating
// a second one first deactivates the first, and repeated calls are
// absorbed here.
type AudioEngine struct {
	mu     sync.Mutex
	next   port.AudioSubsystem
	active domain.SessionID
}

func NewAudioEngine(next port.AudioSubsystem) *AudioEngine {
	return &AudioEngine{next: next}
}

func (e *AudioEngine) Activate(session domain.SessionID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == session {
		return nil
	}
	if !e.active.IsZero() {
		log.Warn().Str("session_id", e.active.String()).Msg("Audio still owned by previous session, releasing")
		if err := e.next.Deactivate(e.active); err != nil {
			log.Error().Err(err).Str("session_id", e.active.String()).Msg("Failed to release audio")
		}
	}
	e.active = session
	return e.next.Activate(session)
}

func (e *AudioEngine) Deactivate(session domain.SessionID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != session {
		return nil
	}
	e.active = domain.SessionID{}
	return e.next.Deactivate(session)
}

// holder returns the session currently holding audio.
func (e *AudioEngine) holder() (domain.SessionID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, !e.active.IsZero()
}

package session

import (
	"context"

	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/statestore"
)

// persistLocked queues a snapshot of the conversation for saving. Only the
// newest pending snapshot is kept.
func (s *Session) persistLocked() {
	if s.cfg.Store == nil {
		return
	}
	id := s.machine.ConversationID()
	if id == "" {
		return
	}

	snap := &statestore.ConversationState{
		ID:       id,
		Session:  s.machine.Session(),
		Items:    s.machine.Items(),
		Metadata: s.cfg.StoreMetadata,
	}
	if snap.Session != nil {
		snap.SessionID = snap.Session.ID
	}

	// The actor is the only producer, so draining then sending cannot block.
	select {
	case s.persistCh <- snap:
	default:
		select {
		case <-s.persistCh:
		default:
		}
		s.persistCh <- snap
	}
}

func (s *Session) persistLoop() {
	for snap := range s.persistCh {
		ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.PersistTimeout)
		if err := s.cfg.Store.Save(ctx, snap); err != nil {
			logger.WarnContext(s.baseCtx, "failed to persist conversation",
				"conversation_id", snap.ID, "error", err)
		}
		cancel()
	}
}

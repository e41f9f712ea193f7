package audio

import (
	"fmt"
	"strings"
	"sync"
)

// InterruptionStrategy determines how local user speech affects agent playback.
type InterruptionStrategy int

const (
	// InterruptionImmediate interrupts playback as soon as the user speaks.
	InterruptionImmediate InterruptionStrategy = iota
	// InterruptionIgnore never interrupts playback.
	InterruptionIgnore
)

// String returns a human-readable representation of the interruption strategy.
func (s InterruptionStrategy) String() string {
	switch s {
	case InterruptionIgnore:
		return "ignore"
	case InterruptionImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// ParseInterruptionStrategy parses "ignore" or "immediate".
func ParseInterruptionStrategy(s string) (InterruptionStrategy, error) {
	switch strings.ToLower(s) {
	case "ignore":
		return InterruptionIgnore, nil
	case "", "immediate":
		return InterruptionImmediate, nil
	default:
		return 0, fmt.Errorf("unknown interruption strategy %q", s)
	}
}

// InterruptionHandler decides when user speech should cut off agent
// playback. It fires at most once per utterance: after an interruption it
// waits for the user to go quiet before it can fire again.
type InterruptionHandler struct {
	strategy InterruptionStrategy

	mu          sync.Mutex
	interrupted bool
}

// NewInterruptionHandler creates a handler with the given strategy.
func NewInterruptionHandler(strategy InterruptionStrategy) *InterruptionHandler {
	return &InterruptionHandler{strategy: strategy}
}

// Strategy returns the configured strategy.
func (h *InterruptionHandler) Strategy() InterruptionStrategy {
	return h.strategy
}

// ProcessVADState reports whether playback should be interrupted given a
// new VAD state and whether the agent is currently audible.
func (h *InterruptionHandler) ProcessVADState(state VADState, agentPlaying bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if state == VADStateQuiet {
		h.interrupted = false
		return false
	}
	if h.strategy == InterruptionIgnore || !agentPlaying || h.interrupted {
		return false
	}
	if state == VADStateSpeaking {
		h.interrupted = true
		return true
	}
	return false
}

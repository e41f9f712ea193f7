package audio

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Default VAD parameter values.
const (
	DefaultVADConfidence = 0.5
	DefaultVADStartSecs  = 0.2
	DefaultVADStopSecs   = 0.8
	DefaultVADMinVolume  = 0.01
)

const (
	stateChangeBufferSize = 16
	smoothingAlpha        = 0.3
	maxExpectedRMS        = 0.5
)

// VADState is the voice activity state of the local speaker.
type VADState int

const (
	// VADStateQuiet indicates no voice activity.
	VADStateQuiet VADState = iota
	// VADStateStarting indicates voice that has not yet lasted StartSecs.
	VADStateStarting
	// VADStateSpeaking indicates active speech.
	VADStateSpeaking
	// VADStateStopping indicates silence that has not yet lasted StopSecs.
	VADStateStopping
)

// String returns a human-readable representation of the VAD state.
func (s VADState) String() string {
	switch s {
	case VADStateQuiet:
		return "quiet"
	case VADStateStarting:
		return "starting"
	case VADStateSpeaking:
		return "speaking"
	case VADStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// VADParams configures voice activity detection.
type VADParams struct {
	// Confidence is the probability (0.0-1.0) at which audio counts as voice.
	Confidence float64
	// StartSecs of voice are required before entering VADStateSpeaking.
	StartSecs float64
	// StopSecs of silence are required before returning to VADStateQuiet.
	StopSecs float64
	// MinVolume is the RMS below which audio is silence.
	MinVolume float64
}

// DefaultVADParams returns sensible defaults for voice activity detection.
func DefaultVADParams() VADParams {
	return VADParams{
		Confidence: DefaultVADConfidence,
		StartSecs:  DefaultVADStartSecs,
		StopSecs:   DefaultVADStopSecs,
		MinVolume:  DefaultVADMinVolume,
	}
}

// Validate checks that VAD parameters are within acceptable ranges.
func (p VADParams) Validate() error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return &ValidationError{Field: "Confidence", Message: "must be between 0.0 and 1.0"}
	}
	if p.StartSecs < 0 {
		return &ValidationError{Field: "StartSecs", Message: "must be non-negative"}
	}
	if p.StopSecs < 0 {
		return &ValidationError{Field: "StopSecs", Message: "must be non-negative"}
	}
	if p.MinVolume < 0 || p.MinVolume > 1 {
		return &ValidationError{Field: "MinVolume", Message: "must be between 0.0 and 1.0"}
	}
	return nil
}

// ValidationError represents a parameter validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// VADEvent is a VAD state transition.
type VADEvent struct {
	State      VADState
	PrevState  VADState
	At         time.Duration // audio time of the transition
	Confidence float64
}

// SimpleVAD detects voice from the RMS level of mono PCM16 audio. Time is
// measured in audio, not wall clock: each analyzed buffer advances the
// clock by its own duration.
type SimpleVAD struct {
	params     VADParams
	sampleRate int

	mu          sync.Mutex
	state       VADState
	clock       time.Duration
	stateStart  time.Duration
	smoothedRMS float64
	stateChange chan VADEvent
}

// NewSimpleVAD creates a SimpleVAD for PCM16 mono audio at sampleRate.
func NewSimpleVAD(params VADParams, sampleRate int) (*SimpleVAD, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, &ValidationError{Field: "SampleRate", Message: "must be positive"}
	}
	return &SimpleVAD{
		params:      params,
		sampleRate:  sampleRate,
		stateChange: make(chan VADEvent, stateChangeBufferSize),
	}, nil
}

// Name returns the analyzer identifier.
func (v *SimpleVAD) Name() string {
	return "simple-rms"
}

// Analyze processes audio and returns the voice probability.
func (v *SimpleVAD) Analyze(_ context.Context, audio []byte) (float64, error) {
	samples := len(audio) / 2
	if samples == 0 {
		return 0, nil
	}
	rms := calculateRMS(audio[:samples*2])

	v.mu.Lock()
	defer v.mu.Unlock()

	v.smoothedRMS = smoothingAlpha*rms + (1-smoothingAlpha)*v.smoothedRMS
	probability := v.rmsToProbability(v.smoothedRMS)

	v.clock += time.Duration(int64(samples) * int64(time.Second) / int64(v.sampleRate))
	v.updateState(probability)
	return probability, nil
}

func calculateRMS(audio []byte) float64 {
	n := len(audio) / 2
	var sumSquares float64
	for i := 0; i < n; i++ {
		//nolint:gosec // PCM16 samples use the full int16 range
		s := float64(int16(binary.LittleEndian.Uint16(audio[i*2:]))) / pcm16Scale
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(n))
}

func (v *SimpleVAD) rmsToProbability(rms float64) float64 {
	if rms <= v.params.MinVolume {
		return 0
	}
	p := (rms - v.params.MinVolume) / (maxExpectedRMS - v.params.MinVolume)
	return math.Min(1, math.Max(0, p))
}

func (v *SimpleVAD) nextState(current VADState, probability, inState float64) VADState {
	voiced := probability >= v.params.Confidence

	switch current {
	case VADStateQuiet:
		if voiced {
			if v.params.StartSecs == 0 {
				return VADStateSpeaking
			}
			return VADStateStarting
		}
	case VADStateStarting:
		if !voiced {
			return VADStateQuiet
		}
		if inState >= v.params.StartSecs {
			return VADStateSpeaking
		}
	case VADStateSpeaking:
		if !voiced {
			return VADStateStopping
		}
	case VADStateStopping:
		if voiced {
			return VADStateSpeaking
		}
		if inState >= v.params.StopSecs {
			return VADStateQuiet
		}
	}
	return current
}

// updateState advances the state machine. Callers hold v.mu.
func (v *SimpleVAD) updateState(probability float64) {
	next := v.nextState(v.state, probability, (v.clock - v.stateStart).Seconds())
	if next == v.state {
		return
	}
	ev := VADEvent{State: next, PrevState: v.state, At: v.clock, Confidence: probability}
	v.state = next
	v.stateStart = v.clock

	select {
	case v.stateChange <- ev:
	default:
	}
}

// State returns the current VAD state.
func (v *SimpleVAD) State() VADState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// OnStateChange returns a buffered channel of state transitions. Events are
// dropped when it is full.
func (v *SimpleVAD) OnStateChange() <-chan VADEvent {
	return v.stateChange
}

// Reset returns the detector to quiet and drains pending events.
func (v *SimpleVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state = VADStateQuiet
	v.clock, v.stateStart = 0, 0
	v.smoothedRMS = 0
	for len(v.stateChange) > 0 {
		<-v.stateChange
	}
}

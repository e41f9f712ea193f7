package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/AltairaLabs/realtime-voice/audio"
	"github.com/AltairaLabs/realtime-voice/conversation"
	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/metrics/prometheus"
	"github.com/AltairaLabs/realtime-voice/protocol"
	"github.com/AltairaLabs/realtime-voice/telemetry"
	"github.com/AltairaLabs/realtime-voice/transport"
)

// voice is the audio side of a session while voice handling is active.
// Either pipeline may be nil when its device is not configured.
type voice struct {
	capture  *audio.CapturePipeline
	playback *audio.PlaybackPipeline
	detector *speechDetector

	unobserve func()

	// mutedItem is an interrupted item whose late audio deltas are dropped.
	mutedItem string
}

func (v *voice) playing() bool {
	return v != nil && v.playback != nil && v.playback.IsPlaying()
}

// speechDetector runs local VAD on the capture sender goroutine. It is
// the only writer of speech.
type speechDetector struct {
	vad           *audio.SimpleVAD
	interruptions *audio.InterruptionHandler
	speech        chan bool
}

// StartHandlingVoice starts the output device and microphone capture.
// Calling it while voice handling is active does nothing. If a converter
// cannot be built for a device the error wraps
// audio.ErrConverterInitializationFailed and nothing is started.
func (s *Session) StartHandlingVoice(ctx context.Context) (err error) {
	_, span := telemetry.StartSpan(ctx, s.tracer, telemetry.SpanStartVoice)
	defer func() { telemetry.End(span, err) }()

	if s.closed.Load() {
		return ErrClosed
	}
	s.do(func() { err = s.startVoiceLocked() })
	return err
}

func (s *Session) startVoiceLocked() error {
	if s.voice != nil {
		return nil
	}
	if s.cfg.Capture == nil && s.cfg.Output == nil {
		return ErrNoAudioDevices
	}

	v := &voice{}

	if s.cfg.Output != nil {
		playback, err := audio.NewPlaybackPipeline(s.cfg.Output, s.cfg.WireFormat)
		if err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
		v.playback = playback
	}

	if s.cfg.Capture != nil {
		if s.cfg.LocalVAD != nil {
			vad, err := audio.NewSimpleVAD(*s.cfg.LocalVAD, s.cfg.WireFormat.SampleRate)
			if err != nil {
				return fmt.Errorf("failed to start local VAD: %w", err)
			}
			v.detector = &speechDetector{
				vad:           vad,
				interruptions: audio.NewInterruptionHandler(s.cfg.Interruption),
				speech:        s.speech,
			}
		}
		sink := newCaptureSink(s.transport, &s.ended, v.playback, v.detector, s.bargeIn)
		capture, err := audio.NewCapturePipeline(s.cfg.Capture, audio.CaptureConfig{
			Target:      s.cfg.WireFormat,
			ChunkFrames: s.cfg.ChunkFrames,
			QueueSize:   s.cfg.CaptureQueueSize,
		}, sink)
		if err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
		v.capture = capture
	}

	if v.playback != nil {
		if err := v.playback.Start(s.ctx); err != nil {
			return fmt.Errorf("failed to start output device: %w", err)
		}
		updates := s.updates
		v.unobserve = v.playback.Queue().Observe(func(bool) {
			updates.Publish(conversation.ChangePlaying)
		})
	}
	if v.capture != nil {
		if err := v.capture.Start(s.ctx); err != nil {
			err = fmt.Errorf("failed to start capture device: %w", err)
			if v.playback != nil {
				v.unobserve()
				if stopErr := v.playback.Stop(); stopErr != nil {
					err = errors.Join(err, fmt.Errorf("failed to stop output device: %w", stopErr))
				}
			}
			return err
		}
	}

	s.voice = v
	logger.InfoContext(s.logCtx, "voice handling started",
		"capture", v.capture != nil, "playback", v.playback != nil, "local_vad", v.detector != nil)
	s.updates.Publish(conversation.ChangeVoice)
	return nil
}

// StopHandlingVoice stops capture and playback and waits for the devices
// to stop. It is safe to call when voice handling is not active.
func (s *Session) StopHandlingVoice() error {
	var err error
	s.do(func() { err = s.stopVoiceLocked() })
	return err
}

func (s *Session) stopVoiceLocked() error {
	v := s.voice
	if v == nil {
		return nil
	}
	s.voice = nil

	var errs []error
	if v.capture != nil {
		errs = append(errs, v.capture.Stop())
	}
	if v.playback != nil {
		if v.playback.IsPlaying() {
			prometheus.RecordInterruption(prometheus.ReasonStop)
		}
		errs = append(errs, v.playback.Stop())
		v.unobserve()
	}
	if v.detector != nil {
		// Capture has stopped, so nothing refills speech.
		select {
		case <-s.speech:
		default:
		}
		s.userSpeechLocked(false)
	}

	logger.InfoContext(s.logCtx, "voice handling stopped")
	s.updates.Publish(conversation.ChangeVoice)
	return errors.Join(errs...)
}

// StartListening resumes microphone capture. Voice handling must be active.
func (s *Session) StartListening() error {
	if s.closed.Load() {
		return ErrClosed
	}
	var err error
	s.do(func() {
		switch {
		case s.voice == nil || s.voice.capture == nil:
			err = audio.ErrNotHandlingVoice
		case s.voice.capture.IsListening():
		default:
			if err = s.voice.capture.Start(s.ctx); err == nil {
				s.updates.Publish(conversation.ChangeVoice)
			}
		}
	})
	return err
}

// StopListening pauses microphone capture. It is safe to call at any time.
func (s *Session) StopListening() error {
	var err error
	s.do(func() {
		if s.voice == nil || s.voice.capture == nil || !s.voice.capture.IsListening() {
			return
		}
		if err = s.voice.capture.Stop(); err == nil {
			s.updates.Publish(conversation.ChangeVoice)
		}
	})
	return err
}

// Interrupt stops model audio immediately and discards what is queued.
// When an item was audible the server is told how much of it was heard.
func (s *Session) Interrupt(ctx context.Context) error {
	return s.interrupt(ctx, prometheus.ReasonExplicit)
}

func (s *Session) interrupt(ctx context.Context, reason string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, telemetry.SpanInterrupt, telemetry.AttrReason.String(reason))
	defer func() { telemetry.End(span, err) }()

	var res audio.Interruption
	s.do(func() { res = s.interruptLocked(reason) })
	if !res.WasPlaying || res.ItemID == "" {
		return nil
	}
	return s.Send(ctx, truncateFor(res))
}

// interruptLocked clears playback and mutes the interrupted item.
func (s *Session) interruptLocked(reason string) audio.Interruption {
	v := s.voice
	if !v.playing() {
		return audio.Interruption{}
	}
	res := v.playback.Interrupt()
	if res.ItemID != "" {
		v.mutedItem = res.ItemID
	}
	prometheus.RecordInterruption(reason)
	logger.InfoContext(s.logCtx, "playback interrupted",
		"reason", reason, "item_id", res.ItemID,
		"played_ms", res.Played.Milliseconds(), "discarded", res.Discarded)
	return res
}

// bargeInLocked interrupts on behalf of the user. The truncation goes out
// through the outbound queue so the actor never waits on the network.
func (s *Session) bargeInLocked(reason string) {
	res := s.interruptLocked(reason)
	if res.WasPlaying && res.ItemID != "" {
		s.enqueueOutbound(truncateFor(res))
	}
}

// userSpeechLocked applies a local VAD speaking transition.
func (s *Session) userSpeechLocked(speaking bool) {
	if d := s.machine.SetUserSpeaking(speaking); d.Changes != 0 {
		s.updates.Publish(d.Changes)
	}
}

func truncateFor(res audio.Interruption) *protocol.ConversationItemTruncateEvent {
	return protocol.NewItemTruncate(res.ItemID, 0, int(res.Played/time.Millisecond))
}

// playLocked routes decoded model audio to playback.
func (s *Session) playLocked(chunk *conversation.AudioChunk) {
	v := s.voice
	if v == nil || v.playback == nil {
		return
	}
	if chunk.ItemID != "" && chunk.ItemID == v.mutedItem {
		return
	}
	// Conversion failures are logged and counted by the pipeline.
	_ = v.playback.Enqueue(chunk.ItemID, chunk.Data)
}

// HandlingVoice reports whether voice handling is active.
func (s *Session) HandlingVoice() bool {
	var active bool
	s.do(func() { active = s.voice != nil })
	return active
}

// IsListening reports whether the microphone is being captured.
func (s *Session) IsListening() bool {
	var listening bool
	s.do(func() { listening = s.voice != nil && s.voice.capture != nil && s.voice.capture.IsListening() })
	return listening
}

// IsPlaying reports whether model audio is queued or being rendered.
func (s *Session) IsPlaying() bool {
	var playing bool
	s.do(func() { playing = s.voice.playing() })
	return playing
}

// newCaptureSink returns the capture sender callback. It holds only the
// handles it needs: the transport, the stream-ended flag, the playback
// pipeline for barge-in decisions and the barge-in channel to the actor.
func newCaptureSink(
	tr transport.Transport,
	ended *atomic.Bool,
	playback *audio.PlaybackPipeline,
	detector *speechDetector,
	bargeIn chan<- string,
) audio.CaptureSink {
	failLog := &rate.Sometimes{Interval: time.Second}

	return func(ctx context.Context, buf audio.Buffer) {
		if detector != nil {
			detector.process(ctx, buf, playback, bargeIn)
		}
		if ended.Load() {
			return
		}
		if err := tr.Send(ctx, protocol.NewInputAudioAppend(buf.Data)); err != nil && ctx.Err() == nil {
			failLog.Do(func() {
				logger.WarnContext(ctx, "failed to send captured audio", "error", err)
			})
		}
	}
}

func (d *speechDetector) process(ctx context.Context, buf audio.Buffer, playback *audio.PlaybackPipeline, bargeIn chan<- string) {
	if _, err := d.vad.Analyze(ctx, buf.Data); err != nil {
		return
	}
	for {
		select {
		case ev := <-d.vad.OnStateChange():
			switch ev.State {
			case audio.VADStateSpeaking:
				d.setSpeaking(true)
			case audio.VADStateQuiet:
				d.setSpeaking(false)
			}
			playing := playback != nil && playback.IsPlaying()
			if d.interruptions.ProcessVADState(ev.State, playing) {
				select {
				case bargeIn <- prometheus.ReasonUserSpeech:
				default:
				}
			}
		default:
			return
		}
	}
}

// setSpeaking hands the latest speaking state to the actor without
// blocking. An older pending value is replaced.
func (d *speechDetector) setSpeaking(speaking bool) {
	select {
	case d.speech <- speaking:
		return
	default:
	}
	select {
	case <-d.speech:
	default:
	}
	select {
	case d.speech <- speaking:
	default:
	}
}

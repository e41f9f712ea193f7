package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/realtime-voice/audio"
	"github.com/AltairaLabs/realtime-voice/config"
	"github.com/AltairaLabs/realtime-voice/conversation"
	"github.com/AltairaLabs/realtime-voice/devices/portaudio"
	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/metrics/prometheus"
	"github.com/AltairaLabs/realtime-voice/protocol"
	"github.com/AltairaLabs/realtime-voice/session"
	"github.com/AltairaLabs/realtime-voice/telemetry"
)

const (
	flagVoice        = "voice"
	flagInstructions = "instructions"
	flagTextOnly     = "text-only"
	flagInputDevice  = "input-device"
	flagOutputDevice = "output-device"
	flagMetricsAddr  = "metrics-addr"

	connectTimeout  = 15 * time.Second
	shutdownTimeout = 5 * time.Second
)

var (
	errQuit         = errors.New("quit")
	errDisconnected = errors.New("realtime session disconnected")
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start a voice conversation",
	Long: `Start a conversation with the realtime model. Speak into the microphone or
type a line and press enter. Typing while the model speaks interrupts it.

Commands:
  /interrupt  stop the model's audio
  /mute       stop sending microphone audio
  /unmute     resume sending microphone audio
  /quit       end the conversation`,
	RunE: runChat,
}

func init() {
	f := chatCmd.Flags()
	f.String(flagVoice, "", "Voice for model audio (overrides config)")
	f.String(flagInstructions, "", "System instructions (overrides config)")
	f.Bool(flagTextOnly, false, "Do not open audio devices")
	f.String(flagInputDevice, "", "Input device name (default device when empty)")
	f.String(flagOutputDevice, "", "Output device name (default device when empty)")
	f.String(flagMetricsAddr, "", "Serve Prometheus metrics at this address, e.g. :9090")

	_ = viper.BindPFlag(flagVoice, f.Lookup(flagVoice))
	_ = viper.BindPFlag(flagInstructions, f.Lookup(flagInstructions))
	_ = viper.BindPFlag(flagTextOnly, f.Lookup(flagTextOnly))
	_ = viper.BindPFlag(flagInputDevice, f.Lookup(flagInputDevice))
	_ = viper.BindPFlag(flagOutputDevice, f.Lookup(flagOutputDevice))
	_ = viper.BindPFlag(flagMetricsAddr, f.Lookup(flagMetricsAddr))

	rootCmd.AddCommand(chatCmd)
}

// applyOverrides copies command-line settings over the file configuration.
func applyOverrides(cfg *config.Config, v *viper.Viper) {
	if s := v.GetString(flagVoice); s != "" {
		cfg.Session.Voice = s
	}
	if s := v.GetString(flagInstructions); s != "" {
		cfg.Session.Instructions = s
	}
	if s := v.GetString(flagInputDevice); s != "" {
		cfg.Audio.InputDevice = s
	}
	if s := v.GetString(flagOutputDevice); s != "" {
		cfg.Audio.OutputDevice = s
	}
	if s := v.GetString(flagMetricsAddr); s != "" {
		cfg.Metrics.Addr = s
	}
}

// sessionConfig maps the client configuration onto the session engine.
func sessionConfig(cfg *config.Config) session.Config {
	sc := session.Config{
		WireFormat:   cfg.WireFormat(),
		ChunkFrames:  cfg.Audio.ChunkFrames,
		Interruption: cfg.InterruptionStrategy(),
	}
	if cfg.Audio.LocalVAD != nil {
		p := cfg.Audio.LocalVAD.Params()
		sc.LocalVAD = &p
	}
	return sc
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(viper.GetString(flagConfig))
	if err != nil {
		return err
	}
	applyOverrides(cfg, viper.GetViper())

	tools, err := config.NewToolSet(cfg.Tools)
	if err != nil {
		return err
	}
	tc, err := transportConfig(cfg)
	if err != nil {
		return err
	}

	sc := sessionConfig(cfg)

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	sc.Store = store

	if cfg.Tracing.Endpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		telemetry.SetupPropagation()
		sc.TracerProvider = tp
	}

	if !viper.GetBool(flagTextOnly) {
		terminate, err := openDevices(cfg, &sc)
		switch {
		case errors.Is(err, portaudio.ErrUnavailable):
			logger.Warn("audio devices unavailable, continuing with text only", "error", err)
		case err != nil:
			return err
		default:
			defer func() { _ = terminate() }()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		exp := prometheus.NewExporter(cfg.Metrics.Addr)
		g.Go(func() error {
			if err := exp.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return exp.Shutdown(shutdownCtx)
		})
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	sess, err := session.Dial(ctx, tc, sc)
	if err != nil {
		stop()
		_ = g.Wait()
		return err
	}
	defer func() { _ = sess.Close() }()

	con := newConsole(cmd.OutOrStdout(), tools)
	g.Go(func() error { return start(gctx, sess, cfg, tools, con) })
	g.Go(func() error { return render(gctx, sess, con) })
	g.Go(func() error { return readInput(gctx, cmd.InOrStdin(), sess) })

	err = g.Wait()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openDevices opens the PortAudio devices named in cfg and adds them to sc.
func openDevices(cfg *config.Config, sc *session.Config) (func() error, error) {
	terminate, err := portaudio.Init()
	if err != nil {
		return nil, err
	}
	capture, err := portaudio.OpenCapture(cfg.Audio.InputDevice, cfg.Audio.SampleRate)
	if err != nil {
		_ = terminate()
		return nil, fmt.Errorf("failed to open input device: %w", err)
	}
	output, err := portaudio.OpenOutput(cfg.Audio.OutputDevice, cfg.Audio.SampleRate, portaudio.DefaultFramesPerBuffer)
	if err != nil {
		_ = terminate()
		return nil, fmt.Errorf("failed to open output device: %w", err)
	}
	sc.Capture = capture
	sc.Output = output
	return terminate, nil
}

// start waits for the server session, configures it and turns on voice.
func start(ctx context.Context, sess *session.Session, cfg *config.Config, tools *config.ToolSet, con *console) error {
	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sess.WaitForConnection(waitCtx); err != nil {
		return fmt.Errorf("session was not created: %w", err)
	}

	update := cfg.SessionUpdate(tools)
	if err := sess.UpdateSession(ctx, func(s *protocol.Session) { *s = update }); err != nil {
		return fmt.Errorf("failed to configure session: %w", err)
	}

	err := sess.StartHandlingVoice(ctx)
	switch {
	case errors.Is(err, session.ErrNoAudioDevices):
		logger.Info("no audio devices, text only")
	case err != nil:
		return err
	}
	logger.Info("connected", "session_id", sess.Session().ID, "voice", sess.HandlingVoice())
	return nil
}

// render prints conversation changes and answers function calls until the
// session ends.
func render(ctx context.Context, sess *session.Session, con *console) error {
	updates, unsubscribe := sess.SubscribeUpdates()
	defer unsubscribe()
	errs, unsubscribeErrs := sess.SubscribeErrors()
	defer unsubscribeErrs()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case detail, ok := <-errs:
			if !ok {
				return errDisconnected
			}
			con.serverError(detail)

		case change, ok := <-updates:
			if !ok {
				return errDisconnected
			}
			if change.Has(conversation.ChangeConnected) && !sess.Connected() {
				con.notice("disconnected")
				return errDisconnected
			}
			if !change.Has(conversation.ChangeItems) {
				continue
			}
			calls := con.refresh(sess.Entries())
			if err := answer(ctx, sess, calls); err != nil {
				logger.Warn("failed to answer function call", "error", err)
			}
		}
	}
}

// answer returns function outputs and asks for the model's next response.
func answer(ctx context.Context, sess *session.Session, calls []functionCall) error {
	if len(calls) == 0 {
		return nil
	}
	for _, c := range calls {
		if err := sess.SendFunctionOutput(ctx, c.CallID, c.Output); err != nil {
			return err
		}
	}
	return sess.Send(ctx, protocol.NewResponseCreate(nil))
}

// readInput sends typed lines as user messages and handles slash commands.
func readInput(ctx context.Context, in io.Reader, sess *session.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if sess.HandlingVoice() {
					<-ctx.Done()
					return ctx.Err()
				}
				return errQuit
			}
			if err := handleLine(ctx, sess, strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					return err
				}
				logger.Warn("command failed", "error", err)
			}
		}
	}
}

func handleLine(ctx context.Context, sess *session.Session, line string) error {
	switch line {
	case "":
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/interrupt":
		return sess.Interrupt(ctx)
	case "/mute":
		return sess.StopListening()
	case "/unmute":
		err := sess.StartListening()
		if errors.Is(err, audio.ErrNotHandlingVoice) {
			return errors.New("no microphone")
		}
		return err
	default:
		return sess.SendText(ctx, protocol.RoleUser, line, nil)
	}
}

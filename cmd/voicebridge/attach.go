package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"voicebridge/internal/browser"
	"voicebridge/internal/bus"
	"voicebridge/internal/config"
	"voicebridge/internal/directline"
	"voicebridge/internal/domain"
	"voicebridge/internal/monitor"
	"voicebridge/internal/source"
	"voicebridge/internal/speech"
	"voicebridge/internal/wave"

	"github.com/spf13/cobra"
)

func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Attach the voice overlay to the configured chat source",
		Long:  "Builds the configured message source (Direct Line polling or widget observation), wires speech, waveform, and monitor, and runs until Ctrl+C.",
		RunE:  runAttach,
	}
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, cleanup, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New(100, log)
	defer eventBus.Close()

	var renderer *wave.Renderer
	if cfg.Wave.Enabled {
		renderer = wave.NewRenderer(wave.Config{Width: cfg.Wave.Width, Layers: cfg.Wave.Layers})
		renderer.Start()
		defer renderer.Stop()
	}
	setWaveActive := func(active bool) {
		if renderer != nil {
			renderer.SetActive(active)
		}
	}

	speaker := newSpeaker(cfg, eventBus, setWaveActive, log)
	if speaker != nil {
		if err := speaker.Start(ctx); err != nil {
			return fmt.Errorf("speaker: %w", err)
		}
		defer speaker.Stop()
	}

	// Fresh bot messages fan out from the bus: the speaker voices them, the
	// monitor streams them.
	eventBus.On(bus.KindBotReply, func(ev bus.Event) {
		if speaker != nil {
			speaker.Say(ev.Text)
		}
	})

	reportErr := func(src string) func(error) {
		return func(err error) {
			eventBus.Publish(bus.Event{Kind: bus.KindSourceError, Source: src, Text: err.Error()})
		}
	}

	// sendTranscript forwards a finalized user utterance to the bot. Only the
	// widget source has a return path (typing into the widget input).
	var sendTranscript func(text string)

	var src domain.MessageSource
	switch cfg.Source.Mode {
	case "poll":
		client := directline.NewClient(directline.ClientConfig{
			BaseURL: cfg.DirectLine.BaseURL,
			Logger:  log,
		})
		src = source.NewPoller(source.PollerConfig{
			Fetcher:        client,
			ConversationID: cfg.DirectLine.ConversationID,
			Token:          cfg.DirectLine.Token,
			Interval:       cfg.DirectLine.PollInterval(),
			Selector:       directline.NewSelector(cfg.DirectLine.BotIDs, cfg.DirectLine.BotNames),
			Deliver: func(msg domain.BotMessage) {
				eventBus.Publish(bus.Event{Kind: bus.KindBotReply, Source: "poll", Text: domain.CleanText(msg.Text)})
			},
			OnError: reportErr("poll"),
			Logger:  log,
		})

	case "widget":
		sel, err := browser.ResolveProfile(cfg.Widget.ProfilesDir, cfg.Widget.Profile, cfg.Widget.URL, log)
		if err != nil {
			return err
		}
		bridge := browser.NewWidgetBridge(browser.BridgeConfig{
			ProfileDir: cfg.Widget.ProfileDir,
			Headless:   cfg.Widget.Headless,
			Selectors:  sel,
			Logger:     log,
		})
		if err := bridge.Attach(ctx); err != nil {
			return err
		}
		defer bridge.Detach()

		sendTranscript = func(text string) {
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if err := bridge.SendMessage(sendCtx, text); err != nil {
				log.Warn("cannot send transcript to widget", "err", err)
			}
		}

		src = source.NewWatcher(source.WatcherConfig{
			Extractor:      bridge,
			Interval:       cfg.Source.FallbackInterval(),
			Window:         cfg.Source.Window(),
			MinLength:      cfg.Source.MinLength,
			RedeliverAfter: cfg.Source.RedeliverAfter(),
			RetryInitial:   cfg.Widget.RetryInitial(),
			RetryMax:       cfg.Widget.RetryMax(),
			Deliver: func(text string) {
				eventBus.Publish(bus.Event{Kind: bus.KindBotReply, Source: "widget", Text: text})
			},
			OnError: reportErr("widget"),
			Logger:  log,
		})

	default:
		return fmt.Errorf("unknown source mode %q", cfg.Source.Mode)
	}

	// Finalized transcripts go to the bus and, when possible, to the bot.
	finalizer := speech.NewFinalizer(speech.FinalizerConfig{
		Silence: cfg.Speech.Silence(),
		OnFinal: func(text string) {
			eventBus.Publish(bus.Event{Kind: bus.KindTranscript, Source: "speech", Text: text})
			if sendTranscript != nil {
				sendTranscript(text)
			}
		},
		Logger: log,
	})
	defer finalizer.Stop()

	if cfg.Monitor.Enabled {
		mon := monitor.NewServer(monitor.Config{
			Port:          cfg.Monitor.Port,
			Path:          cfg.Monitor.Path,
			EnableMetrics: cfg.Metrics.Enabled,
			Bus:           eventBus,
			OnTranscript:  finalizer.Push,
			OnAudio:       newAudioHandler(ctx, cfg, finalizer.Commit, log),
			Logger:        log,
		})
		go func() {
			if err := mon.Start(ctx); err != nil {
				log.Error("monitor server error", "err", err)
			}
		}()
	}

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("start %s source: %w", src.Name(), err)
	}

	log.Info("voice overlay attached. Press Ctrl+C to stop.", "source", src.Name())
	<-ctx.Done()
	log.Info("shutting down...")
	src.Stop()
	return nil
}

// newSpeaker wires text-to-speech for bot replies. Returns nil when speech is
// off or voicing cannot work; a missing API key is reported once here rather
// than on every reply.
func newSpeaker(cfg *config.Config, eventBus *bus.Bus, setWaveActive func(bool), log *slog.Logger) *speech.Speaker {
	if !cfg.Speech.Enabled {
		return nil
	}
	if cfg.Speech.TTS.APIKey == "" {
		log.Warn("text-to-speech unavailable, bot replies will not be voiced", "err", domain.ErrUnsupportedCapability)
		return nil
	}
	synth := speech.NewSynthesizer(speech.SynthesizerConfig{
		Provider: cfg.Speech.TTS.Provider,
		APIBase:  cfg.Speech.TTS.APIBase,
		APIKey:   cfg.Speech.TTS.APIKey,
		Model:    cfg.Speech.TTS.Model,
		Voice:    cfg.Speech.TTS.Voice,
		Logger:   log,
	})
	return speech.NewSpeaker(speech.SpeakerConfig{
		Synth: synth,
		Sink:  newPlayerSink(log),
		OnStart: func(text string) {
			setWaveActive(true)
			eventBus.Publish(bus.Event{Kind: bus.KindSpeechState, Source: "speech", Speaking: true})
		},
		OnEnd: func(text string) {
			setWaveActive(false)
			eventBus.Publish(bus.Event{Kind: bus.KindSpeechState, Source: "speech", Speaking: false})
		},
		OnError: func(err error) { log.Warn("speech error", "err", err) },
		Logger:  log,
	})
}

// newAudioHandler routes recorded clips from monitor clients through the
// transcriber; recognized text is committed as a finalized utterance. Returns
// nil when speech is off or transcription cannot work; a missing API key is
// reported once here rather than per clip.
func newAudioHandler(ctx context.Context, cfg *config.Config, commit func(text string), log *slog.Logger) func(data []byte, format string) {
	if !cfg.Speech.Enabled {
		return nil
	}
	if cfg.Speech.STT.APIKey == "" {
		log.Warn("speech-to-text unavailable, audio clips will be ignored", "err", domain.ErrUnsupportedCapability)
		return nil
	}
	transcriber := speech.NewTranscriber(speech.TranscriberConfig{
		APIBase:  cfg.Speech.STT.APIBase,
		APIKey:   cfg.Speech.STT.APIKey,
		Model:    cfg.Speech.STT.Model,
		Language: cfg.Speech.STT.Language,
		Logger:   log,
	})
	return func(data []byte, format string) {
		if format == "" {
			format = "ogg"
		}
		tctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		result, err := transcriber.Transcribe(tctx, bytes.NewReader(data), "clip."+format)
		if err != nil {
			log.Warn("clip transcription failed", "err", err)
			return
		}
		commit(result.Text)
	}
}

// playerSink plays MP3 audio through an external player. ffplay and mpv both
// read from stdin.
type playerSink struct {
	player string
	args   []string
	logger *slog.Logger
}

func newPlayerSink(logger *slog.Logger) *playerSink {
	if _, err := exec.LookPath("ffplay"); err == nil {
		return &playerSink{player: "ffplay", args: []string{"-autoexit", "-nodisp", "-loglevel", "quiet", "-"}, logger: logger}
	}
	if _, err := exec.LookPath("mpv"); err == nil {
		return &playerSink{player: "mpv", args: []string{"--no-video", "--really-quiet", "-"}, logger: logger}
	}
	return &playerSink{logger: logger}
}

func (p *playerSink) Play(ctx context.Context, audio io.Reader) error {
	if p.player == "" {
		// No player installed: drain so playback timing stays sane.
		_, err := io.Copy(io.Discard, audio)
		p.logger.Warn("no audio player found (ffplay or mpv), discarding audio")
		return err
	}
	cmd := exec.CommandContext(ctx, p.player, p.args...)
	cmd.Stdin = audio
	return cmd.Run()
}

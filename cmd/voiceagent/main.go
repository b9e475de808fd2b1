package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdwoicke/jefferson-dental-sub001/internal/capture"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/config"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/events"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/httpserver"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/logging"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/playback"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider/geminilive"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/provider/openairt"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/recording"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/session"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/storage"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/telephony"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/timing"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/tools"
	"github.com/mdwoicke/jefferson-dental-sub001/internal/transcript"
)

func main() {
	root := &cobra.Command{
		Use:   "voiceagent",
		Short: "Realtime voice agent for dental office scheduling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}

	dial := &cobra.Command{
		Use:   "dial [number]",
		Short: "Place an outbound call via Twilio",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := ""
			if len(args) > 0 {
				to = args[0]
			}
			webhook, _ := cmd.Flags().GetString("webhook")
			return runDial(to, webhook)
		},
	}
	dial.Flags().String("webhook", "", "public URL Twilio fetches call instructions from")
	root.AddCommand(dial)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent(ctx context.Context) error {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component("main")

	inputRate, outputRate := 24000, 24000
	if cfg.Provider == config.ProviderGemini {
		inputRate = geminilive.InputSampleRate
		outputRate = geminilive.OutputSampleRate
	}

	store := transcript.NewStore()

	speaker, err := playback.NewSpeaker(outputRate)
	if err != nil {
		return err
	}
	defer speaker.Close()
	scheduler := playback.NewScheduler(speaker, speaker, outputRate, logging.Component("playback"))

	publisher := events.New(events.Config{
		Brokers:      cfg.KafkaBrokers,
		TopicPartial: cfg.KafkaPartialTopic,
		TopicFinal:   cfg.KafkaFinalTopic,
		SessionID:    fmt.Sprintf("session-%d", time.Now().Unix()),
	})
	defer publisher.Close()

	controller := timing.NewController(store, scheduler.LeadTime, publisher.Publish, logging.Component("timing"))

	registry := tools.Demo(logging.Component("tools"))

	var adapter provider.Adapter
	switch cfg.Provider {
	case config.ProviderGemini:
		adapter = geminilive.New(cfg.GeminiKey, logging.Component("geminilive"))
	default:
		adapter = openairt.New(cfg.OpenAIKey, logging.Component("openairt"))
	}

	model := cfg.OpenAIModel
	if cfg.Provider == config.ProviderGemini {
		model = cfg.GeminiModel
	}
	sessCfg := provider.SessionConfig{
		Model:            model,
		Voice:            cfg.Voice,
		Instructions:     cfg.Instructions,
		Greeting:         cfg.Greeting,
		Tools:            registry.Definitions(),
		Invoker:          registry,
		InputSampleRate:  inputRate,
		OutputSampleRate: outputRate,
	}

	var recorder session.Recorder
	if cfg.RecordingDir != "" {
		rec, err := recording.New(cfg.RecordingDir, outputRate, logging.Component("recording"))
		if err != nil {
			log.Warn().Err(err).Msg("recording disabled")
		} else {
			recorder = rec
		}
	}

	var archive session.Archiver
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		store2, err := storage.New(storage.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseKey,
			Bucket:         cfg.SupabaseBucket,
		}, logging.Component("storage"))
		if err != nil {
			log.Warn().Err(err).Msg("transcript archival disabled")
		} else {
			archive = store2.ArchiveTranscript
		}
	}

	sess := session.New(session.Options{
		Adapter:    adapter,
		Config:     sessCfg,
		Store:      store,
		Scheduler:  scheduler,
		Controller: controller,
		Recorder:   recorder,
		Archive:    archive,
		Log:        logging.Component("session"),
	})

	mic := capture.New(inputRate, sess.ForwardFrame, logging.Component("capture"))

	srv := httpserver.New(store, httpserver.Controls{
		SendText:  sess.SendText,
		SetMuted:  mic.SetMuted,
		Muted:     mic.Muted,
		Interrupt: sess.Interrupt,
		Status: func() map[string]any {
			return map[string]any{
				"provider":         cfg.Provider,
				"connected":        adapter.IsConnected(),
				"audioLeadMs":      scheduler.LeadTime().Milliseconds(),
				"scheduledBuffers": scheduler.ScheduledCount(),
				"micLevel":         mic.Level(),
				"transcriptLen":    store.Len(),
			}
		},
	}, logging.Component("http"))

	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.HTTPAddress); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	if err := sess.Start(ctx); err != nil {
		return err
	}
	if err := mic.Start(cfg.InputDevice); err != nil {
		sess.Close()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("http server failed")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-sess.Done():
		log.Info().Msg("session ended")
	}

	mic.Close()
	sess.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func runDial(to, webhook string) error {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if to == "" {
		to = cfg.TwilioTo
	}
	if to == "" {
		return fmt.Errorf("no destination number: pass one or set TWILIO_TO_NUMBER")
	}
	dialer := telephony.NewDialer(telephony.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		From:       cfg.TwilioFrom,
	}, logging.Component("telephony"))

	sid, err := dialer.Call(to, webhook)
	if err != nil {
		return err
	}
	fmt.Println(sid)
	return nil
}

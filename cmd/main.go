package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ai-stream-fusion-service/internal/app"
	"ai-stream-fusion-service/internal/config"
	"ai-stream-fusion-service/internal/observability"
	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/viewer"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ai-stream-fusion",
		Short:         "Fuse live video text and speech transcripts into one state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(serve, newAskCmd(), newWatchCmd())
	return root
}

// loadConfig loads, validates and applies the logging configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return nil, err
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator, video sampler and speech session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("Failed to create application")
				return err
			}
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Service stopped with error")
				return err
			}
			return nil
		},
	}
}

func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the current OCR and transcript artifacts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.NewAssistant(cfg)
			if err != nil {
				return err
			}
			if a == nil {
				return errors.New("no chat backend configured: set OPENAI_API_KEY or AZURE_OPENAI_ENDPOINT")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), a.Ask(cmd.Context(), strings.Join(args, " ")))
			return err
		},
	}
}

func newWatchCmd() *cobra.Command {
	var (
		addr     string
		lookback time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow published change events and relay them to websocket clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(logging.Config{
				Level:      cfg.Observability.LogLevel,
				Format:     cfg.Observability.LogFormat,
				TimeFormat: time.RFC3339,
			})
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("KAFKA_BROKERS is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := viewer.NewHub()
			defer hub.Close()

			r := chi.NewRouter()
			r.Handle("/ws", hub)
			srv := observability.NewServer(addr, r)
			if err := srv.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			out := cmd.OutOrStdout()
			consumer := viewer.NewConsumer(viewer.ConsumerConfig{
				Brokers:  cfg.Kafka.Brokers,
				Topics:   []string{cfg.Kafka.TopicOCR, cfg.Kafka.TopicPartial, cfg.Kafka.TopicFinal},
				Lookback: lookback,
			})
			var mu sync.Mutex
			err = consumer.Run(ctx, func(ev viewer.Event) {
				mu.Lock()
				fmt.Fprintf(out, "%s [%s] %s\n", ev.EventType, ev.SegmentID, ev.Text)
				mu.Unlock()
				hub.Broadcast(ev)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8081", "websocket listen address")
	cmd.Flags().DurationVar(&lookback, "lookback", time.Hour, "replay events newer than this on start")
	return cmd
}

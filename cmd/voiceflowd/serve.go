package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/svarunid/voiceflow/config"
	"github.com/svarunid/voiceflow/enhancer"
	"github.com/svarunid/voiceflow/livechannel"
	"github.com/svarunid/voiceflow/logger"
	"github.com/svarunid/voiceflow/persona"
	"github.com/svarunid/voiceflow/prompts"
	"github.com/svarunid/voiceflow/providers"
	"github.com/svarunid/voiceflow/server"
	"github.com/svarunid/voiceflow/simulator"
	"github.com/svarunid/voiceflow/storage"
	"github.com/svarunid/voiceflow/store"
	"github.com/svarunid/voiceflow/types"
	"github.com/svarunid/voiceflow/validator"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	defer provider.Close()

	personas, runs, versions, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}

	objects, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	if err := seedVersions(ctx, versions, cfg.Prompts.Pack); err != nil {
		return err
	}

	generator, err := persona.NewGenerator(provider, personas)
	if err != nil {
		return err
	}

	channels := livechannel.NewRegistry()
	sim := simulator.New(simulator.Deps{
		Agent:     provider,
		Persona:   provider,
		Personas:  personas,
		Runs:      runs,
		Versions:  versions,
		Channels:  channels,
		Objects:   objects,
		Validator: validator.New(provider),
	}, simulator.WithTurnTimeout(cfg.Provider.TurnTimeout))

	srv := server.New(server.Deps{
		Personas:  personas,
		Runs:      runs,
		Versions:  versions,
		Generator: generator,
		Simulator: sim,
		Enhancer:  enhancer.New(provider, personas, runs, versions),
		Channels:  channels,
	}, server.WithPort(cfg.Server.Port))

	logger.Info("Starting voiceflow service",
		"port", cfg.Server.Port,
		"provider", cfg.Provider.Name,
		"redis", cfg.Redis.Addr != "",
		"s3", cfg.S3.Bucket != "")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildProvider constructs the configured generative model backend.
func buildProvider(cfg *config.Config) (providers.Provider, error) {
	switch cfg.Provider.Name {
	case "gemini":
		var opts []providers.GeminiOption
		if cfg.Provider.RequestsPerMinute > 0 {
			opts = append(opts, providers.WithRateLimit(float64(cfg.Provider.RequestsPerMinute)/60, 2))
		}
		p := providers.NewGeminiProvider("gemini", cfg.Provider.Model, cfg.Provider.APIKey, opts...)
		logger.Info("Using Gemini provider", "model", p.Model())
		return p, nil
	case "mock":
		// Development backend: scripted short calls that end quickly.
		return providers.NewMockProvider("mock",
			"This is a simulated utterance.",
			"This is a simulated utterance. "+types.EndCallMarker), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider.Name)
	}
}

// buildStores selects Redis or in-memory persistence.
func buildStores(ctx context.Context, cfg *config.Config) (store.PersonaStore, store.RunStore, store.VersionStore, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("Using in-memory stores")
		return store.NewMemoryPersonaStore(), store.NewMemoryRunStore(), store.NewMemoryVersionStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	rs := store.NewRedisStores(client)
	return rs.Personas, rs.Runs, rs.Versions, nil
}

// buildObjectStore selects the S3 or in-memory transcript archive.
func buildObjectStore(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.S3.Bucket == "" {
		return storage.NewMemoryObjectStore(), nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return storage.NewS3ObjectStore(s3.NewFromConfig(awsCfg), cfg.S3.Bucket), nil
}

// seedVersions installs and pins an initial prompt version when the store
// is empty: from the configured pack, or the built-in default.
func seedVersions(ctx context.Context, versions store.VersionStore, packPath string) error {
	existing, err := versions.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	text := prompts.DefaultAgentPrompt
	if packPath != "" {
		pack, err := prompts.LoadPack(packPath)
		if err != nil {
			return err
		}
		text = pack.Spec.Text
		logger.Info("Seeding prompt from pack", "pack", pack.Metadata.Name)
	}

	v, err := versions.Append(ctx, text, types.VersionSource{Kind: types.SourceManual})
	if err != nil {
		return err
	}
	if err := versions.Pin(ctx, v.Version); err != nil {
		return err
	}

	logger.Info("Seeded initial prompt version", "version", v.Version)
	return nil
}

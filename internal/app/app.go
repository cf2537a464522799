// Package app assembles the world server from its parts.
package app

import (
	"context"
	"fmt"
	"log"

	"veldt/internal/ai"
	"veldt/internal/applog"
	"veldt/internal/assets"
	"veldt/internal/blueprint"
	"veldt/internal/config"
	"veldt/internal/deploylock"
	"veldt/internal/script/runtime"
	"veldt/internal/server"
	"veldt/internal/world"
)

type App struct {
	server     *server.Server
	blueprints *blueprint.Store
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := newAssetStore(cfg)
	if err != nil {
		return nil, err
	}
	blueprints := blueprint.NewFromEnv(cfg.BlueprintPath)
	entities := world.NewEntities()
	locks := deploylock.New(0)
	serverLogs := applog.NewServer()

	rt, err := runtime.New(runtime.Options{Assets: store, Logs: serverLogs, HostConsole: true})
	if err != nil {
		return nil, fmt.Errorf("failed to init script runtime: %w", err)
	}
	scripts := world.NewScripts(rt, blueprints, entities, nil)

	var runner *ai.Runner
	if cfg.AI.Enabled {
		gen, err := ai.NewGeminiGenerator(context.Background(), cfg.AI.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to init ai generator: %w", err)
		}
		wrapped := ai.Wrap(gen,
			ai.WithLogging(nil),
			ai.WithTimeout(0),
			ai.WithRetry(3, 0),
		)
		runner = ai.NewRunner(wrapped, blueprints, store, serverLogs, nil)
		log.Printf("ai pipeline: %s", wrapped.Name())
	} else {
		log.Printf("ai pipeline: disabled (no GEMINI_API_KEY)")
	}

	hub := world.NewHub(world.HubOptions{
		Blueprints: blueprints,
		Entities:   entities,
		Locks:      locks,
		Runner:     runner,
		ServerLogs: serverLogs,
		Scripts:    scripts,
		AdminCode:  cfg.AdminCode,
	})
	drafts := world.NewDrafts(blueprints, store, entities, locks, hub.Broadcast, nil)

	mux := newMux(hub, drafts, blueprints, store)
	return &App{
		server:     server.New(cfg.Port, mux),
		blueprints: blueprints,
	}, nil
}

func newAssetStore(cfg *config.Config) (assets.Store, error) {
	if !cfg.Assets.Enabled {
		log.Printf("asset store: in-memory")
		return assets.NewMemoryStore(), nil
	}
	s3, err := assets.NewS3Store(assets.S3Config{
		Endpoint:  cfg.Assets.Endpoint,
		Region:    cfg.Assets.Region,
		AccessKey: cfg.Assets.AccessKey,
		SecretKey: cfg.Assets.SecretKey,
		Bucket:    cfg.Assets.Bucket,
		UseSSL:    cfg.Assets.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize asset s3 store: %w", err)
	}
	log.Printf("asset store: s3 bucket=%s endpoint=%s", cfg.Assets.Bucket, cfg.Assets.Endpoint)
	return s3, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return err
	}
	return a.blueprints.Close()
}

// Package bootstrap turns a validated config into a wired assistant.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/assistant/provider"
	"github.com/theimaginaryfoundation/jarvis/assistant/storage"
	"github.com/theimaginaryfoundation/jarvis/config"
	"github.com/theimaginaryfoundation/jarvis/logging"
)

// Options trims what Build wires for tools that only need part of the pipeline.
type Options struct {
	// SkipLLM leaves the classifier and composer without a generative model.
	SkipLLM bool
	// SkipPlayer leaves music unconfigured even when spotify is enabled.
	SkipPlayer bool
}

// App holds the wired services and the resources that must be closed on shutdown.
type App struct {
	Config       *config.Config
	Catalog      assistant.Catalog
	Embedding    *assistant.EmbeddingService
	Index        *assistant.CorpusIndex
	Learning     *assistant.LearningEngine
	Orchestrator *assistant.Orchestrator

	closers []func() error
}

// Close releases databases and clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Preflight reports missing credentials for the providers cfg selects. Every problem is a
// configuration error.
func Preflight(cfg *config.Config, opts Options) error {
	var errs []error
	if cfg.Embedding.Provider == "openai" && apiKey(cfg.Embedding.APIKey, cfg.LLM.APIKey) == "" {
		errs = append(errs, fmt.Errorf("embedding.api_key (or OPENAI_API_KEY) is required for provider openai: %w", assistant.ErrNotConfigured))
	}
	if !opts.SkipLLM && cfg.LLM.Provider == "openai" && apiKey(cfg.LLM.APIKey, cfg.Embedding.APIKey) == "" {
		errs = append(errs, fmt.Errorf("llm.api_key (or OPENAI_API_KEY) is required for provider openai: %w", assistant.ErrNotConfigured))
	}
	if len(errs) == 0 {
		return nil
	}
	return assistant.E(assistant.KindConfiguration, "preflight", errors.Join(errs...))
}

func apiKey(primary, secondary string) string {
	if primary != "" {
		return primary
	}
	if secondary != "" {
		return secondary
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Build wires every service cfg describes. It performs no corpus build; call
// Orchestrator.Init for that.
func Build(ctx context.Context, cfg *config.Config, log *logging.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}
	if err := Preflight(cfg, opts); err != nil {
		return nil, err
	}
	catalog, err := assistant.LoadCatalog(cfg.Catalog.Path, cfg.Corpus.Dir)
	if err != nil {
		return nil, assistant.E(assistant.KindConfiguration, "catalog", err)
	}

	app := &App{Config: cfg, Catalog: catalog}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	embedder, err := newEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	var classifierLM, composerLM assistant.Completer
	if !opts.SkipLLM {
		classifierLM, composerLM, err = newCompleters(cfg, log)
		if err != nil {
			return nil, err
		}
	}

	var rdb *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		c, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		rdb = c
		app.closers = append(app.closers, c.Close)
		return c, nil
	}

	cache, err := newIndexCache(cfg, app, redisClient)
	if err != nil {
		return nil, assistant.E(assistant.KindPersistence, "index cache", err)
	}
	prefs, err := newPreferenceStore(cfg, redisClient)
	if err != nil {
		return nil, assistant.E(assistant.KindPersistence, "preference store", err)
	}
	ilog, err := newInteractionLog(cfg, app, log)
	if err != nil {
		return nil, assistant.E(assistant.KindPersistence, "interaction log", err)
	}

	var player assistant.Player
	if cfg.Spotify.Enabled && !opts.SkipPlayer {
		sp, err := provider.NewSpotify(ctx, provider.SpotifyOptions{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			APIBase:      cfg.Spotify.APIBase,
			TokenURL:     cfg.Spotify.TokenURL,
			Timeout:      cfg.Spotify.Timeout,
			Breaker:      provider.NewBreaker("spotify", provider.DefaultBreakerOptions(), log),
		})
		if err != nil {
			return nil, err
		}
		player = sp
	}

	bookPolicy, err := assistant.NewPolicy(cfg.Learning.BookPolicy, cfg.Learning.Threshold)
	if err != nil {
		return nil, err
	}
	playlistPolicy, err := assistant.NewPolicy(cfg.Learning.PlaylistPolicy, cfg.Learning.Threshold)
	if err != nil {
		return nil, err
	}

	app.Embedding = assistant.NewEmbeddingService(embedder)
	app.Index = assistant.NewCorpusIndex(catalog.Books, nil, app.Embedding, cache, log)
	app.Learning = assistant.NewLearningEngine(ilog, prefs, log)
	orch, err := assistant.NewOrchestrator(assistant.Deps{
		Index: app.Index,
		Classifier: assistant.NewClassifier(app.Embedding, classifierLM, catalog.Emotions, assistant.ClassifierOptions{
			DefaultEmotion: catalog.DefaultEmotion,
			Timeout:        cfg.LLM.Timeout,
		}, log),
		Retriever: assistant.NewRetriever(app.Index, assistant.RetrieverOptions{MinScore: cfg.Corpus.MinScore}, log),
		Selector:  assistant.NewSelector(app.Embedding, catalog.Books, catalog.Playlists, bookPolicy, playlistPolicy, log),
		Composer:  assistant.NewComposer(composerLM, cfg.LLM.Timeout),
		Music:     assistant.NewMusic(player, log),
		Learning:  app.Learning,
		Catalog:   catalog,
		Log:       log,
	}, assistant.Options{TopK: cfg.Corpus.TopK})
	if err != nil {
		return nil, err
	}
	app.Orchestrator = orch
	ok = true
	log.Info("assistant wired",
		"embedding", embedder.Model(),
		"llm", cfg.LLM.Provider,
		"cache", cfg.Cache.Backend,
		"learning_store", cfg.Learning.Store,
		"log_backend", cfg.Log.Backend,
		"music", player != nil,
	)
	return app, nil
}

// OpenLearning wires only the interaction log and preference store, for tools that never
// embed or generate. Close the returned App when done.
func OpenLearning(ctx context.Context, cfg *config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}
	app := &App{Config: cfg}
	var rdb *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rdb == nil {
			c, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return nil, err
			}
			rdb = c
			app.closers = append(app.closers, c.Close)
		}
		return rdb, nil
	}
	prefs, err := newPreferenceStore(cfg, redisClient)
	if err != nil {
		_ = app.Close()
		return nil, assistant.E(assistant.KindPersistence, "preference store", err)
	}
	ilog, err := newInteractionLog(cfg, app, log)
	if err != nil {
		_ = app.Close()
		return nil, assistant.E(assistant.KindPersistence, "interaction log", err)
	}
	app.Learning = assistant.NewLearningEngine(ilog, prefs, log)
	return app, nil
}

func newEmbedder(cfg *config.Config, log *logging.Logger) (assistant.Embedder, error) {
	breaker := provider.NewBreaker("embedding", provider.DefaultBreakerOptions(), log)
	switch cfg.Embedding.Provider {
	case "openai":
		client := provider.NewOpenAIClient(apiKey(cfg.Embedding.APIKey, cfg.LLM.APIKey), cfg.Embedding.BaseURL)
		return provider.NewOpenAIEmbedder(client, cfg.Embedding.Model, cfg.Embedding.BatchSize, breaker), nil
	case "ollama":
		return provider.NewOllama(provider.OllamaOptions{
			BaseURL:    cfg.Embedding.BaseURL,
			EmbedModel: cfg.Embedding.Model,
			Breaker:    breaker,
		}), nil
	default:
		return nil, assistant.E(assistant.KindConfiguration, "embedding", fmt.Errorf("unknown provider %q", cfg.Embedding.Provider))
	}
}

// newCompleters returns the classifier's model (structured output where supported) and the
// composer's model.
func newCompleters(cfg *config.Config, log *logging.Logger) (assistant.Completer, assistant.Completer, error) {
	breaker := provider.NewBreaker("llm", provider.DefaultBreakerOptions(), log)
	switch cfg.LLM.Provider {
	case "none":
		return nil, nil, nil
	case "openai":
		client := provider.NewOpenAIClient(apiKey(cfg.LLM.APIKey, cfg.Embedding.APIKey), cfg.LLM.BaseURL)
		schema, err := provider.GenerateSchema[assistant.EmotionAnalysis]()
		if err != nil {
			return nil, nil, assistant.E(assistant.KindConfiguration, "llm schema", err)
		}
		classify := provider.NewOpenAICompleter(client, provider.OpenAICompleterOptions{
			Model:           cfg.LLM.Model,
			MaxOutputTokens: 400,
			Schema:          schema,
			SchemaName:      "EmotionAnalysis",
			Retry:           provider.DefaultRetryPolicy(),
			Breaker:         breaker,
		})
		compose := provider.NewOpenAICompleter(client, provider.OpenAICompleterOptions{
			Model:           cfg.LLM.Model,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			Retry:           provider.DefaultRetryPolicy(),
			Breaker:         breaker,
		})
		return classify, compose, nil
	case "ollama":
		o := provider.NewOllama(provider.OllamaOptions{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
			Breaker: breaker,
		})
		return o, o, nil
	default:
		return nil, nil, assistant.E(assistant.KindConfiguration, "llm", fmt.Errorf("unknown provider %q", cfg.LLM.Provider))
	}
}

func newIndexCache(cfg *config.Config, app *App, redisClient func() (*redis.Client, error)) (assistant.IndexCache, error) {
	switch cfg.Cache.Backend {
	case "file":
		return storage.NewFileIndexCache(cfg.Cache.Path), nil
	case "badger":
		c, err := storage.OpenBadgerIndexCache(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, c.Close)
		return c, nil
	case "redis":
		rc, err := redisClient()
		if err != nil {
			return nil, err
		}
		return storage.NewRedisIndexCache(rc, cfg.Cache.RedisKey), nil
	default:
		return nil, nil
	}
}

func newPreferenceStore(cfg *config.Config, redisClient func() (*redis.Client, error)) (assistant.PreferenceStore, error) {
	switch cfg.Learning.Store {
	case "file":
		return storage.NewFilePreferenceStore(cfg.Learning.Path), nil
	case "redis":
		rc, err := redisClient()
		if err != nil {
			return nil, err
		}
		return storage.NewRedisPreferenceStore(rc, cfg.Learning.RedisPrefix), nil
	default:
		return assistant.NewMemoryPreferenceStore(), nil
	}
}

func newInteractionLog(cfg *config.Config, app *App, log *logging.Logger) (assistant.InteractionLog, error) {
	if cfg.Log.Backend == "sqlite" {
		l, err := storage.OpenSQLiteLog(cfg.Log.Path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, l.Close)
		return l, nil
	}
	return storage.NewJSONLLog(cfg.Log.Path, log), nil
}

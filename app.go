package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/catalog"
	"github.com/JonMunkholm/DbChat/internal/config"
	"github.com/JonMunkholm/DbChat/internal/embedding"
	"github.com/JonMunkholm/DbChat/internal/llm"
	"github.com/JonMunkholm/DbChat/internal/nl2sql"
	"github.com/JonMunkholm/DbChat/internal/query"
	"github.com/JonMunkholm/DbChat/internal/ranking"
	"github.com/JonMunkholm/DbChat/internal/schema"
)

const (
	schemaLoadTimeout  = 30 * time.Second
	defaultVectorWidth = 1536
)

// catalogTables are the catalog's own tables, left out of introspection.
var catalogTables = []string{"table_metadata", "column_metadata"}

var errEmbeddingUnavailable = errors.New("embedding provider not configured (set OPENAI_API_KEY)")

// unavailableEmbedder fails every call so ranking falls back to the
// deterministic schema selection.
type unavailableEmbedder struct{}

func (unavailableEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errEmbeddingUnavailable
}

type appOptions struct {
	// llm requires a configured chat model.
	llm bool
	// populate embeds missing catalog elements before returning.
	populate bool
}

// app holds the wired components behind every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db       *sql.DB
	schema   *schema.Cache
	store    catalog.Store
	embedder catalog.Embedder
	executor *query.Executor
	pipeline *nl2sql.Pipeline
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger, schema: schema.NewCache()}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db

	if err := a.refreshSchema(ctx); err != nil {
		logger.Warn("failed to load schema", zap.Error(err))
	} else {
		logger.Info("loaded schema", zap.Int("tables", a.schema.TableCount()))
	}

	embedder, dims, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.embedder = embedder

	store, err := a.openCatalog(ctx, dims)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	a.executor = query.NewExecutor(cfg.Database.Driver, cfg.Database.ConnString(), query.Options{
		ReadOnly: cfg.Query.ReadOnly,
		Timeout:  cfg.Query.Timeout,
		Logger:   logger,
	})

	if opts.llm {
		provider, err := llm.NewProvider(llm.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			BaseURL:  cfg.LLM.BaseURL,
			Logger:   logger,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("initialize LLM: %w", err)
		}
		logger.Info("LLM provider initialized", zap.String("provider", provider.Name()))

		a.pipeline, err = a.newPipeline(provider)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if opts.populate && cfg.Schema.Mode == "ranked" {
		if _, err := a.populate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// openDatabase opens and pings the target database.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// newEmbedder returns the question embedder and the vector width the catalog
// should use. Without an API key every embedding call fails.
func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (catalog.Embedder, int, error) {
	dims := cfg.Dimensions
	if cfg.APIKey == "" {
		logger.Warn("embeddings not configured, ranking will use the fallback schema")
		if dims == 0 {
			dims = defaultVectorWidth
		}
		return unavailableEmbedder{}, dims, nil
	}

	provider, err := embedding.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, 0, err
	}
	e := embedding.NewEmbedder(provider, embedding.NewCache(), embedding.Options{
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Logger:     logger,
	})
	if dims == 0 {
		dims = e.Dimensions(e.Model())
	}
	if dims == 0 {
		dims = defaultVectorWidth
	}
	return e, dims, nil
}

func (a *app) openCatalog(ctx context.Context, dims int) (catalog.Store, error) {
	switch a.cfg.Catalog.Backend {
	case "postgres":
		store, err := catalog.OpenPostgres(ctx, a.cfg.Database.ConnString())
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx, dims); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil

	case "sqlite":
		store, err := catalog.OpenSQLite(ctx, a.cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		return store, nil

	default:
		tables := a.schema.Tables()
		if len(tables) == 0 {
			tables = schema.CompaniesTables()
		}
		return catalog.NewMemoryStore(schema.Elements(tables)...), nil
	}
}

func (a *app) newPipeline(provider llm.Provider) (*nl2sql.Pipeline, error) {
	cfg := a.cfg

	var hardcoded string
	if cfg.Schema.Mode == "hardcoded" {
		text, err := cfg.Schema.SchemaText()
		if err != nil {
			return nil, err
		}
		if text == "" {
			text = schema.PromptText(schema.CompaniesTables())
		}
		hardcoded = text
	}

	temperature := cfg.LLM.Temperature
	genOpts := nl2sql.GeneratorOptions{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: &temperature,
		Logger:      a.logger,
	}

	classifier := nl2sql.NewClassifier(cfg.Classifier.DataKeywords, cfg.Classifier.ProductKeywords)
	persona := cfg.Assistant.Persona

	return nl2sql.NewPipeline(nl2sql.PipelineConfig{
		Ranker: ranking.New(a.store, a.embedder, ranking.Options{
			SearchTerms: cfg.Schema.SearchTerms,
			Logger:      a.logger,
		}),
		Composer:   nl2sql.NewComposer(hardcoded, persona),
		Classifier: classifier,
		Generator:  nl2sql.NewGenerator(provider, classifier, genOpts),
		Executor:   a.executor,
		Analyst:    nl2sql.NewAnalyst(provider, persona, genOpts),
		TopK:       cfg.Schema.TopK,
		Persona:    persona,
		Logger:     a.logger,
	}), nil
}

// refreshSchema reintrospects the target database into the schema cache.
func (a *app) refreshSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, schemaLoadTimeout)
	defer cancel()
	return a.schema.Load(ctx, a.db, catalogTables...)
}

// seedCatalog adds one element per introspected table and column.
func (a *app) seedCatalog(ctx context.Context) (int, error) {
	if err := a.refreshSchema(ctx); err != nil {
		return 0, fmt.Errorf("introspect schema: %w", err)
	}
	n, err := a.store.Seed(ctx, schema.Elements(a.schema.Tables()))
	if err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}
	a.logger.Info("catalog seeded", zap.Int("added", n))
	return n, nil
}

func (a *app) populate(ctx context.Context) (catalog.Report, error) {
	report, err := catalog.Populate(ctx, a.store, a.embedder, catalog.PopulateOptions{
		Concurrency: a.cfg.Index.Concurrency,
		Logger:      a.logger,
	})
	if err != nil {
		return report, fmt.Errorf("populate catalog: %w", err)
	}
	return report, nil
}

// Close releases the catalog and database handles.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

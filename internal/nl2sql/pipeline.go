package nl2sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/embedding"
	"github.com/JonMunkholm/DbChat/internal/logging"
	"github.com/JonMunkholm/DbChat/internal/query"
	"github.com/JonMunkholm/DbChat/internal/ranking"
)

// Ranker orders schema elements by relevance to a question.
type Ranker interface {
	Rank(ctx context.Context, question string, topK int) ([]ranking.Match, error)
}

// Executor runs generated SQL.
type Executor interface {
	Execute(ctx context.Context, sql string) (*query.Result, error)
}

// AnswerKind says which fields of an Answer are set.
type AnswerKind int

const (
	// AnswerText is a prose reply with no SQL.
	AnswerText AnswerKind = iota
	// AnswerAnalysis is SQL, its rows and their analysis.
	AnswerAnalysis
	// AnswerDatabaseError is SQL that failed to execute.
	AnswerDatabaseError
)

// Answer is the result of one batch pipeline run.
type Answer struct {
	RequestID string
	Kind      AnswerKind

	Text       string
	SQL        string
	Rows       *query.Result
	Analysis   *Analysis
	DBError    *query.DatabaseError
	Generation *Generation
}

// StreamAnswer is the result of one streaming pipeline run. Text is set for
// prose replies and must be consumed or closed by the caller.
type StreamAnswer struct {
	RequestID string

	Text     *TextStream
	SQL      string
	Rows     *query.Result
	Analysis *Analysis
	DBError  *query.DatabaseError
}

// Pipeline runs rank, compose, generate, execute and analyze in order.
type Pipeline struct {
	ranker     Ranker
	composer   *Composer
	classifier *Classifier
	generator  *Generator
	executor   Executor
	analyst    *Analyst
	topK       int
	persona    string
	logger     *zap.Logger
}

// PipelineConfig holds the collaborators of a Pipeline. Ranker may be nil
// when the Composer is hardcoded.
type PipelineConfig struct {
	Ranker     Ranker
	Composer   *Composer
	Classifier *Classifier
	Generator  *Generator
	Executor   Executor
	Analyst    *Analyst
	TopK       int
	Persona    string
	Logger     *zap.Logger
}

// NewPipeline returns a Pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier(nil, nil)
	}
	if cfg.Composer == nil {
		cfg.Composer = NewComposer("", cfg.Persona)
	}
	return &Pipeline{
		ranker:     cfg.Ranker,
		composer:   cfg.Composer,
		classifier: cfg.Classifier,
		generator:  cfg.Generator,
		executor:   cfg.Executor,
		analyst:    cfg.Analyst,
		topK:       cfg.TopK,
		persona:    cfg.Persona,
		logger:     logging.OrNop(cfg.Logger).Named("pipeline"),
	}
}

func (p *Pipeline) requestLogger() (string, *zap.Logger) {
	id := uuid.NewString()
	return id, p.logger.With(zap.String("request_id", id))
}

// SchemaFor ranks the catalog against question and composes the schema
// description. Catalog errors degrade to the example schema; a dimension
// mismatch is returned.
func (p *Pipeline) SchemaFor(ctx context.Context, question string) (string, error) {
	return p.schemaFor(ctx, question, p.logger)
}

func (p *Pipeline) schemaFor(ctx context.Context, question string, log *zap.Logger) (string, error) {
	if p.composer.Hardcoded() || p.ranker == nil {
		return p.composer.Compose(nil), nil
	}

	matches, err := p.ranker.Rank(ctx, question, p.topK)
	if err != nil {
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			log.Error("ranking failed", zap.Error(err))
			return "", fmt.Errorf("rank schema: %w", err)
		}
		log.Warn("ranking failed, using example schema", zap.Error(err))
		matches = nil
	}

	tables := make(map[string]struct{})
	for _, m := range matches {
		tables[m.Element.TableName] = struct{}{}
	}
	log.Debug("schema context", zap.Int("matches", len(matches)), zap.Int("tables", len(tables)))
	return p.composer.Compose(matches), nil
}

// GenerateSQL runs ranking and generation only.
func (p *Pipeline) GenerateSQL(ctx context.Context, question string) (*Generation, error) {
	_, log := p.requestLogger()
	return p.generate(ctx, question, log)
}

func (p *Pipeline) generate(ctx context.Context, question string, log *zap.Logger) (*Generation, error) {
	desc, err := p.schemaFor(ctx, question, log)
	if err != nil {
		return nil, err
	}
	return p.generator.Generate(ctx, question, p.composer.SystemPrompt(desc))
}

// Ask answers question with the batch generation protocol.
func (p *Pipeline) Ask(ctx context.Context, question string) (*Answer, error) {
	id, log := p.requestLogger()
	log.Info("question received", zap.String("question", question))

	if p.persona != "" && p.classifier.IsCatalogRequest(question) {
		return &Answer{RequestID: id, Kind: AnswerText, Text: p.persona}, nil
	}

	gen, err := p.generate(ctx, question, log)
	if err != nil {
		return nil, err
	}
	ans := &Answer{RequestID: id, Generation: gen}
	if !gen.HasSQL() {
		ans.Kind = AnswerText
		ans.Text = gen.Text
		return ans, nil
	}

	ans.SQL = gen.SQL
	rows, analysis, dbErr, err := p.executeAndAnalyze(ctx, question, gen.SQL, log)
	if err != nil {
		return nil, err
	}
	if dbErr != nil {
		ans.Kind = AnswerDatabaseError
		ans.DBError = dbErr
		return ans, nil
	}
	ans.Kind = AnswerAnalysis
	ans.Rows = rows
	ans.Analysis = analysis
	return ans, nil
}

// AskStream answers question with the streaming generation protocol.
func (p *Pipeline) AskStream(ctx context.Context, question string) (*StreamAnswer, error) {
	id, log := p.requestLogger()
	log.Info("question received", zap.String("question", question), zap.Bool("stream", true))
	ans := &StreamAnswer{RequestID: id}

	if p.persona != "" && p.classifier.IsCatalogRequest(question) {
		ans.Text = StaticText(p.persona)
		return ans, nil
	}

	desc, err := p.schemaFor(ctx, question, log)
	if err != nil {
		return nil, err
	}
	gen, err := p.generator.GenerateStream(ctx, question, p.composer.SystemPrompt(desc))
	if err != nil {
		return nil, err
	}
	if gen.SQL == "" {
		ans.Text = gen.Text
		return ans, nil
	}

	ans.SQL = gen.SQL
	rows, analysis, dbErr, err := p.executeAndAnalyze(ctx, question, gen.SQL, log)
	if err != nil {
		return nil, err
	}
	ans.Rows = rows
	ans.Analysis = analysis
	ans.DBError = dbErr
	return ans, nil
}

// executeAndAnalyze returns a *query.DatabaseError separately from fatal
// errors since it is a user-visible outcome.
func (p *Pipeline) executeAndAnalyze(ctx context.Context, question, sql string, log *zap.Logger) (*query.Result, *Analysis, *query.DatabaseError, error) {
	log.Info("executing generated sql", zap.String("sql", sql))

	rows, err := p.executor.Execute(ctx, sql)
	if err != nil {
		var dbErr *query.DatabaseError
		if errors.As(err, &dbErr) {
			log.Error("database error", zap.String("sql", sql), zap.Error(err))
			return nil, nil, dbErr, nil
		}
		return nil, nil, nil, err
	}

	analysis, err := p.analyst.Analyze(ctx, question, sql, rows)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info("answer ready", zap.Int("rows", len(rows.Rows)), zap.Bool("structured", analysis.Structured))
	return rows, analysis, nil, nil
}

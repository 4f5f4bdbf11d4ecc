package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/nl2sql"
	"github.com/JonMunkholm/DbChat/internal/query"
	"github.com/JonMunkholm/DbChat/internal/schema"
)

const (
	requestTimeout  = 2 * time.Minute
	shutdownTimeout = 10 * time.Second

	// chatApology is shown when the pipeline fails; details are only logged.
	chatApology = "Oops! Something went wrong while answering. Please try again."
)

// assistant is the part of the pipeline the handlers use.
type assistant interface {
	Ask(ctx context.Context, question string) (*nl2sql.Answer, error)
	AskStream(ctx context.Context, question string) (*nl2sql.StreamAnswer, error)
	GenerateSQL(ctx context.Context, question string) (*nl2sql.Generation, error)
	SchemaFor(ctx context.Context, question string) (string, error)
}

// api serves the HTTP endpoints.
type api struct {
	assistant assistant
	executor  nl2sql.Executor
	schema    *schema.Cache
	refresh   func(context.Context) error
	mcp       http.Handler
	logger    *zap.Logger
}

func (a *app) serve(ctx context.Context, addr string) error {
	h := &api{
		assistant: a.pipeline,
		executor:  a.executor,
		schema:    a.schema,
		refresh:   a.refreshSchema,
		logger:    a.logger,
	}
	h.mcp = server.NewStreamableHTTPServer(newMCPServer(a.pipeline, a.logger), server.WithStateLess(true))

	srv := &http.Server{
		Addr:              addr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("listening", zap.String("addr", addr), zap.String("driver", a.executor.Driver()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (h *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/chat", h.handleChat)
		r.Post("/chat/stream", h.handleChatStream)
		r.Post("/generate-sql", h.handleGenerateSQL)
		r.Post("/export", h.handleExportCSV)
	})

	r.Get("/schema", h.handleSchema)
	r.Post("/schema/refresh", h.handleSchemaRefresh)

	if h.mcp != nil {
		r.Handle("/mcp", h.mcp)
	}
	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		logger = logger.Named("http")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

// chatResponse is the JSON envelope of /api/chat. Response is a string for
// "text" and "error", and a sqlAnalysis for "sql_analysis".
type chatResponse struct {
	Type     string `json:"type"`
	Response any    `json:"response"`
}

type sqlAnalysis struct {
	SQLQuery               string `json:"sql_query"`
	Analysis               string `json:"analysis"`
	Suggestions            string `json:"suggestions"`
	ProductRecommendations string `json:"product_recommendations"`
}

func chatEnvelope(ans *nl2sql.Answer) chatResponse {
	switch ans.Kind {
	case nl2sql.AnswerAnalysis:
		return chatResponse{Type: "sql_analysis", Response: sqlAnalysis{
			SQLQuery:               ans.SQL,
			Analysis:               ans.Analysis.Analysis,
			Suggestions:            ans.Analysis.Suggestions,
			ProductRecommendations: ans.Analysis.ProductRecommendations,
		}}
	case nl2sql.AnswerDatabaseError:
		return chatResponse{Type: "error", Response: "Database Error: " + ans.DBError.Error()}
	default:
		return chatResponse{Type: "text", Response: ans.Text}
	}
}

// decodeMessage reads a {"message": ...} body, replying 400 when it is
// malformed or blank.
func decodeMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, chatResponse{Type: "error", Response: "invalid JSON body"})
		return "", false
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		respondJSON(w, http.StatusBadRequest, chatResponse{Type: "error", Response: "message is required"})
		return "", false
	}
	return msg, true
}

func (h *api) handleChat(w http.ResponseWriter, r *http.Request) {
	question, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	ans, err := h.assistant.Ask(r.Context(), question)
	if err != nil {
		h.logger.Error("chat failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		respondJSON(w, http.StatusOK, chatResponse{Type: "error", Response: chatApology})
		return
	}
	respondJSON(w, http.StatusOK, chatEnvelope(ans))
}

func (h *api) handleChatStream(w http.ResponseWriter, r *http.Request) {
	question, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	ans, err := h.assistant.AskStream(r.Context(), question)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	write := func(s string) bool {
		if _, err := io.WriteString(w, s); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if err != nil {
		h.logger.Error("chat stream failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		write(chatApology)
		return
	}

	switch {
	case ans.Text != nil:
		defer ans.Text.Close()
		for chunk := range ans.Text.Chunks() {
			if !write(chunk) {
				return
			}
		}
		if err := ans.Text.Err(); err != nil {
			h.logger.Warn("stream ended with provider error", zap.Error(err), zap.String("request_id", ans.RequestID))
		}
	case ans.DBError != nil:
		write("Database Error: " + ans.DBError.Error())
	case ans.Analysis != nil:
		write(formatAnalysis(ans.Analysis))
	}
}

// formatAnalysis renders an analysis as the plain-text sections streamed to
// clients.
func formatAnalysis(a *nl2sql.Analysis) string {
	var sb strings.Builder
	sb.WriteString("Analysis:\n")
	sb.WriteString(a.Analysis)
	if a.Suggestions != "" {
		sb.WriteString("\n\nSuggestions:\n")
		sb.WriteString(a.Suggestions)
	}
	if a.ProductRecommendations != "" {
		sb.WriteString("\n\nProduct recommendations:\n")
		sb.WriteString(a.ProductRecommendations)
	}
	return sb.String()
}

type generateSQLResponse struct {
	SQL      string           `json:"sql,omitempty"`
	Text     string           `json:"text,omitempty"`
	Attempts []nl2sql.Attempt `json:"attempts,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (h *api) handleGenerateSQL(w http.ResponseWriter, r *http.Request) {
	question, ok := decodeMessage(w, r)
	if !ok {
		return
	}

	gen, err := h.assistant.GenerateSQL(r.Context(), question)
	if err != nil {
		h.logger.Error("generate sql failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, generateSQLResponse{Error: chatApology})
		return
	}
	respondJSON(w, http.StatusOK, generateSQLResponse{SQL: gen.SQL, Text: gen.Text, Attempts: gen.Attempts})
}

func (h *api) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SQL string `json:"sql"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !query.IsSelect(req.SQL) {
		http.Error(w, "only SELECT-family statements can be exported", http.StatusBadRequest)
		return
	}

	res, err := h.executor.Execute(r.Context(), req.SQL)
	if err != nil {
		var dbErr *query.DatabaseError
		if errors.As(err, &dbErr) {
			http.Error(w, "Database Error: "+dbErr.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("export failed", zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+exportFilename(time.Now()))
	if err := res.WriteCSV(w); err != nil {
		h.logger.Warn("write csv", zap.Error(err))
	}
}

func exportFilename(t time.Time) string {
	return "export_" + t.UTC().Format("2006-01-02_150405") + ".csv"
}

type schemaResponse struct {
	Tables      []schema.Table `json:"tables"`
	TableCount  int            `json:"tableCount"`
	LastRefresh string         `json:"lastRefresh"`
}

func (h *api) schemaPayload() schemaResponse {
	resp := schemaResponse{
		Tables:     h.schema.Tables(),
		TableCount: h.schema.TableCount(),
	}
	if t := h.schema.LastRefresh(); !t.IsZero() {
		resp.LastRefresh = t.Format(time.RFC3339)
	}
	return resp
}

func (h *api) handleSchema(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.schemaPayload())
}

func (h *api) handleSchemaRefresh(w http.ResponseWriter, r *http.Request) {
	if h.refresh == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "schema refresh unavailable"})
		return
	}
	if err := h.refresh(r.Context()); err != nil {
		h.logger.Error("schema refresh failed", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, h.schemaPayload())
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

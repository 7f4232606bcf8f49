// Package web serves the HTTP front end: sign-in, asking, saved questions and
// history.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/user/fabricagent/internal/auth"
	"github.com/user/fabricagent/internal/extract"
	"github.com/user/fabricagent/internal/gateway"
	"github.com/user/fabricagent/internal/metrics"
	"github.com/user/fabricagent/internal/runtime"
	"github.com/user/fabricagent/internal/state"
	"github.com/user/fabricagent/internal/types"
	"github.com/user/fabricagent/pkg/dataagent"
)

// Authenticator is the part of *auth.Session the server needs.
type Authenticator interface {
	Status() auth.Status
	StartDeviceLogin(ctx context.Context) (*auth.DeviceCode, error)
}

// Options wires the server's collaborators. Questions and History may be nil;
// their endpoints then answer 503.
type Options struct {
	Asker     runtime.Asker
	Auth      Authenticator
	Questions *state.QuestionStore
	Runner    *runtime.QuestionRunner
	History   types.HistoryStore
	Logger    *slog.Logger
}

// Server is the HTTP handler for the web front end.
type Server struct {
	opts     Options
	logger   *slog.Logger
	validate *validator.Validate
	mux      *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Runner == nil && opts.Asker != nil {
		opts.Runner = runtime.NewQuestionRunner(opts.Asker, nil, logger)
	}
	s := &Server{
		opts:     opts,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /auth/start", s.handleAuthStart)
	s.mux.HandleFunc("GET /auth/status", s.handleAuthStatus)
	s.mux.HandleFunc("POST /ask", s.handleAsk)
	s.mux.HandleFunc("POST /run-details", s.handleRunDetails)
	s.mux.HandleFunc("POST /questions/{name}", s.handleQuestion)
	s.mux.HandleFunc("GET /api/history", s.handleHistory)
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"authenticated": s.opts.Auth.Status().Authenticated,
	})
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	code, err := s.opts.Auth.StartDeviceLogin(r.Context())
	if err != nil {
		s.logger.Error("start device login failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"device_code":      code.UserCode,
		"verification_uri": code.VerificationURI,
		"expires_in":       int(time.Until(code.ExpiresAt).Seconds()),
		"message":          code.Message(),
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Auth.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":    st.Authenticated,
		"auth_in_progress": st.InProgress,
		"mode":             st.Mode,
		"expires_at":       st.ExpiresAt,
		"last_error":       st.LastError,
	})
}

// askRequest is the JSON body for POST /ask and POST /run-details.
type askRequest struct {
	Question   string `json:"question" validate:"required"`
	ThreadName string `json:"thread_name" validate:"omitempty,max=256"`
}

// decodeAsk checks sign-in, then decodes and validates the body. It writes the
// error response itself and returns false on failure.
func (s *Server) decodeAsk(w http.ResponseWriter, r *http.Request) (*askRequest, bool) {
	if !s.opts.Auth.Status().Ready() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success":    false,
			"error":      "Not authenticated. Please complete authentication first.",
			"needs_auth": true,
		})
		return nil, false
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return nil, false
	}
	req.Question = strings.TrimSpace(req.Question)
	req.ThreadName = strings.TrimSpace(req.ThreadName)
	if err := s.validate.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "Question" {
			writeError(w, http.StatusBadRequest, "Question cannot be empty")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request, req *askRequest) (*gateway.Result, bool) {
	res, err := s.opts.Asker.Ask(r.Context(), &types.InboundQuestion{
		Source:     "http",
		ThreadName: types.ThreadName(req.ThreadName),
		Question:   req.Question,
	})
	if err != nil {
		s.writeAskError(w, err)
		return nil, false
	}
	return res, true
}

func (s *Server) writeAskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success":    false,
			"error":      err.Error(),
			"needs_auth": true,
		})
	case errors.Is(err, runtime.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("ask failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	res, ok := s.ask(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"question":    req.Question,
		"response":    res.Response,
		"thread_name": res.ThreadName,
	})
}

// runDetails is the POST /run-details response body.
type runDetails struct {
	Success                 bool             `json:"success"`
	Question                string           `json:"question"`
	Response                string           `json:"response"`
	ThreadName              types.ThreadName `json:"thread_name"`
	RunStatus               string           `json:"run_status"`
	RunSteps                stepList         `json:"run_steps"`
	Messages                messageList      `json:"messages"`
	Timestamp               int64            `json:"timestamp"`
	SQLQueries              []string         `json:"sql_queries"`
	SQLDataPreviews         [][]string       `json:"sql_data_previews"`
	DataRetrievalQuery      string           `json:"data_retrieval_query,omitempty"`
	DataRetrievalQueryIndex int              `json:"data_retrieval_query_index,omitempty"`
	Grid                    *extract.Grid    `json:"grid,omitempty"`
}

type stepList struct {
	Data []dataagent.RunStep `json:"data"`
}

type messageList struct {
	Data []dataagent.Message `json:"data"`
}

func newRunDetails(question string, res *gateway.Result) *runDetails {
	d := &runDetails{
		Success:         true,
		Question:        question,
		Response:        res.Response,
		ThreadName:      res.ThreadName,
		RunStatus:       res.RunStatus,
		RunSteps:        stepList{Data: res.Steps},
		Messages:        messageList{Data: res.Messages},
		Timestamp:       time.Now().Unix(),
		SQLQueries:      []string{},
		SQLDataPreviews: [][]string{},
	}
	if d.RunSteps.Data == nil {
		d.RunSteps.Data = []dataagent.RunStep{}
	}
	if d.Messages.Data == nil {
		d.Messages.Data = []dataagent.Message{}
	}
	if rep := res.Report; rep != nil {
		d.SQLQueries = rep.Queries
		d.SQLDataPreviews = rep.DataPreviews
		d.DataRetrievalQuery = rep.DataRetrievalQuery
		d.DataRetrievalQueryIndex = rep.DataRetrievalQueryIndex
		if preview := rep.RetrievalPreview(); len(preview) > 0 {
			g := extract.ToGrid(strings.Join(preview, "\n"))
			if len(g.Columns) > 0 {
				d.Grid = &g
			}
		}
	}
	return d
}

func (s *Server) handleRunDetails(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeAsk(w, r)
	if !ok {
		return
	}
	res, ok := s.ask(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRunDetails(req.Question, res))
}

// questionRequest is the optional JSON body for POST /questions/{name}.
type questionRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleQuestion(w http.ResponseWriter, r *http.Request) {
	if s.opts.Questions == nil {
		writeError(w, http.StatusServiceUnavailable, "saved questions not configured")
		return
	}
	if !s.opts.Auth.Status().Ready() {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "not authenticated", "needs_auth": true})
		return
	}

	name := r.PathValue("name")
	q, err := s.opts.Questions.Get(name)
	if err != nil {
		if errors.Is(err, state.ErrQuestionNotFound) {
			writeError(w, http.StatusNotFound, "question not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !q.Enabled {
		writeError(w, http.StatusForbidden, "question is disabled")
		return
	}

	// The body may override the saved question text. An empty body is fine.
	var body questionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := s.opts.Runner.Run(r.Context(), q, body.Question, "http")
	if err != nil {
		s.writeAskError(w, err)
		return
	}
	question := q.Question
	if strings.TrimSpace(body.Question) != "" {
		question = strings.TrimSpace(body.Question)
	}
	writeJSON(w, http.StatusOK, newRunDetails(question, res))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history not configured")
		return
	}
	ctx := r.Context()

	if thread := r.URL.Query().Get("thread"); thread != "" {
		records, err := s.opts.History.ListByThread(ctx, types.ThreadName(thread))
		if err != nil {
			s.logger.Error("list history by thread failed", "thread", thread, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if records == nil {
			records = []types.AskRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": records, "total": len(records)})
		return
	}

	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	records, total, err := s.opts.History.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("list history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []types.AskRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "total": total})
}

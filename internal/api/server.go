// Package api serves the chat endpoint and a direct task REST surface over net/http.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"taskpilot/internal/logging"
	"taskpilot/internal/resolve"
	"taskpilot/internal/session"
	"taskpilot/internal/task"
	"taskpilot/internal/tools"
	"taskpilot/internal/types"
	"taskpilot/internal/usage"
)

const maxBodyBytes = 1 << 20

// MsgEmptyInput is returned when a chat request carries no message.
const MsgEmptyInput = "Please type a command or request."

// ChatRunner runs one conversation. *session.Driver satisfies it.
type ChatRunner interface {
	Run(ctx context.Context, text string) (*session.Result, error)
}

// Server holds the HTTP handlers.
type Server struct {
	store     task.Store
	actor     task.Actor
	chat      ChatRunner
	keyEnv    string
	usage     *usage.Tracker
	chatLimit time.Duration
	mux       *http.ServeMux
	audit     *logging.AuditLogger
	startedAt time.Time
}

// Option customizes a Server.
type Option func(*Server)

// WithChat enables the chat endpoint. Without it, chat requests fail with a
// non-retryable missing-key error naming keyEnv.
func WithChat(chat ChatRunner) Option {
	return func(s *Server) { s.chat = chat }
}

// WithKeyEnv names the environment variable reported when the model key is missing.
func WithKeyEnv(name string) Option {
	return func(s *Server) { s.keyEnv = name }
}

// WithUsage exposes tracker at GET /api/usage.
func WithUsage(tracker *usage.Tracker) Option {
	return func(s *Server) { s.usage = tracker }
}

// WithChatTimeout bounds each chat conversation. Zero leaves only the
// request context in charge.
func WithChatTimeout(d time.Duration) Option {
	return func(s *Server) { s.chatLimit = d }
}

// New creates a server for actor's tasks.
func New(store task.Store, actor task.Actor, opts ...Option) *Server {
	s := &Server{
		store:     store,
		actor:     actor,
		keyEnv:    "OPENAI_API_KEY",
		mux:       http.NewServeMux(),
		audit:     logging.AuditFor(actor.ID),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/ai/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/usage", s.handleUsage)
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.handleUpdateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	return s
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// readArgs decodes a JSON object body leniently, the same way tool arguments are decoded.
func readArgs(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	args, err := tools.DecodeArguments(data)
	if err != nil {
		return nil, err
	}
	// The web client sends camelCase.
	if v, ok := args["dueDate"]; ok {
		if _, snake := args["due_date"]; !snake {
			args["due_date"] = v
		}
	}
	return args, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		"chat":   s.chat != nil,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeErr(w, http.StatusNotFound, "usage tracking is disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.usage.Stats())
}

// ChatRequest is the POST /api/ai/chat body.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the POST /api/ai/chat reply.
type ChatResponse struct {
	Text       string           `json:"text"`
	Outcome    *resolve.Outcome `json:"outcome,omitempty"`
	ModelCalls int              `json:"model_calls"`
	ToolCalls  int              `json:"tool_calls"`
	Exhausted  bool             `json:"exhausted,omitempty"`
}

// ChatError is the failure reply for POST /api/ai/chat.
type ChatError struct {
	Error   string          `json:"error"`
	Outcome resolve.Outcome `json:"outcome"`
}

func writeChatErr(w http.ResponseWriter, code int, out resolve.Outcome) {
	writeJSON(w, code, ChatError{Error: out.Message, Outcome: out})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	args, err := readArgs(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	message, _ := args["message"].(string)
	if message == "" {
		writeErr(w, http.StatusBadRequest, MsgEmptyInput)
		return
	}
	if s.chat == nil {
		logging.APIError("chat requested but %s is not configured", s.keyEnv)
		writeChatErr(w, http.StatusInternalServerError, resolve.Fatal("Server is missing "+s.keyEnv+"."))
		return
	}

	ctx := r.Context()
	if s.chatLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.chatLimit)
		defer cancel()
	}
	res, err := s.chat.Run(ctx, message)
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		writeErr(w, http.StatusBadRequest, MsgEmptyInput)
		return
	case errors.Is(err, types.ErrUpstreamUnavailable):
		logging.APIWarn("chat upstream failure: %v", err)
		writeChatErr(w, http.StatusServiceUnavailable, resolve.FromError(err))
		return
	case err != nil:
		logging.APIError("chat failed: %v", err)
		writeChatErr(w, http.StatusBadGateway, resolve.FromError(err))
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Text:       res.Text,
		Outcome:    res.Outcome,
		ModelCalls: res.ModelCalls,
		ToolCalls:  res.ToolCalls,
		Exhausted:  res.Exhausted,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.Filter{Query: q.Get("q")}
	if v := q.Get("status"); v != "" {
		st, ok := task.ParseStatus(v)
		if !ok {
			writeErr(w, http.StatusBadRequest, "invalid status")
			return
		}
		f.Status = &st
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	tasks, err := s.store.List(r.Context(), s.actor.ID, f)
	if err != nil {
		logging.APIError("list tasks: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	args, err := readArgs(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	a, err := tools.ParseCreateArgs(args)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "Title is required")
		return
	}

	t := task.NewTask(s.actor.ID, a.Title)
	t.Description = a.Description
	t.Priority = a.Priority
	t.DueDate = a.DueDate
	if err := s.store.Create(r.Context(), t); err != nil {
		logging.APIError("create task: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	s.audit.TaskMutation(logging.AuditTaskCreate, t.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"task": t})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	args, err := readArgs(w, r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := s.store.Update(r.Context(), s.actor.ID, id, tools.ParsePatch(args))
	if errors.Is(err, task.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		logging.APIError("update task %s: %v", id, err)
		writeErr(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	s.audit.TaskMutation(logging.AuditTaskUpdate, t.ID)
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.Delete(r.Context(), s.actor.ID, id)
	if errors.Is(err, task.ErrNotFound) {
		writeErr(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		logging.APIError("delete task %s: %v", id, err)
		writeErr(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	s.audit.TaskMutation(logging.AuditTaskDelete, id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.API("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

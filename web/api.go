// Package web is the thin HTTP collaborator over the extraction and
// analysis operations. It owns parameter parsing and status-code mapping
// only; everything else lives in chatdb and analysis.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/pborman/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatpulse/extract/analysis"
	"github.com/chatpulse/extract/auth"
	"github.com/chatpulse/extract/chatdb"
)

const (
	DefaultTopContacts = 20
	MaxTopContacts     = 500
)

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "chatpulse",
		Subsystem: "web",
		Name:      "requests_total",
		Help:      "HTTP requests by handler and status code.",
	},
	[]string{"handler", "code"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}

// API serves the extraction and analysis routes.
type API struct {
	authClient auth.Client
	loc        *time.Location
}

// NewAPI creates an API. loc is the timezone for hour-of-day bucketing; nil
// means the process-local zone.
func NewAPI(authClient auth.Client, loc *time.Location) *API {
	if authClient == nil {
		authClient = auth.AllowAll{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &API{authClient: authClient, loc: loc}
}

// Register installs all routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /extract/messages", a.wrap("extract_messages", a.extractMessages))
	mux.HandleFunc("GET /extract/contacts", a.wrap("extract_contacts", a.extractContacts))
	mux.HandleFunc("GET /extract/chats", a.wrap("extract_chats", a.extractChats))
	mux.HandleFunc("GET /extract/chats/{id}/messages", a.wrap("extract_chat_messages", a.extractChatMessages))

	mux.HandleFunc("GET /analysis/message-counts", a.wrap("analysis_message_counts", a.messageCounts))
	mux.HandleFunc("GET /analysis/timeline", a.wrap("analysis_timeline", a.timeline))
	mux.HandleFunc("GET /analysis/top-contacts", a.wrap("analysis_top_contacts", a.topContacts))
	mux.HandleFunc("GET /analysis/response-times", a.wrap("analysis_response_times", a.responseTimes))
	mux.HandleFunc("GET /analysis/heatmap", a.wrap("analysis_heatmap", a.heatmap))
	mux.HandleFunc("GET /analysis/reactions", a.wrap("analysis_reactions", a.reactions))
}

type handlerFunc func(ctx context.Context, r *http.Request) (interface{}, error)

type errorBody struct {
	Detail string `json:"detail"`
}

func (a *API) wrap(name string, fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.ReplaceAll(uuid.New(), "-", "")

		if err := a.authClient.Auth(r); err != nil {
			glog.Errorf("web: %s [%s]: auth error: %v", name, reqID, err)
			writeJSON(w, name, http.StatusForbidden, errorBody{Detail: "not authorized"})
			return
		}

		out, err := fn(r.Context(), r)
		if err != nil {
			code, detail := statusFor(err)
			if code == http.StatusInternalServerError {
				glog.Errorf("web: %s [%s]: %v", name, reqID, err)
			} else if glog.V(2) {
				glog.Infof("web: %s [%s]: %d: %v", name, reqID, code, err)
			}
			writeJSON(w, name, code, errorBody{Detail: detail})
			return
		}
		writeJSON(w, name, http.StatusOK, out)
	}
}

// statusFor maps the two caller-visible error kinds; everything else is
// internal and keeps its detail out of the response.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, chatdb.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, analysis.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, name string, code int, v interface{}) {
	requestsTotal.WithLabelValues(name, strconv.Itoa(code)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := gojson.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("web: %s: encode response: %v", name, err)
	}
}

// ---------------------------------------------------------------------------
// Extraction handlers
// ---------------------------------------------------------------------------

type messageList struct {
	Messages []chatdb.Message `json:"messages"`
	Count    int              `json:"count"`
}

type handleList struct {
	Handles []chatdb.Handle `json:"handles"`
	Count   int             `json:"count"`
}

type chatList struct {
	Chats []chatdb.Chat `json:"chats"`
	Count int           `json:"count"`
}

func (a *API) extractMessages(ctx context.Context, r *http.Request) (interface{}, error) {
	db, err := openDB(r)
	if err != nil {
		return nil, err
	}
	since, err := floatParam(r, "since")
	if err != nil {
		return nil, err
	}
	limit, err := positiveIntParam(r, "limit")
	if err != nil {
		return nil, err
	}

	msgs, err := db.ListMessages(ctx, since, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chatdb.Message{}
	}
	return messageList{Messages: msgs, Count: len(msgs)}, nil
}

func (a *API) extractContacts(ctx context.Context, r *http.Request) (interface{}, error) {
	db, err := openDB(r)
	if err != nil {
		return nil, err
	}
	handles, err := db.ListHandles(ctx)
	if err != nil {
		return nil, err
	}
	if handles == nil {
		handles = []chatdb.Handle{}
	}
	return handleList{Handles: handles, Count: len(handles)}, nil
}

func (a *API) extractChats(ctx context.Context, r *http.Request) (interface{}, error) {
	db, err := openDB(r)
	if err != nil {
		return nil, err
	}
	chats, err := db.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []chatdb.Chat{}
	}
	return chatList{Chats: chats, Count: len(chats)}, nil
}

func (a *API) extractChatMessages(ctx context.Context, r *http.Request) (interface{}, error) {
	db, err := openDB(r)
	if err != nil {
		return nil, err
	}
	chatID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || chatID < 1 {
		return nil, fmt.Errorf("%w: chat id must be a positive integer", analysis.ErrInvalidArgument)
	}

	msgs, err := db.ListChatMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chatdb.Message{}
	}
	return messageList{Messages: msgs, Count: len(msgs)}, nil
}

// ---------------------------------------------------------------------------
// Analysis handlers
// ---------------------------------------------------------------------------

func (a *API) messageCounts(ctx context.Context, r *http.Request) (interface{}, error) {
	engine, err := a.openEngine(r)
	if err != nil {
		return nil, err
	}
	return nonNil(engine.CountsByContact(ctx))
}

func (a *API) timeline(ctx context.Context, r *http.Request) (interface{}, error) {
	engine, err := a.openEngine(r)
	if err != nil {
		return nil, err
	}
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = string(analysis.IntervalDay)
	}
	parsed, err := analysis.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	return nonNil(engine.Timeline(ctx, parsed))
}

func (a *API) topContacts(ctx context.Context, r *http.Request) (interface{}, error) {
	engine, err := a.openEngine(r)
	if err != nil {
		return nil, err
	}
	limit := DefaultTopContacts
	if v, err := positiveIntParam(r, "limit"); err != nil {
		return nil, err
	} else if v != nil {
		limit = *v
	}
	if limit > MaxTopContacts {
		return nil, fmt.Errorf("%w: limit %d, max %d", analysis.ErrInvalidArgument, limit, MaxTopContacts)
	}
	return nonNil(engine.TopContacts(ctx, limit))
}

func (a *API) responseTimes(ctx context.Context, r *http.Request) (interface{}, error) {
	engine, err := a.openEngine(r)
	if err != nil {
		return nil, err
	}
	return nonNil(engine.ResponseTimes(ctx))
}

func (a *API) heatmap(ctx context.Context, r *http.Request) (interface{}, error) {
	engine, err := a.openEngine(r)
	if err != nil {
		return nil, err
	}
	return nonNil(engine.BusiestHours(ctx))
}

func (a *API) reactions(ctx context.Context, r *http.Request) (interface{}, error) {
	engine, err := a.openEngine(r)
	if err != nil {
		return nil, err
	}
	return nonNil(engine.ReactionSummary(ctx))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func openDB(r *http.Request) (*chatdb.DB, error) {
	path := r.URL.Query().Get("db_path")
	if path == "" {
		return nil, fmt.Errorf("%w: db_path is required", analysis.ErrInvalidArgument)
	}
	return chatdb.Open(path)
}

func (a *API) openEngine(r *http.Request) (*analysis.Engine, error) {
	db, err := openDB(r)
	if err != nil {
		return nil, err
	}
	return analysis.NewEngine(db, a.loc), nil
}

func floatParam(r *http.Request, name string) (*float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", analysis.ErrInvalidArgument, name)
	}
	return &v, nil
}

func positiveIntParam(r *http.Request, name string) (*int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", analysis.ErrInvalidArgument, name)
	}
	return &v, nil
}

// nonNil keeps empty analytics results as [] instead of null on the wire.
func nonNil[T any](items []T, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Package server exposes the Slack Events API endpoint and operator routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"whistleblower/internal/model"
	"whistleblower/internal/storage"
)

const maxBodyBytes = 1 << 20

// Enqueuer accepts events for asynchronous processing.
type Enqueuer interface {
	Enqueue(ev model.Event) (string, bool)
}

// Server serves the HTTP routes.
type Server struct {
	store         storage.Storage
	queue         Enqueuer
	signingSecret string
	log           *slog.Logger
}

// New creates a Server. An empty signingSecret disables request signature
// verification.
func New(store storage.Storage, queue Enqueuer, signingSecret string, log *slog.Logger) *Server {
	if signingSecret == "" {
		log.Warn("slack signing secret not set, request verification disabled")
	}
	return &Server{
		store:         store,
		queue:         queue,
		signingSecret: signingSecret,
		log:           log,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	r.Get("/config", s.dumpConfig)
	r.Post("/event-listener", s.eventListener)

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
			"remote", r.RemoteAddr,
		)
	})
}

type configDump struct {
	Users    map[string]*model.UserRecord    `json:"users"`
	Channels map[string]*model.ChannelRecord `json:"channels"`
}

func (s *Server) dumpConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dump := configDump{
		Users:    map[string]*model.UserRecord{},
		Channels: map[string]*model.ChannelRecord{},
	}

	userIDs, err := s.store.ListUserIDs(ctx)
	if err != nil {
		s.fail(w, "list users", err)
		return
	}
	for _, id := range userIDs {
		rec, err := s.store.GetUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.fail(w, "load user", err)
			return
		}
		dump.Users[id] = rec
	}

	channelIDs, err := s.store.ListChannelIDs(ctx)
	if err != nil {
		s.fail(w, "list channels", err)
		return
	}
	for _, id := range channelIDs {
		rec, err := s.store.GetChannel(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			s.fail(w, "load channel", err)
			return
		}
		dump.Channels[id] = rec
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		s.log.Error("encode config dump", "error", err)
	}
}

func (s *Server) eventListener(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if err := s.verify(r.Header, body); err != nil {
		s.log.Warn("reject unsigned request", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	apiEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		s.log.Warn("parse slack event", "error", err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	switch apiEvent.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "invalid challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
		return
	case slackevents.CallbackEvent:
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	ev, ok := ToEvent(apiEvent.InnerEvent)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if _, ok := s.queue.Enqueue(ev); !ok {
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) verify(header http.Header, body []byte) error {
	if s.signingSecret == "" {
		return nil
	}
	sv, err := slack.NewSecretsVerifier(header, s.signingSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// ToEvent converts a Slack inner event into a model.Event. Event types the
// bot does not handle are reported with false.
func ToEvent(inner slackevents.EventsAPIInnerEvent) (model.Event, bool) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		return model.Event{
			Type:    model.EventAppMention,
			Channel: ev.Channel,
			User:    ev.User,
			BotID:   ev.BotID,
			Text:    ev.Text,
		}, true
	case *slackevents.MessageEvent:
		return model.Event{
			Type:        model.EventMessage,
			Subtype:     ev.SubType,
			ChannelType: ev.ChannelType,
			Channel:     ev.Channel,
			User:        ev.User,
			BotID:       ev.BotID,
			Text:        ev.Text,
		}, true
	}
	return model.Event{}, false
}

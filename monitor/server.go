// Package monitor serves the admin HTTP endpoint: metrics, health and a
// read-only view of the component registry.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/najoast/compmgr/component"
	"github.com/najoast/compmgr/config"
)

// HealthFunc reports overall health and a JSON-encodable detail payload.
type HealthFunc func(ctx context.Context) (healthy bool, detail any)

// ComponentInfo is the JSON view of one registered component.
type ComponentInfo struct {
	UID        uuid.UUID `json:"uid"`
	Instance   string    `json:"instance"`
	Class      string    `json:"class"`
	Descriptor string    `json:"descriptor"`
	Path       string    `json:"path"`
	State      string    `json:"state"`
}

// Server is the admin HTTP server.
type Server struct {
	cfg     config.HTTPMonitorConfig
	manager *component.Manager
	metrics http.Handler
	health  HealthFunc
	log     logrus.FieldLogger

	router *mux.Router

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h on the metrics path.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithHealth sets the health reporter.
func WithHealth(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

// WithLogger sets the server logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates an admin server for m.
func NewServer(cfg config.HTTPMonitorConfig, m *component.Manager, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		manager: m,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("service", "monitor")
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.metrics).Methods(http.MethodGet)
	}
	r.HandleFunc(s.cfg.HealthPath, s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.ComponentsPath, s.handleComponents).Methods(http.MethodGet)
	r.HandleFunc(s.cfg.ComponentsPath+"/{name}", s.handleComponent).Methods(http.MethodGet)
	return r
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("monitor server already started")
	}

	addr := net.JoinHostPort(s.cfg.Address, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Monitor server stopped")
		}
	}(s.srv, s.done)

	s.log.Infof("Monitor listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	healthy, detail := s.health(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, detail)
}

func (s *Server) handleComponents(w http.ResponseWriter, _ *http.Request) {
	comps := s.manager.Components()
	infos := make([]ComponentInfo, 0, len(comps))
	for _, c := range comps {
		infos = append(infos, infoOf(c))
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, err := s.lookup(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, infoOf(c))
}

// lookup guards against the component being removed between the existence
// check and the fetch.
func (s *Server) lookup(name string) (c component.Component, err error) {
	defer component.RecoverFatal(&err)
	if !s.manager.HasComponent(name) {
		return nil, &component.FatalError{Instance: name, Err: component.ErrNotFound}
	}
	return component.GetComponent[component.Component](s.manager, name), nil
}

func infoOf(c component.Component) ComponentInfo {
	return ComponentInfo{
		UID:        c.UID(),
		Instance:   c.InstanceName(),
		Class:      c.ClassName(),
		Descriptor: c.Descriptor(),
		Path:       c.Path(),
		State:      c.State().String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

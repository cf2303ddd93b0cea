// Package server assembles the whole service: stores, registries, the
// authorization and execution pipeline, the protocol dispatcher, and
// the transport the process listens on. Everything below this package
// is a component; this is where they meet.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"toolgate/internal/audit"
	"toolgate/internal/config"
	"toolgate/internal/engine"
	"toolgate/internal/identity"
	"toolgate/internal/observability"
	"toolgate/internal/permission"
	"toolgate/internal/protocol"
	"toolgate/internal/runner"
	"toolgate/internal/sandbox"
	"toolgate/internal/storage"
	"toolgate/internal/token"
	"toolgate/internal/tools"
	"toolgate/internal/transport"
)

// Data directory file names.
const (
	AuditFileName   = "audit.json"
	ClientsFileName = "clients.json"
	TokensFileName  = "tokens.json"
	ClientsDirName  = "clients"
)

// Server owns every long-lived component and the listening transport.
type Server struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	version string

	auditLog *audit.Log
	clients  *identity.Registry
	tokens   *token.Registry
	minter   *token.Minter
	perms    *permission.Engine
	dirs     *sandbox.Dirs
	state    *sandbox.StateStore
	contexts *sandbox.Contexts
	quotas   *sandbox.QuotaManager
	activity *storage.Store
	registry *tools.Registry
	executor *runner.Executor
	orch     *engine.Orchestrator
	metrics  *observability.Metrics
	tracing  *observability.Tracing
	health   *observability.Health

	dispatcher *protocol.Dispatcher
	transport  transport.Transport
	started    time.Time
}

// New builds a fully wired server from the validated configuration. The
// data directory and its stores are created on the spot; nothing starts
// listening until Run.
func New(cfg *config.Config, logger *zap.SugaredLogger, version string) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger, version: version}

	s.auditLog = audit.NewLog(filepath.Join(cfg.DataDir, AuditFileName), logger)
	s.clients = identity.NewRegistry(filepath.Join(cfg.DataDir, ClientsFileName), cfg.Auth.BcryptCost)
	s.tokens = token.NewRegistry(filepath.Join(cfg.DataDir, TokensFileName))

	secret := cfg.Auth.SigningSecret
	if secret == "" {
		generated, err := ephemeralSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		logger.Warn("no signing secret configured; using an ephemeral secret, tokens will not survive a restart")
	}
	minter, err := token.NewMinter(secret, cfg.Auth.AccessTTL(), cfg.Auth.RefreshTTL())
	if err != nil {
		return nil, err
	}
	s.minter = minter

	s.perms = permission.NewEngine(logger)
	if cfg.Policy.File != "" {
		policy, err := permission.LoadPolicy(cfg.Policy.File)
		if err != nil {
			return nil, err
		}
		s.perms.Apply(policy)
		logger.Infow("permission policy applied", "file", cfg.Policy.File, "clients", len(policy.Clients))
	}

	dirs, err := sandbox.NewDirs(filepath.Join(cfg.DataDir, ClientsDirName), s.auditLog, logger)
	if err != nil {
		return nil, err
	}
	s.dirs = dirs
	s.state = sandbox.NewStateStore(dirs)
	s.contexts = sandbox.NewContexts(dirs, s.state)
	s.quotas = sandbox.NewQuotaManager(sandbox.Quotas{
		CPUPercent: cfg.Quota.CPUPercent,
		MemoryMB:   cfg.Quota.MemoryMB,
		DiskGB:     cfg.Quota.DiskGB,
		Processes:  cfg.Quota.MaxProcesses,
	}, logger)

	activity, err := storage.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	s.activity = activity

	if cfg.Metrics.Enabled {
		s.metrics = observability.NewMetrics(logger)
		s.auditLog.OnAppend(func(e audit.EventType) { s.metrics.RecordAuditEvent(string(e)) })
	}
	tracing, err := observability.NewTracing(logger, cfg.Tracing, cfg.Server.Name, version)
	if err != nil {
		return nil, err
	}
	s.tracing = tracing

	s.health = observability.NewHealth(logger)
	s.health.AddChecker(observability.NewDirChecker("data-dir", cfg.DataDir))
	s.health.AddChecker(observability.NewCheckerFunc("activity-store", func(_ context.Context) error {
		_, err := s.activity.Count()
		return err
	}))

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate server binary: %w", err)
	}
	s.executor = runner.NewExecutor(self, cfg.Exec.DefaultTimeout(), cfg.Exec.KillGrace(), logger)

	s.registry = tools.NewRegistry(logger)
	s.orch = engine.NewOrchestrator(engine.Deps{
		Permissions: s.perms,
		Contexts:    s.contexts,
		Quotas:      s.quotas,
		Audit:       s.auditLog,
		Activity:    s.activity,
		Metrics:     s.metrics,
		Tracing:     s.tracing,
	}, cfg.Exec.DefaultTimeout(), logger)

	s.dispatcher = protocol.NewDispatcher(protocol.ServerInfo{
		Name:    cfg.Server.Name,
		Version: version,
	}, logger)
	s.registerMethods()

	return s, nil
}

// ephemeralSecret generates a process-lifetime signing secret.
func ephemeralSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Tools returns the tool registry so the caller can install the toolkit
// before Run.
func (s *Server) Tools() *tools.Registry { return s.registry }

// Orchestrator returns the execution pipeline for tools that consult
// execution statistics.
func (s *Server) Orchestrator() *engine.Orchestrator { return s.orch }

// Sandbox returns the jail manager.
func (s *Server) Sandbox() *sandbox.Dirs { return s.dirs }

// Contexts returns the per-client execution contexts.
func (s *Server) Contexts() *sandbox.Contexts { return s.contexts }

// Quotas returns the resource quota manager.
func (s *Server) Quotas() *sandbox.QuotaManager { return s.quotas }

// Permissions returns the authorization engine.
func (s *Server) Permissions() *permission.Engine { return s.perms }

// Executor returns the subprocess executor.
func (s *Server) Executor() *runner.Executor { return s.executor }

// Metrics returns the Prometheus collectors, nil when metrics are disabled.
func (s *Server) Metrics() *observability.Metrics { return s.metrics }

// Dispatcher returns the protocol state machine, mainly for tests that
// drive frames without a transport.
func (s *Server) Dispatcher() *protocol.Dispatcher { return s.dispatcher }

// Run builds the configured transport and serves until ctx is cancelled
// or the transport fails.
func (s *Server) Run(ctx context.Context) error {
	tr, err := s.buildTransport()
	if err != nil {
		return err
	}
	s.transport = tr
	s.started = time.Now()

	if s.metrics != nil {
		s.metrics.SetToolsTotal(s.registry.Count())
		go s.trackUptime(ctx)
	}

	s.logger.Infow("server starting",
		"name", s.cfg.Server.Name,
		"version", s.version,
		"transport", tr.Name(),
		"tools", s.registry.Count(),
		"data_dir", s.cfg.DataDir)

	return tr.Start(ctx)
}

func (s *Server) buildTransport() (transport.Transport, error) {
	maxFrame := s.cfg.Transport.MaxFrameBytes
	switch s.cfg.Transport.Mode {
	case config.TransportStdio:
		return transport.NewStdio(s.dispatcher, os.Stdin, os.Stdout, maxFrame, s.metrics, s.logger), nil
	case config.TransportTCP:
		return transport.NewTCP(s.dispatcher, s.cfg.Transport.TCP, maxFrame, s.metrics, s.logger), nil
	case config.TransportWS:
		return transport.NewWS(s.dispatcher, s.cfg.Transport.WS, maxFrame, s.metrics, s.tracing, s.health, s.logger), nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", s.cfg.Transport.Mode)
	}
}

func (s *Server) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.SetUptime(s.started)
		}
	}
}

// Close releases everything Run and New acquired. Safe to call after a
// failed Run.
func (s *Server) Close() error {
	var errs []error
	if s.transport != nil {
		if err := s.transport.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("transport stop: %w", err))
		}
	}
	if s.activity != nil {
		if err := s.activity.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracing.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

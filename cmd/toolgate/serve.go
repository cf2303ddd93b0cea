package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"toolgate/internal/config"
	"toolgate/internal/logs"
	"toolgate/internal/server"
	"toolgate/internal/toolkit"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the tool execution server",
		Long: `Run the server on the configured transport until interrupted.

Configuration is read from defaults, then the optional config file, then
TOOLGATE_* environment variables; the flags below override all three.`,
		RunE: runServe,
	}

	serveConfigFile string
	serveTransport  transportValue
	serveListen     string
	serveDataDir    string
	serveLogLevel   string
	serveLogToFile  bool
)

// transportValue is a pflag.Value accepting only the supported transport
// modes, so a typo fails at flag parse time rather than as a late config
// validation error. The empty value means "use the configured mode".
type transportValue string

func (v *transportValue) String() string { return string(*v) }

func (v *transportValue) Type() string { return "transport" }

func (v *transportValue) Set(s string) error {
	switch s {
	case config.TransportStdio, config.TransportTCP, config.TransportWS:
		*v = transportValue(s)
		return nil
	default:
		return fmt.Errorf("must be one of %s, %s, %s",
			config.TransportStdio, config.TransportTCP, config.TransportWS)
	}
}

// GetServeCommand returns the serve command for the root command.
func GetServeCommand() *cobra.Command { return serveCmd }

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "Configuration file path (JSON or YAML)")
	serveCmd.Flags().VarP(&serveTransport, "transport", "t", "Transport mode: stdio, tcp, or ws")
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address for the tcp/ws transports (host:port)")
	serveCmd.Flags().StringVarP(&serveDataDir, "data-dir", "d", "", "Data directory path")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveLogToFile, "log-to-file", false, "Also write logs to a rotating file")

	serveCmd.Example = `  # Serve line-delimited JSON-RPC on stdin/stdout
  toolgate serve

  # Serve the length-prefixed TCP transport on all interfaces
  toolgate serve --transport=tcp --listen=0.0.0.0:9000

  # Serve WebSocket with a config file and verbose logging
  toolgate serve -c toolgate.yaml --transport=ws --log-level=debug`
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	zlogger, err := logs.Setup(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() {
		_ = zlogger.Sync()
	}()
	logger := zlogger.Sugar()

	srv, err := server.New(cfg, logger, version)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Errorw("shutdown left errors behind", "error", err)
		}
	}()

	err = toolkit.Register(srv.Tools(), toolkit.Deps{
		Dirs:         srv.Sandbox(),
		Contexts:     srv.Contexts(),
		Quotas:       srv.Quotas(),
		Executor:     srv.Executor(),
		Permissions:  srv.Permissions(),
		Orchestrator: srv.Orchestrator(),
		Metrics:      srv.Metrics(),
		MemoryMB:     cfg.Exec.DefaultMemoryMB,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadServeConfig layers the command line over the loaded configuration.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return nil, err
	}

	if serveDataDir != "" {
		cfg.DataDir = serveDataDir
	}
	if serveTransport != "" {
		cfg.Transport.Mode = string(serveTransport)
	}
	if serveListen != "" {
		host, port, err := splitListen(serveListen)
		if err != nil {
			return nil, err
		}
		cfg.Transport.TCP.Host, cfg.Transport.TCP.Port = host, port
		cfg.Transport.WS.Host, cfg.Transport.WS.Port = host, port
	}
	if serveLogLevel != "" {
		cfg.Logging.Level = serveLogLevel
	}
	if cmd.Flags().Changed("log-to-file") {
		cfg.Logging.ToFile = serveLogToFile
		if cfg.Logging.ToFile && cfg.Logging.Filename == "" {
			cfg.Logging.Filename = filepath.Join(cfg.DataDir, "toolgate.log")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitListen(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	return host, port, nil
}

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/acme/autocert"

	"crawshaw.io/iox"

	"imapd/imap/listener"
	"imapd/imap/memtest"
	"imapd/imap/session"
	"imapd/internal/config"
	"imapd/internal/logging"
	"imapd/util/devcert"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

var cfgFile string
var devMode bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "imapd",
	Short: "A standalone IMAP4rev1 server engine",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the IMAP server",
	RunE:  runServe,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Println("configuration OK")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("imapd %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "imapd.yaml", "config file path")
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "development mode: local self-signed cert, seeds a demo user")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create required directories: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("imapd starting", "version", version, "hostname", cfg.Server.Hostname)

	tlsConfig, err := buildTLSConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}

	backendStore := memtest.NewStore()
	if devMode {
		if err := backendStore.AddUser("demo", "demo"); err != nil {
			logger.Warn("failed to seed demo user", "error", err.Error())
		} else {
			logger.Info("dev mode: seeded demo user", "username", "demo", "password", "demo")
		}
	}

	filer := iox.NewFiler(0)
	tempdir, err := ioutil.TempDir("", "imapd-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	filer.SetTempdir(tempdir)
	defer os.RemoveAll(tempdir)

	srv := &listener.Server{
		Config: session.Config{
			ServerName:        cfg.Server.Hostname,
			Version:           version,
			Backend:           backendStore,
			Capabilities:      session.DefaultCapabilities,
			TLSConfig:         tlsConfig,
			AllowExternalAuth: cfg.Auth.AllowExternal,
			MaxLiteral:        uint32(cfg.Limits.MaxLiteral),
			IdleTimeout:       cfg.IdleTimeoutOr(30 * time.Minute),
			IdleIdleTimeout:   cfg.IdleIdleTimeoutOr(24 * time.Minute),
			Logger:            logger.Logger,
		},
		Filer:         filer,
		AcceptTimeout: cfg.AcceptTimeoutOr(10 * time.Second),
		ShutdownGrace: cfg.ShutdownTimeoutOr(10 * time.Second),
		Logger:        logger.Logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.Info("metrics endpoint starting", "addr", cfg.Metrics.Listen)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err.Error())
			}
		}()
	}

	errCh := make(chan error, 2)
	if cfg.Server.IMAPAddr != "" {
		ln, err := net.Listen("tcp", cfg.Server.IMAPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.IMAPAddr, err)
		}
		logger.Info("IMAP listener started", "addr", cfg.Server.IMAPAddr)
		go func() {
			err := srv.Serve(ctx, listener.Endpoint{Listener: ln})
			if err != listener.ErrServerClosed {
				errCh <- err
			}
		}()
	}
	if cfg.Server.IMAPSAddr != "" {
		if tlsConfig == nil {
			return fmt.Errorf("server.imaps_addr is set but no TLS configuration is available")
		}
		ln, err := net.Listen("tcp", cfg.Server.IMAPSAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.IMAPSAddr, err)
		}
		logger.Info("IMAPS listener started", "addr", cfg.Server.IMAPSAddr)
		go func() {
			err := srv.Serve(ctx, listener.Endpoint{Listener: ln, ImplicitTLS: true})
			if err != listener.ErrServerClosed {
				errCh <- err
			}
		}()
	}
	if cfg.Server.ProxyAddr != "" {
		ln, err := net.Listen("tcp", cfg.Server.ProxyAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Server.ProxyAddr, err)
		}
		logger.Info("PROXY-PROTOCOL listener started", "addr", cfg.Server.ProxyAddr)
		go func() {
			err := srv.Serve(ctx, listener.Endpoint{Listener: ln, ProxyProtocol: true})
			if err != listener.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("listener error", "error", err.Error())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutOr(10*time.Second))
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	if err := filer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("filer shutdown error", "error", err.Error())
	}

	logger.Info("imapd stopped")
	return nil
}

func buildTLSConfig(cfg *config.Config, logger *logging.Logger) (*tls.Config, error) {
	if devMode {
		logger.Warn("dev mode: using a local self-signed certificate")
		return devcert.Config()
	}
	if cfg.TLS.AutoTLS {
		certManager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.Hostname),
			Cache:      autocert.DirCache(cfg.TLS.CacheDir),
			Email:      cfg.TLS.Email,
		}
		go func() {
			if err := http.ListenAndServe(":80", certManager.HTTPHandler(nil)); err != nil && err != http.ErrServerClosed {
				log.Printf("autocert HTTP-01 challenge server: %v", err)
			}
		}()
		return &tls.Config{GetCertificate: certManager.GetCertificate}, nil
	}
	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

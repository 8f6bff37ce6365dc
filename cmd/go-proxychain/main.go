package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/denisvmedia/go-proxychain/internal/helper"
	"github.com/denisvmedia/go-proxychain/proxy"
	"github.com/denisvmedia/go-proxychain/version"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		slog.Error("go-proxychain failed", "error", err)
		os.Exit(1) //revive:disable-line:deep-exit -- ok for cmd/*
	}
}

func newRootCommand() *cobra.Command {
	config := new(Config)
	var configFile string

	cmd := &cobra.Command{
		Use:          "go-proxychain",
		Short:        "Programmable HTTP(S) forward proxy with upstream chaining",
		Version:      version.String(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				fileConfig, err := loadConfigFile(configFile)
				if err != nil {
					return err
				}
				mergeConfig(cmd, config, fileConfig)
			}
			return run(config)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "read configuration from a YAML file (flags take precedence)")
	flags.IntVar(&config.Port, "port", 8000, "port to listen on (0 picks any free port)")
	flags.StringVar(&config.Host, "host", "", "host to bind (default all interfaces)")
	flags.StringVar(&config.ServerType, "server-type", "http", `listener type: "http" or "https"`)
	flags.StringVar(&config.TLSCert, "tls-cert", "", "PEM certificate file for an https listener")
	flags.StringVar(&config.TLSKey, "tls-key", "", "PEM key file for an https listener")
	flags.StringVar(&config.AuthRealm, "auth-realm", "ProxyChain", "realm quoted in Proxy-Authenticate")
	flags.StringVar(&config.Auth, "auth", "", `require proxy authentication, "user:pass|user2:pass2"`)
	flags.StringVar(&config.Upstream, "upstream", "", "chain through an upstream proxy URL (http, https or socks5)")
	flags.StringSliceVar(&config.BypassHosts, "bypass-hosts", nil, "hosts dialed directly even when an upstream is set (wildcards allowed)")
	flags.BoolVar(&config.Verbose, "verbose", false, "emit internal logs")

	return cmd
}

func run(config *Config) error {
	level := slog.LevelInfo
	if config.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var upstreamURL *url.URL
	if config.Upstream != "" {
		u, err := url.Parse(config.Upstream)
		if err != nil {
			return fmt.Errorf("invalid upstream URL: %w", err)
		}
		upstreamURL = u
	}

	prepareRequest, err := newPrepareRequest(config, upstreamURL)
	if err != nil {
		return err
	}

	opts := proxy.Options{
		Port:           config.Port,
		Host:           config.Host,
		ServerType:     config.ServerType,
		AuthRealm:      config.AuthRealm,
		Verbose:        config.Verbose,
		PrepareRequest: prepareRequest,
	}

	if config.ServerType == "https" {
		httpsOptions, err := loadHTTPSOptions(config)
		if err != nil {
			return err
		}
		opts.HTTPSOptions = httpsOptions
	}

	server, err := proxy.NewServer(opts)
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return err
	}
	slog.Info("go-proxychain started",
		slog.String("version", server.Version),
		slog.Int("port", server.Port()),
		slog.String("serverType", config.ServerType),
	)

	server.On(proxy.EventConnectionClosed, func(payload any) {
		ev := payload.(proxy.ConnectionClosedEvent)
		slog.Debug("connection closed",
			"connectionID", ev.ConnectionID,
			"srcRxBytes", ev.Stats.SrcRxBytes,
			"srcTxBytes", ev.Stats.SrcTxBytes,
			"trgRxBytes", ev.Stats.TrgRxBytes,
			"trgTxBytes", ev.Stats.TrgTxBytes,
		)
	})

	// First signal closes gracefully, a second one forces teardown.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	slog.Info("shutting down, waiting for connections to finish (interrupt again to force)")
	done := make(chan error, 1)
	go func() { done <- server.Close(false) }()
	select {
	case err := <-done:
		return err
	case <-sigChan:
		slog.Warn("forcing shutdown")
		return server.Close(true)
	}
}

func loadHTTPSOptions(config *Config) (*proxy.HTTPSOptions, error) {
	if config.TLSCert == "" && config.TLSKey == "" {
		// No key pair configured: self-sign one for local use.
		cert, err := helper.NewSelfSignedCert("localhost", "127.0.0.1")
		if err != nil {
			return nil, err
		}
		slog.Warn("no TLS key pair configured, using a self-signed certificate")
		return &proxy.HTTPSOptions{Certificates: []tls.Certificate{cert}}, nil
	}

	certPEM, err := os.ReadFile(config.TLSCert)
	if err != nil {
		return nil, fmt.Errorf("read TLS certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(config.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("read TLS key: %w", err)
	}
	return &proxy.HTTPSOptions{Cert: certPEM, Key: keyPEM}, nil
}

package cmd

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironlink/server"
)

var (
	listenAddr    string
	registryPath  string
	jwtSecretFile string
	tlsCert       string
	tlsKey        string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the reference IronLink responder",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		opts := []server.Option{server.WithLogger(logger), server.WithRegisterer(reg)}
		if jwtSecretFile != "" {
			secret, err := os.ReadFile(jwtSecretFile)
			if err != nil {
				return fmt.Errorf("reading JWT secret: %w", err)
			}
			secret = bytes.TrimSpace(secret)
			if len(secret) < 32 {
				return errors.New("JWT secret must be at least 32 bytes")
			}
			opts = append(opts, server.WithJWTSecret(secret))
		} else {
			logger.Warn("no --jwt-secret-file; user tokens will not survive a restart")
		}
		srv, err := server.New(opts...)
		if err != nil {
			return err
		}
		if registryPath != "" {
			nodes, users, err := loadRegistry(srv, registryPath)
			if err != nil {
				return err
			}
			logger.Info("registry loaded", "nodes", nodes, "users", users)
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		r.Mount("/", srv)

		httpServer := &http.Server{
			Addr:              listenAddr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		useTLS := tlsCert != "" && tlsKey != ""
		if useTLS {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			httpServer.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			logger.Warn("serving plain HTTP; pass --tls-cert and --tls-key outside local development")
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if useTLS {
				err = httpServer.ListenAndServeTLS("", "")
			} else {
				err = httpServer.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting responder on %s (docs at /docs, metrics at /metrics)...\n", listenAddr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&listenAddr, "addr", ":8443", "Address to listen on")
	serverCmd.Flags().StringVar(&registryPath, "registry", "", "JSON file of registered nodes and users")
	serverCmd.Flags().StringVar(&jwtSecretFile, "jwt-secret-file", "", "File holding the HMAC secret for user tokens")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}

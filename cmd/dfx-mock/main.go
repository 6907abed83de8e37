// dfx-mock runs an in-process DFX server for local development: the
// REST endpoints on /, the framed websocket sub-protocol on /ws, and
// Prometheus metrics on /metrics. Every uploaded chunk payload is
// echoed back to the active subscription as one result chunk.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/deepaffex/dfx/internal/mockdfx"
)

func main() {
	var (
		addr       string
		licenseKey string
		maxChunks  int
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:           "dfx-mock",
		Short:         "Run a mock DFX server for local development",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level}))

			mock := mockdfx.New(mockdfx.WithLogger(logger))
			mock.LicenseKey = licenseKey
			mock.MaxChunksPerMeasurement = maxChunks

			r := chi.NewRouter()
			r.Use(chimw.RequestLogger(&chimw.DefaultLogFormatter{
				Logger: slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
			}))
			r.Handle("/metrics", promhttp.Handler())
			r.Mount("/", mock.Handler())

			logger.Info("mock server listening", "addr", addr)
			return http.ListenAndServe(addr, r)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":9443", "Listen address")
	cmd.Flags().StringVar(&licenseKey, "license-key", "", "Accepted license key (empty accepts any)")
	cmd.Flags().IntVar(&maxChunks, "max-chunks", 8, "Chunks before a measurement closes (0 = unlimited)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

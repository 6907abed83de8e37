package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deepaffex/dfx"
	"github.com/deepaffex/dfx/pkg/measurement"
	"github.com/deepaffex/dfx/pkg/sink"
)

func measureCmd() *cobra.Command {
	var (
		server      string
		licenseKey  string
		studyID     string
		email       string
		password    string
		mode        string
		addMethod   string
		configPath  string
		chunkLength float64
		outDir      string
	)

	cmd := &cobra.Command{
		Use:   "measure <chunk-dir>",
		Short: "Upload a recording and stream back its results",
		Long: `Upload every payload file in <chunk-dir> (in name order) as one
recording, subscribing to the computed results as they arrive.

Result payloads are written to --out as numbered files, or discarded
when --out is not given.

Examples:
  dfx measure ./payloads --study-id STUDY --email me@example.com
  dfx measure ./payloads --add-method websocket --server qa`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasure(measureParams{
				chunkDir:    args[0],
				server:      server,
				licenseKey:  envDefault(licenseKey, "DFX_LICENSE_KEY"),
				studyID:     envDefault(studyID, "DFX_STUDY_ID"),
				email:       envDefault(email, "DFX_EMAIL"),
				password:    envDefault(password, "DFX_PASSWORD"),
				mode:        mode,
				addMethod:   addMethod,
				configPath:  configPath,
				chunkLength: chunkLength,
				outDir:      outDir,
			})
		},
	}

	cmd.Flags().StringVar(&server, "server", dfx.DefaultServer, "Server catalog key")
	cmd.Flags().StringVar(&licenseKey, "license-key", "", "DFX license key ($DFX_LICENSE_KEY)")
	cmd.Flags().StringVar(&studyID, "study-id", "", "Study ID ($DFX_STUDY_ID)")
	cmd.Flags().StringVar(&email, "email", "", "Login email ($DFX_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Login password ($DFX_PASSWORD)")
	cmd.Flags().StringVar(&mode, "mode", dfx.DefaultMode, "Measurement mode")
	cmd.Flags().StringVar(&addMethod, "add-method", dfx.DefaultAddMethod, "Chunk upload backend: rest or websocket")
	cmd.Flags().StringVar(&configPath, "config", "", "Credential cache file (default: user config dir)")
	cmd.Flags().Float64Var(&chunkLength, "chunk-length", dfx.DefaultChunkLength, "Chunk duration in seconds")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for result payload files")

	return cmd
}

type measureParams struct {
	chunkDir    string
	server      string
	licenseKey  string
	studyID     string
	email       string
	password    string
	mode        string
	addMethod   string
	configPath  string
	chunkLength float64
	outDir      string
}

func envDefault(flag, env string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(env)
}

func runMeasure(p measureParams) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for name, v := range map[string]string{
		"license key": p.licenseKey,
		"study ID":    p.studyID,
		"email":       p.email,
		"password":    p.password,
	} {
		if v == "" {
			return fmt.Errorf("missing %s", name)
		}
	}

	files, err := chunkFiles(p.chunkDir)
	if err != nil {
		return err
	}
	videoLength := p.chunkLength * float64(len(files))

	client, err := dfx.New(ctx, p.licenseKey, p.studyID, p.email, p.password,
		dfx.WithServer(p.server),
		dfx.WithMode(p.mode),
		dfx.WithAddMethod(p.addMethod),
		dfx.WithConfigPath(p.configPath),
		dfx.WithChunkLength(p.chunkLength),
		dfx.WithVideoLength(videoLength))
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := client.CreateMeasurement(ctx)
	if err != nil {
		return err
	}
	slog.Info("measurement started", "measurement_id", id, "chunks", len(files))

	received := 0
	snk := sink.Func(func(_ context.Context, payload []byte) error {
		received++
		if p.outDir == "" {
			slog.Info("result received", "number", received, "bytes", len(payload))
			return nil
		}
		name := filepath.Join(p.outDir, fmt.Sprintf("result-%03d.bin", received))
		return os.WriteFile(name, payload, 0o644)
	})

	subErr := make(chan error, 1)
	go func() {
		subErr <- client.SubscribeToResults(ctx, snk)
	}()

	for i, file := range files {
		payload, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		chunk := measurement.Chunk{
			Order:     i,
			Total:     len(files),
			StartTime: fmt.Sprintf("%g", float64(i)*p.chunkLength),
			EndTime:   fmt.Sprintf("%g", float64(i+1)*p.chunkLength),
			Duration:  fmt.Sprintf("%g", p.chunkLength),
			Payload:   payload,
		}
		if err := client.AddChunk(ctx, chunk); err != nil {
			return fmt.Errorf("add chunk %d: %w", i, err)
		}
		slog.Info("chunk uploaded", "order", i, "file", filepath.Base(file))
	}

	if err := <-subErr; err != nil {
		return err
	}

	results, err := client.RetrieveResults(ctx, "")
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// chunkFiles lists the payload files of a recording in name order.
func chunkFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no payload files in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/52poke/nxcache/internal/cache"
	"github.com/52poke/nxcache/internal/config"
	"github.com/52poke/nxcache/internal/http"
	"github.com/52poke/nxcache/internal/logging"
	"github.com/52poke/nxcache/internal/run"
	"github.com/52poke/nxcache/internal/stats"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

const defaultRunJSON = ".nx/cache/run.json"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "stats" {
		if err := runStats(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	logger := logging.NewStdout(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := serve(cfg, logger); err != nil {
		logger.Error().Err(err).Str("backend", cfg.Backend).Msg("server failed")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

// serve runs until SIGINT/SIGTERM. The backend is closed before it returns,
// including on error.
func serve(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, runs, closer, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer closer.Close()

	handler := httpx.NewHandler(cfg, store, runs)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpx.Wrap(handler, cfg.AuthToken, logger),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("backend", cfg.Backend).
		Int("ttl_seconds", cfg.CacheTTLSeconds).
		Msg("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore connects the configured backend once. Any failure is fatal to
// the caller; there is no degraded mode.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (cache.Store, run.Tracker, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
		if err != nil {
			return nil, nil, nil, err
		}
		s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
		store := cache.NewS3Store(cfg.S3Bucket, cfg.S3Prefix, s3Client, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, nil, nil, err
		}
		return store, nil, nopCloser{}, nil
	case config.BackendBolt:
		store, err := cache.OpenBoltStore(cfg.BoltPath, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, store, nil
	default:
		store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		}, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		runs := run.NewRedisTracker(store.Client(), time.Duration(cfg.RunTTLSeconds)*time.Second, logger)
		return store, runs, store, nil
	}
}

// runStats implements "nxcache stats [-json] [-o file] [run.json]".
func runStats(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stdout)
	asJSON := fs.Bool("json", false, "write the report as JSON to a file named after the Nx command")
	out := fs.String("o", "", "JSON report path (implies -json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := defaultRunJSON
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not find run.json at %q: %w", path, err)
	}
	defer f.Close()

	rep, err := stats.Compute(f)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", path, err)
	}

	if !*asJSON && *out == "" {
		return stats.Print(stdout, rep)
	}

	target := *out
	if target == "" {
		target = rep.FileName()
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	w, err := os.Create(target)
	if err != nil {
		return err
	}
	if err := stats.WriteJSON(w, rep); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "stats written to %s\n", target)
	return err
}

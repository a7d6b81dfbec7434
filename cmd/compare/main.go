// Command compare is the two-vehicle comparison form in the terminal. Each
// vehicle is a cascade of dependent selects (make, year, model) filled from
// the vehicle-data API; a completed pair is stored in Neo4j and published to
// NATS when configured.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/wessley-compare/engine/cascade"
	"github.com/WessleyAI/wessley-compare/engine/compare"
	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/engine/form"
	"github.com/WessleyAI/wessley-compare/engine/vehicleapi"
	"github.com/WessleyAI/wessley-compare/pkg/metrics"
	"github.com/WessleyAI/wessley-compare/pkg/natsutil"
)

// Config holds all environment-based configuration. Flags override the
// environment.
type Config struct {
	APIBaseURL     string
	Variant        string
	RequestTimeout time.Duration
	APIRate        float64
	MetricsPort    string
	NATSURL        string
	NATSSubject    string
	Neo4jURI       string
	Neo4jUser      string
	Neo4jPass      string
	LogFile        string
	LogLevel       string
	LookupVIN      string
}

func loadConfig(args []string) (Config, error) {
	timeout, err := time.ParseDuration(envOr("REQUEST_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	apiRate, err := strconv.ParseFloat(envOr("API_RATE", "10"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("API_RATE: %w", err)
	}
	cfg := Config{
		APIBaseURL:     envOr("API_BASE_URL", "http://localhost:5000"),
		Variant:        envOr("CHAIN_VARIANT", "make-year-model"),
		RequestTimeout: timeout,
		APIRate:        apiRate,
		MetricsPort:    envOr("METRICS_PORT", ""),
		NATSURL:        envOr("NATS_URL", ""),
		NATSSubject:    envOr("NATS_SUBJECT", "wessley.compare.selected"),
		Neo4jURI:       envOr("NEO4J_URI", ""),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", ""),
		LogFile:        envOr("LOG_FILE", "compare.log"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
	}

	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "vehicle API base URL")
	fs.StringVar(&cfg.Variant, "variant", cfg.Variant, fmt.Sprintf("field chain %v", cascade.PresetNames()))
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "per-request timeout")
	fs.Float64Var(&cfg.APIRate, "rate", cfg.APIRate, "API requests per second (0 = unlimited)")
	fs.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "serve /metrics on this port (empty = off)")
	fs.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL (empty = do not publish)")
	fs.StringVar(&cfg.NATSSubject, "subject", cfg.NATSSubject, "NATS subject for completed comparisons")
	fs.StringVar(&cfg.Neo4jURI, "neo4j", cfg.Neo4jURI, "Neo4j URI for comparison history (empty = keep in memory)")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file (- = stderr)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LookupVIN, "vin", "", "decode one VIN, print it as JSON and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if _, err := cascade.Preset(cfg.Variant); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// historySize is how many comparisons the session keeps without Neo4j.
const historySize = 20

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newLogger builds the JSON logger. The terminal belongs to the form, so logs
// go to a file unless path is "-".
func newLogger(path, level string) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	var w io.WriteCloser = nopCloser{os.Stderr}
	if path != "-" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log: %w", err)
		}
		w = f
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), w, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, closer, err := newLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("compare exited with error", "err", err)
		fmt.Fprintln(os.Stderr, err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	client, err := vehicleapi.New(vehicleapi.Config{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.RequestTimeout,
		Rate:    cfg.APIRate,
		Burst:   3,
		Logger:  logger,
		Metrics: reg,
	})
	if err != nil {
		return err
	}

	if cfg.LookupVIN != "" {
		v, err := client.LookupVIN(ctx, cfg.LookupVIN)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	def, err := cascade.Preset(cfg.Variant)
	if err != nil {
		return err
	}

	history := compare.NewHistory(historySize)
	if cfg.Neo4jURI != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return fmt.Errorf("neo4j connect: %w", err)
		}
		history = compare.NewNeo4jHistory(driver, time.Now().UnixMilli())
		logger.Info("storing comparisons in neo4j", "uri", cfg.Neo4jURI)
	}
	var natsPub compare.Publisher
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("wessley-compare"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		natsPub = natsutil.NewPublisher[domain.Comparison](nc, cfg.NATSSubject)
		logger.Info("publishing comparisons", "subject", cfg.NATSSubject)
	}

	f := form.New(compare.IDs(def)...)
	updates := watch(f)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	page, err := compare.Open(ctx, def, f, client, compare.Config{
		Logger:    logger,
		Metrics:   reg,
		Publisher: compare.Fanout(history, natsPub),
	})
	if err != nil {
		return err
	}
	defer page.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsPort != "" {
		srv := &http.Server{
			Addr:              ":" + cfg.MetricsPort,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server starting", "port", cfg.MetricsPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		p := tea.NewProgram(newModel(def, f, page, history, updates), tea.WithContext(gctx), tea.WithAltScreen())
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("tui: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func metricsMux(reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/jsondb/internal/logger"
	"github.com/nainya/jsondb/internal/metrics"
	"github.com/nainya/jsondb/internal/server"
	"github.com/nainya/jsondb/pkg/query"
)

type config struct {
	Listen         string
	MetricsListen  string
	Locking        string
	MaxConnections int
	Databases      []string
	SnapshotDir    string
	Watch          bool
	QueueSize      int
	LogLevel       string
	LogPretty      bool
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "jsondb",
		Short:         "jsondb serves shared JSON documents with path locks and change notifications",
		SilenceErrors: true,
		Example: `
  # In-memory database with record-level locks
  jsondb --locking record

  # Two databases persisted under /var/lib/jsondb, reloaded on external edits
  jsondb --db main --db scratch --snapshot-dir /var/lib/jsondb --watch

  # Configure through the environment
  JSONDB_LOCKING=transaction JSONDB_MAX_CONNECTIONS=100 jsondb
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if err := loadConfigFile(v); err != nil {
				return err
			}
			cfg, err := configFromViper(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a YAML, TOML, or JSON config file")
	flags.String("listen", ":50051", "gRPC listen address")
	flags.String("metrics-listen", ":9090", "metrics, health, and pprof listen address (empty disables)")
	flags.String("locking", "none", "locking policy: none, record, transaction, or full")
	flags.Int("max-connections", 0, "maximum concurrent subscription streams (0 is unlimited)")
	flags.StringSlice("db", []string{"main"}, "database names; the first is the default")
	flags.String("snapshot-dir", "", "directory holding <db>.json snapshots (empty keeps data in memory)")
	flags.Bool("watch", false, "reload snapshots when they change on disk")
	flags.Int("queue-size", server.DefaultQueueSize, "notifications buffered per subscription stream")
	flags.String("log-level", "info", "log level: debug, info, warn, or error")
	flags.Bool("log-pretty", false, "human-readable console logs")

	v.SetEnvPrefix("JSONDB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})

	cmd.AddCommand(newCallCommand())
	return cmd
}

func loadConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path %q: %w", path, err)
	}
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", abs, err)
	}
	return nil
}

func configFromViper(v *viper.Viper) (config, error) {
	cfg := config{
		Listen:         v.GetString("listen"),
		MetricsListen:  v.GetString("metrics-listen"),
		Locking:        v.GetString("locking"),
		MaxConnections: v.GetInt("max-connections"),
		Databases:      v.GetStringSlice("db"),
		SnapshotDir:    v.GetString("snapshot-dir"),
		Watch:          v.GetBool("watch"),
		QueueSize:      v.GetInt("queue-size"),
		LogLevel:       v.GetString("log-level"),
		LogPretty:      v.GetBool("log-pretty"),
	}
	if len(cfg.Databases) == 0 {
		return cfg, errors.New("at least one --db is required")
	}
	if cfg.Watch && cfg.SnapshotDir == "" {
		return cfg, errors.New("--watch requires --snapshot-dir")
	}
	return cfg, nil
}

// buildSettings turns rejected values into a startup error
func buildSettings(cfg config) (query.Settings, error) {
	b := query.NewSettingsBuilder().
		LockingPolicy(cfg.Locking).
		MaxConnections(cfg.MaxConnections)
	if rejected := b.Rejected(); len(rejected) > 0 {
		return query.Settings{}, fmt.Errorf("invalid settings: %w", errors.Join(rejected...))
	}
	return b.Build(), nil
}

func snapshotFile(dir, db string) string {
	return filepath.Join(dir, db+".json")
}

func run(ctx context.Context, cfg config) error {
	logger.InitGlobalLogger(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	log := logger.GetGlobalLogger()

	settings, err := buildSettings(cfg)
	if err != nil {
		return err
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	reg := query.NewRegistry(settings, query.WithLogger(log), query.WithMetrics(m))
	log.LogServerStart(cfg.Listen, cfg.Databases, settings.LockingPolicy().String())

	for _, name := range cfg.Databases {
		e, err := reg.Create(name)
		if err != nil {
			return err
		}
		if cfg.SnapshotDir == "" {
			continue
		}
		file := snapshotFile(cfg.SnapshotDir, name)
		if _, err := os.Stat(file); err == nil {
			if err := e.Load(file); err != nil {
				return err
			}
		}
		if cfg.Watch {
			if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
				return fmt.Errorf("create snapshot dir: %w", err)
			}
			sw, err := query.NewSnapshotWatcher(e, file)
			if err != nil {
				return err
			}
			go sw.Run(ctx)
		}
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := server.NewServer(reg,
		server.WithLogger(log),
		server.WithMetrics(m),
		server.WithQueueSize(cfg.QueueSize),
	)
	grpcServer := srv.NewGRPCServer()

	// Register reflection service for grpcurl/grpcui
	reflection.Register(grpcServer)

	var obs *server.ObservabilityServer
	if cfg.MetricsListen != "" {
		obs = server.NewObservabilityServer(cfg.MetricsListen, prometheus.DefaultGatherer, nil, srv.Status, log)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("Observability server failed").Err(err).Send()
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(lis)
	}()
	log.LogServerReady(lis.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	}

	log.LogServerShutdown()
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		// Subscription streams only end when their clients leave
		grpcServer.Stop()
	}

	var errs []error
	if cfg.SnapshotDir != "" {
		if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create snapshot dir: %w", err))
		} else {
			for _, name := range reg.Names() {
				e, _ := reg.Get(name)
				if err := e.Save(snapshotFile(cfg.SnapshotDir, name)); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

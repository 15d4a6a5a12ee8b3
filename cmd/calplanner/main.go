package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"calplanner/internal/config"
	appLog "calplanner/internal/log"
	"calplanner/internal/metrics"
	"calplanner/internal/recurrence"
	"calplanner/internal/snapshot"
	"calplanner/internal/store"
	"calplanner/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	snapshot   bool
}

func main() {
	appLog.Info("calplanner starting", "version", "0.1.0")

	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to read .env", "error", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"storage_driver", conf.Storage.Driver,
		"storage_path", conf.Storage.Path,
		"cache_enabled", !conf.Cache.Disabled,
		"snapshot_cron", conf.Snapshot.Cron,
		"basic_auth", conf.BasicAuth != nil,
	)

	if err := run(conf, flags); err != nil {
		appLog.Error("calplanner stopped with error", err)
		os.Exit(1)
	}
	appLog.Info("calplanner exiting")
}

func run(conf *config.Config, flags flagConfig) error {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(conf.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			appLog.Error("failed to close store", err)
		}
	}()

	m := metrics.New()

	var cache *recurrence.Cache
	if !conf.Cache.Disabled {
		cache = recurrence.NewCache(recurrence.CacheConfig{
			TTL:             conf.Cache.TTL,
			MaxEntries:      conf.Cache.MaxEntries,
			CleanupInterval: conf.Cache.CleanupInterval,
		})
		defer cache.Close()
		m.WatchCache(cache)
	}

	var snapDone <-chan struct{}
	if conf.Snapshot.Cron != "" {
		sched, err := snapshot.New(conf.Snapshot, st, m, conf.Location())
		if err != nil {
			return err
		}
		if flags.snapshot {
			return sched.Write(ctx)
		}
		if snapDone, err = sched.Start(ctx); err != nil {
			return err
		}
	} else if flags.snapshot {
		return errors.New("-snapshot needs snapshot.cron and snapshot.path in the config")
	}

	srv := web.NewServer(web.Options{
		Config:  conf,
		Store:   st,
		Cache:   cache,
		Metrics: m,
	})
	err = srv.Run(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	if snapDone != nil {
		stop()
		<-snapDone
	}
	return err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.snapshot, "snapshot", false, "Write one ICS snapshot and exit")

	flag.Parse()

	return cfg
}

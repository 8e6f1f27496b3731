package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"showfilter/internal/attr"
	"showfilter/internal/capture"
	"showfilter/internal/config"
	appLog "showfilter/internal/log"
	"showfilter/internal/source"
	"showfilter/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	snapshot   string
	debug      bool
}

func main() {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	appLog.Info("showfilter starting", "version", "0.1.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"cache_dir", conf.CacheDir,
		"fetch_timeout", conf.FetchTimeout(),
		"widgets", len(conf.Widgets),
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	loc := conf.Location()
	client := source.NewClient(conf.CacheDir,
		source.WithLocation(loc),
		source.WithHTTPClient(&http.Client{Timeout: conf.FetchTimeout()}),
	)

	widgets, err := buildWidgets(conf, client, time.Now)
	if err != nil {
		if errors.Is(err, attr.ErrConfig) {
			appLog.Error("invalid widget config", err)
		} else {
			appLog.Error("failed to build widgets", err)
		}
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refreshAll(ctx, widgets)

	if flags.once {
		if err := printEvents(os.Stdout, widgets, loc); err != nil {
			appLog.Error("failed to print events", err)
			os.Exit(1)
		}
		return
	}

	c := cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(conf.RefreshCron, func() { refreshAll(ctx, widgets) }); err != nil {
		appLog.Error("failed to schedule refresh", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	server := web.NewServer(conf, widgets, flags.debug)

	if flags.snapshot != "" {
		if err := runSnapshot(ctx, server, conf, flags.snapshot); err != nil {
			appLog.Error("snapshot failed", err, "widget", flags.snapshot)
			os.Exit(1)
		}
		return
	}

	if err := server.ListenAndServe(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}
	appLog.Info("showfilter exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/showfilter/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Fetch once, print every widget's filtered events and exit")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Capture a PNG of the named widget into snapshot_dir and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

// runSnapshot serves the widgets on a private loopback port just long
// enough to screenshot one page.
func runSnapshot(ctx context.Context, server *web.Server, conf *config.Config, name string) error {
	if _, ok := conf.Widget(name); !ok {
		return fmt.Errorf("unknown widget %q", name)
	}

	addr, stopServer, err := serveLoopback(ctx, server)
	if err != nil {
		return err
	}

	out := filepath.Join(conf.SnapshotDir, capture.FileName(name, time.Now()))
	err = capture.CapturePNG(ctx, capture.Options{
		URL:        snapshotURL(addr, name),
		OutputPath: out,
		Settle:     500 * time.Millisecond,
	})

	if serr := stopServer(); serr != nil {
		err = errors.Join(err, serr)
	}
	if err != nil {
		return err
	}

	appLog.Info("snapshot written", "widget", name, "path", out)
	return nil
}

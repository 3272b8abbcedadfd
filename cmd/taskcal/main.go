package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/agenda"
	"taskcal/internal/config"
	"taskcal/internal/gcal"
	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/metrics"
	"taskcal/internal/store"
	"taskcal/internal/web"
)

const version = "0.1.0"

const defaultConfigPath = "/etc/taskcal/config.yaml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	listen     string
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "taskcal",
		Short:         "Task calendar with a mirrored remote calendar and ICS feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", defaultConfigPath, "Path to config file")
	root.Flags().StringVar(&c.listen, "listen", "", "HTTP listen address (overrides config if set)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the refresh scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	serve.Flags().StringVar(&c.listen, "listen", "", "HTTP listen address (overrides config if set)")

	root.AddCommand(
		serve,
		&cobra.Command{
			Use:   "sync",
			Short: "Run one refresh cycle and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.syncOnce(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a default config file",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := os.Stat(c.configPath); err == nil {
					return fmt.Errorf("config %s already exists", c.configPath)
				}
				if err := config.Save(c.configPath, config.DefaultConfig()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", c.configPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "taskcal", version)
			},
		},
	)
	return root
}

func (c *cli) load() (*config.Config, error) {
	conf, err := config.Load(c.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", c.configPath)
		return nil, err
	}
	if c.listen != "" {
		conf.Listen = c.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("taskcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"state_dir", conf.StateDir,
		"ics_count", len(conf.ICS),
		"google", conf.Google.Enabled,
	)
	return conf, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func (c *cli) syncOnce(parent context.Context) error {
	conf, err := c.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(parent)
	defer stop()

	svc, err := buildService(ctx, conf, nil)
	if err != nil {
		appLog.Error("failed to initialize", err)
		return err
	}
	if err := svc.Refresh(ctx); err != nil {
		appLog.Error("refresh failed", err)
		return err
	}
	appLog.Info("single refresh complete; exiting")
	return nil
}

func (c *cli) serve(parent context.Context) error {
	conf, err := c.load()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(parent)
	defer stop()

	m := metrics.New()
	svc, err := buildService(ctx, conf, m)
	if err != nil {
		appLog.Error("failed to initialize", err)
		return err
	}

	if err := svc.Refresh(ctx); err != nil {
		// Keep serving local tasks; the scheduler retries.
		appLog.Error("initial refresh failed", err)
	}
	if err := svc.StartRefresh(ctx, conf.RefreshCron); err != nil {
		appLog.Error("failed to start refresh scheduler", err)
		return err
	}

	if err := web.NewServer(conf, svc).WithMetrics(m).Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		return err
	}

	// Let the scheduler goroutine log its shutdown.
	time.Sleep(100 * time.Millisecond)
	appLog.Info("taskcal exiting")
	return nil
}

func buildService(ctx context.Context, conf *config.Config, m *metrics.Metrics) (*agenda.Service, error) {
	loc := conf.Location()
	kv := store.NewFile(conf.StateDir)

	opts := agenda.Options{
		Store:        kv,
		Location:     loc,
		FirstWeekday: conf.FirstWeekday(),
		CacheMonths:  conf.CacheMonths,
		Metrics:      m,
	}

	if conf.Google.Enabled {
		client, err := gcal.New(ctx, gcal.Options{
			CalendarID: conf.Google.CalendarID,
			Endpoint:   conf.Google.Endpoint,
			Tokens:     gcal.FileToken{Path: conf.Google.TokenFile},
			Cursors:    gcal.NewCursorStore(kv),
			Location:   loc,
			Lookback:   time.Duration(conf.Google.LookbackDays) * 24 * time.Hour,
			MaxResults: int64(conf.Google.MaxResults),
		})
		if err != nil {
			return nil, err
		}
		opts.Remote = client
	}

	if sources := ics.SourcesFromConfig(conf.ICS); len(sources) > 0 {
		fetcher := ics.NewFetcher(conf.ICSCacheDir, nil)
		fetcher.Metrics = m
		opts.Feeds = ics.NewFeeds(fetcher, sources, loc).Month
	}

	return agenda.New(opts)
}

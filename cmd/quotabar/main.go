package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/internal/creds"
	"github.com/quotabar/quotabar/internal/credstore"
	"github.com/quotabar/quotabar/internal/localstats"
	"github.com/quotabar/quotabar/internal/logging"
	"github.com/quotabar/quotabar/internal/notify"
	"github.com/quotabar/quotabar/internal/provider"
	"github.com/quotabar/quotabar/internal/sched"
	"github.com/quotabar/quotabar/internal/snapshot"
	"github.com/quotabar/quotabar/internal/tui"
	"github.com/quotabar/quotabar/internal/usage"
)

var configPath string

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		interval    time.Duration
		timeout     time.Duration
		noColor     bool
		noAltScreen bool
		headless    bool
	)
	cmd := &cobra.Command{
		Use:   "quotabar",
		Short: "Quotabar tracks AI subscription usage limits from the menu bar",
		Long: "Quotabar polls each configured AI provider for its usage limits,\n" +
			"shows them in a terminal UI, publishes a snapshot file for the\n" +
			"glance widget, and raises desktop notifications as limits fill up.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(interval, timeout, noColor, noAltScreen, headless)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file")
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "per-provider fetch timeout")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable color styling")
	cmd.Flags().BoolVar(&noAltScreen, "no-alt-screen", false, "disable alternate screen mode")
	cmd.Flags().BoolVar(&headless, "headless", false, "run the refresh loop without the terminal UI")

	cmd.AddCommand(newDoctorCommand())
	cmd.AddCommand(newSnapshotCommand())
	cmd.AddCommand(newLoginItemCommand())
	return cmd
}

func runMonitor(interval, timeout time.Duration, noColor, noAltScreen, headless bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if interval == 0 {
		interval = time.Duration(cfg.RefreshIntervalSecs) * time.Second
	}
	if interval <= 0 {
		return errors.New("--interval must be > 0")
	}
	if timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	if !headless && (!term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd()))) {
		return errors.New("interactive UI requires a TTY (use --headless otherwise)")
	}

	log, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	alerter := sched.NewAlerter(notify.NewDesktop(log), cfg.Notifications, log)
	scheduler, pub, jobs, err := buildScheduler(cfg, interval, timeout, alerter, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if headless {
		log.Info("running headless", zap.Duration("interval", interval))
		err := scheduler.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- scheduler.Run(ctx) }()

	order := make([]string, 0, len(jobs))
	names := make(map[string]string, len(jobs))
	for _, job := range jobs {
		order = append(order, job.Desc.ID)
		names[job.Desc.ID] = job.Desc.DisplayName
	}

	uiErr := tui.Run(tui.Options{
		Snapshots:    pub,
		Controls:     scheduler,
		Order:        order,
		DisplayNames: names,
		NoColor:      noColor,
		AltScreen:    !noAltScreen,
	})
	cancel()
	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return uiErr
}

func openLogger(cfg config.Config) (*zap.Logger, error) {
	logPath, err := config.ExpandPath(cfg.Logging.Path)
	if err != nil {
		return nil, err
	}
	return logging.New(logPath, cfg.Logging.Level)
}

// buildScheduler wires the credential store, provider jobs, and the
// widget-file publisher under one scheduler.
func buildScheduler(cfg config.Config, interval, timeout time.Duration, alerter *sched.Alerter, log *zap.Logger) (*sched.Scheduler, *snapshot.Publisher, []sched.Job, error) {
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := credstore.Open(dataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open credential store: %w", err)
	}
	source := creds.NewSource(store, log)

	jobs, keys := buildJobs(cfg)
	if len(jobs) == 0 {
		return nil, nil, nil, errors.New("no providers enabled; edit " + configPath)
	}

	widgetDir, err := config.ExpandPath(config.WidgetDir())
	if err != nil {
		return nil, nil, nil, err
	}
	if err := os.MkdirAll(widgetDir, 0o700); err != nil {
		return nil, nil, nil, fmt.Errorf("create widget dir: %w", err)
	}
	pub := snapshot.NewPublisher(widgetDir, log)

	scheduler := sched.New(sched.Options{
		Jobs:           jobs,
		Source:         source,
		Keys:           keys,
		CookieOverride: cfg.CookieOverride,
		Featured:       cfg.FeaturedProviders,
		Publisher:      pub,
		Alerter:        alerter,
		Stats:          localstats.NewReader(),
		Interval:       interval,
		Timeout:        timeout,
		Log:            log,
	})
	return scheduler, pub, jobs, nil
}

// buildJobs selects the active providers: cookie providers the config
// toggles on, plus every key provider with a key present. Registry
// order is preserved so the primary provider stays first.
func buildJobs(cfg config.Config) ([]sched.Job, map[string]string) {
	var jobs []sched.Job
	keys := map[string]string{}
	for _, desc := range provider.Registry() {
		switch desc.Credential {
		case provider.CredCookies:
			if !cfg.Providers[desc.ID] {
				continue
			}
		case provider.CredAPIKey:
			key := cfg.Keys[desc.ID]
			if key == "" {
				continue
			}
			keys[desc.ID] = key
		}
		jobs = append(jobs, sched.Job{Desc: desc, Fetcher: desc.New(desc.DefaultClient())})
	}
	return jobs, keys
}

func newSnapshotCommand() *cobra.Command {
	var (
		jsonOutput bool
		fetch      bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the last published usage snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var snap *usage.Snapshot
			if fetch {
				var err error
				snap, err = fetchOnce(timeout)
				if err != nil {
					return err
				}
			} else {
				widgetDir, err := config.ExpandPath(config.WidgetDir())
				if err != nil {
					return err
				}
				snap, err = snapshot.ReadFile(widgetDir)
				if err != nil {
					return fmt.Errorf("no snapshot yet (run with --fetch or start quotabar): %w", err)
				}
			}
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshotHuman(snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output snapshot as JSON")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "run one refresh cycle instead of reading the published file")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "per-provider fetch timeout with --fetch")
	return cmd
}

// fetchOnce runs a single refresh cycle, publishing the widget file as
// a side effect, and returns the resulting snapshot.
func fetchOnce(timeout time.Duration) (*usage.Snapshot, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := openLogger(cfg)
	if err != nil {
		return nil, err
	}
	defer log.Sync()

	scheduler, pub, _, err := buildScheduler(cfg, time.Minute, timeout, nil, log)
	if err != nil {
		return nil, err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	scheduler.RunCycle(ctx)

	snap := pub.Current()
	if snap == nil {
		return nil, errors.New("refresh cycle produced no snapshot")
	}
	return snap, nil
}

func printSnapshotHuman(snap *usage.Snapshot) {
	fmt.Printf("captured %s", snap.CapturedAt.Local().Format("2006-01-02 15:04:05"))
	if snap.Stale(time.Now()) {
		fmt.Print("  (stale)")
	}
	fmt.Println()
	for _, id := range snap.ActiveProviders {
		pu, ok := snap.Providers[id]
		if !ok {
			continue
		}
		name := id
		if desc, found := provider.Lookup(id); found {
			name = desc.DisplayName
		}
		fmt.Printf("\n%s\n", name)
		switch {
		case pu.Err != "":
			fmt.Printf("  error: %s\n", pu.Err)
		case pu.NotConfigured():
			fmt.Println("  not configured")
		default:
			for _, row := range pu.Rows {
				line := fmt.Sprintf("  %-18s %3d%%", row.Label, row.Pct)
				if row.ResetStr != "" {
					line += "  " + row.ResetStr
				}
				fmt.Println(line)
			}
			if pu.Detail != "" {
				fmt.Printf("  %s\n", pu.Detail)
			}
		}
	}
	if ls := snap.LocalStats; ls != nil {
		fmt.Printf("\nlocal agent: %s msgs today, %s this week\n",
			localstats.FormatCount(ls.TodayMessages),
			localstats.FormatCount(ls.WeekMessages))
	}
}

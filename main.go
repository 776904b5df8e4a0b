package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"labdash/catalog"
	"labdash/compose"
	"labdash/config"
	"labdash/download"
	"labdash/export"
	"labdash/history"
	"labdash/live"
	"labdash/resource"
	"labdash/selection"
	"labdash/stats"
	"labdash/timeseries"
	"labdash/ui"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/term"
)

// Version is the console release.
const Version = "0.4.0"

const usage = `usage: labdash [-config path] <command> [flags]

commands:
  overview      run the dashboard (default)
  export        request a dataset export and download it
  panels        print the composed overview panels as JSON
  experiments   list experiments known to the leader
  config        print the effective configuration
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "labdash: %v\n", err)
		os.Exit(1)
	}
}

// Purpose: Parse global flags and dispatch a subcommand.
// Key aspects: Only an unreadable configuration is fatal before dispatch.
// Upstream: main, tests.
// Downstream: runOverview, runExport, runPanels, runExperiments.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fsFlags := flag.NewFlagSet("labdash", flag.ContinueOnError)
	fsFlags.SetOutput(stdout)
	fsFlags.Usage = func() { fmt.Fprint(stdout, usage) }
	configPath := fsFlags.String("config", "", "configuration file (default $"+config.EnvPath+" or "+config.DefaultPath+")")
	if err := fsFlags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	cmd, rest := "overview", []string(nil)
	if fsFlags.NArg() > 0 {
		cmd, rest = fsFlags.Arg(0), fsFlags.Args()[1:]
	}
	a := newApp(cfg)
	switch cmd {
	case "overview":
		return runOverview(ctx, a)
	case "export":
		return runExport(ctx, a, rest, stdout)
	case "panels":
		return runPanels(ctx, a, rest, stdout)
	case "experiments":
		return runExperiments(ctx, a, rest, stdout)
	case "config":
		cfg.Print()
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// Purpose: Resolve and load the application configuration.
// Key aspects: An explicit path (flag or env) must exist; a missing default
// file falls back to built-in defaults.
// Upstream: run.
// Downstream: config.Load, config.Parse.
func loadConfig(explicit string) (*config.Config, error) {
	path := strings.TrimSpace(explicit)
	if path == "" {
		path = config.ResolvePath()
	}
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == config.DefaultPath && explicit == "" {
		cfg, err = config.Parse(nil)
		if err != nil {
			return nil, err
		}
		cfg.LoadedFrom = "built-in defaults"
		return cfg, nil
	}
	return nil, fmt.Errorf("load config %s: %w", path, err)
}

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// app holds the collaborators every subcommand shares.
type app struct {
	cfg     *config.Config
	client  *resource.Client
	tracker *stats.Tracker
	catalog *catalog.Catalog
	loader  *timeseries.Loader
}

func newApp(cfg *config.Config) *app {
	client := resource.NewClient(cfg.API.Root, &http.Client{
		Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	})
	tracker := stats.NewTracker()
	return &app{
		cfg:     cfg,
		client:  client,
		tracker: tracker,
		catalog: catalog.New(client, tracker),
		loader:  timeseries.NewLoader(client, tracker),
	}
}

func (a *app) newTrigger() *download.Trigger {
	return download.NewTrigger(a.cfg.API.Root, a.cfg.API.PublicPath, a.cfg.Export.DownloadDir,
		time.Duration(a.cfg.Export.DownloadTimeoutSeconds)*time.Second)
}

// newController wires the export controller with stats and, when enabled,
// the attempt history. The returned cleanup closes the history store.
func (a *app) newController(trigger export.DownloadTrigger) (*export.Controller, *history.Store, func()) {
	ctrl := export.NewController(a.client, trigger)
	ctrl.Subscribe(a.tracker.ExportListener())
	if !a.cfg.History.Enabled {
		return ctrl, nil, func() {}
	}
	store, err := history.Open(a.cfg.History.DBPath)
	if err != nil {
		log.Printf("Warning: export history disabled: %v", err)
		return ctrl, nil, func() {}
	}
	ctrl.Subscribe(store.Listener())
	return ctrl, store, func() {
		if err := store.Close(); err != nil {
			log.Printf("Warning: history close: %v", err)
		}
	}
}

// Purpose: Run the interactive or headless overview until interrupted.
// Key aspects: Routes logs through the fanout, picks the surface from ui.mode
// and the TTY, and tears down the feed, controller and history in reverse.
// Upstream: run ("overview").
// Downstream: setupLogging, ui.NewDashboard/NewHeadless, live.Feed, runOverviewLoop.
func runOverview(ctx context.Context, a *app) error {
	cfg := a.cfg
	fanout, err := setupLogging(cfg.Logging, os.Stdout)
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer func() {
		log.SetOutput(os.Stderr)
		_ = fanout.Close()
	}()
	if err != nil {
		log.Printf("Warning: file logging disabled: %v", err)
	}
	log.Printf("labdash v%s starting (config %s)", Version, cfg.LoadedFrom)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctrl, store, closeHistory := a.newController(a.newTrigger())
	defer closeHistory()
	state := selection.NewState(cfg.Export.DefaultExperiment)

	var surface ui.Surface
	switch {
	case cfg.UI.Mode == config.UIModeTview && isStdoutTTY():
		dash := ui.NewDashboard(cfg.UI, ui.ExportDeps{Controller: ctrl, Selection: state})
		dash.WaitReady()
		fanout.SetConsole(dash.SystemWriter(), false)
		go func() {
			select {
			case <-dash.Done():
				cancel()
			case <-ctx.Done():
			}
		}()
		surface = dash
	case cfg.UI.Mode == config.UIModeTview:
		log.Printf("UI disabled (tview requires an interactive console)")
		surface = ui.NewHeadless(nil)
	default:
		log.Printf("UI disabled (mode=%s)", cfg.UI.Mode)
		surface = ui.NewHeadless(nil)
	}
	defer surface.Stop()
	// The controller closes before the surface stops so an export still in
	// flight is dropped instead of reported to a torn-down surface.
	defer ctrl.Close()
	ctrl.Subscribe(surface.SetExportStatus)

	var feed *live.Feed
	if cfg.MQTT.Enabled {
		feed = live.NewFeed(live.Options{
			BrokerURL:        cfg.MQTT.BrokerURL(),
			ClientIDPrefix:   cfg.MQTT.ClientIDPrefix,
			HistoryPerSeries: cfg.MQTT.HistoryPerSeries,
		}, a.tracker)
		if err := feed.Connect(); err != nil {
			log.Printf("Warning: %v; charts show fetched history only", err)
		}
		defer feed.Stop()
	}

	src := &overviewSources{
		catalog:  a.catalog,
		loader:   a.loader,
		feed:     feed,
		dashPath: cfg.Dashboard.Path,
		now:      time.Now,
	}
	if dash, ok := surface.(*ui.Dashboard); ok {
		dash.OnClearCharts(src.clearCharts)
	}
	statsLines := func(now time.Time) []string {
		return overviewStatsLines(ctx, a.tracker, feed, store, now)
	}
	runOverviewLoop(ctx, src, surface,
		time.Duration(cfg.UI.RefreshSeconds)*time.Second,
		time.Duration(cfg.UI.StatsIntervalSeconds)*time.Second,
		statsLines)
	log.Printf("labdash stopping")
	return nil
}

func overviewStatsLines(ctx context.Context, tracker *stats.Tracker, feed *live.Feed, store *history.Store, now time.Time) []string {
	lines := tracker.SnapshotLines(now)
	if feed != nil {
		state := "disconnected"
		if feed.IsConnected() {
			state = "connected"
		}
		lines = append(lines, fmt.Sprintf("MQTT: %s, %d subscriptions", state, len(feed.Filters())))
	}
	if store != nil {
		counts, err := store.Counts(ctx)
		if err == nil && len(counts) > 0 {
			keys := make([]string, 0, len(counts))
			for k := range counts {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%s", k, humanize.Comma(int64(counts[k]))))
			}
			lines = append(lines, "Export history: "+strings.Join(parts, ", "))
		}
	}
	return lines
}

// Purpose: One-shot export from the command line.
// Key aspects: Warns on an unknown experiment with the closest known name but
// still submits; the server decides. A Failed outcome is a non-zero exit.
// Upstream: run ("export").
// Downstream: selection.State, export.Controller.Submit, download.Trigger.
func runExport(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fsFlags := flag.NewFlagSet("export", flag.ContinueOnError)
	fsFlags.SetOutput(stdout)
	experiment := fsFlags.String("experiment", a.cfg.Export.DefaultExperiment, "experiment to export")
	datasets := fsFlags.String("datasets", "", "comma-separated datasets: "+strings.Join(datasetKeys(), ","))
	noDownload := fsFlags.Bool("no-download", false, "report the artifact name without downloading it")
	if err := fsFlags.Parse(args); err != nil {
		return err
	}

	state := selection.NewState(*experiment)
	for _, key := range strings.Split(*datasets, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if err := state.ToggleDataset(key, true); err != nil {
			return fmt.Errorf("%w (known: %s)", err, strings.Join(datasetKeys(), ", "))
		}
	}
	sel := state.Snapshot()
	if len(sel.Datasets.Selected()) == 0 {
		log.Printf("Warning: no datasets selected; the export will be empty")
	}
	if len(a.catalog.LoadAll(ctx)) > 0 {
		if suggestion, ok := a.catalog.Suggest(sel.Experiment); ok {
			log.Printf("Warning: experiment %q is not known; did you mean %q?", sel.Experiment, suggestion)
		}
	}

	var trigger *download.Trigger
	var dt export.DownloadTrigger
	if !*noDownload {
		trigger = a.newTrigger()
		dt = trigger
	}
	ctrl, _, closeHistory := a.newController(dt)
	defer closeHistory()
	defer ctrl.Close()

	fmt.Fprintln(stdout, export.Feedback(export.Status{}))
	st, err := ctrl.Submit(ctx, sel)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, export.Feedback(st))
	if st.State == export.Failed {
		return fmt.Errorf("export failed: %w", st.Err)
	}
	if trigger != nil {
		if res := trigger.Last(); res.Path != "" {
			fmt.Fprintf(stdout, "Saved %s (%s, %s)\n", res.Path, humanize.Bytes(uint64(res.Bytes)), res.Status)
		}
	}
	return nil
}

func datasetKeys() []string {
	kinds := selection.AllDatasetKinds()
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		keys = append(keys, k.Key())
	}
	return keys
}

// panelsOutput is the document printed by the panels subcommand.
type panelsOutput struct {
	Experiment  string          `json:"experiment,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Panels      []compose.Panel `json:"panels"`
}

// Purpose: Print the composed panel list for a dashboard document.
// Key aspects: Uses the live latest experiment unless -experiment overrides it.
// Upstream: run ("panels").
// Downstream: dashcfg, compose.Compose, jsoniter.
func runPanels(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fsFlags := flag.NewFlagSet("panels", flag.ContinueOnError)
	fsFlags.SetOutput(stdout)
	dashPath := fsFlags.String("dashboard", a.cfg.Dashboard.Path, "dashboard document")
	experiment := fsFlags.String("experiment", "", "experiment to compose for (default: the leader's latest)")
	if err := fsFlags.Parse(args); err != nil {
		return err
	}

	src := &overviewSources{dashPath: *dashPath}
	meta := catalog.Metadata{Experiment: strings.TrimSpace(*experiment)}
	if meta.Experiment == "" {
		meta, _ = a.catalog.LoadLatest(ctx)
	}
	panels := compose.Compose(src.loadDashboard(), meta)
	out := panelsOutput{
		Experiment:  meta.Experiment,
		Fingerprint: fmt.Sprintf("%016x", compose.Fingerprint(panels)),
		Panels:      panels,
	}
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Purpose: List experiments, optionally checking one name.
// Upstream: run ("experiments").
// Downstream: catalog.LoadAll, catalog.Suggest.
func runExperiments(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fsFlags := flag.NewFlagSet("experiments", flag.ContinueOnError)
	fsFlags.SetOutput(stdout)
	check := fsFlags.String("check", "", "report whether this experiment exists")
	if err := fsFlags.Parse(args); err != nil {
		return err
	}

	experiments := a.catalog.LoadAll(ctx)
	latest, hasLatest := a.catalog.LoadLatest(ctx)
	now := time.Now()
	for _, e := range experiments {
		marker := " "
		if hasLatest && e.Name == latest.Experiment {
			marker = "*"
		}
		created := ""
		if at := live.ParseTime(e.CreatedAt); !at.IsZero() {
			created = humanize.RelTime(at, now, "ago", "from now")
		}
		fmt.Fprintf(stdout, "%s %-24s %-16s %s\n", marker, e.Name, created, e.Description)
	}
	fmt.Fprintf(stdout, "%s experiments\n", humanize.Comma(int64(len(experiments))))

	if name := strings.TrimSpace(*check); name != "" {
		for _, e := range experiments {
			if e.Name == name {
				fmt.Fprintf(stdout, "%s exists\n", name)
				return nil
			}
		}
		if suggestion, ok := a.catalog.Suggest(name); ok {
			return fmt.Errorf("experiment %q not found; did you mean %q?", name, suggestion)
		}
		return fmt.Errorf("experiment %q not found", name)
	}
	return nil
}

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"labdash/catalog"
	"labdash/compose"
	"labdash/config"
	"labdash/export"
	"labdash/history"
	"labdash/stats"
	"labdash/ui"

	jsoniter "github.com/json-iterator/go"
)

// leaderStub serves the leader endpoints the console reads.
type leaderStub struct {
	mu       sync.Mutex
	posted   []map[string]any
	fail     bool
	filename string
}

func (l *leaderStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	fail := l.fail
	l.mu.Unlock()
	if fail {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	switch {
	case r.URL.Path == "/get_experiments":
		io.WriteString(w, `[{"experiment":"Trial-25","created_at":"2026-01-02T10:00:00"},{"experiment":"Trial-24"}]`)
	case r.URL.Path == "/get_latest_experiment":
		io.WriteString(w, `{"experiment":"Trial-25","description":"chemostat","delta_hours":3}`)
	case strings.HasPrefix(r.URL.Path, "/time_series/"):
		io.WriteString(w, `{"series":["unit1","unit2"],"data":[[{"x":"2026-01-02T10:00:00","y":0.1},{"x":"2026-01-02T10:05:00","y":0.2}],[{"x":"2026-01-02T10:00:00","y":0.3}]]}`)
	case r.URL.Path == "/recent_logs":
		io.WriteString(w, `[{"timestamp":"2026-01-02T10:06:00","is_error":0,"is_warning":1,"is_notice":0,"pioreactor_unit":"unit1","message":"low volume","task":"dosing"}]`)
	case r.URL.Path == "/recent_media_rates":
		io.WriteString(w, `[{"pioreactor_unit":"unit1","media_rate":0.5,"alt_media_rate":0.25}]`)
	case r.URL.Path == "/query_datasets" && r.Method == http.MethodPost:
		var body map[string]any
		_ = jsoniter.NewDecoder(r.Body).Decode(&body)
		l.mu.Lock()
		l.posted = append(l.posted, body)
		name := l.filename
		l.mu.Unlock()
		io.WriteString(w, `{"filename":"`+name+`"}`)
	case strings.HasPrefix(r.URL.Path, "/public/"):
		io.WriteString(w, "PK-zip-bytes")
	default:
		http.NotFound(w, r)
	}
}

func (l *leaderStub) setFailing(fail bool) {
	l.mu.Lock()
	l.fail = fail
	l.mu.Unlock()
}

func newLeader(t *testing.T) (*leaderStub, *httptest.Server) {
	t.Helper()
	stub := &leaderStub{filename: "export_1.zip"}
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)
	return stub, server
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeConfig returns a config file pointing at the stub leader with all
// state under dir.
func writeConfig(t *testing.T, dir, apiRoot string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, strings.Join([]string{
		"api:",
		"  root: " + apiRoot,
		"export:",
		"  download_dir: " + filepath.Join(dir, "exports"),
		"history:",
		"  enabled: true",
		"  db_path: " + filepath.Join(dir, "history", "exports.db"),
		"dashboard:",
		"  path: " + filepath.Join(dir, "dashboard.yaml"),
		"ui:",
		"  mode: headless",
		"",
	}, "\n"))
	return path
}

func newSources(t *testing.T, apiRoot, dashPath string) *overviewSources {
	t.Helper()
	cfg, err := config.Parse([]byte("api:\n  root: " + apiRoot + "\n"))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	a := newApp(cfg)
	return &overviewSources{
		catalog:  a.catalog,
		loader:   a.loader,
		dashPath: dashPath,
		now:      func() time.Time { return time.Date(2026, 1, 2, 11, 0, 0, 0, time.UTC) },
	}
}

func TestOverviewRefreshComposesAndFetches(t *testing.T) {
	_, server := newLeader(t)
	dir := t.TempDir()
	dashPath := filepath.Join(dir, "dashboard.yaml")
	writeFile(t, dashPath, "ui.overview.charts:\n  implied_growth_rate: \"1\"\n  raw_135_optical_density: \"0\"\nui.overview.cards:\n  event_logs: 1\n  dosings: \"1\"\n")

	view := newSources(t, server.URL, dashPath).refresh(testContext(t))

	if !view.HasMetadata || view.Metadata.Experiment != "Trial-25" {
		t.Fatalf("unexpected metadata %+v", view.Metadata)
	}
	if strings.Join(view.Experiments, ",") != "Trial-25,Trial-24" {
		t.Fatalf("unexpected experiments %v", view.Experiments)
	}
	ids := make([]string, 0, len(view.Panels))
	for _, pd := range view.Panels {
		ids = append(ids, pd.Panel.ID)
	}
	if got := strings.Join(ids, ","); got != "implied_growth_rate,clear_charts,dosings,event_logs,clear_logs" {
		t.Fatalf("unexpected panels %s", got)
	}

	chart := view.Panels[0]
	if len(chart.Lines) != 2 || chart.Lines[0].Label != "unit1" || len(chart.Lines[0].Values) != 2 {
		t.Fatalf("unexpected chart lines %+v", chart.Lines)
	}
	if want := time.Date(2026, 1, 2, 10, 5, 0, 0, time.UTC); !chart.Lines[0].Last.Equal(want) {
		t.Fatalf("expected last point %v, got %v", want, chart.Lines[0].Last)
	}
	if rates := view.Panels[2].Rates; len(rates) != 1 || rates[0].AltMediaRate != 0.25 {
		t.Fatalf("unexpected media rates %+v", rates)
	}
	if logs := view.Panels[3].Logs; len(logs) != 1 || logs[0].Level() != "WARNING" {
		t.Fatalf("unexpected logs %+v", logs)
	}
	if view.Fingerprint != compose.Fingerprint(panelsOf(view)) {
		t.Fatalf("fingerprint does not match composed panels")
	}
}

func TestOverviewClearChartsHidesEarlierPoints(t *testing.T) {
	_, server := newLeader(t)
	dashPath := filepath.Join(t.TempDir(), "dashboard.yaml")
	writeFile(t, dashPath, "ui.overview.charts:\n  implied_growth_rate: \"1\"\n")
	src := newSources(t, server.URL, dashPath)

	if view := src.refresh(testContext(t)); len(view.Panels[0].Lines) != 2 {
		t.Fatalf("expected history before clearing, got %+v", view.Panels[0].Lines)
	}
	src.clearCharts()
	view := src.refresh(testContext(t))
	if len(view.Panels) != 2 || view.Panels[1].Panel.ID != "clear_charts" {
		t.Fatalf("expected the chart and its clear button, got %+v", panelsOf(view))
	}
	if lines := view.Panels[0].Lines; len(lines) != 0 {
		t.Fatalf("expected cleared chart to hide fetched history, got %+v", lines)
	}
}

func panelsOf(view ui.Overview) []compose.Panel {
	out := make([]compose.Panel, 0, len(view.Panels))
	for _, pd := range view.Panels {
		out = append(out, pd.Panel)
	}
	return out
}

func TestOverviewRefreshDegradesWhenLeaderFails(t *testing.T) {
	stub, server := newLeader(t)
	stub.setFailing(true)
	src := newSources(t, server.URL, filepath.Join(t.TempDir(), "missing.yaml"))

	view := src.refresh(testContext(t))

	if view.HasMetadata || len(view.Experiments) != 0 {
		t.Fatalf("expected absent metadata and no experiments")
	}
	if len(view.Panels) != 8 {
		t.Fatalf("expected the default dashboard's 8 panels, got %d", len(view.Panels))
	}
	for _, pd := range view.Panels {
		if len(pd.Lines) != 0 || len(pd.Logs) != 0 || len(pd.Rates) != 0 {
			t.Fatalf("expected empty data for %s", pd.Panel.ID)
		}
	}
}

func TestOverviewRefreshSkipsMalformedDashboard(t *testing.T) {
	_, server := newLeader(t)
	dashPath := filepath.Join(t.TempDir(), "dashboard.yaml")
	writeFile(t, dashPath, "ui.overview: [unterminated\n")

	view := newSources(t, server.URL, dashPath).refresh(testContext(t))
	if len(view.Panels) != 0 {
		t.Fatalf("expected no panels for an unreadable document, got %d", len(view.Panels))
	}
}

// recordingSurface captures what the refresh loop pushes.
type recordingSurface struct {
	mu        sync.Mutex
	overviews []ui.Overview
	stats     [][]string
	statuses  []export.Status
}

func (r *recordingSurface) WaitReady() {}
func (r *recordingSurface) Stop() {}
func (r *recordingSurface) SetStats(lines []string) {
	r.mu.Lock()
	r.stats = append(r.stats, lines)
	r.mu.Unlock()
}
func (r *recordingSurface) SetOverview(view ui.Overview) {
	r.mu.Lock()
	r.overviews = append(r.overviews, view)
	r.mu.Unlock()
}
func (r *recordingSurface) SetExportStatus(st export.Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}
func (r *recordingSurface) AppendSystem(string) {}
func (r *recordingSurface) SystemWriter() io.Writer { return nil }

func TestRunOverviewLoopPushesInitialFrame(t *testing.T) {
	_, server := newLeader(t)
	src := newSources(t, server.URL, filepath.Join(t.TempDir(), "missing.yaml"))
	surface := &recordingSurface{}
	tracker := stats.NewTracker()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runOverviewLoop(ctx, src, surface, time.Hour, time.Hour, tracker.SnapshotLines)

	if len(surface.overviews) != 1 || len(surface.stats) != 1 {
		t.Fatalf("expected one overview and one stats push, got %d and %d", len(surface.overviews), len(surface.stats))
	}
	if !strings.HasPrefix(surface.stats[0][0], "Uptime:") {
		t.Fatalf("unexpected stats %v", surface.stats[0])
	}
}

func TestRunPanelsPrintsComposition(t *testing.T) {
	_, server := newLeader(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, server.URL)
	writeFile(t, filepath.Join(dir, "dashboard.yaml"), "ui.overview.cards.dosings: \"1\"\nui.overview.rename: true\n")

	var out bytes.Buffer
	if err := run(testContext(t), []string{"-config", cfgPath, "panels", "-experiment", "Trial-7"}, &out); err != nil {
		t.Fatalf("run panels: %v", err)
	}
	var doc panelsOutput
	if err := jsoniter.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if doc.Experiment != "Trial-7" || len(doc.Panels) != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.Panels[0].ID != "dosings" || doc.Panels[0].Param(compose.ParamExperiment) != "Trial-7" {
		t.Fatalf("unexpected first panel %+v", doc.Panels[0])
	}
	if doc.Panels[1].ID != "rename_notification" || len(doc.Fingerprint) != 16 {
		t.Fatalf("unexpected banner or fingerprint %+v", doc)
	}
}

func TestRunExportDownloadsAndRecords(t *testing.T) {
	stub, server := newLeader(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, server.URL)

	var out bytes.Buffer
	args := []string{"-config", cfgPath, "export", "-experiment", "Trial-25", "-datasets", "growth_rates, logs"}
	if err := run(testContext(t), args, &out); err != nil {
		t.Fatalf("run export: %v\n%s", err, out.String())
	}

	if !strings.Contains(out.String(), "Export ready: export_1.zip") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "exports", "export_1.zip"))
	if err != nil || string(data) != "PK-zip-bytes" {
		t.Fatalf("expected downloaded artifact, got %q (%v)", data, err)
	}

	stub.mu.Lock()
	posted := stub.posted
	stub.mu.Unlock()
	if len(posted) != 1 || posted[0]["experimentSelection"] != "Trial-25" {
		t.Fatalf("unexpected posts %+v", posted)
	}
	flags, _ := posted[0]["datasetCheckbox"].(map[string]any)
	if flags["growth_rates"] != true || flags["logs"] != true || flags["io_events"] != false || len(flags) != 6 {
		t.Fatalf("unexpected dataset flags %+v", flags)
	}

	store, err := history.Open(filepath.Join(dir, "history", "exports.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	attempts, err := store.Recent(testContext(t), 10)
	if err != nil || len(attempts) != 1 || attempts[0].State != "succeeded" || attempts[0].Filename != "export_1.zip" {
		t.Fatalf("unexpected history %+v (%v)", attempts, err)
	}
}

func TestRunExportServerErrorFails(t *testing.T) {
	stub, server := newLeader(t)
	stub.setFailing(true)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, server.URL)

	var out bytes.Buffer
	err := run(testContext(t), []string{"-config", cfgPath, "export", "-datasets", "logs"}, &out)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(out.String(), "Server error occurred. Check logs.") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if _, statErr := os.Stat(filepath.Join(dir, "exports")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no download directory, got %v", statErr)
	}
}

func TestRunExportRejectsUnknownDataset(t *testing.T) {
	_, server := newLeader(t)
	cfgPath := writeConfig(t, t.TempDir(), server.URL)

	err := run(testContext(t), []string{"-config", cfgPath, "export", "-datasets", "od_readings"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "unknown dataset") {
		t.Fatalf("expected unknown dataset error, got %v", err)
	}
}

func TestRunExperimentsSuggestsClosestName(t *testing.T) {
	_, server := newLeader(t)
	cfgPath := writeConfig(t, t.TempDir(), server.URL)

	var out bytes.Buffer
	err := run(testContext(t), []string{"-config", cfgPath, "experiments", "-check", "Trail-25"}, &out)
	if err == nil || !strings.Contains(err.Error(), `did you mean "Trial-25"`) {
		t.Fatalf("expected suggestion, got %v", err)
	}
	if !strings.Contains(out.String(), "* Trial-25") || !strings.Contains(out.String(), "2 experiments") {
		t.Fatalf("unexpected listing:\n%s", out.String())
	}
}

func TestLoadConfigExplicitPathMustExist(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for a missing explicit config")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	_, server := newLeader(t)
	cfgPath := writeConfig(t, t.TempDir(), server.URL)
	var out bytes.Buffer
	if err := run(testContext(t), []string{"-config", cfgPath, "bogus"}, &out); err == nil {
		t.Fatalf("expected unknown command error")
	}
	if !strings.Contains(out.String(), "usage: labdash") {
		t.Fatalf("expected usage text, got %q", out.String())
	}
}

var (
	_ catalog.FailureObserver = (*stats.Tracker)(nil)
	_ ui.Surface              = (*recordingSurface)(nil)
)

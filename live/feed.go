// Package live subscribes to the fleet's MQTT broker for the topics behind
// the overview charts and keeps a bounded history per unit line.
//
// Topic structure:
//
//	pioreactor/{unit}/{experiment}/{chart topic}
//	e.g. pioreactor/unit1/Trial-25/growth_rate
//	     pioreactor/unit3/Trial-25/od_raw/135/A
//
// Chart topics ending in "/+" fan out per channel; those lines are labelled
// "{unit}-{channel}". Payloads are a bare number or a JSON object carrying
// the value and an optional timestamp.
package live

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"labdash/buffer"
	"labdash/compose"
	"labdash/internal/ratelimit"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	topicRoot = "pioreactor"

	rejectLogInterval = 30 * time.Second
)

// Options configures a Feed.
type Options struct {
	BrokerURL        string // tcp://host:port
	ClientIDPrefix   string
	HistoryPerSeries int
}

// SampleObserver is told about every accepted and rejected message.
type SampleObserver interface {
	ObserveLiveSample(panelID string, ok bool)
}

// chart is one subscribed panel.
type chart struct {
	panelID  string
	filter   string
	fanout   bool // chart topic ends in a channel wildcard
	valueKey string

	mu    sync.RWMutex
	lines map[string]*buffer.RingBuffer
}

// Feed owns the MQTT connection and the per-chart sample rings.
//
// Thread safety: paho delivers messages on its own goroutines; rings are
// lock-free for writers and the chart map is guarded by mu.
type Feed struct {
	opts     Options
	observer SampleObserver
	now      func() time.Time
	rejects  *ratelimit.Counter

	mu     sync.RWMutex
	client mqtt.Client
	charts map[string]*chart // by panel ID
}

// NewFeed creates an unconnected feed. observer may be nil.
func NewFeed(opts Options, observer SampleObserver) *Feed {
	if opts.HistoryPerSeries <= 0 {
		opts.HistoryPerSeries = 720
	}
	if strings.TrimSpace(opts.ClientIDPrefix) == "" {
		opts.ClientIDPrefix = "labdash"
	}
	return &Feed{
		opts:     opts,
		observer: observer,
		now:      time.Now,
		rejects:  ratelimit.NewCounter(rejectLogInterval),
		charts:   make(map[string]*chart),
	}
}

// TopicFilter returns the MQTT subscription for a chart panel, or "" when
// the panel has no live data (not a chart, or no experiment yet). A live
// experiment override, such as the wildcard, takes precedence.
func TopicFilter(p compose.Panel) string {
	if p.Kind != compose.KindChart {
		return ""
	}
	experiment := strings.TrimSpace(p.Param(compose.ParamLiveExperiment))
	if experiment == "" {
		experiment = strings.TrimSpace(p.Param(compose.ParamExperiment))
	}
	topic := strings.Trim(p.Param(compose.ParamTopic), "/")
	if experiment == "" || topic == "" {
		return ""
	}
	return strings.Join([]string{topicRoot, "+", experiment, topic}, "/")
}

// Purpose: Establish the broker connection.
// Key aspects: Auto-reconnect with a one minute cap; charts registered before
// or after connecting are (re)subscribed from onConnect.
// Upstream: main when mqtt.enabled.
// Downstream: paho client Connect.
func (f *Feed) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.opts.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s-%d", f.opts.ClientIDPrefix, time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(f.onConnect)
	opts.SetConnectionLostHandler(f.onConnectionLost)

	client := mqtt.NewClient(opts)
	f.mu.Lock()
	f.client = client
	f.mu.Unlock()

	log.Printf("Live: connecting to MQTT broker at %s...", f.opts.BrokerURL)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("live: connect %s: %w", f.opts.BrokerURL, token.Error())
	}
	return nil
}

func (f *Feed) onConnect(client mqtt.Client) {
	f.mu.RLock()
	charts := make([]*chart, 0, len(f.charts))
	for _, c := range f.charts {
		charts = append(charts, c)
	}
	f.mu.RUnlock()
	log.Printf("Live: connected, subscribing %d chart topics", len(charts))
	for _, c := range charts {
		f.subscribe(client, c)
	}
}

func (f *Feed) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("Live: connection lost: %v (will reconnect)", err)
}

func (f *Feed) subscribe(client mqtt.Client, c *chart) {
	if client == nil || !client.IsConnected() {
		return
	}
	token := client.Subscribe(c.filter, 0, f.handler(c))
	if token.Wait() && token.Error() != nil {
		log.Printf("Live: subscribe %s failed: %v", c.filter, token.Error())
	}
}

func (f *Feed) unsubscribe(client mqtt.Client, c *chart) {
	if client == nil || !client.IsConnected() {
		return
	}
	token := client.Unsubscribe(c.filter)
	if token.Wait() && token.Error() != nil {
		log.Printf("Live: unsubscribe %s failed: %v", c.filter, token.Error())
	}
}

// Purpose: Align subscriptions with the current panel list.
// Key aspects: Panels whose filter is unchanged keep their history; charts
// that disappeared or changed experiment are dropped and unsubscribed.
// Upstream: overview page after each recomposition.
// Downstream: paho Subscribe/Unsubscribe.
func (f *Feed) Sync(panels []compose.Panel) {
	want := make(map[string]compose.Panel)
	for _, p := range panels {
		if TopicFilter(p) != "" {
			want[p.ID] = p
		}
	}

	var added, removed []*chart
	f.mu.Lock()
	for id, c := range f.charts {
		if p, ok := want[id]; !ok || TopicFilter(p) != c.filter {
			removed = append(removed, c)
			delete(f.charts, id)
		}
	}
	for id, p := range want {
		if _, ok := f.charts[id]; ok {
			continue
		}
		c := newChart(p)
		f.charts[id] = c
		added = append(added, c)
	}
	client := f.client
	f.mu.Unlock()

	for _, c := range removed {
		f.unsubscribe(client, c)
	}
	for _, c := range added {
		f.subscribe(client, c)
	}
}

func newChart(p compose.Panel) *chart {
	topic := strings.Trim(p.Param(compose.ParamTopic), "/")
	return &chart{
		panelID:  p.ID,
		filter:   TopicFilter(p),
		fanout:   strings.HasSuffix(topic, "/+"),
		valueKey: valueKeyFor(topic),
		lines:    make(map[string]*buffer.RingBuffer),
	}
}

// valueKeyFor names the JSON field most likely to carry a topic's reading:
// the last non-wildcard, non-numeric segment ("alt_media_fraction", "od_raw").
func valueKeyFor(topic string) string {
	parts := strings.Split(topic, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		seg := parts[i]
		if seg == "+" || seg == "#" || seg == "" || isDigits(seg) {
			continue
		}
		return seg
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (f *Feed) handler(c *chart) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		f.accept(c, msg.Topic(), msg.Payload())
	}
}

func (f *Feed) accept(c *chart, topic string, payload []byte) {
	label, ok := lineLabel(topic, c.fanout)
	if !ok {
		f.observe(c.panelID, false)
		return
	}
	value, at, err := ParsePayload(payload, c.valueKey)
	if err != nil {
		if total, suppressed, report := f.rejects.Inc(); report {
			log.Printf("Live: %s: %v (rejected %d, %d since last report)", topic, err, total, suppressed)
		}
		f.observe(c.panelID, false)
		return
	}
	if at.IsZero() {
		at = f.now().UTC()
	}
	c.ring(label, f.opts.HistoryPerSeries).Add(buffer.Sample{Unit: label, At: at, Value: value})
	f.observe(c.panelID, true)
}

func (f *Feed) observe(panelID string, ok bool) {
	if f.observer != nil {
		f.observer.ObserveLiveSample(panelID, ok)
	}
}

// lineLabel derives the unit line from a concrete topic.
func lineLabel(topic string, fanout bool) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != topicRoot || parts[1] == "" {
		return "", false
	}
	if fanout {
		return parts[1] + "-" + parts[len(parts)-1], true
	}
	return parts[1], true
}

func (c *chart) ring(label string, capacity int) *buffer.RingBuffer {
	c.mu.RLock()
	rb := c.lines[label]
	c.mu.RUnlock()
	if rb != nil {
		return rb
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rb = c.lines[label]; rb == nil {
		rb = buffer.NewRingBuffer(capacity)
		c.lines[label] = rb
	}
	return rb
}

// Line is the retained live history of one unit.
type Line struct {
	Label   string
	Samples []buffer.Sample // chronological
}

// Lines returns the live history of a chart panel, sorted by label. Samples
// older than cutoff are excluded; a zero cutoff keeps everything retained.
func (f *Feed) Lines(panelID string, cutoff time.Time) []Line {
	f.mu.RLock()
	c := f.charts[panelID]
	f.mu.RUnlock()
	if c == nil {
		return nil
	}
	c.mu.RLock()
	out := make([]Line, 0, len(c.lines))
	for label, rb := range c.lines {
		out = append(out, Line{Label: label, Samples: rb.Since(cutoff)})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Clear drops every retained live sample. Subscriptions stay in place and
// samples arriving afterwards start new lines.
func (f *Feed) Clear() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.charts {
		c.mu.Lock()
		c.lines = make(map[string]*buffer.RingBuffer)
		c.mu.Unlock()
	}
}

// Filters returns the active subscriptions, sorted.
func (f *Feed) Filters() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.charts))
	for _, c := range f.charts {
		out = append(out, c.filter)
	}
	f.mu.RUnlock()
	sort.Strings(out)
	return out
}

// IsConnected reports whether the broker connection is up.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.client != nil && f.client.IsConnected()
}

// Stop unsubscribes and disconnects.
func (f *Feed) Stop() {
	f.mu.Lock()
	client := f.client
	charts := f.charts
	f.charts = make(map[string]*chart)
	f.client = nil
	f.mu.Unlock()
	if client == nil {
		return
	}
	for _, c := range charts {
		f.unsubscribe(client, c)
	}
	if client.IsConnected() {
		client.Disconnect(250)
	}
	log.Println("Live: stopped")
}

package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType is one of the four kinds spec §4.12 requires.
type MetricType string

const (
	MetricTiming    MetricType = "timing"
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
)

// Metric is one emitted measurement.
type Metric struct {
	Name      string
	Value     float64
	Tags      map[string]string
	Timestamp time.Time
	CorrID    string
	Type      MetricType
}

// Sink receives emitted metrics. Emit must not block the caller for more
// than the sub-millisecond budget spec §4.12/§5 sets; implementations that
// do I/O (file, prometheus push) should buffer internally.
type Sink interface {
	Emit(m Metric)
}

// Collector is the process-wide metrics aggregator. It is safe for
// concurrent use; counters/gauges/histograms are keyed by
// "metric:tag_k:tag_v:...", matching spec §4.12 verbatim.
type Collector struct {
	mu    sync.Mutex
	sinks []*sinkQueue

	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string]*histState
}

// sinkQueue serializes delivery to one Sink through a single worker
// goroutine, so two metrics for the same corr_id reach that sink in the
// order they were recorded (spec §5) without the recording caller blocking
// on the sink's own Emit. A full queue drops the metric rather than
// blocking the caller — delivered metrics still preserve order, which a
// fire-and-forget "go s.Emit(m)" per metric cannot guarantee.
type sinkQueue struct {
	sink Sink
	ch   chan Metric
}

func newSinkQueue(s Sink) *sinkQueue {
	sq := &sinkQueue{sink: s, ch: make(chan Metric, 256)}
	go sq.run()
	return sq
}

func (sq *sinkQueue) run() {
	for m := range sq.ch {
		sq.sink.Emit(m)
	}
}

func (sq *sinkQueue) enqueue(m Metric) {
	select {
	case sq.ch <- m:
	default:
	}
}

type histState struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

// NewCollector constructs an empty Collector with the given sinks.
func NewCollector(sinks ...Sink) *Collector {
	queues := make([]*sinkQueue, 0, len(sinks))
	for _, s := range sinks {
		queues = append(queues, newSinkQueue(s))
	}
	return &Collector{
		sinks:      queues,
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*histState),
	}
}

// AddSink registers an additional pluggable sink.
func (c *Collector) AddSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, newSinkQueue(s))
}

func metricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString(":")
		b.WriteString(tags[k])
	}
	return b.String()
}

// record updates aggregator state and fans the metric out to every sink's
// serialized queue. Each sink's own worker goroutine delivers metrics in
// the order record() was called, so two metrics for one corr_id never
// reorder at a given sink, while a slow sink still can't block the caller
// or the other sinks.
func (c *Collector) record(m Metric) {
	key := metricKey(m.Name, m.Tags)

	c.mu.Lock()
	switch m.Type {
	case MetricCounter:
		c.counters[key] += m.Value
	case MetricGauge:
		c.gauges[key] = m.Value
	case MetricHistogram, MetricTiming:
		h, ok := c.histograms[key]
		if !ok {
			h = &histState{min: m.Value, max: m.Value}
			c.histograms[key] = h
		}
		h.count++
		h.sum += m.Value
		if m.Value < h.min {
			h.min = m.Value
		}
		if m.Value > h.max {
			h.max = m.Value
		}
	}
	sinks := append([]*sinkQueue(nil), c.sinks...)
	c.mu.Unlock()

	for _, sq := range sinks {
		sq.enqueue(m)
	}
}

// Timing records a duration-valued metric.
func (c *Collector) Timing(corrID, name string, value float64, tags map[string]string) {
	c.record(Metric{Name: name, Value: value, Tags: tags, Timestamp: time.Now(), CorrID: corrID, Type: MetricTiming})
}

// Counter increments a named counter.
func (c *Collector) Counter(corrID, name string, value float64, tags map[string]string) {
	c.record(Metric{Name: name, Value: value, Tags: tags, Timestamp: time.Now(), CorrID: corrID, Type: MetricCounter})
}

// Gauge sets a named gauge to its current value.
func (c *Collector) Gauge(corrID, name string, value float64, tags map[string]string) {
	c.record(Metric{Name: name, Value: value, Tags: tags, Timestamp: time.Now(), CorrID: corrID, Type: MetricGauge})
}

// Histogram records a value into a named histogram.
func (c *Collector) Histogram(corrID, name string, value float64, tags map[string]string) {
	c.record(Metric{Name: name, Value: value, Tags: tags, Timestamp: time.Now(), CorrID: corrID, Type: MetricHistogram})
}

// HistogramSnapshot returns {count, sum, min, max, avg} for one key, as
// returned by Snapshot.
type HistogramSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
}

// Snapshot returns the current counters, gauges, and histograms by key.
func (c *Collector) Snapshot() (counters, gauges map[string]float64, histograms map[string]HistogramSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters = make(map[string]float64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	gauges = make(map[string]float64, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}
	histograms = make(map[string]HistogramSnapshot, len(c.histograms))
	for k, h := range c.histograms {
		avg := 0.0
		if h.count > 0 {
			avg = h.sum / float64(h.count)
		}
		histograms[k] = HistogramSnapshot{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max, Avg: avg}
	}
	return
}

// Timer measures one operation's wall-clock duration and reports it as a
// timing metric on Stop, mirroring codeNERD's logging.StartTimer helper.
type Timer struct {
	collector *Collector
	corrID    string
	name      string
	tags      map[string]string
	start     time.Time
}

// StartTimer begins timing an operation under the given metric name.
func (c *Collector) StartTimer(corrID, name string, tags map[string]string) *Timer {
	return &Timer{collector: c, corrID: corrID, name: name, tags: tags, start: time.Now()}
}

// Stop records the elapsed milliseconds as a timing metric.
func (t *Timer) Stop() float64 {
	elapsed := float64(time.Since(t.start).Microseconds()) / 1000.0
	t.collector.Timing(t.corrID, t.name, elapsed, t.tags)
	return elapsed
}

// StdoutSink writes one JSON object per line to stdout, matching spec §6's
// "Metrics output (stdout sink)" contract.
type StdoutSink struct{}

// Emit implements Sink by printing the metric as a single JSON line.
func (StdoutSink) Emit(m Metric) {
	fmt.Printf(`{"metric":%q,"value":%v,"type":%q,"corr_id":%q,"timestamp":%q}`+"\n",
		m.Name, m.Value, m.Type, m.CorrID, m.Timestamp.Format(time.RFC3339Nano))
}

package compute

import (
	"log/slog"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/obsidianstack/prioritymq/agent/internal/client"
)

// uptimeWindow is the number of recent scrape outcomes tracked for uptime %.
const uptimeWindow = 20

// Broker metric families read by FromMetrics.
const (
	familyAdmitted = "prioritymq_messages_admitted_total"
	familyPopped   = "prioritymq_messages_popped_total"
	familyRejected = "prioritymq_admissions_rejected_total"
	familyDepth    = "prioritymq_queue_depth"
)

// Sample is one scrape of the broker's counters. Counter fields hold raw
// totals; the Engine derives rates from the deltas.
type Sample struct {
	At       time.Time
	Admitted float64
	Popped   float64
	Rejected float64
	Depth    float64

	// Err is non-nil if the scrape failed. Such a sample only counts
	// against uptime.
	Err error
}

// FromMetrics builds a Sample from parsed broker metric families.
func FromMetrics(mfs map[string]*dto.MetricFamily, at time.Time) Sample {
	return Sample{
		At:       at,
		Admitted: client.Sum(mfs[familyAdmitted]),
		Popped:   client.Sum(mfs[familyPopped]),
		Rejected: client.Sum(mfs[familyRejected]),
		Depth:    client.Sum(mfs[familyDepth]),
	}
}

// Result is the derived health of the broker for one interval.
type Result struct {
	Timestamp    time.Time
	State        string
	AdmitPM      float64 // admissions per minute
	PopPM        float64 // pops per minute
	RejectPM     float64 // rejected admissions per minute
	RejectPct    float64
	DrainPct     float64
	Depth        float64
	Score        float64
	UptimePct    float64
	ErrorMessage string // non-empty when the scrape failed
}

// Engine keeps the previous sample between scrapes.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu          sync.Mutex
	prev        Sample
	hasBaseline bool
	history     []bool // scrape outcomes, newest last
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Process ingests a Sample and returns the derived health.
//
// The first successful sample only records a baseline and returns a Result
// with State "unknown", since rates need a delta.
func (e *Engine) Process(s Sample) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	success := s.Err == nil
	e.recordScrape(success)

	out := &Result{
		Timestamp: s.At,
		UptimePct: e.uptimePct(),
	}

	if !success {
		slog.Warn("compute: scrape failed, marking unknown", "err", s.Err)
		out.State = StateUnknown
		out.ErrorMessage = s.Err.Error()
		return out
	}
	out.Depth = s.Depth

	if !e.hasBaseline {
		out.State = StateUnknown
		e.updateBaseline(s)
		return out
	}

	elapsed := s.At.Sub(e.prev.At).Minutes()
	if elapsed <= 0 {
		elapsed = 1 // guard against zero or negative clock drift
	}

	admitted := deltaOf(s.Admitted, e.prev.Admitted)
	popped := deltaOf(s.Popped, e.prev.Popped)
	rejected := deltaOf(s.Rejected, e.prev.Rejected)

	out.AdmitPM = admitted / elapsed
	out.PopPM = popped / elapsed
	out.RejectPM = rejected / elapsed

	if attempts := admitted + rejected; attempts > 0 {
		out.RejectPct = rejected / attempts * 100
	}
	out.DrainPct = drainPct(admitted, popped, s.Depth)

	score := Compute(Input{
		RejectPct: out.RejectPct,
		DrainPct:  out.DrainPct,
		UptimePct: out.UptimePct,
	})
	out.State = score.State
	out.Score = score.Score

	e.updateBaseline(s)
	return out
}

// drainPct is pops over admissions for the interval, capped at 100. With no
// admissions the broker is fully drained unless a backlog sat untouched.
func drainPct(admitted, popped, depth float64) float64 {
	if admitted == 0 {
		if popped > 0 || depth == 0 {
			return 100
		}
		return 0
	}
	return clamp01(popped/admitted) * 100
}

func (e *Engine) updateBaseline(s Sample) {
	e.prev = s
	e.hasBaseline = true
}

func (e *Engine) recordScrape(success bool) {
	if len(e.history) >= uptimeWindow {
		e.history = e.history[1:]
	}
	e.history = append(e.history, success)
}

func (e *Engine) uptimePct() float64 {
	if len(e.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range e.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(e.history)) * 100
}

// deltaOf returns the positive counter delta between current and previous.
// A broker restart resets counters; that interval counts as 0.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}

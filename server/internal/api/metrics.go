package api

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/obsidianstack/prioritymq/server/internal/store"
)

// Metric names exposed on /metrics.
const (
	metricAdmitted  = "prioritymq_messages_admitted_total"
	metricPopped    = "prioritymq_messages_popped_total"
	metricEmptyPops = "prioritymq_pop_empty_total"
	metricRejected  = "prioritymq_admissions_rejected_total"
	metricDepth     = "prioritymq_queue_depth"
	metricWatermark = "prioritymq_timestamp_watermark"
	metricStreams   = "prioritymq_stream_clients"
)

// metrics handles GET /metrics: store statistics in the Prometheus text format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	streams := -1
	if h.streams != nil {
		streams = h.streams.Count()
	}

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	for _, mf := range metricFamilies(h.store.Stats(), streams) {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return
		}
	}
}

// metricFamilies converts store statistics into metric families.
// A negative streams value omits the stream client gauge.
func metricFamilies(s store.Stats, streams int) []*dto.MetricFamily {
	rejected := &dto.MetricFamily{
		Name: proto.String(metricRejected),
		Help: proto.String("Admissions rejected, by reason."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, reason := range store.Reasons {
		rejected.Metric = append(rejected.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{
				Name:  proto.String("reason"),
				Value: proto.String(reason.String()),
			}},
			Counter: &dto.Counter{Value: proto.Float64(float64(s.Rejected[reason.String()]))},
		})
	}

	out := []*dto.MetricFamily{
		counter(metricAdmitted, "Messages admitted to the queue.", float64(s.Admitted)),
		counter(metricPopped, "Messages removed by pop.", float64(s.Popped)),
		counter(metricEmptyPops, "Pops that found the queue empty.", float64(s.EmptyPops)),
		rejected,
		gauge(metricDepth, "Live messages in the queue.", float64(s.Depth)),
	}
	if s.HasWatermark {
		out = append(out, gauge(metricWatermark, "Highest timestamp admitted so far.", float64(s.Watermark)))
	}
	if streams >= 0 {
		out = append(out, gauge(metricStreams, "Connected queue stream clients.", float64(streams)))
	}
	return out
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}

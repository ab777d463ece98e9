package observability

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the Prometheus surface of the mesh and its event loop. A nil
// *Metrics is valid and records nothing, so packages can take one optionally.
type Metrics struct {
    packetsSent     *prometheus.CounterVec
    packetsReceived prometheus.Counter
    duplicates      prometheus.Counter
    splits          prometheus.Counter
    unreachable     prometheus.Counter
    sendqRejected   prometheus.Counter
    links           *prometheus.GaugeVec
    descriptors     prometheus.Gauge
    loopIterations  prometheus.Counter
    dialAttempts    *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
    m := &Metrics{
        packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
            Name: "ircmesh_packets_sent_total",
            Help: "Packets queued to links grouped by route (direct, rerouted, forwarded, broadcast, relayed)",
        }, []string{"route"}),
        packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "ircmesh_packets_received_total",
            Help: "Lines delivered to the local command layer",
        }),
        duplicates: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "ircmesh_duplicates_dropped_total",
            Help: "Checksummed lines discarded by the dedup window",
        }),
        splits: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "ircmesh_splits_total",
            Help: "Net split notices emitted",
        }),
        unreachable: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "ircmesh_unreachable_total",
            Help: "Packets dropped because no link or route reached the destination",
        }),
        sendqRejected: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "ircmesh_sendq_rejected_total",
            Help: "Writes refused by a connection send queue",
        }),
        links: prometheus.NewGaugeVec(prometheus.GaugeOpts{
            Name: "ircmesh_links",
            Help: "Links grouped by state",
        }, []string{"state"}),
        descriptors: prometheus.NewGauge(prometheus.GaugeOpts{
            Name: "ircmesh_descriptors_registered",
            Help: "Descriptors registered with the socket engine",
        }),
        loopIterations: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "ircmesh_loop_iterations_total",
            Help: "Event loop iterations",
        }),
        dialAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
            Name: "ircmesh_dial_attempts_total",
            Help: "Outbound link attempts grouped by result",
        }, []string{"result"}),
    }
    if reg != nil {
        reg.MustRegister(
            m.packetsSent,
            m.packetsReceived,
            m.duplicates,
            m.splits,
            m.unreachable,
            m.sendqRejected,
            m.links,
            m.descriptors,
            m.loopIterations,
            m.dialAttempts,
        )
    }
    return m
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
    return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) ObserveSent(route string) {
    if m != nil {
        m.packetsSent.WithLabelValues(route).Inc()
    }
}

func (m *Metrics) ObserveReceived() {
    if m != nil {
        m.packetsReceived.Inc()
    }
}

func (m *Metrics) ObserveDuplicate() {
    if m != nil {
        m.duplicates.Inc()
    }
}

func (m *Metrics) ObserveSplit() {
    if m != nil {
        m.splits.Inc()
    }
}

func (m *Metrics) ObserveUnreachable() {
    if m != nil {
        m.unreachable.Inc()
    }
}

func (m *Metrics) ObserveSendQRejected() {
    if m != nil {
        m.sendqRejected.Inc()
    }
}

func (m *Metrics) ObserveLoop() {
    if m != nil {
        m.loopIterations.Inc()
    }
}

func (m *Metrics) ObserveDial(result string) {
    if m != nil {
        m.dialAttempts.WithLabelValues(result).Inc()
    }
}

// SetLinks replaces the per-state link gauge.
func (m *Metrics) SetLinks(byState map[string]int) {
    if m == nil {
        return
    }
    m.links.Reset()
    for state, n := range byState {
        m.links.WithLabelValues(state).Set(float64(n))
    }
}

func (m *Metrics) SetDescriptors(n int) {
    if m != nil {
        m.descriptors.Set(float64(n))
    }
}

// Package metrics exports capture and sweep counters to Prometheus.
package metrics

import (
	"strconv"

	"github.com/gotmc/labbench/lib/ds4024"
	"github.com/gotmc/labbench/lib/k2410"
	"github.com/prometheus/client_golang/prometheus"
)

// Obs implements ds4024.Observer and k2410.Observer.
type Obs struct {
	captures    *prometheus.CounterVec
	polls       prometheus.Histogram
	samples     *prometheus.GaugeVec
	faults      *prometheus.CounterVec
	points      *prometheus.CounterVec
	instruments prometheus.Gauge
}

var (
	_ ds4024.Observer = (*Obs)(nil)
	_ k2410.Observer  = (*Obs)(nil)
)

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Obs {
	o := &Obs{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labbench_captures_total",
			Help: "Scope captures read back, by channel and whether the stall timeout ended the wait.",
		}, []string{"channel", "stalled"}),
		polls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "labbench_capture_polls",
			Help:    "Buffer status polls per capture.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		samples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "labbench_capture_samples",
			Help: "Samples in the last capture of a channel.",
		}, []string{"channel"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labbench_fetch_faults_total",
			Help: "Captures lost to a transport fault during readout.",
		}, []string{"channel"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labbench_sweep_points_total",
			Help: "Sweep points measured, by source kind and autoscale retry.",
		}, []string{"source", "retried"}),
		instruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labbench_instruments",
			Help: "Identified instruments in the registry.",
		}),
	}
	reg.MustRegister(o.captures, o.polls, o.samples, o.faults, o.points, o.instruments)
	return o
}

func (o *Obs) CaptureDone(ch ds4024.Channel, polls int, stalled bool, samples int) {
	o.captures.WithLabelValues(ch.String(), strconv.FormatBool(stalled)).Inc()
	o.polls.Observe(float64(polls))
	o.samples.WithLabelValues(ch.String()).Set(float64(samples))
}

func (o *Obs) FetchFault(ch ds4024.Channel, _ error) {
	o.faults.WithLabelValues(ch.String()).Inc()
}

func (o *Obs) PointMeasured(k k2410.SourceKind, retried bool) {
	o.points.WithLabelValues(k.String(), strconv.FormatBool(retried)).Inc()
}

// SetInstruments records the registry size after a refresh.
func (o *Obs) SetInstruments(n int) { o.instruments.Set(float64(n)) }

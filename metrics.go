package nlink

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
)

type hubMetrics struct {
	Requests  prometheus.Counter
	Messages  *prometheus.CounterVec // by kind: data, done, ack, error, overrun, noop
	Discarded prometheus.Counter     // no pending request for the sequence number
	Malformed prometheus.Counter
	Pending   prometheus.Gauge
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	m := &hubMetrics{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nlink",
			Subsystem: "hub",
			Name:      "requests_total",
			Help:      "Requests sent to the kernel.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nlink",
			Subsystem: "hub",
			Name:      "messages_total",
			Help:      "Messages received for pending requests.",
		}, []string{"kind"}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nlink",
			Subsystem: "hub",
			Name:      "discarded_total",
			Help:      "Messages for unknown, finished or cancelled requests.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nlink",
			Subsystem: "hub",
			Name:      "malformed_total",
			Help:      "Datagrams that failed to split into messages.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nlink",
			Subsystem: "hub",
			Name:      "pending_requests",
			Help:      "Requests awaiting completion.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Messages, m.Discarded, m.Malformed, m.Pending)
	}
	return m
}

func messageKind(msg Message) string {
	switch msg.Header.Type {
	case unix.NLMSG_NOOP:
		return "noop"
	case unix.NLMSG_ERROR:
		if msg.Err() == nil {
			return "ack"
		}
		return "error"
	case unix.NLMSG_DONE:
		return "done"
	case unix.NLMSG_OVERRUN:
		return "overrun"
	}
	return "data"
}

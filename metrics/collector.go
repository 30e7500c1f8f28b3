// Package metrics exposes authentication lifecycle events as Prometheus
// metrics.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gelozr/authflow/auth"
)

type Collector struct {
	events   *prometheus.CounterVec
	failures *prometheus.CounterVec
	loggedIn prometheus.Gauge

	unsubscribe func()
}

func NewCollector() *Collector {
	return &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authflow_lifecycle_events_total",
			Help: "Authentication lifecycle events observed on the bus.",
		}, []string{"type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authflow_auth_failures_total",
			Help: "Failed authentication attempts by provider and error code.",
		}, []string{"provider", "code"}),
		loggedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authflow_logged_in",
			Help: "1 while a user is logged in.",
		}),
	}
}

// Register adds the collector's metrics to reg, or the default registerer
// when nil. Metrics that are already registered are left alone.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, m := range []prometheus.Collector{c.events, c.failures, c.loggedIn} {
		if err := reg.Register(m); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}

// Attach subscribes the collector to bus. The replayed current event is
// counted like any other.
func (c *Collector) Attach(bus *auth.Bus) {
	c.unsubscribe = bus.Subscribe(c.observe)
}

func (c *Collector) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

func (c *Collector) observe(_ context.Context, evt auth.Event) error {
	c.events.WithLabelValues(string(evt.Type())).Inc()

	switch e := evt.(type) {
	case auth.AuthFailed:
		c.failures.WithLabelValues(e.ProviderID, string(e.Code)).Inc()
	case auth.LoggedIn:
		c.loggedIn.Set(1)
	case auth.LoggedOut:
		c.loggedIn.Set(0)
	}
	return nil
}

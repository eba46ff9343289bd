package metrics

import (
	"bytes"
	"context"
	"net/http"

	"github.com/goliatone/go-opspilot"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Metrics counts session and registration activity
type Metrics struct {
	Activity      *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	Logins        *prometheus.CounterVec
}

// New registers the opspilot collectors with reg. A nil reg uses the
// default prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Activity: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opspilot_activity_events_total",
			Help: "Total number of session activity events by type",
		}, []string{"event_type"}),
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opspilot_registrations_total",
			Help: "Registration outcomes by role",
		}, []string{"outcome", "role"}),
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opspilot_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
	}
}

// InstancesFunc exposes a gauge reading the live instance count from fn
func (m *Metrics) InstancesFunc(reg prometheus.Registerer, fn func() int) prometheus.GaugeFunc {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "opspilot_instances",
		Help: "Number of live application instances",
	}, func() float64 {
		return float64(fn())
	})
}

// Sink returns an ActivitySink feeding these metrics
func (m *Metrics) Sink() opspilot.ActivitySink {
	return opspilot.ActivitySinkFunc(func(_ context.Context, event opspilot.ActivityEvent) error {
		m.Observe(event)
		return nil
	})
}

// Observe records a single activity event
func (m *Metrics) Observe(event opspilot.ActivityEvent) {
	m.Activity.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case opspilot.ActivityRegistrationCompleted:
		m.Registrations.WithLabelValues("completed", roleLabel(event.Metadata)).Inc()
	case opspilot.ActivityRegistrationFailed:
		m.Registrations.WithLabelValues("failed", roleLabel(event.Metadata)).Inc()
	case opspilot.ActivityRegistrationRejected:
		m.Registrations.WithLabelValues("rejected", roleLabel(event.Metadata)).Inc()
	case opspilot.ActivityLoginSuccess:
		m.Logins.WithLabelValues("success").Inc()
	case opspilot.ActivityLoginFailure:
		m.Logins.WithLabelValues("failure").Inc()
	}
}

func roleLabel(metadata map[string]any) string {
	isManager, ok := metadata["is_manager"].(bool)
	switch {
	case !ok:
		return "unknown"
	case isManager:
		return opspilot.RoleManager.String()
	default:
		return opspilot.RoleMember.String()
	}
}

// Handler serves the metrics gathered by g in the prometheus text
// format. A nil g uses the default prometheus gatherer.
func Handler(g prometheus.Gatherer) router.HandlerFunc {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	format := expfmt.NewFormat(expfmt.TypeTextPlain)

	return func(ctx router.Context) error {
		families, err := g.Gather()
		if err != nil {
			return ctx.Status(http.StatusInternalServerError).SendString(err.Error())
		}

		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				return ctx.Status(http.StatusInternalServerError).SendString(err.Error())
			}
		}

		ctx.SetHeader("Content-Type", string(format))
		return ctx.Send(buf.Bytes())
	}
}

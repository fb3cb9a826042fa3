// Package metrics — счётчики Prometheus для annotation-подсистемы.
// Библиотека не навязывает реестр: вызывающая сторона передаёт Registerer
// (обычно prometheus.DefaultRegisterer) и отдаёт /metrics сама.
// Нулевой указатель *Metrics безопасен: все методы превращаются в no-op,
// чтобы пакеты ядра не проверяли наличие метрик на каждом шаге.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — набор счётчиков подсистемы.
type Metrics struct {
	optimisticMutations *prometheus.CounterVec
	rollbacks           prometheus.Counter
	remoteEvents        *prometheus.CounterVec
	staleSuggestions    prometheus.Counter
	notifyFailures      prometheus.Counter
}

// New регистрирует счётчики в переданном Registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		optimisticMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annotations",
			Subsystem: "sync",
			Name:      "optimistic_mutations_total",
			Help:      "Optimistic mutations applied to local thread state, by operation.",
		}, []string{"op"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "annotations",
			Subsystem: "sync",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations rolled back after a gateway failure.",
		}),
		remoteEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "annotations",
			Subsystem: "sync",
			Name:      "remote_events_total",
			Help:      "Remote comment events merged into local state, by type.",
		}, []string{"type"}),
		staleSuggestions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "annotations",
			Subsystem: "mentions",
			Name:      "stale_results_total",
			Help:      "Mention suggestion responses discarded as superseded.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "annotations",
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Mention notification deliveries that failed (best-effort).",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.optimisticMutations,
		m.rollbacks,
		m.remoteEvents,
		m.staleSuggestions,
		m.notifyFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// MustNew — обёртка над New с panic при ошибке регистрации.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}

	return m
}

// OptimisticMutation учитывает применённую оптимистичную мутацию.
func (m *Metrics) OptimisticMutation(op string) {
	if m == nil {
		return
	}
	m.optimisticMutations.WithLabelValues(op).Inc()
}

// Rollback учитывает откат оптимистичной мутации.
func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

// RemoteEvent учитывает применённое серверное событие.
func (m *Metrics) RemoteEvent(eventType string) {
	if m == nil {
		return
	}
	m.remoteEvents.WithLabelValues(eventType).Inc()
}

// StaleSuggestion учитывает отброшенный устаревший ответ поиска упоминаний.
func (m *Metrics) StaleSuggestion() {
	if m == nil {
		return
	}
	m.staleSuggestions.Inc()
}

// NotifyFailure учитывает неудачную доставку уведомления об упоминании.
func (m *Metrics) NotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

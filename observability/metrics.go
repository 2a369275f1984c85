package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	runtimeMetricsOnce sync.Once
	runtimeRegistry    *RuntimeMetrics

	tipJarMetricsOnce sync.Once
	tipJarRegistry    *TipJarMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tipjar",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RuntimeMetrics tracks transaction execution.
type RuntimeMetrics struct {
	transactions *prometheus.CounterVec
	instructions *prometheus.CounterVec
	latency      prometheus.Histogram
	lockWait     prometheus.Histogram
}

// Runtime returns the singleton runtime metrics registry.
func Runtime() *RuntimeMetrics {
	runtimeMetricsOnce.Do(func() {
		runtimeRegistry = &RuntimeMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "runtime",
				Name:      "transactions_total",
				Help:      "Executed transactions segmented by outcome (success, failed, rejected).",
			}, []string{"outcome"}),
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "runtime",
				Name:      "instructions_total",
				Help:      "Processed instructions segmented by program, instruction and outcome.",
			}, []string{"program", "instruction", "outcome"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tipjar",
				Subsystem: "runtime",
				Name:      "transaction_duration_seconds",
				Help:      "Wall time spent executing a transaction, lock wait included.",
				Buckets:   prometheus.DefBuckets,
			}),
			lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tipjar",
				Subsystem: "runtime",
				Name:      "account_lock_wait_seconds",
				Help:      "Time spent waiting for account locks.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			}),
		}
		prometheus.MustRegister(
			runtimeRegistry.transactions,
			runtimeRegistry.instructions,
			runtimeRegistry.latency,
			runtimeRegistry.lockWait,
		)
	})
	return runtimeRegistry
}

// ObserveTransaction records a transaction outcome and its duration.
func (m *RuntimeMetrics) ObserveTransaction(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
	m.latency.Observe(duration.Seconds())
}

// ObserveInstruction counts a processed instruction.
func (m *RuntimeMetrics) ObserveInstruction(program, instruction string, err error) {
	if m == nil {
		return
	}
	program = strings.TrimSpace(program)
	if program == "" {
		program = "unknown"
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.instructions.WithLabelValues(program, instruction, outcome).Inc()
}

// ObserveLockWait records how long a transaction waited for its account locks.
func (m *RuntimeMetrics) ObserveLockWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(duration.Seconds())
}

// TipJarMetrics tracks value flowing through tip jars.
type TipJarMetrics struct {
	initialized prometheus.Counter
	tipped      prometheus.Counter
	withdrawn   prometheus.Counter
}

// TipJar returns the singleton tip jar metrics registry.
func TipJar() *TipJarMetrics {
	tipJarMetricsOnce.Do(func() {
		tipJarRegistry = &TipJarMetrics{
			initialized: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "program",
				Name:      "jars_initialized_total",
				Help:      "Tip jars created.",
			}),
			tipped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "program",
				Name:      "tipped_lamports_total",
				Help:      "Lamports tipped into jars.",
			}),
			withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tipjar",
				Subsystem: "program",
				Name:      "withdrawn_lamports_total",
				Help:      "Lamports withdrawn from jars by their owners.",
			}),
		}
		prometheus.MustRegister(
			tipJarRegistry.initialized,
			tipJarRegistry.tipped,
			tipJarRegistry.withdrawn,
		)
	})
	return tipJarRegistry
}

// RecordInitialized counts a created jar.
func (m *TipJarMetrics) RecordInitialized() {
	if m == nil {
		return
	}
	m.initialized.Inc()
}

// RecordTip adds amount to the tipped total.
func (m *TipJarMetrics) RecordTip(amount uint64) {
	if m == nil {
		return
	}
	m.tipped.Add(float64(amount))
}

// RecordWithdrawal adds amount to the withdrawn total.
func (m *TipJarMetrics) RecordWithdrawal(amount uint64) {
	if m == nil {
		return
	}
	m.withdrawn.Add(float64(amount))
}

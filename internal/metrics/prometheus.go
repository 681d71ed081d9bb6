package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes reported on policywatch_pipeline_runs_total.
const (
	OutcomeAwaitingReview = "awaiting_review"
	OutcomeUpToDate       = "up_to_date"
	OutcomeFailed         = "failed"
	OutcomeApproved       = "approved"
	OutcomeRejected       = "rejected"
)

// Recorder owns the pipeline collectors. A nil Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	RunsTotal             *prometheus.CounterVec
	StageTransitions      *prometheus.CounterVec
	FindingsTotal         *prometheus.CounterVec
	ImplementationResults *prometheus.CounterVec
	ResearchErrors        prometheus.Gauge
}

// New registers the collectors on a private registry together with the
// Go and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_pipeline_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		StageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_stage_transitions_total",
				Help: "Pipeline stage transitions by target stage",
			},
			[]string{"stage"},
		),
		FindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_findings_total",
				Help: "Findings by status after verification",
			},
			[]string{"status"},
		),
		ImplementationResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policywatch_implementation_results_total",
				Help: "Implementation outcomes per finding",
			},
			[]string{"action"},
		),
		ResearchErrors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "policywatch_research_errors",
				Help: "Research errors collected by the last run",
			},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.RunsTotal,
		r.StageTransitions,
		r.FindingsTotal,
		r.ImplementationResults,
		r.ResearchErrors,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RunOutcome(outcome string) {
	if r == nil {
		return
	}
	r.RunsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) StageTransition(stage string) {
	if r == nil {
		return
	}
	r.StageTransitions.WithLabelValues(stage).Inc()
}

func (r *Recorder) Findings(status string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.FindingsTotal.WithLabelValues(status).Add(float64(n))
}

func (r *Recorder) Implementation(action string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.ImplementationResults.WithLabelValues(action).Add(float64(n))
}

func (r *Recorder) SetResearchErrors(n int) {
	if r == nil {
		return
	}
	r.ResearchErrors.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() fiber.Handler {
	if r == nil {
		return adaptor.HTTPHandler(promhttp.Handler())
	}
	return adaptor.HTTPHandler(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
}

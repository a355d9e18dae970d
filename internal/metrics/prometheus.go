package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workflow metrics
	WorkflowExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_workflow_executions_total",
			Help: "Total number of workflow executions",
		},
		[]string{"workflow", "status"}, // status: success|partial_success|error
	)

	WorkflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizagents_workflow_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow"},
	)

	// Concurrency controller metrics
	WorkflowSlotsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bizagents_workflow_slots_in_use",
			Help: "Number of workflow slots currently held",
		},
	)

	WorkflowSlotWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bizagents_workflow_slot_wait_seconds",
			Help:    "Time spent waiting for a workflow slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)

	// Step metrics
	StepExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_step_executions_total",
			Help: "Total number of workflow step executions",
		},
		[]string{"agent", "method", "status"}, // status: success|validation|runtime|timeout|canceled|panic|dependency
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizagents_step_duration_seconds",
			Help:    "Workflow step duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent", "method"},
	)

	// Agent lifecycle metrics
	AgentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_agent_lifecycle_transitions_total",
			Help: "Agent lifecycle transitions by target state",
		},
		[]string{"agent", "state"},
	)

	// Audit metrics
	AuditEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_audit_entries_total",
			Help: "Audit entries recorded by kind",
		},
		[]string{"kind"},
	)

	AuditSinkDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_audit_sink_dropped_total",
			Help: "Audit entries not delivered to a sink (buffer full or sink error)",
		},
		[]string{"sink", "reason"},
	)

	// LLM collaborator metrics
	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_llm_calls_total",
			Help: "Total number of LLM calls made by agents",
		},
		[]string{"provider", "model", "status"}, // status: success|error|rate_limited
	)

	LLMLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizagents_llm_latency_seconds",
			Help:    "LLM call latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model"},
	)

	LLMTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_llm_tokens_total",
			Help: "Total tokens used by LLM calls",
		},
		[]string{"provider", "model", "type"}, // type: input|output
	)

	// Kafka metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizagents_kafka_messages_total",
			Help: "Kafka messages produced or consumed",
		},
		[]string{"topic", "direction", "status"}, // direction: in|out
	)
)

func init() {
	prometheus.MustRegister(WorkflowExecutions)
	prometheus.MustRegister(WorkflowDuration)
	prometheus.MustRegister(WorkflowSlotsInUse)
	prometheus.MustRegister(WorkflowSlotWait)

	prometheus.MustRegister(StepExecutions)
	prometheus.MustRegister(StepDuration)

	prometheus.MustRegister(AgentTransitions)

	prometheus.MustRegister(AuditEntries)
	prometheus.MustRegister(AuditSinkDropped)

	prometheus.MustRegister(LLMCalls)
	prometheus.MustRegister(LLMLatency)
	prometheus.MustRegister(LLMTokens)

	prometheus.MustRegister(KafkaMessages)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordWorkflow records a finished workflow run
func RecordWorkflow(workflow, status string, duration time.Duration) {
	WorkflowExecutions.WithLabelValues(workflow, status).Inc()
	WorkflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordStep records one step attempt. status is "success" or the error kind.
func RecordStep(agent, method, status string, duration time.Duration) {
	StepExecutions.WithLabelValues(agent, method, status).Inc()
	StepDuration.WithLabelValues(agent, method).Observe(duration.Seconds())
}

// RecordLLMCall records an LLM invocation
func RecordLLMCall(provider, model string, latency time.Duration, inputTokens, outputTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LLMCalls.WithLabelValues(provider, model, status).Inc()
	LLMLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
	if inputTokens > 0 {
		LLMTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		LLMTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordKafkaMessage records a produced ("out") or consumed ("in") message
func RecordKafkaMessage(topic, direction string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	KafkaMessages.WithLabelValues(topic, direction, status).Inc()
}

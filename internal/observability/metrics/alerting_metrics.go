package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/railzway-alerts/pkg/db"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonQueueFull            = "queue_full"
	JobReasonUnknown              = "unknown"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypeDB               = "db"
	ErrorTypeBusinessRule     = "business_rule"
	ErrorTypeUnknown          = "unknown"
)

const (
	ClaimOutcomeWon      = "won"
	ClaimOutcomeLost     = "lost"
	ClaimOutcomeReleased = "released"
)

const (
	DeferredReasonNoWork     = "no_work"
	DeferredReasonLockHeld   = "lock_held"
	DeferredReasonQueueFull  = "queue_full"
	DeferredReasonPublishErr = "publish_error"
)

// ErrQueueFull is returned by task queues that reject work instead of blocking.
// It lives here so job classification does not depend on the queue package.
var ErrQueueFull = errors.New("task queue full")

// AlertingMetrics captures pipeline health: scheduler jobs, queue claims and
// evaluation outcomes.
type AlertingMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	batchProcessed  *prometheus.CounterVec
	batchDeferred   *prometheus.CounterVec
	runLoopLag      prometheus.Observer
	claims          *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
	evaluationTime  *prometheus.HistogramVec
	tickCapHits     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	claimOutcomeCtr map[string]map[string]prometheus.Counter
}

var (
	alertingMetricsOnce sync.Once
	alertingMetrics     *AlertingMetrics
)

// Alerting returns the singleton alerting metrics registry.
func Alerting() *AlertingMetrics {
	return AlertingWithConfig(Config{})
}

// AlertingWithConfig returns the singleton registry using config labels.
func AlertingWithConfig(cfg Config) *AlertingMetrics {
	alertingMetricsOnce.Do(func() {
		alertingMetrics = newAlertingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return alertingMetrics
}

// ResetAlertingMetricsForTest resets the singleton for tests.
func ResetAlertingMetricsForTest() {
	alertingMetricsOnce = sync.Once{}
	alertingMetrics = nil
}

func newAlertingMetrics(registerer prometheus.Registerer, cfg Config) *AlertingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "railzway-alerts"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "alerting_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_scheduler_job_timeouts_total",
		Help:        "Scheduler job timeouts.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_scheduler_batch_processed_total",
		Help:        "Items processed per job and resource.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	batchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_scheduler_batch_deferred_total",
		Help:        "Job batches deferred by reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "alerting_scheduler_runloop_lag_seconds",
		Help:        "Run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_activity_claims_total",
		Help:        "Activity claim attempts by queue and outcome.",
		ConstLabels: constLabels,
	}, []string{"queue", "outcome"})
	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_evaluations_total",
		Help:        "Alert evaluations by alert type and result.",
		ConstLabels: constLabels,
	}, []string{"alert_type", "result"})
	evaluationTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "alerting_evaluation_duration_seconds",
		Help:        "Per-target evaluation latency.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"queue"})
	tickCapHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "alerting_recurring_tick_cap_hits_total",
		Help:        "Evaluations truncated by the recurring tick cap.",
		ConstLabels: constLabels,
	}, []string{"alert_type"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "alerting_task_queue_depth",
		Help:        "Evaluation tasks waiting for a worker.",
		ConstLabels: constLabels,
	})

	jobRuns = register(registerer, jobRuns)
	jobDuration = register(registerer, jobDuration)
	jobTimeouts = register(registerer, jobTimeouts)
	jobErrors = register(registerer, jobErrors)
	batchProcessed = register(registerer, batchProcessed)
	batchDeferred = register(registerer, batchDeferred)
	runLoopLag = register(registerer, runLoopLag)
	claims = register(registerer, claims)
	evaluations = register(registerer, evaluations)
	evaluationTime = register(registerer, evaluationTime)
	tickCapHits = register(registerer, tickCapHits)
	queueDepth = register(registerer, queueDepth)

	claimOutcomeCtr := map[string]map[string]prometheus.Counter{}
	for _, queue := range []string{"subscription", "wallet"} {
		outcomes := map[string]prometheus.Counter{}
		for _, outcome := range []string{ClaimOutcomeWon, ClaimOutcomeLost, ClaimOutcomeReleased} {
			outcomes[outcome] = claims.WithLabelValues(queue, outcome)
		}
		claimOutcomeCtr[queue] = outcomes
	}

	return &AlertingMetrics{
		jobRuns:         jobRuns,
		jobDuration:     jobDuration,
		jobTimeouts:     jobTimeouts,
		jobErrors:       jobErrors,
		batchProcessed:  batchProcessed,
		batchDeferred:   batchDeferred,
		runLoopLag:      runLoopLag,
		claims:          claims,
		evaluations:     evaluations,
		evaluationTime:  evaluationTime,
		tickCapHits:     tickCapHits,
		queueDepth:      queueDepth,
		claimOutcomeCtr: claimOutcomeCtr,
	}
}

func (m *AlertingMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *AlertingMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *AlertingMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError classifies err into a low-cardinality reason before counting it.
func (m *AlertingMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *AlertingMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *AlertingMetrics) IncBatchDeferred(job, reason string) {
	if m == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *AlertingMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

func (m *AlertingMetrics) IncClaim(queue, outcome string) {
	if m == nil {
		return
	}
	if outcomes, ok := m.claimOutcomeCtr[queue]; ok {
		if counter, ok := outcomes[outcome]; ok {
			counter.Inc()
			return
		}
	}
	m.claims.WithLabelValues(queue, outcome).Inc()
}

// IncEvaluation records one alert evaluation; result is "triggered", "quiet" or "error".
func (m *AlertingMetrics) IncEvaluation(alertType, result string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(alertType, result).Inc()
}

func (m *AlertingMetrics) ObserveEvaluation(queue string, duration time.Duration) {
	if m == nil {
		return
	}
	m.evaluationTime.WithLabelValues(queue).Observe(duration.Seconds())
}

func (m *AlertingMetrics) IncTickCapHit(alertType string) {
	if m == nil {
		return
	}
	m.tickCapHits.WithLabelValues(alertType).Inc()
}

func (m *AlertingMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ClassifyErrorType returns a coarse error type for logging.
func ClassifyErrorType(err error) string {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorTypeDeadlineExceeded
	case isDBError(err):
		return ErrorTypeDB
	default:
		return ErrorTypeBusinessRule
	}
}

// IsRetryable reports whether a job error is expected to clear on its own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueFull) {
		return true
	}
	return db.IsTransientErr(err)
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case errors.Is(err, ErrQueueFull):
		return JobReasonQueueFull
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

// register adopts the collector already registered under the same descriptor,
// so rebuilding the singleton against the same registerer does not panic.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) T {
	err := registerer.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	panic(err)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"avisos/internal/types"
)

// Metric and dimension names shared by the exporters.
const (
	MetricDelivery        = "NotificationDelivery"
	MetricDeliveryLatency = "NotificationDeliveryLatency"
	MetricJobRun          = "JobRun"

	DimKind   = "Kind"
	DimResult = "Result"
	DimJob    = "Job"
	DimStatus = "Status"
)

// CloudWatchClient is the subset of the CloudWatch API used here.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// cloudWatchPutTimeout bounds one PutMetricData call so a slow endpoint
// cannot hold a dispatch slot.
const cloudWatchPutTimeout = 2 * time.Second

// CloudWatchNotificationMetrics publishes one datum per call. Export errors
// are logged and dropped.
type CloudWatchNotificationMetrics struct {
	client    CloudWatchClient
	namespace string
	timeout   time.Duration
	logger    types.Logger
}

// NewCloudWatchNotificationMetrics publishes under namespace.
func NewCloudWatchNotificationMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchNotificationMetrics {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &CloudWatchNotificationMetrics{client: client, namespace: namespace, timeout: cloudWatchPutTimeout, logger: logger}
}

func (m *CloudWatchNotificationMetrics) put(ctx context.Context, datum cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.Error("failed to publish metric", "metric", aws.ToString(datum.MetricName), "error", err.Error())
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// RecordDelivery counts one candidate outcome.
func (m *CloudWatchNotificationMetrics) RecordDelivery(ctx context.Context, kind types.NotificationKind, result MetricResult) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDelivery),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(DimKind, string(kind)), dim(DimResult, string(result))},
	})
}

// RecordLatency records send latency in milliseconds.
func (m *CloudWatchNotificationMetrics) RecordLatency(ctx context.Context, kind types.NotificationKind, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricDeliveryLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{dim(DimKind, string(kind))},
	})
}

// RecordRun counts one finished job run.
func (m *CloudWatchNotificationMetrics) RecordRun(ctx context.Context, jobID string, status types.RunStatus) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(MetricJobRun),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(DimJob, jobID), dim(DimStatus, string(status))},
	})
}

// PrometheusNotificationMetrics exposes dispatch telemetry on a registry.
type PrometheusNotificationMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	runs       *prometheus.CounterVec
}

// NewPrometheusNotificationMetrics registers the collectors on reg.
func NewPrometheusNotificationMetrics(reg prometheus.Registerer) *PrometheusNotificationMetrics {
	f := promauto.With(reg)
	return &PrometheusNotificationMetrics{
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avisos",
			Name:      "notifications_total",
			Help:      "Candidate outcomes by notification kind.",
		}, []string{"kind", "result"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "avisos",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in the mail transport per send.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avisos",
			Name:      "job_runs_total",
			Help:      "Finished job runs by status.",
		}, []string{"job", "status"}),
	}
}

func (m *PrometheusNotificationMetrics) RecordDelivery(_ context.Context, kind types.NotificationKind, result MetricResult) {
	m.deliveries.WithLabelValues(string(kind), string(result)).Inc()
}

func (m *PrometheusNotificationMetrics) RecordLatency(_ context.Context, kind types.NotificationKind, d time.Duration) {
	m.latency.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *PrometheusNotificationMetrics) RecordRun(_ context.Context, jobID string, status types.RunStatus) {
	m.runs.WithLabelValues(jobID, string(status)).Inc()
}

var (
	_ NotificationMetrics = (*CloudWatchNotificationMetrics)(nil)
	_ NotificationMetrics = (*PrometheusNotificationMetrics)(nil)
)

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tatucloudfile_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tatucloudfile_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tatucloudfile_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	// File lifecycle metrics
	FileOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tatucloudfile_file_operations_total",
			Help: "Total number of file lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	StorageUsageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tatucloudfile_storage_usage_bytes",
			Help: "Current storage usage in bytes per user",
		},
		[]string{"user_id"},
	)

	QuotaRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tatucloudfile_quota_rejections_total",
			Help: "Total number of operations rejected by the quota check",
		},
	)

	// Remote storage metrics
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tatucloudfile_remote_call_duration_seconds",
			Help:    "Remote storage call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// Reconciler metrics
	ReconciledOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tatucloudfile_reconciled_ops_total",
			Help: "Total number of pending storage ops resolved by the reconciler",
		},
		[]string{"kind", "outcome"},
	)

	// Authentication metrics
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tatucloudfile_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"},
	)

	APIKeyAuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tatucloudfile_api_key_auth_attempts_total",
			Help: "Total number of API key authentication attempts",
		},
		[]string{"status"},
	)
)

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := httpStatusToString(status)
	HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

func httpStatusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	}
	return "unknown"
}

// RecordFileOperation increments the lifecycle operation counter
func RecordFileOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	FileOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordRemoteCall records a remote storage call duration
func RecordRemoteCall(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	RemoteCallDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordLogin increments the login attempt counter
func RecordLogin(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	LoginAttempts.WithLabelValues(status).Inc()
}

// RecordAPIKeyAuth increments the API key authentication counter
func RecordAPIKeyAuth(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	APIKeyAuthAttempts.WithLabelValues(status).Inc()
}

package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// all metrics and middlewares for REST API and source operations
var (
	// to prevent metrics from being initialized multiple times
	isMetricsInitVar uint32 = 0

	// active REST API connections
	activeRESTConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_rest_connections",
			Help: "Number of active REST API connections",
		},
	)

	// response times for REST APIs
	responseTimeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_time_milliseconds",
			Help:    "REST API response time distributions",
			Buckets: []float64{1, 10, 50, 100, 200, 300, 400, 500},
		},
		[]string{"method", "endpoint"},
	)

	// size of the body for REST APIs
	requestSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_request_size_kilobytes",
			Help:    "REST API response size distributions",
			Buckets: []float64{200, 500, 900, 1500, 2000, 3000, 4000, 5000},
		},
		[]string{"method", "endpoint"},
	)

	responseSizeRESTAPI = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restapi_response_size_kilobytes",
			Help:    "REST API response size distributions",
			Buckets: []float64{200, 500, 900, 1500, 2000, 3000, 4000, 5000},
		},
		[]string{"method", "endpoint"},
	)

	// Number of requests processed by REST API
	RESTRequestMetricsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rest_requests_processed_total",
		Help: "The total number of processed REST requests",
	}, []string{"method", "endpoint"})

	// Number of stored submissions by kind (msg, doc)
	SubmissionsStoredMetricsCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "submissions_stored_total",
		Help: "The total number of stored source submissions",
	}, []string{"kind"})

	// Number of replies that failed to decrypt or decode at lookup
	ReplyDecryptFailuresMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reply_decrypt_failures_total",
		Help: "The total number of replies skipped because they could not be decrypted",
	})

	// Number of secure deletions by result (complete, incomplete)
	SecureDeletesMetricsCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "secure_deletes_total",
		Help: "The total number of secure object deletions",
	}, []string{"result"})

	// Number of reply keypairs generated
	KeypairsGeneratedMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keypairs_generated_total",
		Help: "The total number of generated source keypairs",
	})

	// Number of failed key generation jobs
	KeypairFailuresMetricsCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keypair_failures_total",
		Help: "The total number of failed key generation jobs",
	})

	// Latency of source keypair generation
	KeypairGenerationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "keypair_generation_latency_milliseconds",
		Help:    "Latency of source keypair generation",
		Buckets: prometheus.ExponentialBuckets(50, 2, 10),
	})
)

func setIsMetricsInit() {
	atomic.StoreUint32(&isMetricsInitVar, 1)
}

func isMetricsInit() bool {
	return atomic.LoadUint32(&isMetricsInitVar) == 1
}

func InitMetrics() {
	if !isMetricsInit() {
		setIsMetricsInit()

		// Metrics have to be registered to be exposed
		prometheus.MustRegister(activeRESTConnections)
		prometheus.MustRegister(responseTimeRESTAPI)
		prometheus.MustRegister(requestSizeRESTAPI)
		prometheus.MustRegister(responseSizeRESTAPI)
		prometheus.MustRegister(RESTRequestMetricsTotal)
		prometheus.MustRegister(SubmissionsStoredMetricsCount)
		prometheus.MustRegister(ReplyDecryptFailuresMetricsCount)
		prometheus.MustRegister(SecureDeletesMetricsCount)
		prometheus.MustRegister(KeypairsGeneratedMetricsCount)
		prometheus.MustRegister(KeypairFailuresMetricsCount)
		prometheus.MustRegister(KeypairGenerationLatency)
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Increment the counter for the given endpoint:
		RESTRequestMetricsTotal.WithLabelValues(c.Request.Method, c.FullPath()).Inc()

		r := c.Request
		w := c.Writer

		start := time.Now()

		activeRESTConnections.Inc()
		defer activeRESTConnections.Dec()

		c.Next()

		// after request, label by route template so codenames or ids in paths never become labels
		endpoint := c.FullPath()
		if r.ContentLength > 0 {
			requestSizeRESTAPI.WithLabelValues(r.Method, endpoint).Observe(float64(r.ContentLength) / 1024)
		}
		if w.Size() > 0 {
			responseSizeRESTAPI.WithLabelValues(r.Method, endpoint).Observe(float64(w.Size()) / 1024)
		}
		latency := time.Since(start)
		responseTimeRESTAPI.WithLabelValues(r.Method, endpoint).Observe(float64(latency.Milliseconds()))
	}
}

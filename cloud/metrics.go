package cloud

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloud",
		Name:      "connection_calls_total",
		Help:      "Calls made to provider connections, by operation and result.",
	}, []string{"provider", "operation", "result"})

	deployments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloud",
		Name:      "deployments_total",
		Help:      "Blocking deployments, by result.",
	}, []string{"provider", "result"})
)

func init() {
	prometheus.MustRegister(connectionCalls, deployments)
}

func observeCall(provider, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	connectionCalls.WithLabelValues(provider, operation, result).Inc()
}

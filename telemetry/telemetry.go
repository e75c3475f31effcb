// Package telemetry exposes the pipeline's prometheus counters and an
// optional /metrics listener.
package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CasesProcessed counts cases completed by the batch driver.
	CasesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volaug_cases_processed_total",
		Help: "Number of cases completed by the batch driver.",
	})

	// TransformApplications counts transform applications by kind.
	TransformApplications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "volaug_transform_applications_total",
		Help: "Number of transform applications, labeled by transform kind.",
	}, []string{"kind"})

	// LoadFailures counts volumes that failed to decode and were treated as
	// absent.
	LoadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volaug_load_failures_total",
		Help: "Number of volume loads that failed and yielded an absent volume.",
	})
)

// Expose serves the prometheus registry on the given port in the background.
func Expose(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}

// Package worker runs periodic jobs over a cloudbrain.Core.
package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloud"
	"github.com/travis-ci/cloud-driver/cloudbrain"
)

// MaxBackoff caps the time between refreshes after repeated errors.
const MaxBackoff = 5 * time.Minute

var instanceCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "esh",
	Name:      "instances",
	Help:      "Instances seen by the last refresh, by driver and status.",
}, []string{"driver", "status"})

func init() {
	prometheus.MustRegister(instanceCount)
}

// RefreshWorker lists the instances of every driver in Core at Interval,
// backing off linearly while refreshes fail.
type RefreshWorker struct {
	Core     *cloudbrain.Core
	Interval time.Duration

	// OnRefresh, when set, is called with the instances of every driver that
	// could be listed.
	OnRefresh func(instances map[string][]*cloud.Instance)

	errorCount uint
}

// Run refreshes until ctx is done.
func (w *RefreshWorker) Run(ctx context.Context) error {
	for {
		err := w.RunOnce(ctx)
		if err != nil {
			w.errorCount++
		} else {
			w.errorCount = 0
		}

		sleepTime := w.Interval * time.Duration(w.errorCount+1)
		if sleepTime > MaxBackoff {
			sleepTime = MaxBackoff
		}

		if err != nil {
			cbcontext.LoggerFromContext(ctx).WithFields(logrus.Fields{
				"err":          err,
				"backoff_time": sleepTime,
			}).Error("an error occurred when refreshing")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
		}
	}
}

// RunOnce refreshes once.
func (w *RefreshWorker) RunOnce(ctx context.Context) error {
	instances, err := w.Core.RefreshInstances(ctx)
	instanceCount.Reset()
	for driver, list := range instances {
		for _, instance := range list {
			instanceCount.WithLabelValues(driver, instance.Status).Inc()
		}
	}
	if w.OnRefresh != nil {
		w.OnRefresh(instances)
	}
	return err
}

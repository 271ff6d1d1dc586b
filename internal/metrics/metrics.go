// Package metrics holds the Prometheus collectors shared by the verifier
// pipeline and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attestproof"

var (
	// Verifications counts pipeline outcomes by result kind ("ok" on success).
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Attestation token verifications by outcome kind.",
	}, []string{"kind"})

	// KeySetFetches counts remote key-set fetch attempts by outcome.
	KeySetFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keyset_fetches_total",
		Help:      "Remote key-set fetch attempts by outcome.",
	}, []string{"outcome"})

	// KeySetFetchDuration observes the wall time of a full fetch, retries included.
	KeySetFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "keyset_fetch_duration_seconds",
		Help:      "Duration of key-set fetches including the bounded retry.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	})

	// KeySetCache counts cache lookups by result (hit, miss, stale).
	KeySetCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keyset_cache_lookups_total",
		Help:      "Key-set cache lookups by result.",
	}, []string{"result"})
)

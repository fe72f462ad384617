package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Alignment metrics
	WordsAligned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medspan_words_aligned_total",
		Help: "Number of words that received a label from subword predictions",
	})

	AlignmentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medspan_alignment_fallbacks_total",
			Help: "Number of words located by text search instead of an offset mapping",
		},
		[]string{"method"},
	)

	// Splice metrics
	SpansSpliced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medspan_spans_spliced_total",
			Help: "Number of spans replaced in source texts",
		},
		[]string{"mode"},
	)

	// Record shaping metrics
	RecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medspan_records_dropped_total",
			Help: "Number of records removed by a label white-list",
		},
		[]string{"stage"},
	)

	// Client metrics
	PlatformRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medspan_platform_requests_total",
			Help: "Number of requests sent to the model platform",
		},
		[]string{"endpoint", "status"},
	)

	CredentialCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medspan_credential_cache_lookups_total",
			Help: "Number of public key cache lookups",
		},
		[]string{"result"},
	)

	// Translation metrics
	SegmentsTranslated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medspan_segments_translated_total",
			Help: "Number of text segments translated, by whether the cache answered",
		},
		[]string{"result"},
	)
)

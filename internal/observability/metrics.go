package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters. HTTP-level metrics live in the middleware package.
var (
	// Redemptions counts SubmitEntry outcomes ("success", "replayed",
	// "quota_exceeded", ...).
	Redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "way_redemptions_total",
			Help: "Access code redemptions by outcome.",
		},
		[]string{"outcome"},
	)

	// UploadSlots counts upload-slot requests by outcome.
	UploadSlots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "way_upload_slots_total",
			Help: "Upload slot requests by outcome.",
		},
		[]string{"outcome"},
	)

	// RateLimited counts attempts turned away by an attempt window.
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "way_ratelimit_denied_total",
			Help: "Requests denied by an attempt window, by scope.",
		},
		[]string{"scope"},
	)

	// SweptObjects counts unreferenced uploads removed by the orphan sweep.
	SweptObjects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "way_orphan_objects_deleted_total",
			Help: "Uploaded objects deleted because no submission referenced them.",
		},
	)
)

func init() {
	prometheus.MustRegister(Redemptions, UploadSlots, RateLimited, SweptObjects)
}

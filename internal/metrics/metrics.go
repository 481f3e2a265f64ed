// Package metrics exposes the service's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesProcessed counts frames pulled from the frame source.
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taptendance_frames_processed_total",
		Help: "Frames pulled from the frame source by the decoder loop.",
	})

	// FramesSkipped counts transient capture glitches dropped at the loop.
	FramesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taptendance_frames_skipped_total",
		Help: "Frames skipped due to transient capture errors.",
	})

	// DecodeHits counts successful QR decodes before the cooldown gate.
	DecodeHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taptendance_decode_hits_total",
		Help: "Successful QR decodes, before cooldown gating.",
	})

	// CooldownDrops counts decodes rejected by the cooldown gate.
	CooldownDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taptendance_cooldown_drops_total",
		Help: "Decodes dropped because they arrived inside the cooldown window.",
	})

	// ScanOutcomes counts ledger outcomes by status.
	ScanOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taptendance_scan_outcomes_total",
		Help: "Ledger outcomes for admitted attendance payloads.",
	}, []string{"outcome"})
)

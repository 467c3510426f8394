package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/peer counter.
var Stats = &stats{}

type stats struct {
	FramesUp   atomic.Int64 // frames handed to tunnel channels (counted once per peer)
	FramesDown atomic.Int64 // frames received from peers and written locally
	BytesUp    atomic.Int64 // bytes handed to tunnel channels (counted once per peer)
	BytesDown  atomic.Int64 // bytes written to the local interface
	Joined     atomic.Int64 // cumulative count of peers that reached Connected
	Left       atomic.Int64 // cumulative count of peers that reached Disconnected
}

func (s *stats) AddUp(n int) {
	s.FramesUp.Add(1)
	s.BytesUp.Add(int64(n))
}

func (s *stats) AddDown(n int) {
	s.FramesDown.Add(1)
	s.BytesDown.Add(int64(n))
}

func (s *stats) AddJoined() { s.Joined.Add(1) }
func (s *stats) AddLeft()   { s.Left.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs tunnel statistics every
// interval. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevUp, prevDown, prevJoined, prevLeft int64
		for {
			select {
			case <-ticker.C:
				up := Stats.BytesUp.Load()
				down := Stats.BytesDown.Load()
				joined := Stats.Joined.Load()
				left := Stats.Left.Load()

				upS := float64(up-prevUp) / secs
				downS := float64(down-prevDown) / secs
				inP := joined - prevJoined
				outP := left - prevLeft

				if inP > 0 || outP > 0 || upS > 10 || downS > 10 {
					pterm.DefaultLogger.Info(formatStats(upS, downS, inP, outP))
				}

				prevUp = up
				prevDown = down
				prevJoined = joined
				prevLeft = left

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// e.g. "99.0   B", " 1.5 KiB", "98.9 GiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// keep to two integer digits so "100.0 KiB" never appears
	for b > 99 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns the one-line summary printed by the reporter.
func formatStats(upS, downS float64, inP, outP int64) string {
	return fmt.Sprintf("Up: %s/s | Down: %s/s | Peers: %2d↑ %2d↓",
		formatBytes(upS),
		formatBytes(downS),
		inP,
		outP,
	)
}

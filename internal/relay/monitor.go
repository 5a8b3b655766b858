package relay

import (
	"context"
	"log/slog"
	"time"

	"camera-relay/internal/media"
)

// Verdict is the outcome of one liveness sample.
type Verdict int

const (
	// VerdictAlive means the packet counter grew since the last sample.
	VerdictAlive Verdict = iota
	// VerdictNoProgress means the counter did not grow; the stall count went up.
	VerdictNoProgress
	// VerdictUnknown means the engine could not be queried; nothing changed.
	VerdictUnknown
	// VerdictStalled means the stall count reached the threshold.
	VerdictStalled
)

func (v Verdict) String() string {
	switch v {
	case VerdictAlive:
		return "alive"
	case VerdictNoProgress:
		return "no_progress"
	case VerdictUnknown:
		return "unknown"
	case VerdictStalled:
		return "stalled"
	}
	return "invalid"
}

const (
	DefaultLivenessInterval  = 5 * time.Second
	DefaultLivenessThreshold = 3
)

// LivenessPolicy configures stall detection.
type LivenessPolicy struct {
	Interval  time.Duration
	Threshold int
}

func (p LivenessPolicy) withDefaults() LivenessPolicy {
	if p.Interval <= 0 {
		p.Interval = DefaultLivenessInterval
	}
	if p.Threshold <= 0 {
		p.Threshold = DefaultLivenessThreshold
	}
	return p
}

// StatsSource is the part of a producer the monitor samples.
type StatsSource interface {
	GetStats(ctx context.Context) (media.ProducerStats, error)
}

// LivenessMonitor watches one producer's packet counter. Sample is not safe
// for concurrent use; Run drives it from a single goroutine.
type LivenessMonitor struct {
	src    StatsSource
	policy LivenessPolicy
	log    *slog.Logger

	lastCount uint64
	stalls    int
}

// NewLivenessMonitor returns a monitor for src. Zero policy fields take the defaults.
func NewLivenessMonitor(src StatsSource, policy LivenessPolicy, log *slog.Logger) *LivenessMonitor {
	return &LivenessMonitor{src: src, policy: policy.withDefaults(), log: log}
}

// Stalls returns the current consecutive no-progress count.
func (m *LivenessMonitor) Stalls() int { return m.stalls }

// Sample takes one statistics sample and applies the stall policy.
func (m *LivenessMonitor) Sample(ctx context.Context) Verdict {
	stats, err := m.src.GetStats(ctx)
	if err != nil {
		m.log.Warn("liveness sample failed",
			slog.String("error", err.Error()),
			slog.Int("stalls", m.stalls))
		return VerdictUnknown
	}

	if stats.PacketCount > m.lastCount {
		m.lastCount = stats.PacketCount
		m.stalls = 0
		return VerdictAlive
	}

	m.stalls++
	m.log.Debug("no packet progress",
		slog.Uint64("packets", stats.PacketCount),
		slog.Int("stalls", m.stalls),
		slog.Int("threshold", m.policy.Threshold))
	if m.stalls >= m.policy.Threshold {
		return VerdictStalled
	}
	return VerdictNoProgress
}

// Run samples every policy interval until ctx is done or the producer is
// declared stalled, in which case onStall is called once before returning.
func (m *LivenessMonitor) Run(ctx context.Context, onStall func()) {
	ticker := time.NewTicker(m.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sctx, cancel := context.WithTimeout(ctx, m.policy.Interval)
		v := m.Sample(sctx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if v == VerdictStalled {
			m.log.Info("producer stalled",
				slog.Int("stalls", m.stalls),
				slog.Duration("interval", m.policy.Interval))
			onStall()
			return
		}
	}
}

package fraud

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action is the verdict mapped from a bot-confidence score.
type Action string

const (
	ActionNone    Action = "none"
	ActionMonitor Action = "monitor"
	ActionWarning Action = "warning"
	ActionBan     Action = "ban"
)

// Signal weights. Each independent signal adds a bounded amount; the sum is
// clamped to 100 so the score stays a confidence, not a tally.
const (
	weightLikeRatio      = 35
	weightCommentRatio   = 25
	weightSpikeBase      = 15
	weightSpikeScaled    = 10
	weightZeroEngagement = 30
	weightRegression     = 10
)

// Thresholds configures the scoring engine. Invariant: Ban > Warning > Monitor.
type Thresholds struct {
	ViewLikeRatioMax    float64
	ViewCommentRatioMax float64
	SpikePct            float64
	SpikeWindow         time.Duration
	BanScore            int
	WarningScore        int
	MonitorScore        int
	VolumeThreshold     int64
}

// Sample is one engagement observation inside a scoring window.
type Sample struct {
	ViewCount      int64
	LikeCount      int64
	CommentCount   int64
	ShareCount     int64
	CapturedAt     time.Time
	CountRegressed bool // a count decreased vs. the prior sample (validation warning)
}

// Metrics is the snapshot that justified the verdict.
type Metrics struct {
	ViewLikeRatio    float64 `json:"view_like_ratio"`
	ViewCommentRatio float64 `json:"view_comment_ratio"`
	SpikeDetected    bool    `json:"spike_detected"`
	SpikePct         float64 `json:"spike_pct"`
}

// Analysis is the verdict for one (promoter, campaign) window. Derived data:
// always rebuildable from the underlying records, never the system of record.
type Analysis struct {
	BotScore   int       `json:"bot_score"`
	Action     Action    `json:"action"`
	Reason     string    `json:"reason"`
	Metrics    Metrics   `json:"metrics"`
	ComputedAt time.Time `json:"computed_at"`
}

// Score is the pure scoring function: the same window always yields the same
// score. Signals are combined as a monotonic weighted sum.
func Score(window []Sample, th Thresholds) Analysis {
	if len(window) == 0 {
		return Analysis{Action: ActionNone, Reason: "no engagement data"}
	}

	samples := make([]Sample, len(window))
	copy(samples, window)
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].CapturedAt.Before(samples[j].CapturedAt)
	})

	var views, likes, comments int64
	regressed := false
	for _, s := range samples {
		views += s.ViewCount
		likes += s.LikeCount
		comments += s.CommentCount
		regressed = regressed || s.CountRegressed
	}

	m := Metrics{
		ViewLikeRatio:    ratio(views, likes),
		ViewCommentRatio: ratio(views, comments),
	}
	m.SpikeDetected, m.SpikePct = detectSpike(samples, th)

	score := 0
	var reasons []string

	// a zero denominator makes ratio() report the raw view count, so the
	// ratio ceilings still apply once the window has real volume; below the
	// volume floor a zero count is just a clip with no traction yet
	highVolume := views >= th.VolumeThreshold

	if m.ViewLikeRatio > th.ViewLikeRatioMax && (likes > 0 || highVolume) {
		score += weightLikeRatio
		reasons = append(reasons, fmt.Sprintf("view:like ratio %.1f exceeds %.1f", m.ViewLikeRatio, th.ViewLikeRatioMax))
	}
	if m.ViewCommentRatio > th.ViewCommentRatioMax && (comments > 0 || highVolume) {
		score += weightCommentRatio
		reasons = append(reasons, fmt.Sprintf("view:comment ratio %.1f exceeds %.1f", m.ViewCommentRatio, th.ViewCommentRatioMax))
	}
	if highVolume && likes == 0 && comments == 0 {
		// literally zero engagement at volume is its own signal on top of
		// the two blown ratio ceilings
		score += weightZeroEngagement
		reasons = append(reasons, fmt.Sprintf("%d views with zero likes and zero comments", views))
	}
	if m.SpikeDetected {
		score += spikeWeight(m.SpikePct, th.SpikePct)
		reasons = append(reasons, fmt.Sprintf("view spike of %.0f%% within %s", m.SpikePct, th.SpikeWindow))
	}
	if regressed {
		score += weightRegression
		reasons = append(reasons, "engagement counts decreased between samples")
	}

	if score > 100 {
		score = 100
	}

	a := Analysis{
		BotScore:   score,
		Metrics:    m,
		ComputedAt: samples[len(samples)-1].CapturedAt,
	}
	a.Action = actionFor(score, th)
	if len(reasons) == 0 {
		a.Reason = "no fraud signals detected"
	} else {
		a.Reason = strings.Join(reasons, "; ")
	}
	return a
}

func actionFor(score int, th Thresholds) Action {
	switch {
	case score >= th.BanScore:
		return ActionBan
	case score >= th.WarningScore:
		return ActionWarning
	case score >= th.MonitorScore:
		return ActionMonitor
	default:
		return ActionNone
	}
}

func ratio(views, denom int64) float64 {
	if denom == 0 {
		if views == 0 {
			return 0
		}
		return float64(views)
	}
	return float64(views) / float64(denom)
}

// detectSpike compares view deltas between consecutive samples within the
// spike window and reports the largest percentage jump past the threshold.
func detectSpike(samples []Sample, th Thresholds) (bool, float64) {
	maxPct := 0.0
	detected := false
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		if th.SpikeWindow > 0 && cur.CapturedAt.Sub(prev.CapturedAt) > th.SpikeWindow {
			continue
		}
		if prev.ViewCount <= 0 {
			continue
		}
		growthPct := float64(cur.ViewCount-prev.ViewCount) / float64(prev.ViewCount) * 100
		if growthPct >= th.SpikePct {
			detected = true
			if growthPct > maxPct {
				maxPct = growthPct
			}
		}
	}
	return detected, maxPct
}

// spikeWeight grows with spike magnitude so the score is monotonic
// non-decreasing in the size of the spike, bounded by base+scaled.
func spikeWeight(spikePct, thresholdPct float64) int {
	w := weightSpikeBase
	if thresholdPct > 0 {
		excess := (spikePct - thresholdPct) / thresholdPct
		scaled := int(excess * float64(weightSpikeScaled))
		if scaled > weightSpikeScaled {
			scaled = weightSpikeScaled
		}
		if scaled > 0 {
			w += scaled
		}
	}
	return w
}

package collector

import (
	"fmt"

	"promopay-engine/pkg/errutil"
	"promopay-engine/services/platform"
)

// Validation flags recorded on a sample. Soft signals are kept and fed to
// fraud scoring rather than rejecting the observation.
const (
	FlagCountRegression = "count_regression"
	FlagLowEngagement   = "low_engagement"
)

type validationRules struct {
	VolumeThreshold  int64
	MinEngagementPct float64
}

// validateMetrics checks a fetched sample against the most recent prior one.
// Non-negativity is the only hard rejection; everything else is a warning
// flag that downstream scoring consumes.
func validateMetrics(m *platform.PostMetrics, prev *platform.PostMetrics, rules validationRules) ([]string, error) {
	if m.ViewCount < 0 || m.LikeCount < 0 || m.CommentCount < 0 || m.ShareCount < 0 {
		return nil, errutil.ValidationFailed(fmt.Sprintf(
			"negative engagement counts for post %s: views=%d likes=%d comments=%d shares=%d",
			m.PostID, m.ViewCount, m.LikeCount, m.CommentCount, m.ShareCount))
	}

	var flags []string

	if prev != nil {
		// counts should only grow; a drop is a signal, not a rejection
		if m.ViewCount < prev.ViewCount || m.LikeCount < prev.LikeCount ||
			m.CommentCount < prev.CommentCount || m.ShareCount < prev.ShareCount {
			flags = append(flags, FlagCountRegression)
		}
	}

	if m.ViewCount >= rules.VolumeThreshold {
		engagementPct := float64(m.LikeCount+m.CommentCount) / float64(m.ViewCount) * 100
		if engagementPct < rules.MinEngagementPct {
			flags = append(flags, FlagLowEngagement)
		}
	}

	return flags, nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

package payout

import (
	"fmt"
	"strings"
	"time"
)

// GenerateReport renders a deterministic, diff-friendly textual summary of a
// batch, suitable for audit logs.
func GenerateReport(batch *PayoutBatch) string {
	var b strings.Builder

	succeeded := batch.JobCount - batch.FailedCount
	successRate := 100.0
	if batch.JobCount > 0 {
		successRate = float64(succeeded) / float64(batch.JobCount) * 100
	}

	fmt.Fprintf(&b, "Daily Payout Report\n")
	fmt.Fprintf(&b, "===================\n")
	fmt.Fprintf(&b, "Date:          %s\n", batch.Date)
	fmt.Fprintf(&b, "Batch ID:      %s\n", batch.ID)
	fmt.Fprintf(&b, "Status:        %s\n", batch.Status)
	fmt.Fprintf(&b, "Jobs:          %d total, %d succeeded, %d failed\n", batch.JobCount, succeeded, batch.FailedCount)
	fmt.Fprintf(&b, "Success rate:  %.1f%%\n", successRate)
	fmt.Fprintf(&b, "Gross amount:  %d\n", batch.TotalGross)
	fmt.Fprintf(&b, "Platform fee:  %d\n", batch.TotalFee)
	fmt.Fprintf(&b, "Net amount:    %d\n", batch.TotalNet)
	fmt.Fprintf(&b, "Duration:      %s\n", batch.Duration().Round(time.Millisecond))

	if batch.FailedCount > 0 {
		fmt.Fprintf(&b, "\nFailed jobs:\n")
		for _, job := range batch.Jobs {
			if job.Status != StatusFailed {
				continue
			}
			fmt.Fprintf(&b, "  - promoter=%s campaign=%s: %s\n", job.PromoterID, job.CampaignID, job.Error)
		}
	}

	return b.String()
}

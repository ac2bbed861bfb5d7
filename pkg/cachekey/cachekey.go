package cachekey

import "fmt"

// Key namespaces (global convention across workers)
const (
	TokenPrefix       = "token"
	TokenLockPrefix   = "token:lock"
	MetricsPrefix     = "metrics:current"
	JobPrefix         = "metrics:job"
	RateLimitPrefix   = "ratelimit"
	BotAnalysisPrefix = "botanalysis"
	PayoutLockPrefix  = "payout:lock"
	CronJobPrefix     = "cron:job"
	CronHistoryPrefix = "cron:history"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTokenKey returns "token:{userID}:{platform}"
func BuildTokenKey(userID, platform string) string {
	return fmt.Sprintf("%s:%s:%s", TokenPrefix, userID, platform)
}

// BuildTokenLockKey returns "token:lock:{userID}:{platform}"
func BuildTokenLockKey(userID, platform string) string {
	return fmt.Sprintf("%s:%s:%s", TokenLockPrefix, userID, platform)
}

// BuildMetricsKey returns "metrics:current:{promoterID}:{campaignID}:{postID}"
func BuildMetricsKey(promoterID, campaignID, postID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", MetricsPrefix, promoterID, campaignID, postID)
}

// BuildJobKey returns "metrics:job:{jobID}"
func BuildJobKey(jobID string) string {
	return NamespaceKey(JobPrefix, jobID)
}

// BuildRateLimitKey returns "ratelimit:{platform}:{userID}"
func BuildRateLimitKey(platform, userID string) string {
	return fmt.Sprintf("%s:%s:%s", RateLimitPrefix, platform, userID)
}

// BuildBotAnalysisKey returns "botanalysis:{promoterID}:{campaignID}"
func BuildBotAnalysisKey(promoterID, campaignID string) string {
	return fmt.Sprintf("%s:%s:%s", BotAnalysisPrefix, promoterID, campaignID)
}

// BuildPayoutLockKey returns "payout:lock:{date}" with date formatted 2006-01-02.
func BuildPayoutLockKey(date string) string {
	return NamespaceKey(PayoutLockPrefix, date)
}

// BuildCronJobKey returns "cron:job:{name}"
func BuildCronJobKey(name string) string {
	return NamespaceKey(CronJobPrefix, name)
}

// BuildCronHistoryKey returns "cron:history:{name}"
func BuildCronHistoryKey(name string) string {
	return NamespaceKey(CronHistoryPrefix, name)
}

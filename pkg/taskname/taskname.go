package taskname

const (
	// Collection tasks
	MetricsCollect = "metrics:collect"
)

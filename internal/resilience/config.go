package resilience

// ForAttempts returns the default policy limited to maxAttempts total calls,
// logging each retry under service. Values below 1 mean a single attempt:
// callers that must not retry get exactly one call.
func ForAttempts(maxAttempts int, service, operation string) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = max(maxAttempts, 1)
	cfg.OnRetry = RetryLogger(service, operation)
	return cfg
}

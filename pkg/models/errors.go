package models

// ErrorCode is the classified failure taxonomy recorded on tasks.
type ErrorCode string

const (
	TimeoutError    ErrorCode = "TIMEOUT"
	RateLimitError  ErrorCode = "RATE_LIMIT"
	AuthError       ErrorCode = "AUTH_ERROR"
	ValidationError ErrorCode = "VALIDATION_ERROR"
	AIProviderError ErrorCode = "AI_PROVIDER_ERROR"
	UnknownError    ErrorCode = "UNKNOWN"
)

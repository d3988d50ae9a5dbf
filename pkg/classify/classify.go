// Package classify maps handler failures to the engine's error taxonomy and
// computes retry backoff. Classification is a pure function of the error
// message so results are deterministic and testable.
package classify

import (
	"math/rand"
	"strings"
	"time"

	"github.com/CleanExpo/RestoreAssist-sub015/pkg/models"
)

const (
	// DefaultRetryBase is the base delay for exponential backoff.
	DefaultRetryBase = 2 * time.Second
	// MaxRetryDelay caps the backoff before jitter.
	MaxRetryDelay = 30 * time.Second
	// RateLimitRetryAfter is the suggested wait after a rate-limit response.
	RateLimitRetryAfter = 30 * time.Second

	maxJitter = time.Second
)

// Classification is the taxonomy entry for one failure.
type Classification struct {
	Code       models.ErrorCode
	Retryable  bool
	RetryAfter time.Duration // Suggested wait, zero when the classifier has no hint
}

type rule struct {
	signals []string
	cls     Classification
}

// Rules are checked in order; the first matching signal wins. Unrecognized
// errors are UNKNOWN and not retried.
var rules = []rule{
	{
		signals: []string{"timeout", "timed out", "connection aborted", "econnaborted"},
		cls:     Classification{Code: models.TimeoutError, Retryable: true},
	},
	{
		signals: []string{"rate limit", "429", "too many requests"},
		cls:     Classification{Code: models.RateLimitError, Retryable: true, RetryAfter: RateLimitRetryAfter},
	},
	{
		signals: []string{"unauthorized", "401", "403", "forbidden", "api key"},
		cls:     Classification{Code: models.AuthError, Retryable: false},
	},
	{
		signals: []string{"validation", "invalid", "required"},
		cls:     Classification{Code: models.ValidationError, Retryable: false},
	},
	{
		signals: []string{"500", "502", "503", "overloaded", "server error"},
		cls:     Classification{Code: models.AIProviderError, Retryable: true},
	},
}

// Classify maps an error to its taxonomy entry based on message content.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Code: models.UnknownError, Retryable: false}
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, sig := range r.signals {
			if strings.Contains(msg, sig) {
				return r.cls
			}
		}
	}
	return Classification{Code: models.UnknownError, Retryable: false}
}

// RetryDelay returns min(base*2^attempt, 30s) plus up to 1s of random
// jitter, so retries across tasks do not synchronize.
func RetryDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultRetryBase
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= MaxRetryDelay {
			delay = MaxRetryDelay
			break
		}
	}
	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}

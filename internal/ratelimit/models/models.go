package models

import (
	"fmt"
	"time"
)

// EndpointClass groups routes that share a request budget.
type EndpointClass string

const (
	// ClassSearch covers single searches and the usage/history reads.
	ClassSearch EndpointClass = "search"
	// ClassBulk covers file uploads for bulk screening.
	ClassBulk EndpointClass = "bulk"
	// ClassWrite covers registry mutations.
	ClassWrite EndpointClass = "write"
)

func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassSearch, ClassBulk, ClassWrite:
		return true
	}
	return false
}

// Limit is the number of requests a caller may make per window. Zero
// disables limiting for the class.
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

// Result is the outcome of one check against a bucket.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// BucketKey scopes a caller's bucket to one endpoint class.
func BucketKey(class EndpointClass, caller string) string {
	return fmt.Sprintf("rl:%s:%s", class, caller)
}

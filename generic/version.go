package generic

// Version is an optimistic concurrency token. Every successful write of a
// versioned entity increments it by exactly one; a writer that read version N
// may only write if the stored version is still N.
type Version int64

// Next is the version a successful write will store.
func (v Version) Next() Version { return v + 1 }

// Counter is a use count guarded by a Version, so "read, validate, increment"
// can be enforced by the store as a compare-and-swap.
type Counter struct {
	Count   int
	Version Version
}

// Increment returns the counter after one successful use.
func (c Counter) Increment() Counter {
	return Counter{Count: c.Count + 1, Version: c.Version.Next()}
}

// Reached reports whether the count is at or beyond limit.
// A nil limit is uncapped.
func (c Counter) Reached(limit *int) bool {
	return limit != nil && c.Count >= *limit
}

package ranking

import (
	"errors"
	"fmt"
)

// ErrFetch is wrapped by every failure of the ranking API client.
var ErrFetch = errors.New("leaderboard fetch failed")

// FetchError describes one failed fetch. StatusCode is zero for transport errors.
type FetchError struct {
	Region     string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: region %q: status %d: %v", ErrFetch, e.Region, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: region %q: %v", ErrFetch, e.Region, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }

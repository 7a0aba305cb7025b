package utils

import "golang.org/x/net/context"

// CheckContextDone reports whether the given context has been cancelled or has expired, without blocking.
func CheckContextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

package socket

import (
	"context"
	"time"
)

// startPing invokes send at each tick until ctx ends.
func startPing(ctx context.Context, interval time.Duration, send func()) {
	if interval <= 0 || send == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			send()
		case <-ctx.Done():
			return
		}
	}
}

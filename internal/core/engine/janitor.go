package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartJanitor runs Cleanup every interval until ctx is cancelled. The
// returned channel is closed once the goroutine has exited.
func (r *RateLimiter) StartJanitor(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if r == nil || interval <= 0 {
		close(done)
		return done
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted := r.Cleanup(ctx)
				if deleted > 0 && r.Logger != nil {
					r.Logger.Debug("Swept expired rate limits", zap.Int64("deleted", deleted))
				}
			}
		}
	}()
	return done
}

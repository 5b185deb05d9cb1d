package engine

import (
	"context"
	"time"
)

// startHeartbeat fires the transport's activity signal immediately and
// then on a fixed interval until the returned stop function runs. The
// goroutine never outlives the pipeline run that started it.
func (e *Engine) startHeartbeat(ctx context.Context, conversationID string) (stop func()) {
	hctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.transport.SendHeartbeat(hctx, conversationID)
		t := time.NewTicker(e.opts.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				_ = e.transport.SendHeartbeat(hctx, conversationID)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

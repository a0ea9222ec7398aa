package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"groundzero-sync-service/internal/backend"
	"groundzero-sync-service/internal/logger"
)

// Listener is the cloud's native change feed.
type Listener interface {
	Listen(ctx context.Context, channel string, fn func(backend.Change)) error
}

// CloudFeed keeps one Listen call running while started, reconnecting with
// capped exponential backoff.
type CloudFeed struct {
	listener Listener
	channel  string
	publish  func(backend.Change)

	minRetry time.Duration
	maxRetry time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCloudFeed(listener Listener, channel string, publish func(backend.Change)) *CloudFeed {
	return &CloudFeed{
		listener: listener,
		channel:  channel,
		publish:  publish,
		minRetry: 500 * time.Millisecond,
		maxRetry: 30 * time.Second,
	}
}

func (f *CloudFeed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.wg.Add(1)
	go f.loop(ctx)
}

// Stop cancels the feed without waiting for it.
func (f *CloudFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

func (f *CloudFeed) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel != nil
}

// Close stops the feed and waits for it to exit.
func (f *CloudFeed) Close() {
	f.Stop()
	f.wg.Wait()
}

func (f *CloudFeed) loop(ctx context.Context) {
	defer f.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.minRetry
	b.MaxInterval = f.maxRetry
	b.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := f.listener.Listen(ctx, f.channel, f.publish)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			b.Reset()
		}

		wait := b.NextBackOff()
		logger.Log.Warn("Cloud change feed dropped, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

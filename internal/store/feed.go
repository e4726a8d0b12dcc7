package store

import (
	"context"
	"sync"
	"sync/atomic"
)

// Feed fans out appended data points to per-application subscribers.
// Publishing never blocks: a subscriber whose buffer is full misses the
// point and its Dropped counter is incremented.
type Feed struct {
	mu     sync.RWMutex
	subs   map[int64]map[*Subscription]struct{}
	buffer int
}

// Subscription receives data points of one application on C.
type Subscription struct {
	C <-chan DataPoint

	ch      chan DataPoint
	feed    *Feed
	appID   int64
	once    sync.Once
	dropped atomic.Int64
}

// NewFeed creates a feed whose subscriptions buffer up to buffer points.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{
		subs:   make(map[int64]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for appID. Call Close when done.
func (f *Feed) Subscribe(appID int64) *Subscription {
	ch := make(chan DataPoint, f.buffer)
	sub := &Subscription{C: ch, ch: ch, feed: f, appID: appID}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[appID] == nil {
		f.subs[appID] = make(map[*Subscription]struct{})
	}
	f.subs[appID][sub] = struct{}{}
	return sub
}

// Publish delivers dp to every subscriber of dp.AppID.
func (f *Feed) Publish(dp DataPoint) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subs[dp.AppID] {
		select {
		case sub.ch <- dp:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of subscribers of appID.
func (f *Feed) Subscribers(appID int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[appID])
}

// Close unregisters the subscription and closes C. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs[s.appID], s)
		if len(s.feed.subs[s.appID]) == 0 {
			delete(s.feed.subs, s.appID)
		}
		close(s.ch)
		s.feed.mu.Unlock()
	})
}

// Dropped returns the number of points this subscriber missed.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// notifying decorates a Store so successful appends are published.
type notifying struct {
	Store
	feed *Feed
}

// Notify returns s wrapped so that every successful Append is published
// on feed.
func Notify(s Store, feed *Feed) Store {
	return &notifying{Store: s, feed: feed}
}

func (n *notifying) Append(ctx context.Context, dp DataPoint) (DataPoint, error) {
	stored, err := n.Store.Append(ctx, dp)
	if err != nil {
		return stored, err
	}
	n.feed.Publish(stored)
	return stored, nil
}

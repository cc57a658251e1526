package store

import "time"

// Observer receives store events. Implementations must be safe for
// concurrent use; see metrics.Collector.
type Observer interface {
	OnLoadStart(slug string)
	OnLoadDone(slug string, d time.Duration, err error)
	OnCacheHit(slug string)
	OnAccessWait(slug string, d time.Duration)
	OnEvict(slug string)
}

// NoOpObserver discards all events.
type NoOpObserver struct{}

func (NoOpObserver) OnLoadStart(string)                      {}
func (NoOpObserver) OnLoadDone(string, time.Duration, error) {}
func (NoOpObserver) OnCacheHit(string)                       {}
func (NoOpObserver) OnAccessWait(string, time.Duration)      {}
func (NoOpObserver) OnEvict(string)                          {}

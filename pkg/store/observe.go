package store

import (
	"sync"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// Subscription is the handle returned by an observer registration
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unregister stops delivery to the observer. Calling it more than once is a no-op.
func (sub *Subscription) Unregister() {
	if sub == nil {
		return
	}
	sub.once.Do(sub.cancel)
}

// OnReplace registers fn to receive every table replacement
func (s *Store) OnReplace(fn func(Snapshot)) *Subscription {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	s.nextID++
	id := s.nextID
	s.rowObservers = append(s.rowObservers, rowObserver{id: id, fn: fn})

	return &Subscription{cancel: func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, o := range s.rowObservers {
			if o.id == id {
				s.rowObservers = append(s.rowObservers[:i:i], s.rowObservers[i+1:]...)
				return
			}
		}
	}}
}

// OnChartInfo registers fn to receive chart label changes
func (s *Store) OnChartInfo(fn func(types.ChartInfo)) *Subscription {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	s.nextID++
	id := s.nextID
	s.infoObservers = append(s.infoObservers, infoObserver{id: id, fn: fn})

	return &Subscription{cancel: func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		for i, o := range s.infoObservers {
			if o.id == id {
				s.infoObservers = append(s.infoObservers[:i:i], s.infoObservers[i+1:]...)
				return
			}
		}
	}}
}

// ObserverCount returns the number of registered table observers
func (s *Store) ObserverCount() int {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return len(s.rowObservers)
}

// ChartInfo returns a copy of the current chart labels
func (s *Store) ChartInfo() types.ChartInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneInfo(s.info)
}

// SetChartInfo replaces the chart labels and notifies observers
func (s *Store) SetChartInfo(info types.ChartInfo) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	s.info = cloneInfo(info)
	s.mu.Unlock()

	s.obsMu.Lock()
	observers := append([]infoObserver(nil), s.infoObservers...)
	s.obsMu.Unlock()

	for _, o := range observers {
		o.fn(cloneInfo(info))
	}
}

func (s *Store) currentRowObservers() []rowObserver {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	return append([]rowObserver(nil), s.rowObservers...)
}

func cloneInfo(info types.ChartInfo) types.ChartInfo {
	info.DataLabels = append([]string(nil), info.DataLabels...)
	return info
}

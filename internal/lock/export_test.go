package lock

import "time"

// SetClock replaces the clock used for flag expiry.
func (m *MemoryLocker) SetClock(now func() time.Time) {
	<-m.mu
	m.now = now
	m.mu <- struct{}{}
}

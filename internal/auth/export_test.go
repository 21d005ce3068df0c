package auth

import "time"

// SetClock replaces the authenticator's time source.
func (a *Authenticator) SetClock(now func() time.Time) { a.now = now }

package poller

import "time"

// Schedule decides how long to wait before poll n (n >= 1). Schedules
// are per-job-type configuration, not a protocol constant.
type Schedule interface {
	Delay(n int) time.Duration
}

// Exponential doubles the delay each poll, bounded below by Base and
// above by Cap. With Base=1s and Cap=4s the sequence is
// 1s, 2s, 4s, 4s, 4s, ...
type Exponential struct {
	Base time.Duration
	Cap  time.Duration
}

func (e Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	// shifting past the cap would overflow long before n gets large
	if n > 32 {
		return e.Cap
	}
	d := e.Base << uint(n-1)
	if d < e.Base {
		d = e.Base
	}
	if d > e.Cap {
		d = e.Cap
	}
	return d
}

// Flat polls at a constant interval; lighter-weight job types use this
// instead of backing off.
type Flat struct {
	Interval time.Duration
}

func (f Flat) Delay(n int) time.Duration { return f.Interval }

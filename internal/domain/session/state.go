package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/playground/internal/infrastructure/resilience"
)

// State is the boot state of a session
type State int

const (
	StateBooting State = iota
	StateReady
	StateFailed
)

// String returns the lowercase state name
func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "booting":
		*s = StateBooting
	case "ready":
		*s = StateReady
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// Boot stages, in order
const (
	StageCreate  = "create"
	StageMount   = "mount"
	StageInstall = "install"
	StageAttach  = "attach"
)

// RetryMode selects what happens after a failed boot
type RetryMode string

const (
	// RetryManual keeps a failed session failed until it is acquired again
	RetryManual RetryMode = "manual"
	// RetryAuto reboots a failed session after a backoff while it is observed
	RetryAuto RetryMode = "auto"
)

// ParseRetryMode validates a retry mode name
func ParseRetryMode(s string) (RetryMode, error) {
	switch RetryMode(strings.ToLower(strings.TrimSpace(s))) {
	case RetryManual, "":
		return RetryManual, nil
	case RetryAuto:
		return RetryAuto, nil
	default:
		return "", fmt.Errorf("unknown retry mode %q (want manual or auto)", s)
	}
}

// Policy tunes session lifecycle
type Policy struct {
	// BootTimeout bounds one boot attempt; zero means no bound
	BootTimeout time.Duration
	// WriteTimeout bounds one propagated write; zero means no bound
	WriteTimeout time.Duration
	// Retry selects the failed-boot policy
	Retry RetryMode
	// RetryMax caps automatic attempts per session (auto mode only)
	RetryMax int
	// RetryBackoff is the delay before an automatic attempt; it doubles per attempt
	RetryBackoff time.Duration
	// ScrollbackBytes is the size of the replay ring per session
	ScrollbackBytes int
	// Breaker configures the per-workspace boot breaker
	Breaker resilience.Settings
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		BootTimeout:     2 * time.Minute,
		WriteTimeout:    10 * time.Second,
		Retry:           RetryManual,
		RetryMax:        3,
		RetryBackoff:    2 * time.Second,
		ScrollbackBytes: 64 * 1024,
		Breaker: resilience.Settings{
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		},
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Retry == "" {
		p.Retry = d.Retry
	}
	if p.RetryMax <= 0 {
		p.RetryMax = d.RetryMax
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = d.RetryBackoff
	}
	if p.ScrollbackBytes <= 0 {
		p.ScrollbackBytes = d.ScrollbackBytes
	}
	return p
}

// backoff returns the delay before automatic attempt n (n >= 2)
func (p Policy) backoff(n int) time.Duration {
	d := p.RetryBackoff
	for i := 2; i < n && d < time.Minute; i++ {
		d *= 2
	}
	return d
}

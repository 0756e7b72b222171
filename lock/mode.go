package lock

import (
	"fmt"
	"strings"
)

// Mode selects how a lock is held.
//
// The compatibility matrix below describes which holders may coexist on the
// same path while both are actively holding the underlying primitive:
//
//	                    Exclusive  OnDemandExclusive  OnDemandShared
//	Exclusive              no            no                no
//	OnDemandExclusive      no            no                no
//	OnDemandShared         no            no                yes
//
// On-demand holders only hold the primitive inside WithLock, so outside
// those windows they do not conflict with anything.
type Mode int

const (
	// Exclusive acquires the primitive immediately and holds it until Close.
	Exclusive Mode = iota + 1

	// OnDemandExclusive acquires an exclusive primitive for each WithLock call.
	OnDemandExclusive

	// OnDemandShared acquires a shared primitive for each WithLock call.
	OnDemandShared
)

// Modes returns all valid lock modes.
func Modes() []Mode {
	return []Mode{Exclusive, OnDemandExclusive, OnDemandShared}
}

// IsValid returns true if the mode is a known value.
func (m Mode) IsValid() bool {
	for _, valid := range Modes() {
		if m == valid {
			return true
		}
	}
	return false
}

// OnDemand reports whether the primitive is only held inside WithLock.
func (m Mode) OnDemand() bool {
	return m == OnDemandExclusive || m == OnDemandShared
}

// Shared reports whether the underlying primitive is a shared lock.
func (m Mode) Shared() bool {
	return m == OnDemandShared
}

func (m Mode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case OnDemandExclusive:
		return "on-demand-exclusive"
	case OnDemandShared:
		return "on-demand-shared"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses the String form of a mode.
func ParseMode(value string) (Mode, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, mode := range Modes() {
		if mode.String() == normalized {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("invalid lock mode %q", value)
}

// Compatible reports whether active holders in modes a and b may hold the
// same path at the same time.
func Compatible(a, b Mode) bool {
	return a.Shared() && b.Shared()
}

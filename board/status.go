package board

import (
	"fmt"
	"time"
)

// State is the connectivity part of the UI-facing status signal.
type State int

const (
	StateOffline State = iota
	StateSyncing
	StateOnline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateSyncing:
		return "syncing"
	case StateOffline:
		return "offline"
	}

	return "unknown"
}

// MarshalText encodes the state as its lowercase name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a lowercase state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "online":
		*s = StateOnline
	case "syncing":
		*s = StateSyncing
	case "offline":
		*s = StateOffline
	default:
		return fmt.Errorf("unknown sync state %q", b)
	}

	return nil
}

// Status is the tri-state indicator published at the start and end of
// every network attempt. Pending is the dirty count at publish time.
type Status struct {
	State    State     `json:"state"`
	Pending  int       `json:"pending"`
	LastSync time.Time `json:"last_sync,omitzero"`
}

// Label renders the status the way the board header shows it.
func (s Status) Label() string {
	switch s.State {
	case StateOnline:
		return "● Online"
	case StateSyncing:
		return "● Syncing..."
	}

	if s.Pending > 0 {
		return fmt.Sprintf("● Offline (%d unsynced)", s.Pending)
	}

	return "● Offline"
}

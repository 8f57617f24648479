package workload

import "fmt"

// Mode selects the workload pattern.
type Mode string

const (
	// ModeLoad runs the fixed-duration synthetic load.
	ModeLoad Mode = "load"

	// ModeMonitor runs the indefinite health poll.
	ModeMonitor Mode = "monitor"
)

// InvalidModeError reports an unknown mode name.
type InvalidModeError struct {
	Mode string
}

// Error implements the error interface.
func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid mode %q: expected %q or %q", e.Mode, ModeLoad, ModeMonitor)
}

// ParseMode maps a mode name to a Mode. The empty string selects ModeMonitor.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMonitor:
		return ModeMonitor, nil
	case ModeLoad:
		return ModeLoad, nil
	default:
		return "", &InvalidModeError{Mode: s}
	}
}

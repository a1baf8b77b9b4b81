package schema

// Status is the terminal (or in-flight) state of a script or action execution.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusSuccess Status = "SUCCESS"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
	StatusStopped Status = "STOPPED"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s != StatusActive && s != ""
}

// ParseStatus returns the Status named by s, or false if s is not a known terminal status.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusSuccess, StatusWarning, StatusError, StatusSkipped, StatusStopped:
		return st, true
	default:
		return "", false
	}
}

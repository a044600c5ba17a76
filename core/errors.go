package core

import "fmt"

// ConfigError reports invalid or missing construction parameters. It is
// always returned before any grid is allocated.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Configf builds a ConfigError with a formatted reason.
func Configf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DimensionMismatch reports initial data of the wrong size. Component is -1
// when the number of arrays is wrong.
type DimensionMismatch struct {
	Component int
	Want, Got int
}

func (e *DimensionMismatch) Error() string {
	if e.Component < 0 {
		return fmt.Sprintf("dimension mismatch: want %d arrays, got %d", e.Want, e.Got)
	}
	return fmt.Sprintf("dimension mismatch: component %d: want %d values, got %d", e.Component, e.Want, e.Got)
}

// SingularMatrix reports a reaction Jacobian that could not be inverted,
// with the cell that produced it.
type SingularMatrix struct {
	Level   int
	I, J, K int
	Err     error
}

func (e *SingularMatrix) Error() string {
	return fmt.Sprintf("singular reaction jacobian at level %d cell (%d,%d,%d): %v", e.Level, e.I, e.J, e.K, e.Err)
}

func (e *SingularMatrix) Unwrap() error { return e.Err }

// CommunicationFailure is fatal for every rank of the run.
type CommunicationFailure struct {
	Rank int
	Peer int
	Op   string
	Err  error
}

func (e *CommunicationFailure) Error() string {
	return fmt.Sprintf("rank %d: %s with peer %d failed: %v", e.Rank, e.Op, e.Peer, e.Err)
}

func (e *CommunicationFailure) Unwrap() error { return e.Err }

// DeviceError reports a failed transfer or kernel launch. Device state is
// not trusted afterwards.
type DeviceError struct {
	Device string
	Level  int
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: level %d: %s: %v", e.Device, e.Level, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

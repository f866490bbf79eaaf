// Package permission models the OS permissions the app depends on:
// input monitoring for the global hotkey and microphone access for capture.
//
// The default authority optimistically reports granted and lets the real
// denial surface as a component start error on the next trigger; platforms
// with queryable permission APIs can provide richer implementations.
package permission

import "context"

// Status is the tri-state result of a permission check.
type Status int

const (
	// StatusUnknown means the platform cannot report the permission
	// without attempting the privileged operation.
	StatusUnknown Status = iota
	StatusGranted
	StatusDenied
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Authority answers permission checks. Checks are made when a trigger
// needs them, never polled.
type Authority interface {
	InputMonitoring() Status
	Microphone() Status

	// Request prompts the user to grant missing permissions, where the
	// platform supports prompting.
	Request(ctx context.Context) error
}

// optimistic assumes permissions are granted; actual denials are reported
// by the components that hit them.
type optimistic struct{}

// Default returns the optimistic [Authority].
func Default() Authority {
	return optimistic{}
}

func (optimistic) InputMonitoring() Status           { return StatusGranted }
func (optimistic) Microphone() Status                { return StatusGranted }
func (optimistic) Request(ctx context.Context) error { return nil }

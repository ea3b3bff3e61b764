package license

import (
	"fmt"
	"time"
)

// Record is the binding state of one activation key.
type Record struct {
	Key         string    `json:"activation_key"`
	BoundDevice string    `json:"device_id,omitempty"`
	BoundAt     time.Time `json:"activation_date,omitempty"`
}

// IsBound reports whether the key is bound to a device.
func (r Record) IsBound() bool {
	return r.BoundDevice != ""
}

// Validate checks that a stored record is well formed: a key is present and
// BoundAt is set exactly when BoundDevice is.
func (r Record) Validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: empty activation key", ErrMalformedRecord)
	}
	if r.IsBound() && r.BoundAt.IsZero() {
		return fmt.Errorf("%w: key %s bound without activation date", ErrMalformedRecord, maskKey(r.Key))
	}
	if !r.IsBound() && !r.BoundAt.IsZero() {
		return fmt.Errorf("%w: key %s has activation date but no device", ErrMalformedRecord, maskKey(r.Key))
	}
	return nil
}

// Outcome classifies the result of one activation.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	// OutcomeActivated means the key was unbound and is now bound to the device.
	OutcomeActivated
	// OutcomeAlreadyActivated means the key was already bound to the same device.
	OutcomeAlreadyActivated
	// OutcomeActivatedElsewhere means the key is bound to a different device.
	OutcomeActivatedElsewhere
	// OutcomeKeyNotFound means no record exists for the key.
	OutcomeKeyNotFound
)

// String returns the metric and log label of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeActivated:
		return "activated"
	case OutcomeAlreadyActivated:
		return "already_activated"
	case OutcomeActivatedElsewhere:
		return "activated_elsewhere"
	case OutcomeKeyNotFound:
		return "key_not_found"
	default:
		return "unknown"
	}
}

// Success reports whether the outcome grants the device use of the key.
func (o Outcome) Success() bool {
	return o == OutcomeActivated || o == OutcomeAlreadyActivated
}

// Result is what Activate returns for a well-formed request.
type Result struct {
	Outcome Outcome
	// Record is the binding state the outcome was decided on. It is empty
	// for OutcomeKeyNotFound.
	Record Record
}

// classify applies the decision rule to a record that is already bound.
func classify(rec Record, deviceID string) Result {
	if rec.BoundDevice == deviceID {
		return Result{Outcome: OutcomeAlreadyActivated, Record: rec}
	}
	return Result{Outcome: OutcomeActivatedElsewhere, Record: rec}
}

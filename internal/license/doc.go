// Package license implements activation-key to device binding.
//
// # Binding Model
//
// Every activation key is provisioned out-of-band as an unbound Record. The
// first successful activation binds it to exactly one device id and stamps
// the binding time; from then on the key answers for that device only:
//
//	record missing           -> OutcomeKeyNotFound
//	record unbound           -> bind, OutcomeActivated
//	bound to the same device -> OutcomeAlreadyActivated
//	bound to another device  -> OutcomeActivatedElsewhere
//
// # Activation
//
//	binder := license.NewBinder(store, license.WithStoreTimeout(10*time.Second))
//	res, err := binder.Activate(ctx, "ABC-123", "device-X")
//
// Activate returns ErrInvalidRequest for an empty key or device id without
// touching the store, and an error wrapping ErrStoreUnavailable when the
// store cannot be read or written. Every other result is a business outcome.
//
// # Concurrency
//
// The read-decide-write sequence for one key runs inside a per-key
// exclusion region, so concurrent first activations of the same key produce
// a single binding. Different keys never wait on each other. Stores that can
// perform a conditional write report a lost cross-process race with
// ErrAlreadyBound; the binder re-reads and classifies instead of writing.
//
// # Stores
//
// Store is the persistence contract. Implementations live under
// internal/store and share the licensetest contract suite.
package license

package thing

import "errors"

// Domain errors for the thing package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, thing.ErrReadOnly) {
//	    // reject the client write
//	}
var (
	// ErrPropertyNotFound is returned when a property name does not exist on a thing.
	ErrPropertyNotFound = errors.New("thing: property not found")

	// ErrPropertyExists is returned when registering a property name twice.
	ErrPropertyExists = errors.New("thing: property already exists")

	// ErrReadOnly is returned when a client writes a read-only property.
	ErrReadOnly = errors.New("thing: property is read-only")

	// ErrConstraint is returned when a value violates the property's type, range or enum.
	ErrConstraint = errors.New("thing: constraint violation")

	// ErrHookRejected is returned when the driver's forwarding hook declines a write.
	ErrHookRejected = errors.New("thing: write rejected by driver")

	// ErrActionNotSupported is returned when requesting an action that was never registered.
	ErrActionNotSupported = errors.New("thing: action not supported")

	// ErrActionInputInvalid is returned when action input fails its input schema.
	ErrActionInputInvalid = errors.New("thing: invalid action input")

	// ErrNotFound is returned when an action record to cancel or remove does not exist.
	ErrNotFound = errors.New("thing: not found")

	// ErrAlreadyTerminal is returned when cancelling an action that already completed or failed.
	ErrAlreadyTerminal = errors.New("thing: action already terminal")

	// ErrInvalidMetadata is returned when property or action metadata cannot be compiled.
	ErrInvalidMetadata = errors.New("thing: invalid metadata")

	// ErrExecutorBusy is returned when the action queue is full.
	ErrExecutorBusy = errors.New("thing: action queue full")

	// ErrExecutorStopped is returned when submitting work after shutdown.
	ErrExecutorStopped = errors.New("thing: executor stopped")

	// ErrCancelled is returned by action behaviours that observed a cancel request.
	ErrCancelled = errors.New("thing: action cancelled")

	// ErrThingNotFound is returned by the registry for unknown thing IDs.
	ErrThingNotFound = errors.New("thing: thing not found")

	// ErrThingExists is returned when adding a thing ID twice to a registry.
	ErrThingExists = errors.New("thing: thing already exists")

	// ErrThingClosed is returned when starting background work on a closed thing.
	ErrThingClosed = errors.New("thing: thing closed")
)

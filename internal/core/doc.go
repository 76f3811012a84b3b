// Package core defines the value types shared by every part of the hub:
// entity identifiers, causality contexts, state snapshots, events and
// service calls, plus the error taxonomy the other packages report with.
//
// # Key Types
//
//   - EntityID: validated "domain.object_id" pair
//   - Context: ULID-based causality token with optional user and parent ids
//   - State: immutable snapshot of one entity's value and attributes
//   - Event: a fired bus event with origin and context
//   - ServiceCall: one invocation of a registered service
//
// # Errors
//
// ValidationError, NotFoundError, InvalidStateTransitionError and
// SchemaValidationError are typed so callers can extract details with
// errors.As. ErrTypeError and ErrValueError classify bad registration
// arguments and are matched with errors.Is.
//
// Types in this package hold no locks. State and Event values are never
// mutated after construction; callers that need to change a State build a
// new one.
package core

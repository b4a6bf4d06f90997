// Package schemaerr defines the error taxonomy shared by the schema
// reconciliation packages.
//
// Every failure raised during a run is one of the typed errors below. Each
// typed error matches its sentinel through errors.Is, so callers can branch
// on the kind without caring about the concrete fields:
//
//	if errors.Is(err, schemaerr.ErrDrift) {
//		// a live element disagrees with its declaration
//	}
//
// The typed values carry the element names needed for an actionable
// message and can be recovered with errors.As.
package schemaerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind.
var (
	ErrValidation           = errors.New("schema validation failed")
	ErrDrift                = errors.New("schema drift detected")
	ErrDuplicateDeclaration = errors.New("duplicate declaration")
	ErrUnresolvedReference  = errors.New("unresolved reference")
	ErrIndexTransition      = errors.New("index transition failed")
	ErrBackend              = errors.New("backend failure")
)

// ValidationError reports a declared schema that is internally inconsistent
// or violates naming, type or backend rules.
type ValidationError struct {
	Element string // element kind, e.g. "vertex" or "mixed index"
	Name    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("schema validation: %s", e.Message)
	}
	return fmt.Sprintf("schema validation: %s %q: %s", e.Element, e.Name, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError returns a ValidationError for the named element.
func NewValidationError(element, name, format string, args ...any) *ValidationError {
	return &ValidationError{Element: element, Name: name, Message: fmt.Sprintf(format, args...)}
}

// DriftError reports a live element whose structurally fixed attribute
// differs from the declaration.
type DriftError struct {
	Category string
	Name     string
	Property string
	Declared any
	Live     any
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("existing graph element violates the schema: type=%s, name=%s, property=%s, schema value=%v, database value=%v",
		e.Category, e.Name, e.Property, e.Declared, e.Live)
}

// Is matches ErrDrift.
func (e *DriftError) Is(target error) bool { return target == ErrDrift }

// DuplicateDeclarationError reports a name declared twice within one
// category (or twice across the shared index namespace).
type DuplicateDeclarationError struct {
	Category string
	Name     string
}

func (e *DuplicateDeclarationError) Error() string {
	return fmt.Sprintf("duplicate %s %q", e.Category, e.Name)
}

// Is matches ErrDuplicateDeclaration.
func (e *DuplicateDeclarationError) Is(target error) bool { return target == ErrDuplicateDeclaration }

// UnresolvedReferenceError reports a reference to a name that is neither
// live nor scheduled for creation.
type UnresolvedReferenceError struct {
	Referrer string // e.g. `local property index "byTime"`
	Category string // category of the missing target
	Name     string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s refers to non-existing %s %q", e.Referrer, e.Category, e.Name)
}

// Is matches ErrUnresolvedReference.
func (e *UnresolvedReferenceError) Is(target error) bool { return target == ErrUnresolvedReference }

// IndexTransitionError reports an index that did not reach the expected
// status, either because the wait timed out or because the status did not
// move away from its pre-transition value.
type IndexTransitionError struct {
	Index  string
	Key    string // backing property key, empty for local indexes
	Action string
	Status string // status the index is stuck in
	Err    error
}

func (e *IndexTransitionError) Error() string {
	msg := fmt.Sprintf("unable to change index %q", e.Index)
	if e.Key != "" {
		msg += fmt.Sprintf(" state for property %q", e.Key)
	}
	msg += fmt.Sprintf(" using action %s, index is still in state %s", e.Action, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrIndexTransition.
func (e *IndexTransitionError) Is(target error) bool { return target == ErrIndexTransition }

func (e *IndexTransitionError) Unwrap() error { return e.Err }

// BackendError wraps a low-level store failure.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

// Is matches ErrBackend.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

func (e *BackendError) Unwrap() error { return e.Err }

// Backend wraps err as a BackendError for op. A nil err stays nil and an
// error that already carries a schemaerr kind is returned unchanged.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKnown(err) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

// IsKnown reports whether err already belongs to the taxonomy.
func IsKnown(err error) bool {
	for _, kind := range []error{ErrValidation, ErrDrift, ErrDuplicateDeclaration,
		ErrUnresolvedReference, ErrIndexTransition, ErrBackend} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

package federation

import "fmt"

// InvalidInputError signals a malformed peer_id, URL, or out-of-range field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// NotFoundError signals an unknown peer_id in a CRUD or sync operation.
type NotFoundError struct {
	PeerID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("peer %q not found", e.PeerID)
}

// AlreadyExistsError signals a duplicate peer_id on add_peer.
type AlreadyExistsError struct {
	PeerID string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("peer %q already exists", e.PeerID)
}

// InvalidStateError signals an operation that cannot proceed given the
// target's current state (e.g. syncing a disabled peer).
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: %s", e.Reason)
}

// RecordNotFoundError signals an unknown record path passed to
// set_local_override or similar record-level operations.
type RecordNotFoundError struct {
	Path string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record %q not found", e.Path)
}

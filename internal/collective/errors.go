package collective

import "errors"

// Common errors.
//
// ErrInvalidArgument is local to the failing call: it is returned before the call takes a
// sequence number, so the group stays usable. Every other error is fatal to the whole
// group. Once one is observed the group is broken, and every later collective on any rank
// fails with ErrGroupBroken until the job is restarted.
var (
	ErrInvalidArgument = errors.New("invalid collective argument")
	ErrDesynchronized  = errors.New("collective desynchronized: ranks issued different operations at the same sequence number")
	ErrTimeout         = errors.New("collective timed out waiting for peers")
	ErrCanceled        = errors.New("collective canceled")
	ErrGroupBroken     = errors.New("process group is broken and must be restarted")
)

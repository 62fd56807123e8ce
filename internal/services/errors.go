package services

import "errors"

var (
	// ErrInvalidRecipients is returned when a recipient id is malformed or
	// does not resolve to an existing user.
	ErrInvalidRecipients = errors.New("invalid recipients")

	// ErrInvalidSender is returned when the sender id is malformed or unknown.
	ErrInvalidSender = errors.New("invalid sender")

	// ErrDuplicateNick is returned when the requested nick is already taken.
	ErrDuplicateNick = errors.New("nick already exists")

	// ErrMessageCreateFailed is returned when the message row could not be written.
	ErrMessageCreateFailed = errors.New("message create failed")

	// ErrRecipientAssignmentFailed is returned when the recipient links could
	// not be written after the message row was. The message row is removed
	// again before this error is returned, unless that removal also fails.
	ErrRecipientAssignmentFailed = errors.New("recipient assignment failed")

	// ErrCascadeDeleteFailed is returned when one step of a user deletion
	// fails. Earlier steps are not rolled back.
	ErrCascadeDeleteFailed = errors.New("cascade delete failed")

	// ErrStorage wraps any other failure reported by a repository.
	ErrStorage = errors.New("storage failure")
)

package invbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// IssueState is the current step of a record issuance pipeline. Every
// creation command moves linearly through these states, and may move
// to IssueStateFailed from any of them.
type IssueState string

const (
	IssueStateReceived   IssueState = "received"
	IssueStateValidated  IssueState = "validated"
	IssueStateAuthorized IssueState = "authorized"

	// IssueStateNumbered and IssueStatePersisted are a single atomic
	// step from the pipeline's point of view: the store assigns the
	// sequence number in the same transaction that inserts the record.
	IssueStateNumbered  IssueState = "numbered"
	IssueStatePersisted IssueState = "persisted"

	IssueStateRendered  IssueState = "rendered"
	IssueStateResponded IssueState = "responded"
	IssueStateFailed    IssueState = "failed"
)

var (
	// ErrPermissionDenied indicates the caller doesn't hold the
	// capability required for the operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the requested record doesn't exist.
	ErrNotFound = errors.New("record not found")

	// ErrStorageUnavailable indicates the backing store rejected or
	// failed an operation. Nothing was written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageTimeout indicates a store operation exceeded its
	// deadline.
	ErrStorageTimeout = errors.New("storage timeout")

	// ErrRateLimited indicates the user exceeded the creation command
	// rate limit.
	ErrRateLimited = errors.New("rate limited")
)

// ValidationError indicates structurally invalid command input. It is
// reported to the caller before any side effects occur.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RenderError indicates rendering failed after the record was
// durably persisted. The record is not rolled back - it remains
// retrievable via the list commands.
type RenderError struct {
	SequenceNumber string
	Err            error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %s failed: %v", e.SequenceNumber, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err)
}

// issuePipeline tracks the state of a single record issuance for
// logging. There is no shared state between pipelines - each incoming
// interaction gets its own.
type issuePipeline struct {
	kind   RecordKind
	state  IssueState
	logger *slog.Logger
}

func newIssuePipeline(kind RecordKind, logger *slog.Logger) *issuePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &issuePipeline{
		kind:   kind,
		state:  IssueStateReceived,
		logger: logger.With("kind", kind.String()),
	}
	p.logger.Debug("pipeline started", "state", string(p.state))
	return p
}

func (p *issuePipeline) advance(next IssueState) {
	p.logger.Debug(
		"pipeline state change",
		"from", string(p.state),
		"to", string(next),
	)
	p.state = next
}

func (p *issuePipeline) fail(reason error) error {
	p.logger.Warn(
		"pipeline failed",
		"state", string(p.state),
		"reason", reason.Error(),
	)
	p.state = IssueStateFailed
	return reason
}

// userMessage maps a pipeline failure to the message shown to the
// caller. Every failure path yields a caller-visible message.
func userMessage(err error) string {
	var validationErr *ValidationError
	var renderErr *RenderError
	switch {
	case errors.As(err, &validationErr):
		return fmt.Sprintf("Invalid input - %s", validationErr.Error())
	case errors.Is(err, ErrPermissionDenied):
		return "You don't have permission to do that."
	case errors.Is(err, ErrNotFound):
		return "That record no longer exists."
	case errors.Is(err, ErrRateLimited):
		return "You're issuing records too quickly - try again in a minute."
	case errors.Is(err, ErrStorageTimeout):
		return "The record store timed out. Nothing was saved - please try again."
	case errors.Is(err, ErrStorageUnavailable):
		return "The record store is unavailable. Nothing was saved - please try again."
	case errors.As(err, &renderErr):
		return fmt.Sprintf(
			"Record `%s` was saved, but the PDF could not be generated. "+
				"Use the list commands to re-render it later.",
			renderErr.SequenceNumber,
		)
	default:
		return "Sorry, something went wrong!"
	}
}

package analysis

import (
	"errors"
	"fmt"
	"time"
)

// State is a step in the analysis lifecycle.
type State int

const (
	Idle State = iota
	FileSelected
	Submitting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FileSelected:
		return "file-selected"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends an operation.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Document is a user-chosen payload held in memory until it is replaced or
// the controller is reset. It is never written anywhere.
type Document struct {
	Name  string
	Size  int64
	Data  []byte
	Pages int // 0 when unknown
}

// Result is the structured payload of a successful analysis.
type Result struct {
	Analysis map[string]any
	Filename string
}

// Kind classifies a failed operation.
type Kind string

const (
	// NetworkFailure means no response was obtained.
	NetworkFailure Kind = "network_failure"
	// MalformedResponse means a response arrived but could not be interpreted.
	MalformedResponse Kind = "malformed_response"
	// ApplicationError is a well-formed rejection from the service.
	ApplicationError Kind = "application_error"
	// ExportFailed means the export call did not yield a usable artifact.
	ExportFailed Kind = "export_failed"
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network failure"
	case MalformedResponse:
		return "malformed response"
	case ApplicationError:
		return "application error"
	case ExportFailed:
		return "export failed"
	default:
		return string(k)
	}
}

// Failure describes why an operation ended in the Failed state. Message is
// meant for the end user.
type Failure struct {
	Kind    Kind
	Message string
	Status  int // HTTP status when a response was received
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// KindOf extracts the failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind, true
	}
	var kinded interface{ Kind() Kind }
	if errors.As(err, &kinded) {
		return kinded.Kind(), true
	}
	return "", false
}

var (
	// ErrBusy is returned when an operation would disturb an in-flight submission.
	ErrBusy = errors.New("analysis: a submission is in flight")
	// ErrNoDocument is returned by Submit when nothing has been selected.
	ErrNoDocument = errors.New("analysis: no document selected")
	// ErrNotReady is returned by Submit from a terminal state; select a document again to retry.
	ErrNotReady = errors.New("analysis: select a document before submitting again")
	// ErrSuperseded is returned by Submit when its result arrived after the
	// controller had moved on and was discarded.
	ErrSuperseded = errors.New("analysis: request was superseded")
)

// Snapshot is an immutable view of the controller. In a terminal state exactly
// one of Result and Failure is set; otherwise both are nil.
type Snapshot struct {
	State       State
	Document    *Document
	Result      *Result
	Failure     *Failure
	RequestID   string
	SubmittedAt time.Time
}

// HasDocument reports whether a document is held.
func (s Snapshot) HasDocument() bool {
	return s.Document != nil
}

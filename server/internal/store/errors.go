package store

import "errors"

// Reason identifies why an admission was rejected.
type Reason int

const (
	DuplicateID Reason = iota + 1
	PriorityOutOfRange
	TimestampNotIncreasing
)

// Sentinel errors matched by AdmissionError.Is.
var (
	ErrDuplicateID            = errors.New("Message ID already exists")
	ErrPriorityOutOfRange     = errors.New("Priority must be between 1 and 100")
	ErrTimestampNotIncreasing = errors.New("Timestamp must be strictly increasing")
)

// Reasons lists every rejection reason in a stable order.
var Reasons = []Reason{DuplicateID, PriorityOutOfRange, TimestampNotIncreasing}

func (r Reason) sentinel() error {
	switch r {
	case DuplicateID:
		return ErrDuplicateID
	case PriorityOutOfRange:
		return ErrPriorityOutOfRange
	case TimestampNotIncreasing:
		return ErrTimestampNotIncreasing
	default:
		return nil
	}
}

// String returns the reason as a snake_case label, suitable for metrics.
func (r Reason) String() string {
	switch r {
	case DuplicateID:
		return "duplicate_id"
	case PriorityOutOfRange:
		return "priority_out_of_range"
	case TimestampNotIncreasing:
		return "timestamp_not_increasing"
	default:
		return "unknown"
	}
}

// AdmissionError is returned by Admit when a message violates an admission
// rule. The store is left untouched.
type AdmissionError struct {
	ID     string
	Reason Reason
}

// Error returns the caller-facing reason text.
func (e *AdmissionError) Error() string {
	if err := e.Reason.sentinel(); err != nil {
		return err.Error()
	}
	return "admission rejected"
}

// Is reports whether target is the sentinel for e's reason.
func (e *AdmissionError) Is(target error) bool {
	s := e.Reason.sentinel()
	return s != nil && target == s
}

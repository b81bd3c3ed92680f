package api

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/obsidianstack/prioritymq/server/internal/store"
)

// AddRequest is the body of POST /add. Pointer fields let the handler tell
// a missing field from a zero value.
type AddRequest struct {
	ID        *string `json:"id"`
	Priority  *Priority `json:"priority"`
	Timestamp *int64    `json:"timestamp"`
}

// Priority is a JSON integer priority of any magnitude. Integers beyond the
// accepted range saturate one step past it, so the store still rejects them
// as out of range instead of the decoder failing on overflow.
type Priority int

// UnmarshalJSON accepts integer literals, including exponent forms such as
// 1e21. Fractions and non-numbers are errors.
func (p *Priority) UnmarshalJSON(b []byte) error {
	s := string(b)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*p = clampPriority(float64(v))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("priority %s is not a number", s)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("priority %s is not an integer", s)
	}
	*p = clampPriority(f)
	return nil
}

func clampPriority(f float64) Priority {
	switch {
	case f > store.MaxPriority:
		return store.MaxPriority + 1
	case f < store.MinPriority:
		return store.MinPriority - 1
	default:
		return Priority(f)
	}
}

// AddResponse is the success payload for POST /add.
type AddResponse struct {
	Message string `json:"message"`
}

// PopResponse is the payload for GET /pop. ID is null when the queue is empty.
type PopResponse struct {
	ID *string `json:"id"`
}

// FindResponse is the payload for GET /find/{id}.
type FindResponse struct {
	Priority  int   `json:"priority"`
	Timestamp int64 `json:"timestamp"`
}

// HealthResponse is the payload for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Depth  int    `json:"depth"`
}

// QueueResponse is the ordered view of the live queue pushed by the stream hub.
type QueueResponse struct {
	IDs         []string `json:"ids"`
	Depth       int      `json:"depth"`
	GeneratedAt string   `json:"generated_at"` // RFC3339
}

// Lister is the part of the store needed to build a QueueResponse.
type Lister interface {
	ListAll() []string
}

// BuildQueue renders the current live queue, highest priority first.
func BuildQueue(l Lister) QueueResponse {
	ids := l.ListAll()
	return QueueResponse{
		IDs:         ids,
		Depth:       len(ids),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

package dispatch

import (
	"time"

	"github.com/skeops/diwatch/internal/status"
)

// Result classifies a single member's enqueue attempt.
type Result string

const (
	ResultOK      Result = "ok"
	ResultError   Result = "error"
	ResultTimeout Result = "timeout"
)

// Outcome is one member's result within a cycle. Outcomes are an unordered
// set: they are recorded in completion order, not submission order.
type Outcome struct {
	Member   string        `json:"member"`
	Result   Result        `json:"result"`
	AckID    string        `json:"ack_id,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Cycle is the aggregate record of one dispatch cycle: one enqueue attempt
// per fleet member present in that cycle's fleet read, or a skip with a
// reason. Cycles exist for logs and the journal only; nothing is retried
// from them.
type Cycle struct {
	ID         string       `json:"id"`
	Trigger    string       `json:"trigger"`
	Token      status.Token `json:"status"`
	Members    int          `json:"members"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    bool         `json:"skipped"`
	Reason     string       `json:"reason,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcomes   []Outcome    `json:"outcomes,omitempty"`
}

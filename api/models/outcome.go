package models

import (
	"fmt"
	"time"
)

// TerminationReason explains a deliberate worker stop.
type TerminationReason string

const (
	ReasonShutdown         TerminationReason = "shutdown"
	ReasonDeadlineExceeded TerminationReason = "deadline_exceeded"
	ReasonWallClockLimit   TerminationReason = "wall_clock_limit"
	ReasonServiceChanged   TerminationReason = "service_changed"
)

// Outcome is the single terminal classification of why a worker's execution
// ended. Exactly one Outcome is produced per worker, exactly once, and it is
// immutable once produced. The set of implementations is closed.
type Outcome interface {
	fmt.Stringer
	outcome()
}

// BootFailure means the worker never reached a runnable state.
type BootFailure struct {
	Msg string `json:"msg"`
}

// UncaughtException means the execution engine exited abnormally with an
// unhandled error. CPUTimeUsed is filled in post hoc from resource
// accounting, zero if unavailable at classification time.
type UncaughtException struct {
	Msg         string        `json:"msg"`
	CPUTimeUsed time.Duration `json:"cpu_time_used"`
}

// Completed means the execution engine's internal loop drained normally.
type Completed struct{}

// Terminated means the supervisor or an external authority forcibly stopped
// the worker.
type Terminated struct {
	Reason TerminationReason `json:"reason"`
}

func (BootFailure) outcome()       {}
func (UncaughtException) outcome() {}
func (Completed) outcome()         {}
func (Terminated) outcome()        {}

func (o BootFailure) String() string { return "boot_failure: " + o.Msg }
func (o UncaughtException) String() string {
	return fmt.Sprintf("uncaught_exception: %s (cpu=%s)", o.Msg, o.CPUTimeUsed)
}
func (Completed) String() string    { return "completed" }
func (o Terminated) String() string { return "terminated: " + string(o.Reason) }

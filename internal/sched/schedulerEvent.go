// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of scheduler event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusReady
	StatusDispatch
	StatusOust
	StatusBlock
	StatusTick
	StatusPriorityUpdate
)

// StatusEvent is emitted on every queue transition and context switch
type StatusEvent struct {
	Time     time.Time
	Uptime   uint64 // ticks seen by the scheduler
	Kind     StatusKind
	TaskID   TaskID
	Task     string
	Priority int
	Switches uint64
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusReady:
		return "Ready"
	case StatusDispatch:
		return "Dispatch"
	case StatusOust:
		return "Oust"
	case StatusBlock:
		return "Block"
	case StatusTick:
		return "Tick"
	case StatusPriorityUpdate:
		return "Priority"
	default:
		return "Unknown"
	}
}

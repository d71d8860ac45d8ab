package transport

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
)

type EventKind int

const (
	Sent EventKind = iota
	Received
	Acked
	Retransmitted
	Dropped
	Completed
)

var eventNames = [...]string{
	"sent",
	"received",
	"acked",
	"retransmitted",
	"dropped",
	"completed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}

	return fmt.Sprintf("EventKind(%d)", int(k))
}

type Event struct {
	Kind     EventKind
	Role     string
	Transfer uuid.UUID
	Method   byte
	Seq      uint64
}

// Receives engine events. Purely observational: nothing an observer does
// feeds back into protocol state.
type Observer interface {
	Observe(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

//
// Writes events as JSON lines through a leveled logger
//
type LogObserver struct {
	Log *log.Logger
}

func NewLogObserver(logger *log.Logger) *LogObserver {
	return &LogObserver{logger}
}

func (lo *LogObserver) Observe(ev Event) {
	entry := log.JSON{
		"event":    ev.Kind.String(),
		"role":     ev.Role,
		"transfer": ev.Transfer.String(),
		"packet":   (&Packet{Method: ev.Method}).Kind(),
		"seq":      ev.Seq,
	}

	switch ev.Kind {
	case Retransmitted, Dropped:
		lo.Log.Warnj(entry)
	case Completed:
		lo.Log.Infoj(entry)
	default:
		lo.Log.Debugj(entry)
	}
}

package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"arq/pkg/netio"
)

const (
	RoleSender   = "SENDER"
	RoleReceiver = "RECEIVER"
)

type Status int

const (
	InProgress Status = iota
	Complete
	Aborted
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in-progress"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result of one run of an engine, from first byte to END
type Transfer struct {
	Id     uuid.UUID
	Role   string
	Mode   Mode
	Status Status

	// DATA packets of the transfer (sender) or delivered to the output
	// (receiver), and their payload bytes
	Frames uint64
	Bytes  uint64

	// Packets handed to the link, first transmissions and ACKs
	Sent          uint64
	Retransmitted uint64
	Acked         uint64
	Dropped       uint64

	Started  time.Time
	Finished time.Time
}

func NewTransfer(role string, mode Mode) Transfer {
	return Transfer{
		Id:      uuid.New(),
		Role:    role,
		Mode:    mode,
		Status:  InProgress,
		Started: time.Now(),
	}
}

func (t *Transfer) finish(status Status) {
	t.Status = status
	t.Finished = time.Now()
}

func (t *Transfer) Elapsed() time.Duration {
	if t.Finished.IsZero() {
		return time.Since(t.Started)
	}

	return t.Finished.Sub(t.Started)
}

func (t Transfer) String() string {
	return fmt.Sprintf(
		"%s %s transfer %s %s: frames=%d bytes=%d sent=%d retx=%d acked=%d dropped=%d in %v",
		t.Mode,
		strings.ToLower(t.Role),
		t.Id,
		t.Status,
		t.Frames,
		t.Bytes,
		t.Sent,
		t.Retransmitted,
		t.Acked,
		t.Dropped,
		t.Elapsed().Round(time.Millisecond),
	)
}

//
// Cooperative cancellation of an engine loop. The loop checks the context
// between receive attempts.
//
type Canceller struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCanceller(parent context.Context) *Canceller {
	ctx, cancel := context.WithCancel(parent)
	return &Canceller{ctx, cancel}
}

func (c *Canceller) Context() context.Context {
	return c.ctx
}

func (c *Canceller) RequestStop() {
	c.cancel()
}

func (c *Canceller) Stopped() bool {
	return c.ctx.Err() != nil
}

// Block reading lines from r until one of q, quit or exit arrives (then
// request a stop), r is exhausted, or the context is done.
func (c *Canceller) ListenQuit(r io.Reader) {
	lines := make(chan string, 16)
	go netio.ReadLinesAsChannel(c.ctx, r, lines)

	for {
		select {
		case <-c.ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}

			switch strings.ToLower(strings.TrimSpace(line)) {
			case "q", "quit", "exit":
				c.RequestStop()
				return
			}
		}
	}
}

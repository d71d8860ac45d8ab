package transport

import (
	"fmt"
	"strings"
	"time"
)

type Mode int

const (
	GoBackN Mode = iota
	SelectiveRepeat
)

func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gbn", "go-back-n":
		return GoBackN, nil
	case "sr", "selective-repeat":
		return SelectiveRepeat, nil
	default:
		return GoBackN, fmt.Errorf("unknown ARQ mode %q, want gbn or sr", name)
	}
}

func (m Mode) String() string {
	switch m {
	case GoBackN:
		return "gbn"
	case SelectiveRepeat:
		return "sr"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) IsValid() bool {
	return m == GoBackN || m == SelectiveRepeat
}

// Discipline specific rules, picked once per engine
type discipline interface {
	// Apply an ACK to the sender's window, true if it changed anything
	acknowledge(sp *SendPacer, ack uint64) bool

	// Packets to send again after an await; timedOut tells whether the
	// await ended without an ACK
	retransmit(
		sp *SendPacer,
		now time.Time,
		timeout time.Duration,
		timedOut bool,
	) []Packet

	// Offer a DATA packet to the receiver's window. Returns the sequence to
	// acknowledge and whether the packet was kept.
	accept(rp *RecvPacer, pkt Packet) (uint64, bool)
}

func newDiscipline(mode Mode) discipline {
	if mode == SelectiveRepeat {
		return selectiveRepeat{}
	}

	return goBackN{}
}

//
// Go-Back-N: cumulative ACKs, whole window resent on timeout
//
type goBackN struct{}

func (goBackN) acknowledge(sp *SendPacer, ack uint64) bool {
	return sp.Cumulative(ack)
}

func (goBackN) retransmit(
	sp *SendPacer,
	now time.Time,
	timeout time.Duration,
	timedOut bool,
) []Packet {
	if !timedOut {
		return nil
	}

	return sp.Outstanding(now)
}

func (goBackN) accept(rp *RecvPacer, pkt Packet) (uint64, bool) {
	return rp.InOrder(pkt)
}

//
// Selective-Repeat: per-packet ACKs and timers, receiver reorders
//
type selectiveRepeat struct{}

func (selectiveRepeat) acknowledge(sp *SendPacer, ack uint64) bool {
	return sp.Selective(ack)
}

func (selectiveRepeat) retransmit(
	sp *SendPacer,
	now time.Time,
	timeout time.Duration,
	timedOut bool,
) []Packet {
	return sp.Expired(now, timeout)
}

func (selectiveRepeat) accept(rp *RecvPacer, pkt Packet) (uint64, bool) {
	// Out of window packets are still acknowledged so the sender's timer
	// for them stops firing
	return pkt.Seq, rp.Buffer(pkt)
}

package transport

import (
	"container/heap"
	"time"

	"github.com/google/btree"
)

//
// A very basic mini heap, used by the sender's pacer to track the sequences
// acknowledged ahead of the window base
//
type SeqHeap []uint64

func (h SeqHeap) Len() int           { return len(h) }
func (h SeqHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h SeqHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *SeqHeap) Push(x any) {
	*h = append(*h, x.(uint64))
}

func (h *SeqHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

//
// Sender's pacer. Invariant: Base <= Next <= Base + wnd.
//
type SendPacer struct {
	Base    uint64
	Next    uint64
	wnd     uint64
	packets []Packet
	acks    SeqHeap
	acked   map[uint64]bool
	sent    map[uint64]time.Time
}

// packets is the output of Fragment; the END marker, if present, is not
// paced.
func NewSendPacer(packets []Packet, wnd uint64) SendPacer {
	data := make([]Packet, 0, len(packets))
	for _, pkt := range packets {
		if pkt.Method == DATA {
			data = append(data, pkt)
		}
	}

	return SendPacer{
		0,
		0,
		max(wnd, 1),
		data,
		SeqHeap{},
		make(map[uint64]bool),
		make(map[uint64]time.Time),
	}
}

func (sp *SendPacer) Total() uint64 {
	return uint64(len(sp.packets))
}

func (sp *SendPacer) Window() uint64 {
	return sp.wnd
}

// Take the next packet allowed by the window, stamping its send time
func (sp *SendPacer) Pop(now time.Time) (Packet, bool) {
	// Return if exceed window size or nothing left to send
	if sp.Next >= sp.Base+sp.wnd || sp.Next >= sp.Total() {
		return Packet{}, false
	}

	packet := sp.packets[sp.Next]
	sp.sent[sp.Next] = now
	sp.Next += 1

	return packet, true
}

// Cumulative acknowledgment: everything up to and including ack is
// confirmed. Returns true when the base moved.
func (sp *SendPacer) Cumulative(ack uint64) bool {
	// Stale, or for a packet never sent
	if ack < sp.Base || ack >= sp.Next {
		return false
	}

	for seq := sp.Base; seq <= ack; seq++ {
		delete(sp.sent, seq)
	}
	sp.Base = ack + 1

	return true
}

// Per-packet acknowledgment. Returns true when ack was not seen before.
func (sp *SendPacer) Selective(ack uint64) bool {
	if ack < sp.Base || ack >= sp.Next || sp.acked[ack] {
		return false
	}

	sp.acked[ack] = true
	delete(sp.sent, ack)

	// Start track the ACKs along with the previously received ACKs
	heap.Push(&sp.acks, ack)

	// Remove all the consecutive ACKs (slide window forward)
	for len(sp.acks) > 0 && sp.acks[0] == sp.Base {
		heap.Pop(&sp.acks)
		delete(sp.acked, sp.Base)
		sp.Base += 1
	}

	return true
}

func (sp *SendPacer) IsAcked(seq uint64) bool {
	return seq < sp.Base || sp.acked[seq]
}

// Every packet in [Base, Next), restamped as sent at now
func (sp *SendPacer) Outstanding(now time.Time) []Packet {
	packets := []Packet{}

	for seq := sp.Base; seq < sp.Next; seq++ {
		sp.sent[seq] = now
		packets = append(packets, sp.packets[seq])
	}

	return packets
}

// Unacknowledged packets in [Base, Next) sent at least timeout ago,
// restamped as sent at now
func (sp *SendPacer) Expired(now time.Time, timeout time.Duration) []Packet {
	packets := []Packet{}

	for seq := sp.Base; seq < sp.Next; seq++ {
		if sp.acked[seq] {
			continue
		}

		if now.Sub(sp.sent[seq]) < timeout {
			continue
		}

		sp.sent[seq] = now
		packets = append(packets, sp.packets[seq])
	}

	return packets
}

func (sp *SendPacer) IsDone() bool {
	return sp.Base >= sp.Total()
}

func (sp *SendPacer) Done() Packet {
	return NewEndPacket(sp.Total())
}

//
// Receiver's pacer
//
type RecvPacer struct {
	Expected uint64
	wnd      uint64
	buffer   *btree.BTreeG[Packet]
	ready    []Packet
}

func bySeq(a, b Packet) bool {
	return a.Seq < b.Seq
}

func NewRecvPacer(wnd uint64) RecvPacer {
	return RecvPacer{
		0,
		max(wnd, 1),
		btree.NewG(8, bySeq),
		[]Packet{},
	}
}

// Strict in-order acceptance. Returns the sequence to acknowledge and
// whether pkt was accepted.
func (rp *RecvPacer) InOrder(pkt Packet) (uint64, bool) {
	if pkt.Seq != rp.Expected {
		// Re-confirm the last in-order packet, 0 when nothing arrived yet
		if rp.Expected == 0 {
			return 0, false
		}
		return rp.Expected - 1, false
	}

	rp.ready = append(rp.ready, pkt)
	rp.Expected += 1

	return pkt.Seq, true
}

func (rp *RecvPacer) InWindow(seq uint64) bool {
	return seq >= rp.Expected && seq < rp.Expected+rp.wnd
}

// Buffer an in-window packet and move the consecutive run starting at
// Expected to the ready list. Returns false when pkt is outside the window.
func (rp *RecvPacer) Buffer(pkt Packet) bool {
	if !rp.InWindow(pkt.Seq) {
		return false
	}

	// Keep the first copy of a duplicate
	if !rp.buffer.Has(pkt) {
		rp.buffer.ReplaceOrInsert(pkt)
	}

	for {
		head, ok := rp.buffer.Min()
		if !ok || head.Seq != rp.Expected {
			break
		}

		rp.buffer.DeleteMin()
		rp.ready = append(rp.ready, head)
		rp.Expected += 1
	}

	return true
}

func (rp *RecvPacer) IsBuffered(seq uint64) bool {
	return rp.buffer.Has(Packet{Seq: seq})
}

func (rp *RecvPacer) Buffered() int {
	return rp.buffer.Len()
}

// Drain the packets ready for the output stream, in sequence order
func (rp *RecvPacer) Fetch() []Packet {
	ready := rp.ready
	rp.ready = []Packet{}

	return ready
}

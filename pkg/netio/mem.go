package netio

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type memDatagram struct {
	data []byte
	from net.Addr
}

//
// In-memory datagram endpoint. Sends never block: a full inbox drops the
// datagram, the way a real socket buffer would.
//
type MemConn struct {
	addr  memAddr
	peer  *MemConn
	inbox chan memDatagram
	done  chan struct{}
	once  sync.Once
}

var pipeCounter atomic.Uint64

// Create two connected in-memory endpoints
func NewPipe() (*MemConn, *MemConn) {
	id := pipeCounter.Add(1)

	a := &MemConn{
		addr:  memAddr(fmt.Sprintf("mem-%d-a", id)),
		inbox: make(chan memDatagram, 65535),
		done:  make(chan struct{}),
	}
	b := &MemConn{
		addr:  memAddr(fmt.Sprintf("mem-%d-b", id)),
		inbox: make(chan memDatagram, 65535),
		done:  make(chan struct{}),
	}

	a.peer, b.peer = b, a

	return a, b
}

func (mc *MemConn) SendTo(data []byte, addr net.Addr) error {
	select {
	case <-mc.done:
		return ErrClosed
	default:
	}

	// Nobody listens on any other address
	if addr == nil || addr.String() != mc.peer.addr.String() {
		return nil
	}

	// Needs to deep copy, callers reuse their buffers
	dgram := memDatagram{append([]byte(nil), data...), mc.addr}

	select {
	case <-mc.peer.done:
	case mc.peer.inbox <- dgram:
	default:
	}

	return nil
}

func (mc *MemConn) ReceiveWithTimeout(
	timeout time.Duration,
) ([]byte, net.Addr, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case dgram := <-mc.inbox:
		return dgram.data, dgram.from, nil
	case <-mc.done:
		return nil, nil, ErrClosed
	case <-timer.C:
		return nil, nil, ErrTimeout
	}
}

func (mc *MemConn) LocalAddr() net.Addr {
	return mc.addr
}

func (mc *MemConn) Close() error {
	mc.once.Do(func() { close(mc.done) })
	return nil
}

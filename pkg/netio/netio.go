package netio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Returned by ReceiveWithTimeout when nothing arrived before the deadline
var ErrTimeout = errors.New("netio: receive timeout")

// Returned when using a connection after Close
var ErrClosed = errors.New("netio: use of closed connection")

// The datagram boundary consumed by both engines
type Conn interface {
	SendTo(data []byte, addr net.Addr) error
	ReceiveWithTimeout(timeout time.Duration) ([]byte, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}

type Options struct {
	// SO_RCVBUF in bytes, 0 keeps the system default
	ReadBuffer int
}

// Generic function that write all data over TCP/UDP
func writeAll(writeFunc func([]byte) (int, error), data []byte) error {
	written := 0
	stop := len(data)

	for written < stop {
		n, err := writeFunc(data[written:])

		if err != nil {
			return err
		}

		written += n
	}

	return nil
}

// Write all the data to the given UDP addr
func WriteUDPAddr(conn *net.UDPConn, addr *net.UDPAddr, data []byte) error {
	writeFunc := func(b []byte) (int, error) {
		return conn.WriteToUDP(b, addr)
	}

	return writeAll(writeFunc, data)
}

//
// UDP implementation of Conn
//
type UDPConn struct {
	conn *net.UDPConn
	buf  []byte
}

// Bind a UDP socket on the given local address ("host:port", port 0 allowed)
func Bind(address string, opts Options) (*UDPConn, error) {
	lc := net.ListenConfig{Control: control(opts)}

	pc, err := lc.ListenPacket(context.Background(), "udp", address)
	if err != nil {
		return nil, fmt.Errorf("can't bind UDP %s: %w", address, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("can't bind UDP %s: not a UDP socket", address)
	}

	return &UDPConn{conn, make([]byte, 65535)}, nil
}

func (uc *UDPConn) SendTo(data []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return fmt.Errorf("can't resolve UDP address %q: %w", addr, err)
		}
		udpAddr = resolved
	}

	return WriteUDPAddr(uc.conn, udpAddr, data)
}

func (uc *UDPConn) ReceiveWithTimeout(
	timeout time.Duration,
) ([]byte, net.Addr, error) {
	if err := uc.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}

	n, raddr, err := uc.conn.ReadFromUDP(uc.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil, ErrTimeout
		}

		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}

		return nil, nil, err
	}

	// Needs to deep copy, the read buffer is reused
	data := make([]byte, 0, n)
	data = append(data, uc.buf[:n]...)

	return data, raddr, nil
}

func (uc *UDPConn) LocalAddr() net.Addr {
	return uc.conn.LocalAddr()
}

func (uc *UDPConn) Close() error {
	return uc.conn.Close()
}

// Channelize line-oriented input (e.g. stdin). Closes ch when r is exhausted
// or ctx is done.
func ReadLinesAsChannel(
	ctx context.Context,
	r io.Reader,
	ch chan<- string,
) error {
	defer close(ch)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		// Send line, which will block. Allow cancellation happen
		select {
		case <-ctx.Done():
			return nil
		case ch <- scanner.Text():
		}
	}

	return scanner.Err()
}

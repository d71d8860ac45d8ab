package lossy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"arq/pkg/netio"
)

type Options struct {
	Loss  float64
	Delay time.Duration
	Rules []string

	// Non-zero seed makes the random draws reproducible
	Seed uint64

	// Called for every unit the link discards
	OnDrop func(Unit)
}

//
// Unreliable link on top of a datagram transport. Transmit is meant to be
// called from a single engine loop; delayed sends run on timers.
//
type Link struct {
	conn    netio.Conn
	policy  Policy
	delay   time.Duration
	onDrop  func(Unit)
	counts  map[string]int
	dropped uint64
	pending sync.WaitGroup

	mu      sync.Mutex
	lastErr error
}

func NewLink(conn netio.Conn, opts Options) (*Link, error) {
	if opts.Delay < 0 {
		return nil, fmt.Errorf("negative link delay %v", opts.Delay)
	}

	seed1, seed2 := opts.Seed, opts.Seed^0x9e3779b97f4a7c15
	if opts.Seed == 0 {
		seed1, seed2 = rand.Uint64(), rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed1, seed2))

	policy, err := BuildPolicy(opts.Loss, opts.Rules, rng)
	if err != nil {
		return nil, err
	}

	onDrop := opts.OnDrop
	if onDrop == nil {
		onDrop = func(Unit) {}
	}

	return &Link{
		conn:   conn,
		policy: policy,
		delay:  opts.Delay,
		onDrop: onDrop,
		counts: make(map[string]int),
	}, nil
}

// Send a unit through the simulator. Returns false when the unit was
// dropped; a drop is never an error.
func (l *Link) Transmit(unit Unit, to net.Addr) (bool, error) {
	key := fmt.Sprintf("%s-%d", unit.Kind, unit.Seq)
	l.counts[key] += 1

	if l.policy.Drop(unit, l.counts[key]) {
		l.dropped += 1
		l.onDrop(unit)
		return false, nil
	}

	if l.delay <= 0 {
		return true, l.conn.SendTo(unit.Data, to)
	}

	data := append([]byte(nil), unit.Data...)
	l.pending.Add(1)

	time.AfterFunc(l.delay, func() {
		defer l.pending.Done()

		err := l.conn.SendTo(data, to)
		if err != nil && !errors.Is(err, netio.ErrClosed) {
			l.mu.Lock()
			l.lastErr = err
			l.mu.Unlock()
		}
	})

	return true, nil
}

// Send bypassing loss and delay
func (l *Link) Direct(data []byte, to net.Addr) error {
	return l.conn.SendTo(data, to)
}

// Wait for delayed sends still in flight, returns the last error among them
func (l *Link) Flush() error {
	l.pending.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.lastErr
}

func (l *Link) Dropped() uint64 {
	return l.dropped
}

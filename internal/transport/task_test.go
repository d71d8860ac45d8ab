package transport_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	txp "arq/internal/transport"
	"arq/pkg/netio"
)

type recorder struct {
	mu     sync.Mutex
	events []txp.Event
}

func (r *recorder) Observe(ev txp.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind txp.EventKind, method byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Method == method {
			n += 1
		}
	}
	return n
}

func (r *recorder) seqs(kind txp.EventKind, method byte) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	seqs := []uint64{}
	for _, ev := range r.events {
		if ev.Kind == kind && ev.Method == method {
			seqs = append(seqs, ev.Seq)
		}
	}
	return seqs
}

type pairResult struct {
	sender   txp.Transfer
	receiver txp.Transfer
	serr     error
	rerr     error
	output   []byte
	sevents  *recorder
	revents  *recorder
}

func randomBytes(n int) []byte {
	data := make([]byte, n)
	rand.Read(data)
	return data
}

func senderConfig(mode txp.Mode, wnd uint64) txp.SenderConfig {
	return txp.SenderConfig{
		Mode:    mode,
		Window:  wnd,
		Timeout: 100 * time.Millisecond,
		Linger:  10 * time.Millisecond,
	}
}

func receiverConfig(mode txp.Mode, wnd uint64) txp.ReceiverConfig {
	return txp.ReceiverConfig{
		Mode:   mode,
		Window: wnd,
		Poll:   20 * time.Millisecond,
	}
}

// Run both engines over an in-memory pipe until the receiver sees END
func runPair(
	t *testing.T,
	input []byte,
	scfg txp.SenderConfig,
	rcfg txp.ReceiverConfig,
) pairResult {
	t.Helper()

	a, b := netio.NewPipe()
	defer a.Close()
	defer b.Close()

	packets, err := txp.Fragment(bytes.NewReader(input), txp.MaxPayload)
	if err != nil {
		t.Fatalf("can't fragment input: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	res := pairResult{sevents: &recorder{}, revents: &recorder{}}
	var out bytes.Buffer
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		res.receiver, res.rerr = txp.RecvTask(ctx, b, &out, rcfg, res.revents)
	}()

	res.sender, res.serr = txp.SendTask(ctx, a, b.LocalAddr(), packets, scfg, res.sevents)
	wg.Wait()

	res.output = out.Bytes()
	return res
}

func verifyDelivered(res pairResult, input []byte) error {
	if res.serr != nil {
		return fmt.Errorf("sender failed: %s", res.serr)
	}

	if res.rerr != nil {
		return fmt.Errorf("receiver failed: %s", res.rerr)
	}

	if res.sender.Status != txp.Complete || res.receiver.Status != txp.Complete {
		return fmt.Errorf(
			"want both complete, got sender %v receiver %v",
			res.sender.Status,
			res.receiver.Status,
		)
	}

	if !bytes.Equal(input, res.output) {
		return fmt.Errorf(
			"output differs from input, want %d bytes, got %d",
			len(input),
			len(res.output),
		)
	}

	return nil
}

func TestTransferNoLoss(t *testing.T) {
	for _, mode := range []txp.Mode{txp.GoBackN, txp.SelectiveRepeat} {
		for _, wnd := range []uint64{1, 2, 5, 8} {
			for _, size := range []int{0, 1000, 5000} {
				name := fmt.Sprintf("%v/window-%d/%d-bytes", mode, wnd, size)

				t.Run(name, func(t *testing.T) {
					input := randomBytes(size)
					res := runPair(t, input, senderConfig(mode, wnd), receiverConfig(mode, wnd))

					if err := verifyDelivered(res, input); err != nil {
						t.Fatalf("%s", err)
					}

					frames := uint64((size + txp.MaxPayload - 1) / txp.MaxPayload)
					if res.sender.Frames != frames || res.receiver.Frames != frames {
						t.Fatalf(
							"want %d frames, sender has %d, receiver delivered %d",
							frames,
							res.sender.Frames,
							res.receiver.Frames,
						)
					}
				})
			}
		}
	}
}

func TestTransferEventCounts(t *testing.T) {
	for _, mode := range []txp.Mode{txp.GoBackN, txp.SelectiveRepeat} {
		t.Run(mode.String(), func(t *testing.T) {
			input := randomBytes(1000)

			scfg := senderConfig(mode, 1)
			scfg.Timeout = time.Second
			res := runPair(t, input, scfg, receiverConfig(mode, 1))

			if err := verifyDelivered(res, input); err != nil {
				t.Fatalf("%s", err)
			}

			counts := []struct {
				name string
				got  int
				want int
			}{
				{"sent DATA", res.sevents.count(txp.Sent, txp.DATA), 2},
				{"received ACK", res.sevents.count(txp.Received, txp.ACK), 2},
				{"sent END", res.sevents.count(txp.Sent, txp.END), 1},
				{"retransmitted", res.sevents.count(txp.Retransmitted, txp.DATA), 0},
				{"receiver sent ACK", res.revents.count(txp.Sent, txp.ACK), 2},
				{"receiver completed", res.revents.count(txp.Completed, txp.END), 1},
			}

			for _, c := range counts {
				if c.got != c.want {
					t.Errorf("%s: want %d, got %d", c.name, c.want, c.got)
				}
			}

			if res.sender.Bytes != 1000 || res.receiver.Bytes != 1000 {
				t.Fatalf(
					"want 1000 bytes, sender %d receiver %d",
					res.sender.Bytes,
					res.receiver.Bytes,
				)
			}
		})
	}
}

func TestSelectiveRepeatReordersLostData(t *testing.T) {
	input := randomBytes(4 * txp.MaxPayload)

	scfg := senderConfig(txp.SelectiveRepeat, 4)
	scfg.Timeout = 200 * time.Millisecond
	scfg.Rules = []string{`kind == "DATA" && seq == 0 && count == 1`}

	res := runPair(t, input, scfg, receiverConfig(txp.SelectiveRepeat, 4))

	if err := verifyDelivered(res, input); err != nil {
		t.Fatalf("%s", err)
	}

	if got := res.sevents.seqs(txp.Retransmitted, txp.DATA); len(got) != 1 || got[0] != 0 {
		t.Fatalf("want only DATA-0 retransmitted, got %v", got)
	}

	// 1..3 are buffered until 0 fills the gap
	got := res.revents.seqs(txp.Received, txp.DATA)
	want := []uint64{1, 2, 3, 0}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("want receive order %v, got %v", want, got)
	}

	if res.sender.Dropped != 1 {
		t.Fatalf("want 1 dropped DATA, got %d", res.sender.Dropped)
	}
}

func TestSelectiveRepeatLostAck(t *testing.T) {
	input := randomBytes(4 * txp.MaxPayload)

	scfg := senderConfig(txp.SelectiveRepeat, 4)
	scfg.Timeout = 200 * time.Millisecond

	rcfg := receiverConfig(txp.SelectiveRepeat, 4)
	rcfg.Rules = []string{`kind == "ACK" && seq == 0 && count == 1`}

	res := runPair(t, input, scfg, rcfg)

	if err := verifyDelivered(res, input); err != nil {
		t.Fatalf("%s", err)
	}

	if got := res.sevents.seqs(txp.Retransmitted, txp.DATA); len(got) != 1 || got[0] != 0 {
		t.Fatalf("want only DATA-0 retransmitted, got %v", got)
	}

	if res.receiver.Dropped != 1 {
		t.Fatalf("want 1 dropped ACK, got %d", res.receiver.Dropped)
	}

	// The duplicate is acknowledged but never written twice
	if res.receiver.Frames != 4 || res.revents.count(txp.Received, txp.DATA) != 5 {
		t.Fatalf(
			"want 4 frames out of 5 DATA packets, got %d frames, %d packets",
			res.receiver.Frames,
			res.revents.count(txp.Received, txp.DATA),
		)
	}
}

func TestGoBackNRecoversFromLoss(t *testing.T) {
	cases := []struct {
		name string
		data []string
		acks []string
	}{
		{
			"data",
			[]string{`kind == "DATA" && seq % 3 == 1 && count == 1`},
			nil,
		},
		{
			"acks",
			nil,
			[]string{`kind == "ACK" && seq % 2 == 1 && count == 1`},
		},
		{
			"both",
			[]string{`kind == "DATA" && seq in [2, 7] && count <= 2`},
			[]string{`kind == "ACK" && seq == 9 && count <= 2`},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			input := randomBytes(10*txp.MaxPayload - 100)

			scfg := senderConfig(txp.GoBackN, 4)
			scfg.Timeout = 50 * time.Millisecond
			scfg.Rules = c.data

			rcfg := receiverConfig(txp.GoBackN, 4)
			rcfg.Rules = c.acks

			res := runPair(t, input, scfg, rcfg)

			if err := verifyDelivered(res, input); err != nil {
				t.Fatalf("%s", err)
			}
		})
	}
}

func TestSelectiveRepeatRandomLoss(t *testing.T) {
	for _, delay := range []time.Duration{0, 2 * time.Millisecond} {
		t.Run(fmt.Sprintf("delay-%v", delay), func(t *testing.T) {
			input := randomBytes(20 * txp.MaxPayload)

			scfg := senderConfig(txp.SelectiveRepeat, 5)
			scfg.Timeout = 30 * time.Millisecond
			scfg.Loss = 0.3
			scfg.Delay = delay
			scfg.Seed = 7

			rcfg := receiverConfig(txp.SelectiveRepeat, 5)
			rcfg.AckLoss = 0.2
			rcfg.AckDelay = delay
			rcfg.Seed = 11

			res := runPair(t, input, scfg, rcfg)

			if err := verifyDelivered(res, input); err != nil {
				t.Fatalf("%s", err)
			}

			if res.sender.Dropped == 0 || res.sender.Retransmitted == 0 {
				t.Fatalf(
					"want losses and retransmissions, got dropped %d retx %d",
					res.sender.Dropped,
					res.sender.Retransmitted,
				)
			}
		})
	}
}

func TestRetryBudget(t *testing.T) {
	a, b := netio.NewPipe()
	defer a.Close()
	defer b.Close()

	cfg := senderConfig(txp.GoBackN, 2)
	cfg.Timeout = 10 * time.Millisecond
	cfg.Loss = 1
	cfg.MaxRetransmits = 3

	packets, _ := txp.Fragment(bytes.NewReader(randomBytes(1000)), txp.MaxPayload)
	transfer, err := txp.SendTask(context.Background(), a, b.LocalAddr(), packets, cfg, nil)

	if !errors.Is(err, txp.ErrRetryBudget) {
		t.Fatalf("want ErrRetryBudget, got %v", err)
	}

	if transfer.Status != txp.Aborted || transfer.Retransmitted != 3 {
		t.Fatalf(
			"want aborted after 3 retransmissions, got %v after %d",
			transfer.Status,
			transfer.Retransmitted,
		)
	}

	if transfer.Dropped != 5 {
		t.Fatalf("want every packet dropped, got %d", transfer.Dropped)
	}
}

func TestStopRequest(t *testing.T) {
	a, b := netio.NewPipe()
	defer a.Close()
	defer b.Close()

	stop := func() context.Context {
		canceller := txp.NewCanceller(context.Background())
		time.AfterFunc(50*time.Millisecond, canceller.RequestStop)
		return canceller.Context()
	}

	var out bytes.Buffer
	transfer, err := txp.RecvTask(stop(), b, &out, receiverConfig(txp.GoBackN, 1), nil)
	if !errors.Is(err, txp.ErrStopped) || transfer.Status != txp.Aborted {
		t.Fatalf("want stopped receiver, got %v, %v", transfer.Status, err)
	}

	cfg := senderConfig(txp.SelectiveRepeat, 4)
	cfg.Timeout = 10 * time.Millisecond
	cfg.Loss = 1

	packets, _ := txp.Fragment(bytes.NewReader(randomBytes(3000)), txp.MaxPayload)
	transfer, err = txp.SendTask(stop(), a, b.LocalAddr(), packets, cfg, nil)
	if !errors.Is(err, txp.ErrStopped) || transfer.Status != txp.Aborted {
		t.Fatalf("want stopped sender, got %v, %v", transfer.Status, err)
	}
}

func TestInvalidConfig(t *testing.T) {
	a, b := netio.NewPipe()
	defer a.Close()
	defer b.Close()

	packets, _ := txp.Fragment(bytes.NewReader(randomBytes(100)), txp.MaxPayload)
	valid := senderConfig(txp.GoBackN, 4)

	senders := map[string]func(*txp.SenderConfig){
		"window":  func(cfg *txp.SenderConfig) { cfg.Window = 0 },
		"timeout": func(cfg *txp.SenderConfig) { cfg.Timeout = 0 },
		"loss":    func(cfg *txp.SenderConfig) { cfg.Loss = 1.5 },
		"neg":     func(cfg *txp.SenderConfig) { cfg.Loss = -0.1 },
		"delay":   func(cfg *txp.SenderConfig) { cfg.Delay = -time.Second },
		"payload": func(cfg *txp.SenderConfig) { cfg.PayloadSize = txp.MaxPayload + 1 },
		"mode":    func(cfg *txp.SenderConfig) { cfg.Mode = txp.Mode(7) },
		"rule":    func(cfg *txp.SenderConfig) { cfg.Rules = []string{"seq +"} },
	}

	for name, mutate := range senders {
		cfg := valid
		mutate(&cfg)

		_, err := txp.SendTask(context.Background(), a, b.LocalAddr(), packets, cfg, nil)
		if !errors.Is(err, txp.ErrInvalidConfig) {
			t.Errorf("%s: want ErrInvalidConfig, got %v", name, err)
		}
	}

	// Nothing reached the wire
	if _, _, err := b.ReceiveWithTimeout(20 * time.Millisecond); !errors.Is(err, netio.ErrTimeout) {
		t.Fatalf("invalid sender transmitted, got %v", err)
	}

	receivers := map[string]func(*txp.ReceiverConfig){
		"window": func(cfg *txp.ReceiverConfig) { cfg.Window = 0 },
		"poll":   func(cfg *txp.ReceiverConfig) { cfg.Poll = 0 },
		"loss":   func(cfg *txp.ReceiverConfig) { cfg.AckLoss = 2 },
		"rule":   func(cfg *txp.ReceiverConfig) { cfg.Rules = []string{`kind ==`} },
	}

	for name, mutate := range receivers {
		cfg := receiverConfig(txp.SelectiveRepeat, 4)
		mutate(&cfg)

		var out bytes.Buffer
		_, err := txp.RecvTask(context.Background(), b, &out, cfg, nil)
		if !errors.Is(err, txp.ErrInvalidConfig) {
			t.Errorf("%s: want ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestReceiverIgnoresMalformed(t *testing.T) {
	a, b := netio.NewPipe()
	defer a.Close()
	defer b.Close()

	to := b.LocalAddr()
	for _, raw := range []string{"garbage", "DATA-x-aGk=", "ACK-3", "DATA-0-!!"} {
		a.SendTo([]byte(raw), to)
	}

	data := txp.NewDataPacket(0, []byte("hi"))
	end := txp.NewEndPacket(1)
	a.SendTo(data.AsBytes(), to)
	a.SendTo(end.AsBytes(), to)

	var out bytes.Buffer
	transfer, err := txp.RecvTask(context.Background(), b, &out, receiverConfig(txp.GoBackN, 1), nil)
	if err != nil {
		t.Fatalf("receiver failed: %s", err)
	}

	if out.String() != "hi" || transfer.Sent != 1 {
		t.Fatalf("want output hi and one ACK, got %q and %d", out.String(), transfer.Sent)
	}

	ack, _, err := a.ReceiveWithTimeout(time.Second)
	if err != nil || string(ack) != "ACK-0" {
		t.Fatalf("want ACK-0, got %q, %v", ack, err)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestReceiverWriteFailure(t *testing.T) {
	a, b := netio.NewPipe()
	defer a.Close()
	defer b.Close()

	data := txp.NewDataPacket(0, []byte("lost"))
	a.SendTo(data.AsBytes(), b.LocalAddr())

	transfer, err := txp.RecvTask(
		context.Background(),
		b,
		brokenWriter{},
		receiverConfig(txp.SelectiveRepeat, 4),
		nil,
	)
	if err == nil || transfer.Status != txp.Aborted {
		t.Fatalf("want aborted transfer, got %v, %v", transfer.Status, err)
	}

	// Data that never reached the output is never acknowledged
	if _, _, err := a.ReceiveWithTimeout(50 * time.Millisecond); !errors.Is(err, netio.ErrTimeout) {
		t.Fatalf("want no ACK, got %v", err)
	}
}

func TestFileTransferOverUDP(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	input := randomBytes(7 * txp.MaxPayload)
	if err := os.WriteFile(src, input, 0o644); err != nil {
		t.Fatalf("can't write source: %s", err)
	}

	for _, mode := range []txp.Mode{txp.GoBackN, txp.SelectiveRepeat} {
		t.Run(mode.String(), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			rt := txp.NewReceiverTransport(
				&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0},
				dst,
				receiverConfig(mode, 4),
				netio.Options{},
				nil,
			)

			var rerr error
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, rerr = rt.Run(ctx)
			}()

			var raddr *net.UDPAddr
			select {
			case addr := <-rt.Bound():
				raddr = addr.(*net.UDPAddr)
			case <-time.After(5 * time.Second):
				t.Fatalf("receiver never bound")
			}

			scfg := senderConfig(mode, 4)
			scfg.Rules = []string{`kind == "DATA" && seq == 3 && count == 1`}

			st := txp.NewSenderTransport("127.0.0.1:0", raddr, src, scfg, netio.Options{}, nil)
			transfer, err := st.Run(ctx)
			wg.Wait()

			if err != nil || rerr != nil {
				t.Fatalf("transfer failed: sender %v, receiver %v", err, rerr)
			}

			if transfer.Retransmitted == 0 {
				t.Fatalf("DATA-3 should have been retransmitted")
			}

			output, err := os.ReadFile(dst)
			if err != nil {
				t.Fatalf("can't read output: %s", err)
			}

			if !bytes.Equal(input, output) {
				t.Fatalf("output file differs from source")
			}
		})
	}
}

func TestSenderMissingSource(t *testing.T) {
	raddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	st := txp.NewSenderTransport(
		"127.0.0.1:0",
		raddr,
		filepath.Join(t.TempDir(), "missing"),
		senderConfig(txp.GoBackN, 1),
		netio.Options{},
		nil,
	)

	transfer, err := st.Run(context.Background())
	if !errors.Is(err, os.ErrNotExist) || transfer.Status != txp.Aborted {
		t.Fatalf("want missing file error, got %v, %v", transfer.Status, err)
	}
}

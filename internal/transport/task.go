package transport

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"arq/internal/lossy"
	"arq/pkg/netio"
)

// Drive one transfer from the sender side over an open transport. packets
// is the output of Fragment.
func SendTask(
	ctx context.Context,
	conn netio.Conn,
	peer net.Addr,
	packets []Packet,
	cfg SenderConfig,
	obs Observer,
) (Transfer, error) {
	transfer := NewTransfer(RoleSender, cfg.Mode)

	if err := cfg.Validate(); err != nil {
		transfer.finish(Aborted)
		return transfer, err
	}

	if obs == nil {
		obs = nopObserver{}
	}

	emit := func(kind EventKind, method byte, seq uint64) {
		obs.Observe(Event{kind, RoleSender, transfer.Id, method, seq})
	}

	link, err := lossy.NewLink(conn, lossy.Options{
		Loss:  cfg.Loss,
		Delay: cfg.Delay,
		Rules: cfg.Rules,
		Seed:  cfg.Seed,
		OnDrop: func(unit lossy.Unit) {
			transfer.Dropped += 1
			emit(Dropped, DATA, unit.Seq)
		},
	})
	if err != nil {
		transfer.finish(Aborted)
		return transfer, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	pacer := NewSendPacer(packets, cfg.Window)
	disc := newDiscipline(cfg.Mode)

	transfer.Frames = pacer.Total()
	for _, pkt := range pacer.packets {
		transfer.Bytes += uint64(len(pkt.Payload))
	}

	fail := func(err error) (Transfer, error) {
		link.Flush()
		transfer.finish(Aborted)
		return transfer, err
	}

	transmit := func(pkt Packet) error {
		unit := lossy.Unit{Kind: pkt.Kind(), Seq: pkt.Seq, Data: pkt.AsBytes()}
		if _, err := link.Transmit(unit, peer); err != nil {
			return errors.Wrapf(err, "can't send DATA-%d", pkt.Seq)
		}
		return nil
	}

	for !pacer.IsDone() {
		if err := ctx.Err(); err != nil {
			return fail(errors.Wrap(ErrStopped, err.Error()))
		}

		// Fill the window before waiting on anything
		for {
			pkt, ok := pacer.Pop(time.Now())
			if !ok {
				break
			}

			if err := transmit(pkt); err != nil {
				return fail(err)
			}

			transfer.Sent += 1
			emit(Sent, DATA, pkt.Seq)
		}

		data, _, err := conn.ReceiveWithTimeout(cfg.Timeout)
		timedOut := errors.Is(err, netio.ErrTimeout)

		if err != nil && !timedOut {
			return fail(errors.Wrap(err, "can't receive ACK"))
		}

		if !timedOut {
			// Anything that is not a well formed ACK is dropped silently
			pkt, err := ParsePacket(data)
			if err == nil && pkt.Method == ACK {
				emit(Received, ACK, pkt.Seq)

				if disc.acknowledge(&pacer, pkt.Seq) {
					transfer.Acked += 1
					emit(Acked, ACK, pkt.Seq)
				}
			}
		}

		for _, pkt := range disc.retransmit(&pacer, time.Now(), cfg.Timeout, timedOut) {
			if cfg.MaxRetransmits > 0 && transfer.Retransmitted >= cfg.MaxRetransmits {
				return fail(errors.Wrapf(
					ErrRetryBudget,
					"%d retransmissions, base %d",
					transfer.Retransmitted,
					pacer.Base,
				))
			}

			if err := transmit(pkt); err != nil {
				return fail(err)
			}

			transfer.Retransmitted += 1
			emit(Retransmitted, DATA, pkt.Seq)
		}
	}

	if err := link.Flush(); err != nil {
		return fail(errors.Wrap(err, "can't send delayed DATA"))
	}

	// Let late ACKs drain, then send the END marker outside the ARQ
	select {
	case <-ctx.Done():
	case <-time.After(cfg.Linger):
	}

	end := pacer.Done()
	if err := link.Direct(end.AsBytes(), peer); err != nil {
		return fail(errors.Wrap(err, "can't send END"))
	}

	emit(Sent, END, end.Seq)
	transfer.finish(Complete)
	emit(Completed, END, end.Seq)

	return transfer, nil
}

// Drive one transfer from the receiver side over an open transport, writing
// the reassembled stream to out.
func RecvTask(
	ctx context.Context,
	conn netio.Conn,
	out io.Writer,
	cfg ReceiverConfig,
	obs Observer,
) (Transfer, error) {
	transfer := NewTransfer(RoleReceiver, cfg.Mode)

	if err := cfg.Validate(); err != nil {
		transfer.finish(Aborted)
		return transfer, err
	}

	if obs == nil {
		obs = nopObserver{}
	}

	emit := func(kind EventKind, method byte, seq uint64) {
		obs.Observe(Event{kind, RoleReceiver, transfer.Id, method, seq})
	}

	link, err := lossy.NewLink(conn, lossy.Options{
		Loss:  cfg.AckLoss,
		Delay: cfg.AckDelay,
		Rules: cfg.Rules,
		Seed:  cfg.Seed,
		OnDrop: func(unit lossy.Unit) {
			transfer.Dropped += 1
			emit(Dropped, ACK, unit.Seq)
		},
	})
	if err != nil {
		transfer.finish(Aborted)
		return transfer, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	pacer := NewRecvPacer(cfg.Window)
	disc := newDiscipline(cfg.Mode)

	fail := func(err error) (Transfer, error) {
		link.Flush()
		transfer.finish(Aborted)
		return transfer, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(errors.Wrap(ErrStopped, err.Error()))
		}

		data, from, err := conn.ReceiveWithTimeout(cfg.Poll)
		if errors.Is(err, netio.ErrTimeout) {
			continue
		}

		if err != nil {
			return fail(errors.Wrap(err, "can't receive DATA"))
		}

		pkt, err := ParsePacket(data)
		if err != nil {
			continue
		}

		if pkt.Method == ACK {
			continue
		}

		emit(Received, pkt.Method, pkt.Seq)

		if pkt.IsTerminal() {
			// Anything still buffered past a gap is discarded
			if err := link.Flush(); err != nil {
				return fail(errors.Wrap(err, "can't send delayed ACK"))
			}

			transfer.finish(Complete)
			emit(Completed, END, pacer.Expected)
			return transfer, nil
		}

		ack, kept := disc.accept(&pacer, pkt)
		if kept {
			transfer.Acked += 1
		}

		ready := pacer.Fetch()
		if len(ready) > 0 {
			chunk, err := Reassemble(ready)
			if err != nil {
				return fail(err)
			}

			if _, err := out.Write(chunk); err != nil {
				return fail(errors.Wrap(err, "can't write output"))
			}

			transfer.Frames += uint64(len(ready))
			transfer.Bytes += uint64(len(chunk))
		}

		ackPkt := NewAckPacket(ack)
		unit := lossy.Unit{Kind: ackPkt.Kind(), Seq: ack, Data: ackPkt.AsBytes()}
		if _, err := link.Transmit(unit, from); err != nil {
			return fail(errors.Wrapf(err, "can't send ACK-%d", ack))
		}

		transfer.Sent += 1
		emit(Sent, ACK, ack)
	}
}

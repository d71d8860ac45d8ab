package transport

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"

	"arq/pkg/netio"
)

//
// Receiving side of a transfer: listens on UDP and writes the stream to a
// file
//
type ReceiverTransport struct {
	laddr *net.UDPAddr
	file  string
	cfg   ReceiverConfig
	opts  netio.Options
	obs   Observer
	bound chan net.Addr
}

func NewReceiverTransport(
	laddr *net.UDPAddr,
	file string,
	cfg ReceiverConfig,
	opts netio.Options,
	obs Observer,
) ReceiverTransport {
	return ReceiverTransport{
		laddr,
		file,
		cfg,
		opts,
		obs,
		make(chan net.Addr, 1),
	}
}

// Receives the local address once the socket is bound, useful when
// listening on port 0
func (rt *ReceiverTransport) Bound() <-chan net.Addr {
	return rt.bound
}

func (rt *ReceiverTransport) Run(ctx context.Context) (Transfer, error) {
	if err := rt.cfg.Validate(); err != nil {
		return abortedTransfer(RoleReceiver, rt.cfg.Mode), err
	}

	out, err := os.Create(rt.file)
	if err != nil {
		return abortedTransfer(RoleReceiver, rt.cfg.Mode), errors.Wrapf(
			err,
			"can't create output file %s",
			rt.file,
		)
	}
	defer out.Close()

	conn, err := netio.Bind(rt.laddr.String(), rt.opts)
	if err != nil {
		return abortedTransfer(RoleReceiver, rt.cfg.Mode), err
	}
	defer conn.Close()

	select {
	case rt.bound <- conn.LocalAddr():
	default:
	}

	transfer, err := RecvTask(ctx, conn, out, rt.cfg, rt.obs)
	if err != nil {
		return transfer, err
	}

	if err := out.Sync(); err != nil {
		transfer.Status = Aborted
		return transfer, errors.Wrapf(err, "can't flush output file %s", rt.file)
	}

	return transfer, nil
}

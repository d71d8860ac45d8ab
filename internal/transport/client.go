package transport

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"

	"arq/pkg/netio"
)

//
// Sending side of a transfer: a file pushed to a remote receiver over UDP
//
type SenderTransport struct {
	laddr string
	raddr *net.UDPAddr
	file  string
	cfg   SenderConfig
	opts  netio.Options
	obs   Observer
}

func NewSenderTransport(
	laddr string,
	raddr *net.UDPAddr,
	file string,
	cfg SenderConfig,
	opts netio.Options,
	obs Observer,
) SenderTransport {
	return SenderTransport{
		laddr,
		raddr,
		file,
		cfg,
		opts,
		obs,
	}
}

// Configuration and source file problems are reported before any socket
// is opened.
func (st *SenderTransport) Run(ctx context.Context) (Transfer, error) {
	if err := st.cfg.Validate(); err != nil {
		return abortedTransfer(RoleSender, st.cfg.Mode), err
	}

	packets, err := st.readSource()
	if err != nil {
		return abortedTransfer(RoleSender, st.cfg.Mode), err
	}

	conn, err := netio.Bind(st.laddr, st.opts)
	if err != nil {
		return abortedTransfer(RoleSender, st.cfg.Mode), err
	}
	defer conn.Close()

	return SendTask(ctx, conn, st.raddr, packets, st.cfg, st.obs)
}

func (st *SenderTransport) readSource() ([]Packet, error) {
	src, err := os.Open(st.file)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open source file %s", st.file)
	}
	defer src.Close()

	packets, err := Fragment(src, st.cfg.payloadSize())
	if err != nil {
		return nil, errors.Wrapf(err, "can't read source file %s", st.file)
	}

	return packets, nil
}

func abortedTransfer(role string, mode Mode) Transfer {
	transfer := NewTransfer(role, mode)
	transfer.finish(Aborted)

	return transfer
}

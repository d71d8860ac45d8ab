package transport

import (
	"errors"
	"fmt"
	"io"
)

// Split a byte stream into DATA packets numbered 0..N-1, followed by the
// END marker numbered N.
func Fragment(r io.Reader, maxPayload int) ([]Packet, error) {
	if maxPayload <= 0 || maxPayload > MaxPayload {
		return nil, fmt.Errorf(
			"payload size %v outside (0, %v]",
			maxPayload,
			MaxPayload,
		)
	}

	packets := []Packet{}
	buf := make([]byte, maxPayload)
	seq := uint64(0)

	for {
		n, err := io.ReadFull(r, buf)

		if n > 0 {
			packets = append(packets, NewDataPacket(seq, buf[:n]))
			seq += 1
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("can't read source stream: %w", err)
		}
	}

	return append(packets, NewEndPacket(seq)), nil
}

// Concatenate the payloads of consecutive DATA packets. Gaps, reordering and
// non-DATA packets are caller errors.
func Reassemble(packets []Packet) ([]byte, error) {
	size := 0
	for _, pkt := range packets {
		size += len(pkt.Payload)
	}

	data := make([]byte, 0, size)

	for i, pkt := range packets {
		if pkt.Method != DATA {
			return nil, fmt.Errorf(
				"can't reassemble %s packet at position %v",
				pkt.Kind(),
				i,
			)
		}

		if i > 0 && pkt.Seq != packets[i-1].Seq+1 {
			return nil, fmt.Errorf(
				"can't reassemble, gap after seq %v, got %v",
				packets[i-1].Seq,
				pkt.Seq,
			)
		}

		data = append(data, pkt.Payload...)
	}

	return data, nil
}

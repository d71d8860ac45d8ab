/*
	Packet Flow:
	Sender                    Receiver
	  | -------- DATA-0 -------> |
	  | -------- DATA-1 -------> |
	  | <------- ACK-0 --------  |
	  | <------- ACK-1 --------  |
	  |          ...             |
	  | -------- END ----------> |

	Wire format is ASCII, '-' delimited:
	  DATA-<seq>-<base64 payload>
	  ACK-<seq>
	  END
*/

package transport

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
)

const (
	DATA byte = iota
	ACK
	END
)

// Largest payload of a DATA packet, before base64 encoding
const MaxPayload int = 512

var methodNames = [...]string{"DATA", "ACK", "END"}

type Packet struct {
	Method  byte
	Seq     uint64
	Payload []byte
}

func NewPacket(method byte, seq uint64, payload []byte) Packet {
	payload_copy := make([]byte, 0, len(payload))
	payload_copy = append(payload_copy, payload...)

	return Packet{
		method,
		seq,
		payload_copy,
	}
}

func NewDataPacket(seq uint64, payload []byte) Packet {
	return NewPacket(DATA, seq, payload)
}

func NewAckPacket(seq uint64) Packet {
	return NewPacket(ACK, seq, nil)
}

// The terminal marker, seq is the number of DATA packets before it
func NewEndPacket(seq uint64) Packet {
	return NewPacket(END, seq, nil)
}

func (pkt *Packet) IsTerminal() bool {
	return pkt.Method == END
}

func (pkt *Packet) Kind() string {
	if int(pkt.Method) < len(methodNames) {
		return methodNames[pkt.Method]
	}

	return "UNKNOWN"
}

func (pkt *Packet) AsBytes() []byte {
	switch pkt.Method {
	case DATA:
		encoded := base64.StdEncoding.EncodeToString(pkt.Payload)
		return fmt.Appendf(nil, "DATA-%d-%s", pkt.Seq, encoded)
	case ACK:
		return fmt.Appendf(nil, "ACK-%d", pkt.Seq)
	default:
		return []byte("END")
	}
}

func ParsePacket(data []byte) (Packet, error) {
	if bytes.Equal(data, []byte("END")) {
		return NewEndPacket(0), nil
	}

	// The payload is standard base64, which never contains '-'
	parts := bytes.SplitN(data, []byte("-"), 3)

	switch string(parts[0]) {
	case "ACK":
		if len(parts) != 2 {
			return Packet{}, fmt.Errorf(
				"malformed ACK packet, want 2 fields, got %v",
				len(parts),
			)
		}

		seq, err := parseSeq(parts[1])
		if err != nil {
			return Packet{}, err
		}

		return NewAckPacket(seq), nil
	case "DATA":
		if len(parts) != 3 {
			return Packet{}, fmt.Errorf(
				"malformed DATA packet, want 3 fields, got %v",
				len(parts),
			)
		}

		seq, err := parseSeq(parts[1])
		if err != nil {
			return Packet{}, err
		}

		payload := make([]byte, base64.StdEncoding.DecodedLen(len(parts[2])))
		n, err := base64.StdEncoding.Decode(payload, parts[2])
		if err != nil {
			return Packet{}, fmt.Errorf("can't decode DATA payload. %w", err)
		}

		if n > MaxPayload {
			return Packet{}, fmt.Errorf(
				"DATA payload too large, got %v bytes, want at most %v",
				n,
				MaxPayload,
			)
		}

		return Packet{DATA, seq, payload[:n]}, nil
	default:
		return Packet{}, fmt.Errorf("unknown packet method %q", parts[0])
	}
}

func parseSeq(field []byte) (uint64, error) {
	// ParseUint alone accepts a leading '+'
	if len(field) == 0 || field[0] < '0' || field[0] > '9' {
		return 0, fmt.Errorf("malformed sequence number %q", field)
	}

	seq, err := strconv.ParseUint(string(field), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed sequence number %q", field)
	}

	return seq, nil
}

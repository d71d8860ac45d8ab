package config

import (
	"net"

	"arq/internal/transport"
	"arq/pkg/netio"
)

// The struct that matches the "sender" section in sender.yaml and dev.yaml
type SenderSection struct {
	Addr           string   `yaml:"address"`
	Peer           string   `yaml:"peer"`
	File           string   `yaml:"file"`
	Mode           string   `yaml:"mode"`
	Window         uint64   `yaml:"window"`
	Timeout        string   `yaml:"timeout"`
	Linger         string   `yaml:"linger"`
	MaxRetransmits uint64   `yaml:"max_retransmits"`
	PayloadSize    int      `yaml:"payload_size"`
	ReadBuffer     int      `yaml:"read_buffer"`
	Loss           float64  `yaml:"loss"`
	Delay          string   `yaml:"delay"`
	Seed           uint64   `yaml:"seed"`
	Rules          []string `yaml:"rules"`
}

// The struct that matches the "receiver" section in receiver.yaml and
// dev.yaml
type ReceiverSection struct {
	Addr       string   `yaml:"address"`
	File       string   `yaml:"file"`
	Mode       string   `yaml:"mode"`
	Window     uint64   `yaml:"window"`
	Poll       string   `yaml:"poll"`
	ReadBuffer int      `yaml:"read_buffer"`
	AckLoss    float64  `yaml:"ack_loss"`
	AckDelay   string   `yaml:"ack_delay"`
	Seed       uint64   `yaml:"seed"`
	Rules      []string `yaml:"rules"`
}

type LogSection struct {
	Level string `yaml:"level"`
}

// The struct structurally represents the sender.yaml
type RawSenderConfig struct {
	Sender SenderSection `yaml:"sender"`
	Log    LogSection    `yaml:"log"`
}

// The struct structurally represents the receiver.yaml
type RawReceiverConfig struct {
	Receiver ReceiverSection `yaml:"receiver"`
	Log      LogSection      `yaml:"log"`
}

// The struct structurally represents the dev.yaml
type RawDevConfig struct {
	Sender   SenderSection   `yaml:"sender"`
	Receiver ReceiverSection `yaml:"receiver"`
	Log      LogSection      `yaml:"log"`
}

// Ready to use sender side config
type ReadySenderConfig struct {
	// Local-related configurations
	LocalAddr *net.UDPAddr
	File      string
	Socket    netio.Options

	// Remote-related configurations
	RemoteAddr *net.UDPAddr

	Transfer transport.SenderConfig
	LogLevel string
}

// Ready to use receiver side config
type ReadyReceiverConfig struct {
	Addr     *net.UDPAddr
	File     string
	Socket   netio.Options
	Transfer transport.ReceiverConfig
	LogLevel string
}

// Ready to use config for running both ends in one process
type ReadyDevConfig struct {
	Sender   ReadySenderConfig
	Receiver ReadyReceiverConfig
	LogLevel string
}

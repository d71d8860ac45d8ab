package config

import (
	"net"
	"os"
	"time"

	// Third party YAML builder and parser
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"

	"arq/internal/logging"
	"arq/internal/transport"
	"arq/pkg/netio"
)

const defaultLocalAddr = ":0"

func LoadSenderYaml(cfgPath string) (ReadySenderConfig, error) {
	data, err := readConfigFile(cfgPath)
	if err != nil {
		return ReadySenderConfig{}, err
	}

	return ParseSenderYaml(data)
}

func ParseSenderYaml(data []byte) (ReadySenderConfig, error) {
	var rawCfg RawSenderConfig
	if err := parseYAML(data, &rawCfg); err != nil {
		return ReadySenderConfig{}, err
	}

	level, err := readyLevel(rawCfg.Log)
	if err != nil {
		return ReadySenderConfig{}, err
	}

	cfg, err := readySender(rawCfg.Sender, level)
	if err != nil {
		return ReadySenderConfig{}, err
	}

	if cfg.RemoteAddr == nil {
		return ReadySenderConfig{}, errors.Wrap(
			transport.ErrInvalidConfig,
			"sender.peer is required",
		)
	}

	return cfg, nil
}

func LoadReceiverYaml(cfgPath string) (ReadyReceiverConfig, error) {
	data, err := readConfigFile(cfgPath)
	if err != nil {
		return ReadyReceiverConfig{}, err
	}

	return ParseReceiverYaml(data)
}

func ParseReceiverYaml(data []byte) (ReadyReceiverConfig, error) {
	var rawCfg RawReceiverConfig
	if err := parseYAML(data, &rawCfg); err != nil {
		return ReadyReceiverConfig{}, err
	}

	level, err := readyLevel(rawCfg.Log)
	if err != nil {
		return ReadyReceiverConfig{}, err
	}

	return readyReceiver(rawCfg.Receiver, level)
}

func LoadDevYaml(cfgPath string) (ReadyDevConfig, error) {
	data, err := readConfigFile(cfgPath)
	if err != nil {
		return ReadyDevConfig{}, err
	}

	return ParseDevYaml(data)
}

// Both ends in one file. The sender's peer defaults to the receiver's
// address, and the two ends must agree on the mode.
func ParseDevYaml(data []byte) (ReadyDevConfig, error) {
	var rawCfg RawDevConfig
	if err := parseYAML(data, &rawCfg); err != nil {
		return ReadyDevConfig{}, err
	}

	level, err := readyLevel(rawCfg.Log)
	if err != nil {
		return ReadyDevConfig{}, err
	}

	sender, err := readySender(rawCfg.Sender, level)
	if err != nil {
		return ReadyDevConfig{}, err
	}

	receiver, err := readyReceiver(rawCfg.Receiver, level)
	if err != nil {
		return ReadyDevConfig{}, err
	}

	if sender.RemoteAddr == nil {
		sender.RemoteAddr = receiver.Addr
	}

	if sender.Transfer.Mode != receiver.Transfer.Mode {
		return ReadyDevConfig{}, errors.Wrapf(
			transport.ErrInvalidConfig,
			"sender mode %v differs from receiver mode %v",
			sender.Transfer.Mode,
			receiver.Transfer.Mode,
		)
	}

	// A smaller receiver window would acknowledge frames it never buffered
	if receiver.Transfer.Window < sender.Transfer.Window {
		return ReadyDevConfig{}, errors.Wrapf(
			transport.ErrInvalidConfig,
			"receiver window %v smaller than sender window %v",
			receiver.Transfer.Window,
			sender.Transfer.Window,
		)
	}

	return ReadyDevConfig{sender, receiver, level}, nil
}

func readySender(raw SenderSection, level string) (ReadySenderConfig, error) {
	mode, err := readyMode("sender.mode", raw.Mode)
	if err != nil {
		return ReadySenderConfig{}, err
	}

	timeout, err := parseDuration("sender.timeout", raw.Timeout, transport.DefaultTimeout)
	if err != nil {
		return ReadySenderConfig{}, err
	}

	linger, err := parseDuration("sender.linger", raw.Linger, transport.DefaultLinger)
	if err != nil {
		return ReadySenderConfig{}, err
	}

	delay, err := parseDuration("sender.delay", raw.Delay, 0)
	if err != nil {
		return ReadySenderConfig{}, err
	}

	if raw.File == "" {
		return ReadySenderConfig{}, errors.Wrap(
			transport.ErrInvalidConfig,
			"sender.file is required",
		)
	}

	localAddr, err := resolveUDPAddr(orDefault(raw.Addr, defaultLocalAddr))
	if err != nil {
		return ReadySenderConfig{}, err
	}

	var remoteAddr *net.UDPAddr
	if raw.Peer != "" {
		if remoteAddr, err = resolveUDPAddr(raw.Peer); err != nil {
			return ReadySenderConfig{}, err
		}
	}

	transfer := transport.SenderConfig{
		Mode:           mode,
		Window:         windowOrDefault(raw.Window),
		Timeout:        timeout,
		Loss:           raw.Loss,
		Delay:          delay,
		Rules:          raw.Rules,
		Seed:           raw.Seed,
		MaxRetransmits: raw.MaxRetransmits,
		Linger:         linger,
		PayloadSize:    raw.PayloadSize,
	}

	if err := transfer.Validate(); err != nil {
		return ReadySenderConfig{}, errors.Wrap(err, "sender")
	}

	return ReadySenderConfig{
		// Local
		localAddr,
		raw.File,
		netio.Options{ReadBuffer: raw.ReadBuffer},

		// Remote
		remoteAddr,

		transfer,
		level,
	}, nil
}

func readyReceiver(raw ReceiverSection, level string) (ReadyReceiverConfig, error) {
	mode, err := readyMode("receiver.mode", raw.Mode)
	if err != nil {
		return ReadyReceiverConfig{}, err
	}

	poll, err := parseDuration("receiver.poll", raw.Poll, transport.DefaultPoll)
	if err != nil {
		return ReadyReceiverConfig{}, err
	}

	ackDelay, err := parseDuration("receiver.ack_delay", raw.AckDelay, 0)
	if err != nil {
		return ReadyReceiverConfig{}, err
	}

	if raw.File == "" {
		return ReadyReceiverConfig{}, errors.Wrap(
			transport.ErrInvalidConfig,
			"receiver.file is required",
		)
	}

	if raw.Addr == "" {
		return ReadyReceiverConfig{}, errors.Wrap(
			transport.ErrInvalidConfig,
			"receiver.address is required",
		)
	}

	addr, err := resolveUDPAddr(raw.Addr)
	if err != nil {
		return ReadyReceiverConfig{}, err
	}

	transfer := transport.ReceiverConfig{
		Mode:     mode,
		Window:   windowOrDefault(raw.Window),
		Poll:     poll,
		AckLoss:  raw.AckLoss,
		AckDelay: ackDelay,
		Rules:    raw.Rules,
		Seed:     raw.Seed,
	}

	if err := transfer.Validate(); err != nil {
		return ReadyReceiverConfig{}, errors.Wrap(err, "receiver")
	}

	return ReadyReceiverConfig{
		addr,
		raw.File,
		netio.Options{ReadBuffer: raw.ReadBuffer},
		transfer,
		level,
	}, nil
}

func readyMode(key, name string) (transport.Mode, error) {
	mode, err := transport.ParseMode(orDefault(name, transport.GoBackN.String()))
	if err != nil {
		return mode, errors.Wrapf(transport.ErrInvalidConfig, "%s: %s", key, err)
	}

	return mode, nil
}

func readyLevel(raw LogSection) (string, error) {
	if _, err := logging.ParseLevel(raw.Level); err != nil {
		return "", errors.Wrapf(transport.ErrInvalidConfig, "log.level: %s", err)
	}

	return orDefault(raw.Level, "info"), nil
}

func readConfigFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read configuration file %s", path)
	}

	return data, nil
}

func parseYAML(data []byte, cfg any) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "can't parse YAML")
	}

	return nil
}

// Empty means the default; "0s" is an explicit zero
func parseDuration(key, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(transport.ErrInvalidConfig, "%s: %s", key, err)
	}

	return d, nil
}

func resolveUDPAddr(address string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "can't resolve UDP address %q", address)
	}

	return addr, nil
}

func windowOrDefault(window uint64) uint64 {
	if window == 0 {
		return transport.DefaultWindow
	}

	return window
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

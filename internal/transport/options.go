package transport

import (
	"time"

	"github.com/pkg/errors"

	"arq/internal/lossy"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrRetryBudget   = errors.New("retransmission budget exhausted")
	ErrStopped       = errors.New("transfer stopped")
)

const (
	DefaultTimeout = 500 * time.Millisecond
	DefaultLinger  = 500 * time.Millisecond
	DefaultPoll    = time.Second
	DefaultWindow  = 5
)

type SenderConfig struct {
	Mode    Mode
	Window  uint64
	Timeout time.Duration

	// Loss simulator applied to DATA packets
	Loss  float64
	Delay time.Duration
	Rules []string
	Seed  uint64

	// 0 means unlimited
	MaxRetransmits uint64

	// Pause before the END marker so late ACKs drain
	Linger time.Duration

	// 0 means MaxPayload
	PayloadSize int
}

func (cfg *SenderConfig) Validate() error {
	if !cfg.Mode.IsValid() {
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %v", cfg.Mode)
	}

	if cfg.Window < 1 {
		return errors.Wrap(ErrInvalidConfig, "window size must be at least 1")
	}

	if cfg.Timeout <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "non-positive timeout %v", cfg.Timeout)
	}

	if cfg.Loss < 0 || cfg.Loss > 1 {
		return errors.Wrapf(ErrInvalidConfig, "loss %v outside [0, 1]", cfg.Loss)
	}

	if cfg.Delay < 0 || cfg.Linger < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative delay or linger")
	}

	if cfg.PayloadSize < 0 || cfg.PayloadSize > MaxPayload {
		return errors.Wrapf(
			ErrInvalidConfig,
			"payload size %v outside [0, %v]",
			cfg.PayloadSize,
			MaxPayload,
		)
	}

	if _, err := lossy.CompileRules(cfg.Rules); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	return nil
}

func (cfg *SenderConfig) payloadSize() int {
	if cfg.PayloadSize == 0 {
		return MaxPayload
	}

	return cfg.PayloadSize
}

type ReceiverConfig struct {
	Mode   Mode
	Window uint64

	// Bound of each receive, the stop request is checked in between
	Poll time.Duration

	// Loss simulator applied to ACK packets
	AckLoss  float64
	AckDelay time.Duration
	Rules    []string
	Seed     uint64
}

func (cfg *ReceiverConfig) Validate() error {
	if !cfg.Mode.IsValid() {
		return errors.Wrapf(ErrInvalidConfig, "unknown mode %v", cfg.Mode)
	}

	if cfg.Window < 1 {
		return errors.Wrap(ErrInvalidConfig, "window size must be at least 1")
	}

	if cfg.Poll <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "non-positive poll interval %v", cfg.Poll)
	}

	if cfg.AckLoss < 0 || cfg.AckLoss > 1 {
		return errors.Wrapf(ErrInvalidConfig, "ack loss %v outside [0, 1]", cfg.AckLoss)
	}

	if cfg.AckDelay < 0 {
		return errors.Wrap(ErrInvalidConfig, "negative ack delay")
	}

	if _, err := lossy.CompileRules(cfg.Rules); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}

	return nil
}

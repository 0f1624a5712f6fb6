package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// DriverPulsar selects the Pulsar backend. It is the default.
	DriverPulsar = "pulsar"
	// DriverKafka selects the Kafka backend.
	DriverKafka = "kafka"
	// DriverNATS selects the NATS backend.
	DriverNATS = "nats"
)

// ErrUnknownDriver indicates an unsupported messaging driver.
var ErrUnknownDriver = errors.New("pkgmessage: unknown driver")

// FactoryOptions groups config for supported messaging backends.
type FactoryOptions struct {
	Pulsar PulsarConfig
	Kafka  KafkaConfig
	NATS   NATSConfig
}

// NewFromDriver constructs a Client by driver name. An empty name selects Pulsar.
func NewFromDriver(ctx context.Context, driver string, opts FactoryOptions) (Client, error) {
	var (
		client Client
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPulsar:
		client, err = NewPulsar(ctx, opts.Pulsar)
	case DriverKafka:
		client, err = NewKafka(opts.Kafka)
	case DriverNATS:
		client, err = NewNATS(opts.NATS)
	default:
		err = newError(ErrConnect, "", "", "", fmt.Errorf("%w: %s", ErrUnknownDriver, driver))
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Package broker inspects the Kafka cluster that topic datasets point to.
package broker

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Config describes the Kafka cluster advertised by the adapter.
type Config struct {
	Enabled     bool
	Host        string
	Port        int
	Prefix      string
	MaxStreams  int
	DialTimeout time.Duration
}

// Details is the public view of the Kafka configuration.
type Details struct {
	Host       string `json:"kafka_host"`
	Port       int    `json:"kafka_port"`
	Connection bool   `json:"kafka_connection"`
	Prefix     string `json:"kafka_prefix,omitempty"`
	MaxStreams int    `json:"max_streams,omitempty"`
	Reachable  *bool  `json:"reachable,omitempty"`
}

// Prober answers questions about Kafka clusters.
type Prober interface {
	TopicExists(ctx context.Context, host string, port int, topic string) (bool, error)
	Details(ctx context.Context) Details
}

// conn is the subset of *kafka.Conn used by the prober.
type conn interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

type dialFunc func(ctx context.Context, network, address string) (conn, error)

func dialKafka(timeout time.Duration) dialFunc {
	return func(ctx context.Context, network, address string) (conn, error) {
		d := &kafka.Dialer{Timeout: timeout}
		c, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// KafkaProber implements Prober with segmentio/kafka-go.
type KafkaProber struct {
	logger logrus.FieldLogger
	config Config
	dial   dialFunc
}

var _ Prober = (*KafkaProber)(nil)

func NewKafkaProber(logger logrus.FieldLogger, config Config) *KafkaProber {
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	return &KafkaProber{
		logger: logger,
		config: config,
		dial:   dialKafka(config.DialTimeout),
	}
}

// TopicExists connects to host:port and looks the topic up in the cluster
// metadata.
func (p *KafkaProber) TopicExists(ctx context.Context, host string, port int, topic string) (bool, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := p.dial(ctx, "tcp", addr)
	if err != nil {
		return false, errors.Wrapf(err, "error connecting to kafka at %s", addr)
	}
	defer func() {
		if err := c.Close(); err != nil {
			p.logger.WithError(err).Debug("Error closing kafka connection")
		}
	}()

	partitions, err := c.ReadPartitions(topic)
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "error reading partitions of topic %s", topic)
	}
	return len(partitions) > 0, nil
}

// Details returns the configured connection details. When the connection is
// enabled the configured broker is dialled to report its reachability.
func (p *KafkaProber) Details(ctx context.Context) Details {
	d := Details{
		Host:       p.config.Host,
		Port:       p.config.Port,
		Connection: p.config.Enabled,
		Prefix:     p.config.Prefix,
		MaxStreams: p.config.MaxStreams,
	}
	if !p.config.Enabled {
		return d
	}
	reachable := true
	c, err := p.dial(ctx, "tcp", net.JoinHostPort(p.config.Host, strconv.Itoa(p.config.Port)))
	if err != nil {
		p.logger.WithError(err).Warn("Kafka broker is unreachable")
		reachable = false
	} else {
		_ = c.Close()
	}
	d.Reachable = &reachable
	return d
}

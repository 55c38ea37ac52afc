package nlink

import (
	"log/slog"

	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	RecvBufferSize int  `yaml:"recvBufferSize"` // SO_RCVBUF
	SendBufferSize int  `yaml:"sendBufferSize"` // SO_SNDBUF
	ReadBufferSize int  `yaml:"readBufferSize"` // initial datagram buffer
	QueueLength    int  `yaml:"queueLength"`    // initial per-request queue capacity, grows as needed
	ExtAck         bool `yaml:"extAck"`         // NETLINK_EXT_ACK
	StrictCheck    bool `yaml:"strictCheck"`    // NETLINK_GET_STRICT_CHK

	Logger     *slog.Logger          `yaml:"-"`
	Registerer prometheus.Registerer `yaml:"-"`
}

var DefaultConfig = Config{
	RecvBufferSize: NL_SOCK_BUFSIZE,
	SendBufferSize: NL_SOCK_BUFSIZE,
	ReadBufferSize: NL_SOCK_BUFSIZE,
	QueueLength:    16,
	ExtAck:         true,
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*c = Config(def)

	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

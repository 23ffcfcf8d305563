package comm

import (
	"fmt"
	"io"
	"net/url"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the broker port used when the configuration leaves it unset.
const DefaultPort = 5672

// Config groups the settings a backend needs to construct a role instance.
// Each backend only uses the keys that are relevant to it; Validate reports
// the ones it finds missing.
type Config struct {
	// Protocol selects the backend implementation, e.g. "amqp" or "channel".
	Protocol string `yaml:"protocol"`

	// Broker endpoint and credentials.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	VHost    string `yaml:"vhost"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Exchange is the default exchange for produced messages. The empty
	// string is the broker's default exchange.
	Exchange string `yaml:"exchange"`

	// RoutingKey is the default routing key for produced messages.
	// Producers may override it per call with WithRoutingKey.
	RoutingKey string `yaml:"routing_key"`

	// Queue is the queue a consumer binds to. Required for consumers.
	Queue string `yaml:"queue"`

	// AutoDelete marks declared queues for deletion once unused.
	AutoDelete bool `yaml:"auto_delete"`

	// ConnectAttempts bounds the broker dial retries at construction.
	// Zero means a single attempt.
	ConnectAttempts int `yaml:"connect_attempts"`
}

// WithDefaults returns a copy of c with unset values filled in.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 1
	}
	return c
}

// Validate checks the keys every backend relies on. Backend-specific
// requirements (broker address, credentials) are checked by the backend
// itself at construction.
func (c Config) Validate(role Role) error {
	if c.Protocol == "" {
		return newConfigError("protocol", "missing protocol specification")
	}
	if role == RoleConsumer && c.Queue == "" {
		return newConfigError("queue", "consumers require a queue")
	}
	return nil
}

// URI builds the broker connection URI from the endpoint settings.
func (c Config) URI() string {
	c = c.WithDefaults()
	u := url.URL{
		Scheme: "amqp",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.VHost,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// String renders the configuration with the password redacted, so configs
// can be logged safely.
func (c Config) String() string {
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	// Type alias avoids recursing back into String.
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(c))
}

// ParseConfig decodes a YAML document into a Config.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, newConfigError("yaml", "decoding configuration: %v", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML document from r and decodes it into a Config.
func LoadConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, newConfigError("yaml", "reading configuration: %v", err)
	}
	return ParseConfig(data)
}

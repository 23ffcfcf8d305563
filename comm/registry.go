package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/commflow/commflow/internal/logging"
	"gopkg.in/yaml.v3"
)

// Role identifies one of the abstract channel roles a backend can implement.
type Role string

const (
	RoleAsyncProducer Role = "async-producer"
	RoleRPCProducer   Role = "rpc-producer"
	RoleConsumer      Role = "event-driven-consumer"
)

// Options carries the non-configuration inputs of a role construction.
type Options struct {
	// Processor is the message processor of a consumer. Ignored by
	// producer roles.
	Processor Processor

	// Logger receives the backend's structured log output. Defaults to a
	// no-op logger.
	Logger logging.ServiceLogger

	// Metrics, when set, has the backend count published, consumed and
	// replied messages.
	Metrics *Metrics
}

// Option customises the construction of a role instance.
type Option func(*Options)

// WithLogger attaches a logger to the constructed instance.
func WithLogger(log logging.ServiceLogger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithMetrics attaches channel metrics to the constructed instance.
func WithMetrics(m *Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// Builder constructs a concrete role instance from configuration. Builders
// are registered per (role, protocol) pair and return the backend's concrete
// type; the typed constructors assert it against the role interface.
type Builder func(ctx context.Context, cfg Config, opts Options) (any, error)

type registryKey struct {
	role     Role
	protocol string
}

// Registry associates abstract roles with the backends implementing them,
// keyed by the "protocol" discriminator of the configuration. Registration
// happens during program initialisation (an init function of the backend
// package, or an explicit Register call); lookups afterwards are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builders map[registryKey]Builder
	perRole  map[Role]int

	// firstRegistration, when set, runs the first time a role gains a
	// backend. It is the hook that lets configuration loaders install a
	// declarative constructor (for example a YAML document tag) for the
	// role.
	firstRegistration func(Role)
}

// DefaultRegistry is the process-wide backend registry. The bundled backends
// register themselves here.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[registryKey]Builder),
		perRole:  make(map[Role]int),
	}
}

// Register records builder as the implementation of (role, protocol).
// Registering a second builder for the same pair replaces the first: last
// registration wins.
func (r *Registry) Register(role Role, protocol string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{role: role, protocol: protocol}
	first := r.perRole[role] == 0
	if _, replaced := r.builders[key]; !replaced {
		r.perRole[role]++
	}
	r.builders[key] = builder

	if first && r.firstRegistration != nil {
		r.firstRegistration(role)
	}
}

// SetFirstRegistrationHook installs fn to run when a role gains its first
// backend. Roles that already have backends fire immediately.
func (r *Registry) SetFirstRegistrationHook(fn func(Role)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.firstRegistration = fn
	if fn == nil {
		return
	}
	for role, count := range r.perRole {
		if count > 0 {
			fn(role)
		}
	}
}

// Protocols returns the discriminators registered for role.
func (r *Registry) Protocols(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var protocols []string
	for key := range r.builders {
		if key.role == role {
			protocols = append(protocols, key.protocol)
		}
	}
	return protocols
}

// Has reports whether a backend is registered for (role, protocol).
func (r *Registry) Has(role Role, protocol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[registryKey{role: role, protocol: protocol}]
	return ok
}

// Instantiate resolves cfg.Protocol for role and constructs the backend.
// Construction and backend resolution stay two visible steps: the returned
// value's dynamic type is exactly the registered backend's type.
func (r *Registry) Instantiate(ctx context.Context, role Role, cfg Config, opts ...Option) (any, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(role); err != nil {
		return nil, err
	}

	r.mu.RLock()
	registered := r.perRole[role]
	builder, ok := r.builders[registryKey{role: role, protocol: cfg.Protocol}]
	r.mu.RUnlock()

	if registered == 0 {
		return nil, newConfigError("backends", "role %q has no registered backends", role)
	}
	if !ok {
		return nil, newConfigError("protocol", "the backend specified (%s) does not exist", cfg.Protocol)
	}

	options := applyOptions(opts)
	return builder(ctx, cfg, options)
}

// FromConfig constructs a backend for role from a configuration value as it
// appears in a declarative document: either a bare protocol string, or a
// mapping carrying "protocol" along with the backend settings.
func (r *Registry) FromConfig(ctx context.Context, role Role, value any, opts ...Option) (any, error) {
	cfg, err := coerceConfig(value)
	if err != nil {
		return nil, err
	}
	return r.Instantiate(ctx, role, cfg, opts...)
}

func coerceConfig(value any) (Config, error) {
	switch v := value.(type) {
	case string:
		return Config{Protocol: v}, nil
	case Config:
		return v, nil
	case *Config:
		return *v, nil
	case map[string]any:
		// Round-trip through YAML so the mapping decodes with the same
		// rules as a configuration file.
		data, err := yaml.Marshal(v)
		if err != nil {
			return Config{}, newConfigError("config", "encoding configuration mapping: %v", err)
		}
		return ParseConfig(data)
	default:
		return Config{}, newConfigError("config", "unsupported configuration value of type %T", value)
	}
}

func applyOptions(opts []Option) Options {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = logging.Nop()
	}
	return options
}

// Register records builder in the default registry.
func Register(role Role, protocol string, builder Builder) {
	DefaultRegistry.Register(role, protocol, builder)
}

// NewAsyncProducer constructs a fire-and-forget producer for cfg.Protocol
// from the default registry.
func NewAsyncProducer(ctx context.Context, cfg Config, opts ...Option) (AsyncProducer, error) {
	instance, err := DefaultRegistry.Instantiate(ctx, RoleAsyncProducer, cfg, opts...)
	if err != nil {
		return nil, err
	}
	producer, ok := instance.(AsyncProducer)
	if !ok {
		return nil, fmt.Errorf("backend %T does not implement AsyncProducer", instance)
	}
	return producer, nil
}

// NewRPCProducer constructs a request/response producer for cfg.Protocol
// from the default registry.
func NewRPCProducer(ctx context.Context, cfg Config, opts ...Option) (RPCProducer, error) {
	instance, err := DefaultRegistry.Instantiate(ctx, RoleRPCProducer, cfg, opts...)
	if err != nil {
		return nil, err
	}
	producer, ok := instance.(RPCProducer)
	if !ok {
		return nil, fmt.Errorf("backend %T does not implement RPCProducer", instance)
	}
	return producer, nil
}

// NewEventDrivenConsumer constructs a consumer for cfg.Protocol from the
// default registry, binding proc as its message processor.
func NewEventDrivenConsumer(ctx context.Context, proc Processor, cfg Config, opts ...Option) (EventDrivenConsumer, error) {
	opts = append(opts, func(o *Options) { o.Processor = proc })
	instance, err := DefaultRegistry.Instantiate(ctx, RoleConsumer, cfg, opts...)
	if err != nil {
		return nil, err
	}
	consumer, ok := instance.(EventDrivenConsumer)
	if !ok {
		return nil, fmt.Errorf("backend %T does not implement EventDrivenConsumer", instance)
	}
	return consumer, nil
}

package commflow

import (
	"github.com/commflow/commflow/comm"
	"github.com/commflow/commflow/internal/logging"
)

type (
	Config   = comm.Config
	Role     = comm.Role
	Registry = comm.Registry
	Builder  = comm.Builder
	Options  = comm.Options
	Option   = comm.Option

	AsyncProducer       = comm.AsyncProducer
	RPCProducer         = comm.RPCProducer
	EventDrivenConsumer = comm.EventDrivenConsumer
	Processor           = comm.Processor
	PushOption          = comm.PushOption

	Response = comm.Response

	ConfigurationError = comm.ConfigurationError
	CommunicationError = comm.CommunicationError
	TransientError     = comm.TransientError
	CriticalError      = comm.CriticalError

	Metrics = comm.Metrics

	LogFields     = logging.LogFields
	ServiceLogger = logging.ServiceLogger
)

const (
	RoleAsyncProducer = comm.RoleAsyncProducer
	RoleRPCProducer   = comm.RoleRPCProducer
	RoleConsumer      = comm.RoleConsumer

	StatusOK            = comm.StatusOK
	StatusBadRequest    = comm.StatusBadRequest
	StatusInternalError = comm.StatusInternalError
)

var (
	DefaultRegistry = comm.DefaultRegistry
	NewRegistry     = comm.NewRegistry
	RegisterBackend = comm.Register

	NewAsyncProducer       = comm.NewAsyncProducer
	NewRPCProducer         = comm.NewRPCProducer
	NewEventDrivenConsumer = comm.NewEventDrivenConsumer
	RunConsumer            = comm.RunConsumer
	InvokeProcessor        = comm.InvokeProcessor

	WithLogger     = comm.WithLogger
	WithMetrics    = comm.WithMetrics
	WithExchange   = comm.WithExchange
	WithRoutingKey = comm.WithRoutingKey

	NewResponse          = comm.NewResponse
	AsCommunicationError = comm.AsCommunicationError
	ErrUnsupportedStatus = comm.ErrUnsupportedStatus

	ParseConfig = comm.ParseConfig
	LoadConfig  = comm.LoadConfig

	NewMetrics = comm.NewMetrics

	NewSlogServiceLogger = logging.NewSlogServiceLogger
	NopLogger            = logging.Nop
)

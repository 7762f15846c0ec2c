package opstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/pawsuite/kennelsync/internal/core"
)

// Factory is the Strategy interface for creating operation store backends.
// Each backend (memory, redis, dynamodb, mysql) implements this interface
// and registers itself from init().
type Factory interface {
	// Create creates a new operation store from the provided configuration.
	Create(config Config) (core.OperationStore, error)

	// Type returns the type identifier for this factory (e.g. "redis").
	Type() string

	// Validate validates the configuration specific to this backend.
	Validate(config Config) error
}

// Config is the configuration needed to create an operation store.
// One flat struct covers every backend; each factory validates only the
// fields it uses.
type Config struct {
	Type string

	// Namespace prefixes every key/table so multiple tenants or test runs
	// can share a backend.
	Namespace string

	// Redis fields.
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB fields.
	Region          string
	TableName       string
	Endpoint        string // optional, for LocalStack
	AccessKeyID     string // optional, can use IAM role instead
	SecretAccessKey string // optional, can use IAM role instead

	// MySQL fields.
	Host              string
	Port              int
	Database          string
	Username          string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnectionTimeout time.Duration
}

var (
	factoryRegistry = make(map[string]Factory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers an operation store factory. Called automatically
// by each backend's init().
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}

	factoryRegistry[factory.Type()] = factory
}

// Create creates an operation store using the factory registered for
// config.Type.
func Create(config Config) (core.OperationStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("opstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported operation store type: %s", config.Type)
	}

	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}

	return factory.Create(config)
}

// RegisteredTypes returns all registered backend type identifiers.
func RegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	return types
}

package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fmueller/voxkey/internal/apperr"
	"github.com/fmueller/voxkey/internal/models"
)

// ModelEnsurer makes a local model live and returns its server endpoint.
type ModelEnsurer interface {
	Ensure(ctx context.Context, model string) (string, error)
	Current() models.LoadedState
}

// Deps are the collaborators factories may need.
type Deps struct {
	Models     ModelEnsurer
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Factory func(cfg ProviderConfig, deps Deps) (Provider, error)

// Registry maps provider type tags to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the remote and local provider types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeRemote, NewRemoteProvider)
	r.Register(TypeLocal, NewLocalProvider)
	return r
}

func (r *Registry) Register(typ string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = factory
}

// Create validates cfg and builds a provider for its type. Unknown types
// fail here so misconfiguration surfaces at startup.
func (r *Registry) Create(cfg ProviderConfig, deps Deps) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider type %q (known types: %s)", apperr.ErrInvalidArgument, cfg.Type, strings.Join(r.Types(), ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return factory(cfg, deps)
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

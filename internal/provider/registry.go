package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/repository"
	"go.uber.org/zap"
)

// Registry resolves persisted provider rows into live adapters. Adapters are
// built once per Load, so an inactive or broken row never surfaces at send
// time.
type Registry struct {
	providers repository.ProviderRepository
	logger    *zap.Logger

	mu      sync.RWMutex
	byID    map[string]registryEntry
	ordered []registryEntry
}

type registryEntry struct {
	config  domain.Provider
	adapter Provider
}

func NewRegistry(providers repository.ProviderRepository, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		providers: providers,
		logger:    logger,
		byID:      make(map[string]registryEntry),
	}
}

// Load reads provider rows and builds adapters for active ones. Rows with a
// broken config are skipped with a log line rather than failing the load.
func (r *Registry) Load(ctx context.Context) error {
	rows, err := r.providers.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list providers: %w", err)
	}

	byID := make(map[string]registryEntry, len(rows))
	ordered := make([]registryEntry, 0, len(rows))
	for _, row := range rows {
		if !row.IsActive {
			continue
		}

		adapter, err := buildAdapter(row)
		if err != nil {
			r.logger.Warn("skipping provider with invalid config",
				zap.String("provider", row.Name),
				zap.Error(err))
			continue
		}

		entry := registryEntry{config: row, adapter: adapter}
		byID[row.ID] = entry
		ordered = append(ordered, entry)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].config.Priority < ordered[j].config.Priority
	})

	r.mu.Lock()
	r.byID = byID
	r.ordered = ordered
	r.mu.Unlock()

	r.logger.Info("provider registry loaded", zap.Int("providers", len(ordered)))
	return nil
}

// Select resolves the adapter for a send. An explicit provider id must exist,
// be active, and support the channel. Without one the active provider with
// the lowest priority number that supports the channel wins.
func (r *Registry) Select(_ context.Context, channel domain.Channel, explicitID string) (Provider, *domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if explicitID != "" {
		entry, ok := r.byID[explicitID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: provider %s", domain.ErrProviderNotFound, explicitID)
		}
		if !entry.config.SupportsChannel(channel) {
			return nil, nil, fmt.Errorf("%w: provider %s does not support channel %s",
				domain.ErrProviderNotFound, entry.config.Name, channel)
		}
		cfg := entry.config
		return entry.adapter, &cfg, nil
	}

	for _, entry := range r.ordered {
		if entry.config.SupportsChannel(channel) {
			cfg := entry.config
			return entry.adapter, &cfg, nil
		}
	}

	return nil, nil, fmt.Errorf("%w: no active provider for channel %s", domain.ErrProviderNotFound, channel)
}

func buildAdapter(p domain.Provider) (Provider, error) {
	switch p.Kind {
	case domain.ProviderKindHTTP:
		return NewHTTPProvider(p)
	case domain.ProviderKindMock:
		return NewMockProvider(p)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// Send routes a message through the channel-specific method of the adapter.
func Send(ctx context.Context, p Provider, channel domain.Channel, msg Message) (*SendResult, error) {
	switch channel {
	case domain.ChannelSMS:
		return p.SendSMS(ctx, msg)
	case domain.ChannelEmail:
		return p.SendEmail(ctx, msg)
	case domain.ChannelWhatsApp:
		return p.SendWhatsApp(ctx, msg)
	default:
		return nil, fmt.Errorf("%w: unsupported channel %q", domain.ErrValidation, channel)
	}
}

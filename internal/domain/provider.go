package domain

import "time"

// ProviderKind is the closed set of backend variants. Persisted provider rows
// resolve to one of these once at registry-load time.
type ProviderKind string

const (
	ProviderKindHTTP ProviderKind = "HTTP"
	ProviderKindMock ProviderKind = "MOCK"
)

func (k ProviderKind) String() string { return string(k) }

func (k ProviderKind) IsValid() bool {
	return k == ProviderKindHTTP || k == ProviderKindMock
}

// Provider is the persisted configuration for one pluggable backend.
type Provider struct {
	ID            string
	Name          string
	Kind          ProviderKind
	Channels      []Channel
	Priority      int
	IsActive      bool
	DeliversAsync bool
	Config        map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SupportsChannel reports whether the provider is registered for a channel.
func (p *Provider) SupportsChannel(channel Channel) bool {
	for _, c := range p.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

// ServiceUser is the authenticated tenant owning notifications and webhooks.
// Authentication itself lives outside this service; only the reference is
// persisted here.
type ServiceUser struct {
	ID        string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

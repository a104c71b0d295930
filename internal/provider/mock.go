package provider

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/selimunal/notification-relay/internal/domain"
)

// Config keys understood by MockProvider.
const (
	cfgFailureRate = "failure_rate"
	cfgLatencyMS   = "latency_ms"
)

// MockProvider accepts everything without external calls. A configurable
// failure rate makes it useful for exercising the retry path in staging.
type MockProvider struct {
	name          string
	deliversAsync bool
	failureRate   float64
	latency       time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

func NewMockProvider(p domain.Provider) (*MockProvider, error) {
	failureRate := 0.0
	if raw, ok := p.Config[cfgFailureRate]; ok {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return nil, fmt.Errorf("provider %q: invalid %s %q", p.Name, cfgFailureRate, raw)
		}
		failureRate = parsed
	}

	var latency time.Duration
	if raw, ok := p.Config[cfgLatencyMS]; ok {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("provider %q: invalid %s %q", p.Name, cfgLatencyMS, raw)
		}
		latency = time.Duration(parsed) * time.Millisecond
	}

	return &MockProvider{
		name:          p.Name,
		deliversAsync: p.DeliversAsync,
		failureRate:   failureRate,
		latency:       latency,
		rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (p *MockProvider) Name() string        { return p.name }
func (p *MockProvider) DeliversAsync() bool { return p.deliversAsync }

func (p *MockProvider) SendSMS(ctx context.Context, msg Message) (*SendResult, error) {
	return p.send(ctx, msg)
}

func (p *MockProvider) SendEmail(ctx context.Context, msg Message) (*SendResult, error) {
	return p.send(ctx, msg)
}

func (p *MockProvider) SendWhatsApp(ctx context.Context, msg Message) (*SendResult, error) {
	return p.send(ctx, msg)
}

func (p *MockProvider) send(ctx context.Context, _ Message) (*SendResult, error) {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if p.failureRate > 0 && p.roll() < p.failureRate {
		return nil, &ProviderError{
			StatusCode: 503,
			Message:    "simulated provider failure",
			Transient:  true,
		}
	}

	return &SendResult{
		Success:     true,
		MessageIDs:  map[string]string{p.name: "mock-" + uuid.NewString()},
		RawResponse: `{"status":"accepted"}`,
	}, nil
}

func (p *MockProvider) roll() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand.Float64()
}

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/selimunal/notification-relay/internal/domain"
)

const defaultSendTimeout = 10 * time.Second

// Config keys understood by HTTPProvider.
const (
	cfgBaseURL      = "base_url"
	cfgAuthHeader   = "auth_header"
	cfgAuthKey      = "auth_key"
	cfgSMSPath      = "sms_path"
	cfgEmailPath    = "email_path"
	cfgWhatsAppPath = "whatsapp_path"
)

type sendRequest struct {
	NotificationID string `json:"notification_id"`
	To             string `json:"to"`
	Channel        string `json:"channel"`
	Content        string `json:"content"`
	Subject        string `json:"subject,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	RequestID string `json:"request_id"`
}

// HTTPProvider delivers notifications through a JSON-over-HTTP gateway. Paths
// and credentials come from the provider row's config map, so one adapter
// serves any gateway that speaks this shape.
type HTTPProvider struct {
	client        *resty.Client
	name          string
	deliversAsync bool
	baseURL       string
	authHeader    string
	authKey       string
	paths         map[domain.Channel]string
}

func NewHTTPProvider(p domain.Provider) (*HTTPProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)

	return NewHTTPProviderWithClient(p, client)
}

func NewHTTPProviderWithClient(p domain.Provider, client *resty.Client) (*HTTPProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(p.Config[cfgBaseURL]), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider %q: %s is required", p.Name, cfgBaseURL)
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("provider %q: invalid %s: %w", p.Name, cfgBaseURL, err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	authHeader := strings.TrimSpace(p.Config[cfgAuthHeader])
	if authHeader == "" {
		authHeader = "Authkey"
	}

	return &HTTPProvider{
		client:        client,
		name:          p.Name,
		deliversAsync: p.DeliversAsync,
		baseURL:       baseURL,
		authHeader:    authHeader,
		authKey:       strings.TrimSpace(p.Config[cfgAuthKey]),
		paths: map[domain.Channel]string{
			domain.ChannelSMS:      pathOrDefault(p.Config[cfgSMSPath], "/sms"),
			domain.ChannelEmail:    pathOrDefault(p.Config[cfgEmailPath], "/email"),
			domain.ChannelWhatsApp: pathOrDefault(p.Config[cfgWhatsAppPath], "/whatsapp"),
		},
	}, nil
}

func (p *HTTPProvider) Name() string        { return p.name }
func (p *HTTPProvider) DeliversAsync() bool { return p.deliversAsync }

func (p *HTTPProvider) SendSMS(ctx context.Context, msg Message) (*SendResult, error) {
	return p.send(ctx, domain.ChannelSMS, msg)
}

func (p *HTTPProvider) SendEmail(ctx context.Context, msg Message) (*SendResult, error) {
	return p.send(ctx, domain.ChannelEmail, msg)
}

func (p *HTTPProvider) SendWhatsApp(ctx context.Context, msg Message) (*SendResult, error) {
	return p.send(ctx, domain.ChannelWhatsApp, msg)
}

func (p *HTTPProvider) send(ctx context.Context, channel domain.Channel, msg Message) (*SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(msg.Recipient) == "" {
		return nil, fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}

	reqBody := sendRequest{
		NotificationID: msg.NotificationID,
		To:             msg.Recipient,
		Channel:        strings.ToLower(channel.String()),
		Content:        msg.Content,
		Subject:        msg.Subject,
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody)
	if p.authKey != "" {
		req.SetHeader(p.authHeader, p.authKey)
	}

	response, err := req.Post(p.baseURL + p.paths[channel])
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResult{
			Success:     true,
			MessageIDs:  extractMessageIDs(p.name, response),
			RawResponse: responseBody,
		}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    sendErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func sendErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

// extractMessageIDs pulls the gateway-assigned id from the response body or
// common correlation headers. The id is stored on the notification so later
// inbound callbacks can be matched back.
func extractMessageIDs(providerName string, response *resty.Response) map[string]string {
	if response == nil {
		return nil
	}

	var body sendResponse
	if err := json.Unmarshal(response.Body(), &body); err == nil {
		if id := strings.TrimSpace(body.MessageID); id != "" {
			return map[string]string{providerName: id}
		}
		if id := strings.TrimSpace(body.RequestID); id != "" {
			return map[string]string{providerName: id}
		}
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return map[string]string{providerName: value}
		}
	}

	return nil
}

func pathOrDefault(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

package synchronize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carverauto/provisiond/pkg/logger"
)

// AMIConfig locates the AMI gateway exposing Asterisk manager actions
// over HTTP.
type AMIConfig struct {
	Scheme   string        `json:"scheme"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Username string        `json:"username"`
	Password string        `json:"password"`
	Timeout  time.Duration `json:"timeout"`
}

func (c *AMIConfig) withDefaults() AMIConfig {
	out := *c

	if out.Scheme == "" {
		out.Scheme = "https"
	}

	if out.Port == 0 {
		out.Port = 9491
	}

	if out.Timeout == 0 {
		out.Timeout = 10 * time.Second
	}

	return out
}

// AMIBackend sends SIP NOTIFY requests through an HTTP AMI gateway, using
// the PJSIPNotify manager action.
type AMIBackend struct {
	config AMIConfig
	client *http.Client
	log    logger.Logger
}

func NewAMIBackend(config *AMIConfig, log logger.Logger) *AMIBackend {
	if log == nil {
		log = logger.NewTestLogger()
	}

	cfg := config.withDefaults()

	return &AMIBackend{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

func (b *AMIBackend) Type() string { return amiBackendType }

func (b *AMIBackend) SIPNotifyByPeer(ctx context.Context, peer, event string, extraVars []string) error {
	return b.sipNotify(ctx, map[string]any{"Endpoint": peer}, event, extraVars)
}

func (b *AMIBackend) SIPNotifyByIP(ctx context.Context, ip, event string, extraVars []string) error {
	destination := map[string]any{"URI": fmt.Sprintf("sip:anonymous@%s", ip)}

	return b.sipNotify(ctx, destination, event, extraVars)
}

func (b *AMIBackend) sipNotify(ctx context.Context, destination map[string]any, event string, extraVars []string) error {
	b.log.Debug().
		Interface("destination", destination).
		Str("event", event).
		Strs("extra_vars", extraVars).
		Msg("Sending SIP notify")

	variables := make([]string, 0, len(extraVars)+1)
	variables = append(variables, fmt.Sprintf("Event=%s", event))
	variables = append(variables, extraVars...)

	params := map[string]any{"Variable": variables}
	for key, value := range destination {
		params[key] = value
	}

	return b.action(ctx, "PJSIPNotify", params)
}

func (b *AMIBackend) action(ctx context.Context, action string, params map[string]any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: encoding %s action: %w", ErrSynchronize, action, err)
	}

	url := fmt.Sprintf("%s://%s:%d/api/amid/1.0/action/%s", b.config.Scheme, b.config.Host, b.config.Port, action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building %s request: %w", ErrSynchronize, action, err)
	}

	req.Header.Set("Content-Type", "application/json")

	if b.config.Username != "" {
		req.SetBasicAuth(b.config.Username, b.config.Password)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s action: %w", ErrSynchronize, action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return fmt.Errorf("%w: %s action returned %d: %s", ErrSynchronize, action, resp.StatusCode, payload)
	}

	return nil
}

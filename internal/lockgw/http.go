package lockgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pod-booking-backend/config"
)

// envelope is the vendor's response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type actuation struct {
	Success bool `json:"success"`
}

type mintedCode struct {
	Pin        string    `json:"pin"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidUntil time.Time `json:"validUntil"`
}

// HTTPGateway is the vendor REST client. Outgoing calls share one rate limiter.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewHTTPGateway builds a client from the lock section of the config.
func NewHTTPGateway(cfg *config.LockConfig, log *zap.Logger) *HTTPGateway {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn("invalid lock vendor proxy URL, connecting directly",
				zap.String("proxy", cfg.HTTPProxy), zap.Error(err))
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1),
		log:     log,
	}
}

func (g *HTTPGateway) LockDevice(ctx context.Context, lockID string) (bool, error) {
	return g.actuate(ctx, lockID, "lock")
}

func (g *HTTPGateway) UnlockDevice(ctx context.Context, lockID string) (bool, error) {
	return g.actuate(ctx, lockID, "unlock")
}

func (g *HTTPGateway) actuate(ctx context.Context, lockID, action string) (bool, error) {
	var out actuation
	path := fmt.Sprintf("/locks/%s/%s", url.PathEscape(lockID), action)
	if err := g.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

func (g *HTTPGateway) GenerateAccessCode(ctx context.Context, lockID string) (*Code, error) {
	var out mintedCode
	path := fmt.Sprintf("/locks/%s/codes", url.PathEscape(lockID))
	if err := g.do(ctx, http.MethodPost, path, map[string]any{}, &out); err != nil {
		return nil, err
	}
	if out.Pin == "" {
		return nil, fmt.Errorf("vendor returned an empty code for lock %s", lockID)
	}
	return &Code{Code: out.Pin, ValidFrom: out.ValidFrom, ValidUntil: out.ValidUntil}, nil
}

func (g *HTTPGateway) RevokeAccessCode(ctx context.Context, lockID, code string) error {
	path := fmt.Sprintf("/locks/%s/codes/%s", url.PathEscape(lockID), url.PathEscape(code))
	return g.do(ctx, http.MethodDelete, path, nil, nil)
}

// do performs one vendor call and decodes the envelope's data into out.
func (g *HTTPGateway) do(ctx context.Context, method, path string, payload any, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	g.log.Debug("lock vendor call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to unmarshal vendor response: %w", err)
	}
	if env.Code != 0 {
		return fmt.Errorf("vendor returned application code %d: %s", env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal vendor data: %w", err)
	}
	return nil
}

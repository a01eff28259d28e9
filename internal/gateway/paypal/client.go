// Package paypal реализует REST-клиент PayPal: OAuth-токен, заказы, capture, возвраты и курс валют.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

const (
	// SandboxBaseURL — адрес песочницы PayPal.
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"

	defaultTimeout     = 15 * time.Second
	tokenExpiryLeeway  = time.Minute
	maxResponseBody    = 1 << 20
	breakerMaxRequests = 1
	breakerInterval    = time.Minute
	breakerOpenTimeout = 30 * time.Second
	breakerTripAfter   = 5
)

// Config задаёт параметры подключения к PayPal.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	UserAgent    string
}

// APIError описывает ответ PayPal с кодом не из диапазона 2xx.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Name != "" {
		return fmt.Sprintf("paypal %d %s: %s", e.StatusCode, e.Name, msg)
	}
	return fmt.Sprintf("paypal %d: %s", e.StatusCode, msg)
}

// clientFault сообщает, что ошибку вызвал запрос, а не доступность PayPal.
func (e *APIError) clientFault() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Client реализует domain.PaymentGateway поверх PayPal REST API. Потокобезопасен.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	userAgent    string
	http         *http.Client
	breaker      *gobreaker.CircuitBreaker[[]byte]
	logger       *log.Entry
	now          func() time.Time

	tokenGroup singleflight.Group
	tokenMu    sync.Mutex
	token      string
	tokenExp   time.Time
}

// Option настраивает клиента.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент (тесты, собственный транспорт).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock подменяет источник времени для кэша токена.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New создаёт клиента. Транспорт по умолчанию инструментирован OpenTelemetry.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("paypal client id and secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid paypal base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		userAgent:    cfg.UserAgent,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log.New().WithField("component", "paypal-client"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "paypal",
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.clientFault())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithFields(log.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("paypal circuit breaker state changed")
		},
	})
	return c, nil
}

// accessToken возвращает закэшированный токен или получает новый. Параллельные запросы делят одно обновление.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken(); ok {
		return token, nil
	}

	v, err, _ := c.tokenGroup.Do("token", func() (any, error) {
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) cachedToken() (string, bool) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, true
	}
	return "", false
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, err := c.send(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode access token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("paypal returned empty access token")
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenExpiryLeeway
	if ttl <= 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}

	c.tokenMu.Lock()
	c.token = tok.AccessToken
	c.tokenExp = c.now().Add(ttl)
	c.tokenMu.Unlock()
	return tok.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenExp = time.Time{}
	c.tokenMu.Unlock()
}

// doJSON выполняет авторизованный JSON-запрос и декодирует ответ в out.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	body, err := c.send(req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
		}
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// send пропускает запрос через circuit breaker. Ответы не из 2xx возвращаются как *APIError.
func (c *Client) send(req *http.Request) ([]byte, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	started := c.now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, parseAPIError(resp.StatusCode, raw)
		}
		return raw, nil
	})

	entry := c.logger.WithFields(log.Fields{
		"method":      req.Method,
		"path":        req.URL.Path,
		"duration_ms": c.now().Sub(started).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("paypal request failed")
		return nil, err
	}
	entry.Debug("paypal request completed")
	return body, nil
}

func parseAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var payload struct {
		Name             string `json:"name"`
		Message          string `json:"message"`
		DebugID          string `json:"debug_id"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Name = payload.Name
		apiErr.Message = payload.Message
		apiErr.DebugID = payload.DebugID
		if apiErr.Name == "" {
			apiErr.Name = payload.Error
		}
		if apiErr.Message == "" {
			apiErr.Message = payload.ErrorDescription
		}
	}
	return apiErr
}

package remote

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/license-sync/internal/config"
	"github.com/magabrotheeeer/license-sync/internal/lib/sl"
	"github.com/magabrotheeeer/license-sync/internal/metrics"
)

const maxResponseSize = 4 << 20

// HTTPClient подписывает вызовы ключами области и отправляет их по HTTP.
type HTTPClient struct {
	baseURL    string
	moduleID   int64
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
	now        func() time.Time
}

// NewHTTPClient создаёт клиент с фиксированным таймаутом и ограничением частоты.
func NewHTTPClient(cfg config.Remote, moduleID int64, log *slog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		moduleID:   moduleID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
		now:        time.Now,
	}
}

// Call выполняет подписанный вызов в области scope.
func (c *HTTPClient) Call(ctx context.Context, scope Scope, creds Credentials, method, path string, params any) (*Result, error) {
	const op = "remote.Call"
	start := time.Now()
	res, err := c.call(ctx, scope, creds, method, path, params)
	metrics.RemoteLatency.WithLabelValues(string(scope)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteCalls.WithLabelValues(string(scope), kindOf(err).String()).Inc()
		c.log.Debug("remote call failed",
			slog.String("op", op),
			slog.String("scope", string(scope)),
			slog.String("method", method),
			slog.String("path", path),
			sl.Err(err),
		)
		return nil, err
	}
	metrics.RemoteCalls.WithLabelValues(string(scope), "ok").Inc()
	return res, nil
}

func (c *HTTPClient) call(ctx context.Context, scope Scope, creds Credentials, method, path string, params any) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	req, err := c.newRequest(ctx, scope, creds, method, path, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Status: resp.StatusCode, Err: err}
	}
	return classifyResponse(resp.StatusCode, body)
}

func classifyResponse(status int, body []byte) (*Result, error) {
	res, err := Parse(body)
	if err != nil {
		var re *Error
		if !errors.As(err, &re) {
			return nil, err
		}
		if errors.Is(re.Err, errNonJSON) {
			re.Status = status
			switch {
			case status == http.StatusForbidden:
				re.Kind = KindBlocked
			case status >= http.StatusBadRequest:
				re.Kind = classify("", status)
			}
			return nil, re
		}
		if re.Status == 0 && status >= http.StatusBadRequest {
			re.Status = status
			if re.Kind == KindValidation {
				re.Kind = classify(re.Code, status)
			}
		}
		return nil, re
	}
	if status >= http.StatusBadRequest {
		return nil, &Error{Kind: classify("", status), Status: status}
	}
	return res, nil
}

func (c *HTTPClient) resource(scope Scope, creds Credentials, path string) string {
	var prefix string
	switch scope {
	case ScopeUser:
		prefix = fmt.Sprintf("/users/%d", creds.ID)
	case ScopeInstall:
		prefix = fmt.Sprintf("/installs/%d", creds.ID)
	default:
		prefix = fmt.Sprintf("/plugins/%d", c.moduleID)
	}
	if path == "" || path == "/" {
		return prefix + ".json"
	}
	return prefix + "/" + strings.TrimLeft(path, "/")
}

func (c *HTTPClient) newRequest(ctx context.Context, scope Scope, creds Credentials, method, path string, params any) (*http.Request, error) {
	resource := c.resource(scope, creds, path)
	target := c.baseURL + resource

	var body []byte
	if params != nil {
		if method == http.MethodGet {
			q, err := query(params)
			if err != nil {
				return nil, err
			}
			if q != "" {
				sep := "?"
				if strings.Contains(target, "?") {
					sep = "&"
				}
				target += sep + q
			}
		} else {
			b, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			body = b
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	contentType := ""
	if len(body) > 0 {
		contentType = "application/json"
		req.Header.Set("Content-Type", contentType)
	}
	date := c.now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("Authorization", authorization(scope, creds, method, resource, contentType, date, body))
	return req, nil
}

func authorization(scope Scope, creds Credentials, method, resource, contentType, date string, body []byte) string {
	if scope == ScopePlugin || creds.SecretKey == "" {
		return fmt.Sprintf("FSP %d:%s", creds.ID, creds.PublicKey)
	}
	return fmt.Sprintf("FS %d:%s:%s", creds.ID, creds.PublicKey,
		Sign(creds.SecretKey, method, resource, contentType, date, body))
}

// Sign вычисляет подпись запроса секретным ключом области.
func Sign(secret, method, resource, contentType, date string, body []byte) string {
	var contentMD5 string
	if len(body) > 0 {
		sum := md5.Sum(body)
		contentMD5 = hex.EncodeToString(sum[:])
	}
	toSign := strings.Join([]string{method, contentMD5, contentType, date, resource}, "\n")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(toSign))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func query(params any) (string, error) {
	switch p := params.(type) {
	case url.Values:
		return p.Encode(), nil
	case map[string]string:
		v := url.Values{}
		for k, val := range p {
			v.Set(k, val)
		}
		return v.Encode(), nil
	default:
		b, err := json.Marshal(params)
		if err != nil {
			return "", err
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return "", err
		}
		v := url.Values{}
		for k, val := range m {
			v.Set(k, fmt.Sprint(val))
		}
		return v.Encode(), nil
	}
}

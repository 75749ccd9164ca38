package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/bometrics"
	"github.com/virtualcc/backoffice/internal/backoffice/netutil"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultAPIURL   = "https://api.xero.com"
	DefaultTokenURL = "https://identity.xero.com/connect/token"

	accountingPath = "/api.xro/2.0"
	provider       = "xero"
	errorBodyLimit = 4096
)

var defaultScopes = []string{"accounting.transactions", "accounting.contacts"}

// Config holds the credentials and endpoints of a Xero custom connection.
type Config struct {
	ClientID     string
	ClientSecret string
	// TenantID is optional; the first connected organisation is used when empty.
	TenantID   string
	APIURL     string
	TokenURL   string
	Scopes     []string
	HTTPClient *http.Client
}

// Client calls the Xero accounting API with client-credentials tokens.
type Client struct {
	http   *http.Client
	apiURL string

	mu       sync.Mutex
	tenantID string
}

// NewClient creates a Xero client. Tokens are fetched lazily and reused until
// they expire.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		var missing []string
		if strings.TrimSpace(cfg.ClientID) == "" {
			missing = append(missing, "XERO_CLIENT_ID")
		}
		if strings.TrimSpace(cfg.ClientSecret) == "" {
			missing = append(missing, "XERO_CLIENT_SECRET")
		}
		return nil, fmt.Errorf("xero credentials missing: %s", strings.Join(missing, ", "))
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	base := cfg.HTTPClient
	if base == nil {
		base = netutil.NewHTTPClient(nil, 0)
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	return &Client{
		http:     cc.Client(tokenCtx),
		apiURL:   apiURL,
		tenantID: strings.TrimSpace(cfg.TenantID),
	}, nil
}

type connection struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
	TenantType string `json:"tenantType"`
}

// TenantID returns the configured organisation, resolving it from the
// connections endpoint on first use when not configured.
func (c *Client) TenantID(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tenantID != "" {
		return c.tenantID, nil
	}

	var conns []connection
	if err := c.send(ctx, "xero.connections", http.MethodGet, c.apiURL+"/connections", "", nil, &conns); err != nil {
		return "", err
	}
	if len(conns) == 0 || conns[0].TenantID == "" {
		return "", boerrors.Upstream("xero.connections", provider, fmt.Errorf("no Xero tenants found"))
	}
	c.tenantID = conns[0].TenantID
	log.Info().Str("tenant_id", c.tenantID).Str("tenant_name", conns[0].TenantName).Msg("Resolved Xero tenant from connections")
	return c.tenantID, nil
}

// accounting performs a request against the accounting API for the current tenant.
func (c *Client) accounting(ctx context.Context, op, method, resource string, query url.Values, body, out any) error {
	tenant, err := c.TenantID(ctx)
	if err != nil {
		return err
	}
	u := c.apiURL + accountingPath + "/" + resource
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.send(ctx, op, method, u, tenant, body, out)
}

func (c *Client) send(ctx context.Context, op, method, u, tenant string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return boerrors.New(boerrors.ErrorTypeInternal, op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return boerrors.New(boerrors.ErrorTypeInternal, op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set("Xero-tenant-id", tenant)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		bometrics.XeroRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		log.Error().Err(err).Str("op", op).Msg("Xero request failed")
		return boerrors.Upstream(op, provider, err)
	}
	defer resp.Body.Close()
	bometrics.XeroRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		log.Error().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("body", string(snippet)).
			Msg("Xero API returned an error")
		return boerrors.Upstream(op, provider, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))).
			WithStatusCode(resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return boerrors.Upstream(op, provider, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// whereEquals builds an exact-match clause for Xero's where parameter.
func whereEquals(field, value string) (string, error) {
	if strings.ContainsAny(value, "\"\\") {
		return "", fmt.Errorf("%s contains characters not allowed in a Xero filter", field)
	}
	return fmt.Sprintf("%s==%q", field, value), nil
}

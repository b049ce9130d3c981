package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	sandboxBaseURL      = "https://sandbox-quickbooks.api.intuit.com"
	productionBaseURL   = "https://quickbooks.api.intuit.com"
	defaultMinorVersion = "65"
)

// Gateway is the subset of the ledger API the sync core needs.
// Find* return (nil, nil) when nothing matches.
type Gateway interface {
	CreateCustomer(ctx context.Context, c Customer) (*Customer, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) (*Customer, error)
	FindCustomerByName(ctx context.Context, name string) (*Customer, error)
	CreateItem(ctx context.Context, item Item) (*Item, error)
	GetItem(ctx context.Context, id string) (*Item, error)
	UpdateItem(ctx context.Context, item Item) (*Item, error)
	FindItemByName(ctx context.Context, name string) (*Item, error)
	CreateSalesReceipt(ctx context.Context, receipt SalesReceipt) (*SalesReceipt, error)
}

type Config struct {
	BaseURL         string
	RealmId         string
	AccessToken     string
	MinorVersion    string
	RateLimitPerMin int
	Timeout         time.Duration
}

// ConfigFromEnv picks the base URL for the environment unless LEDGER_API_BASE_URL overrides it.
func ConfigFromEnv(environment string, realmId string) Config {
	baseURL := strings.TrimSpace(os.Getenv("LEDGER_API_BASE_URL"))
	if baseURL == "" {
		baseURL = sandboxBaseURL
		if environment == "production" {
			baseURL = productionBaseURL
		}
	}
	minor := strings.TrimSpace(os.Getenv("LEDGER_API_MINOR_VERSION"))
	if minor == "" {
		minor = defaultMinorVersion
	}
	rateLimitPerMin := 400
	if v := strings.TrimSpace(os.Getenv("LEDGER_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	return Config{
		BaseURL:         baseURL,
		RealmId:         realmId,
		AccessToken:     strings.TrimSpace(os.Getenv("LEDGER_ACCESS_TOKEN")),
		MinorVersion:    minor,
		RateLimitPerMin: rateLimitPerMin,
		Timeout:         30 * time.Second,
	}
}

type Client struct {
	baseURL      string
	realmId      string
	accessToken  string
	minorVersion string
	http         *http.Client
	limiter      <-chan time.Time
}

var _ Gateway = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("ledger access token is empty")
	}
	if strings.TrimSpace(cfg.RealmId) == "" {
		return nil, errors.New("ledger realm id is empty")
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 400
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinorVersion == "" {
		cfg.MinorVersion = defaultMinorVersion
	}
	interval := time.Minute / time.Duration(cfg.RateLimitPerMin)
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		realmId:      cfg.RealmId,
		accessToken:  cfg.AccessToken,
		minorVersion: cfg.MinorVersion,
		http:         &http.Client{Timeout: cfg.Timeout},
		limiter:      time.Tick(interval),
	}, nil
}

func (c *Client) CreateCustomer(ctx context.Context, cust Customer) (*Customer, error) {
	var out struct {
		Customer Customer `json:"Customer"`
	}
	if err := c.do(ctx, http.MethodPost, "customer", nil, cust, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var out struct {
		Customer Customer `json:"Customer"`
	}
	if err := c.do(ctx, http.MethodGet, "customer/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

// UpdateCustomer sends a sparse update; cust must carry Id and a fresh SyncToken.
func (c *Client) UpdateCustomer(ctx context.Context, cust Customer) (*Customer, error) {
	cust.Sparse = true
	var out struct {
		Customer Customer `json:"Customer"`
	}
	if err := c.do(ctx, http.MethodPost, "customer", nil, cust, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

func (c *Client) FindCustomerByName(ctx context.Context, name string) (*Customer, error) {
	var out struct {
		QueryResponse struct {
			Customer []Customer `json:"Customer"`
		} `json:"QueryResponse"`
	}
	q := fmt.Sprintf("select * from Customer where DisplayName = '%s'", EscapeQueryValue(name))
	if err := c.query(ctx, q, &out); err != nil {
		return nil, err
	}
	if len(out.QueryResponse.Customer) == 0 {
		return nil, nil
	}
	return &out.QueryResponse.Customer[0], nil
}

func (c *Client) CreateItem(ctx context.Context, item Item) (*Item, error) {
	var out struct {
		Item Item `json:"Item"`
	}
	if err := c.do(ctx, http.MethodPost, "item", nil, item, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	var out struct {
		Item Item `json:"Item"`
	}
	if err := c.do(ctx, http.MethodGet, "item/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

func (c *Client) UpdateItem(ctx context.Context, item Item) (*Item, error) {
	item.Sparse = true
	var out struct {
		Item Item `json:"Item"`
	}
	if err := c.do(ctx, http.MethodPost, "item", nil, item, &out); err != nil {
		return nil, err
	}
	return &out.Item, nil
}

func (c *Client) FindItemByName(ctx context.Context, name string) (*Item, error) {
	var out struct {
		QueryResponse struct {
			Item []Item `json:"Item"`
		} `json:"QueryResponse"`
	}
	q := fmt.Sprintf("select * from Item where Name = '%s'", EscapeQueryValue(name))
	if err := c.query(ctx, q, &out); err != nil {
		return nil, err
	}
	if len(out.QueryResponse.Item) == 0 {
		return nil, nil
	}
	return &out.QueryResponse.Item[0], nil
}

func (c *Client) CreateSalesReceipt(ctx context.Context, receipt SalesReceipt) (*SalesReceipt, error) {
	var out struct {
		SalesReceipt SalesReceipt `json:"SalesReceipt"`
	}
	if err := c.do(ctx, http.MethodPost, "salesreceipt", nil, receipt, &out); err != nil {
		return nil, err
	}
	return &out.SalesReceipt, nil
}

func (c *Client) query(ctx context.Context, q string, dest any) error {
	params := url.Values{}
	params.Set("query", q)
	return c.do(ctx, http.MethodGet, "query", params, nil, dest)
}

func (c *Client) do(ctx context.Context, method string, path string, params url.Values, body any, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.limiter:
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("minorversion", c.minorVersion)
	endpoint := fmt.Sprintf("%s/v3/company/%s/%s?%s", c.baseURL, url.PathEscape(c.realmId), path, params.Encode())

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if apiErr := parseFault(resp.StatusCode, raw); apiErr != nil {
		return apiErr
	}
	if dest == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

// parseFault returns nil for a 2xx response without a Fault body.
func parseFault(status int, raw []byte) *Error {
	var fb faultBody
	_ = json.Unmarshal(raw, &fb)
	if fb.Fault != nil && len(fb.Fault.Error) > 0 {
		first := fb.Fault.Error[0]
		if status < 300 {
			status = http.StatusBadRequest
		}
		return &Error{StatusCode: status, Code: first.Code, Message: first.Message, Detail: first.Detail}
	}
	if status >= 200 && status < 300 {
		return nil
	}
	return &Error{StatusCode: status, Message: strings.TrimSpace(string(raw))}
}

// EscapeQueryValue escapes a literal for use inside single quotes in a ledger query.
func EscapeQueryValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

package remotedb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the Cloudflare D1 database endpoint template (account id, database id).
const DefaultBaseURL = "https://api.cloudflare.com/client/v4/accounts/%s/d1/database/%s"

// DefaultTimeout bounds every remote call when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// Logger is the subset of the application logger the client uses.
type Logger interface {
	LogInfo(message string, details ...string)
	LogWarning(message string, details ...string)
	LogError(message string, err error, details ...string)
}

type nopLogger struct{}

func (nopLogger) LogInfo(string, ...string)         {}
func (nopLogger) LogWarning(string, ...string)      {}
func (nopLogger) LogError(string, error, ...string) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

// Options configures a Client.
type Options struct {
	AccountID  string
	DatabaseID string
	APIToken   string

	// BaseURL replaces the D1 endpoint, e.g. for the local emulator.
	BaseURL string
	// Timeout bounds each call, also when HTTPClient is supplied.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     Logger
}

// Validate reports every missing required value at once.
func (o Options) Validate() error {
	var missing []string
	if strings.TrimSpace(o.AccountID) == "" {
		missing = append(missing, "account id")
	}
	if strings.TrimSpace(o.DatabaseID) == "" {
		missing = append(missing, "database id")
	}
	if strings.TrimSpace(o.APIToken) == "" {
		missing = append(missing, "api token")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}
	if o.Timeout < 0 {
		return &ConfigError{Reason: "timeout must not be negative"}
	}
	return nil
}

// Client sends SQL statements to the remote query endpoint.
// It is safe for concurrent use and never retries.
type Client struct {
	endpoint   string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     Logger
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = fmt.Sprintf(DefaultBaseURL, opts.AccountID, opts.DatabaseID)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = NopLogger
	}

	return &Client{
		endpoint:   base + "/query",
		token:      opts.APIToken,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Endpoint returns the query URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type queryResponse struct {
	Success bool          `json:"success"`
	Result  []RowSet      `json:"result"`
	Errors  []ErrorDetail `json:"errors"`
}

// Query runs one statement and returns its first result set.
func (c *Client) Query(ctx context.Context, sql string, params ...any) (*RowSet, error) {
	return c.do(ctx, NewStatement(sql, params...))
}

// Execute is Query for statements whose rows are not needed.
func (c *Client) Execute(ctx context.Context, sql string, params ...any) (*RowSet, error) {
	return c.do(ctx, NewStatement(sql, params...))
}

// Batch runs statements one after another and stops at the first failure.
// Statements applied before the failure stay applied; the returned slice
// holds their results.
func (c *Client) Batch(ctx context.Context, stmts []Statement) ([]*RowSet, error) {
	results := make([]*RowSet, 0, len(stmts))
	for i, stmt := range stmts {
		if stmt.Params == nil {
			stmt.Params = []any{}
		}
		rs, err := c.do(ctx, stmt)
		if err != nil {
			return results, &BatchError{Index: i + 1, Err: err}
		}
		results = append(results, rs)
	}
	return results, nil
}

// Ping checks that the endpoint answers and accepts the credential.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT 1 AS ok")
	return err
}

func (c *Client) do(ctx context.Context, stmt Statement) (*RowSet, error) {
	payload, err := json.Marshal(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode statement: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		c.logger.LogError("[REMOTE DB] request failed", err, summarize(stmt.SQL))
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.LogError("[REMOTE DB] reading response failed", err, summarize(stmt.SQL))
		return nil, &TransportError{StatusCode: 0, Err: fmt.Errorf("error reading response: %w", err)}
	}

	var parsed queryResponse
	decodeErr := decode(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.classifyStatus(resp.StatusCode, body, parsed, decodeErr, stmt.SQL)
	}

	if decodeErr != nil {
		c.logger.LogError("[REMOTE DB] malformed response", decodeErr, summarize(stmt.SQL))
		return nil, &TransportError{StatusCode: 0, Err: fmt.Errorf("malformed response body: %w", decodeErr)}
	}

	if !parsed.Success {
		for _, d := range parsed.Errors {
			if looksLikeAuthFailure(d.Code, d.Message) {
				c.logger.LogWarning("[REMOTE DB] credential rejected", d.Message)
				return nil, &AuthError{StatusCode: resp.StatusCode, Message: d.Message}
			}
		}
		backendErr := &BackendError{StatusCode: resp.StatusCode, Errors: parsed.Errors}
		c.logger.LogError("[REMOTE DB] statement failed", backendErr, summarize(stmt.SQL))
		return nil, backendErr
	}

	if len(parsed.Result) == 0 {
		return &RowSet{Rows: []Row{}}, nil
	}
	rs := parsed.Result[0]
	if rs.Rows == nil {
		rs.Rows = []Row{}
	}
	return &rs, nil
}

func (c *Client) classifyStatus(status int, body []byte, parsed queryResponse, decodeErr error, sql string) error {
	text := truncate(string(body))

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		msg := text
		if decodeErr == nil && len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Message
		}
		c.logger.LogWarning("[REMOTE DB] credential rejected", fmt.Sprintf("HTTP %d: %s", status, msg))
		return &AuthError{StatusCode: status, Message: msg}
	}

	if decodeErr == nil {
		for _, d := range parsed.Errors {
			if looksLikeAuthFailure(d.Code, d.Message) {
				c.logger.LogWarning("[REMOTE DB] credential rejected", d.Message)
				return &AuthError{StatusCode: status, Message: d.Message}
			}
		}
		// A 4xx carrying the structured envelope is the service rejecting the statement.
		if status < 500 && !parsed.Success && len(parsed.Errors) > 0 {
			backendErr := &BackendError{StatusCode: status, Errors: parsed.Errors}
			c.logger.LogError("[REMOTE DB] statement failed", backendErr, summarize(sql))
			return backendErr
		}
	}

	err := &TransportError{StatusCode: status, Body: text}
	c.logger.LogError("[REMOTE DB] unexpected HTTP status", err, summarize(sql))
	return err
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func summarize(sql string) string {
	s := strings.Join(strings.Fields(sql), " ")
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return "SQL: " + s
}

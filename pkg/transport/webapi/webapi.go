// Package webapi implements the client transport over the Dataverse Web API
// (OData v4 over HTTPS). It translates between the module's wire records and
// the Web API's JSON conventions for lookups and activity parties.
package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scottdurow/dataverseify/pkg/dataverse"
	"github.com/scottdurow/dataverseify/pkg/metadata"
)

// DefaultAPIPath is appended to an environment URL that has no path.
const DefaultAPIPath = "/api/data/v9.2/"

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// EnvToken reads the bearer token from an environment variable on each call.
type EnvToken string

// Token returns the variable's value, or an error when it is unset.
func (e EnvToken) Token(context.Context) (string, error) {
	v := os.Getenv(string(e))
	if v == "" {
		return "", fmt.Errorf("environment variable %s is not set", string(e))
	}
	return v, nil
}

// Transport sends wire records to the Web API.
type Transport struct {
	baseURL    *url.URL
	registry   *metadata.Registry
	httpClient *http.Client
	tokens     TokenSource
	logger     zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) Option {
	return func(t *Transport) { t.tokens = ts }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(t *Transport) { t.httpClient.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger.With().Str("component", "webapi").Logger() }
}

// New creates a transport for an environment URL such as
// https://org.crm.dynamics.com. The registry resolves entity set names for
// lookups inside action payloads.
func New(environmentURL string, registry *metadata.Registry, opts ...Option) (*Transport, error) {
	u, err := url.Parse(environmentURL)
	if err != nil {
		return nil, fmt.Errorf("invalid environment url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid environment url %q: scheme and host are required", environmentURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultAPIPath
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	t := &Transport{
		baseURL:    u,
		registry:   registry,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// errorBody is the OData error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// request describes one Web API call. Path is relative to the API root.
type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
}

// do sends a request and decodes a JSON response into out when out is
// non-nil. It returns the response headers.
func (t *Transport) do(ctx context.Context, r request, out any) (http.Header, error) {
	ref, err := url.Parse(r.path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", r.path, err)
	}
	u := t.baseURL.ResolveReference(ref)
	if r.query != nil {
		u.RawQuery = r.query.Encode()
	}

	var reader io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, dataverse.NewValidationError("request body is not serializable", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("Prefer", `odata.include-annotations="*"`)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	t.logger.Debug().
		Str("method", r.method).
		Str("path", u.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("web api request")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dataverse.NewServiceError(resp.StatusCode, "failed to read response body", err)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return nil, dataverse.NewServiceError(resp.StatusCode, msg, nil).WithCode(eb.Error.Code)
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return nil, dataverse.NewDeserializationError("response is not valid JSON", err)
		}
	}
	return resp.Header, nil
}

// entityPath is "collection(id)".
func entityPath(md *metadata.EntityMetadata, id string) string {
	return md.CollectionName + "(" + id + ")"
}

// bindPath is the @odata.bind value for a record.
func bindPath(md *metadata.EntityMetadata, id string) string {
	return "/" + entityPath(md, id)
}

// idFromEntityID extracts the record id from an OData-EntityId header.
func idFromEntityID(header string) (string, bool) {
	open := strings.LastIndex(header, "(")
	end := strings.LastIndex(header, ")")
	if open < 0 || end <= open+1 {
		return "", false
	}
	return header[open+1 : end], true
}

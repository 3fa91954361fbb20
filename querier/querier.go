// Package querier talks to the auth core over its REST interface.
//
// All durable auth state (users, devices, codes, tokens) lives in the core.
// The querier negotiates the core driver interface (CDI) version once, spreads
// requests across the configured hosts round-robin, and turns transport and
// status failures into coded errors.
package querier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/panyam/authrecipes/internal/logging"
	"github.com/panyam/authrecipes/recipe"
)

const (
	apiKeyHeader     = "api-key"
	cdiVersionHeader = "cdi-version"
	ridHeader        = "rid"

	apiVersionPath = "/apiversion"

	defaultTimeout = 30 * time.Second
	tracerName     = "github.com/panyam/authrecipes/querier"
)

// Error codes attached to errors returned by the querier.
const (
	CodeUnreachable   = "CORE_UNREACHABLE"
	CodeBadStatus     = "CORE_BAD_STATUS"
	CodeDecode        = "CORE_DECODE"
	CodeIncompatible  = "CORE_INCOMPATIBLE"
	CodeUnknownStatus = "CORE_UNKNOWN_STATUS"
)

// Config locates the core.
type Config struct {
	// ConnectionURI lists one or more core base URLs separated by ";" or ",".
	ConnectionURI string
	// APIKey is sent as the api-key header when set.
	APIKey string
}

// Option configures a Querier.
type Option func(*Querier)

// WithHTTPClient takes the timeout and transport of client.
func WithHTTPClient(client *http.Client) Option {
	return func(q *Querier) {
		if client == nil {
			return
		}
		q.httpClient.Timeout = client.Timeout
		if client.Transport != nil {
			q.baseTransport = client.Transport
		}
	}
}

// WithTransport sets the base transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(q *Querier) { q.baseTransport = transport }
}

// WithLogger sets the logger used for request debug logs.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Querier) { q.logger = logger }
}

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(q *Querier) { q.tracer = tp.Tracer(tracerName) }
}

// Path is a core endpoint path, optionally scoped to a tenant.
type Path struct {
	tenantID string
	path     string
}

// TenantPath scopes path to tenantID, defaulting to the public tenant.
func TenantPath(tenantID, path string) Path {
	if tenantID == "" {
		tenantID = recipe.DefaultTenantID
	}
	return Path{tenantID: tenantID, path: path}
}

// RootPath is an app-wide path with no tenant prefix.
func RootPath(path string) Path {
	return Path{path: path}
}

func (p Path) String() string {
	if p.tenantID == "" {
		return p.path
	}
	return "/" + url.PathEscape(p.tenantID) + p.path
}

type sharedState struct {
	next atomic.Uint64

	mu         sync.Mutex
	apiVersion string
}

// Querier sends requests to the core. It is safe for concurrent use.
type Querier struct {
	hosts         []*url.URL
	httpClient    *http.Client
	baseTransport http.RoundTripper
	logger        *slog.Logger
	tracer        trace.Tracer
	rid           string
	apiKey        string
	state         *sharedState
}

// New parses cfg.ConnectionURI and builds a querier.
func New(cfg Config, opts ...Option) (*Querier, error) {
	hosts, err := parseHosts(cfg.ConnectionURI)
	if err != nil {
		return nil, err
	}

	q := &Querier{
		hosts:         hosts,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		baseTransport: http.DefaultTransport,
		tracer:        otel.Tracer(tracerName),
		apiKey:        cfg.APIKey,
		state:         &sharedState{},
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = logging.OrDefault(q.logger)
	q.httpClient.Transport = q.baseTransport

	return q, nil
}

func parseHosts(connectionURI string) ([]*url.URL, error) {
	parts := strings.FieldsFunc(connectionURI, func(r rune) bool { return r == ';' || r == ',' })
	var hosts []*url.URL
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		u, err := url.Parse(part)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, oops.Code("CONFIG_INVALID").With("uri", part).
				Errorf("invalid core connection URI %q", part)
		}
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawQuery = ""
		u.Fragment = ""
		hosts = append(hosts, u)
	}
	if len(hosts) == 0 {
		return nil, oops.Code("CONFIG_INVALID").Errorf("core connection URI is required")
	}
	return hosts, nil
}

// WithRecipeID returns a querier that tags requests with the rid header. It
// shares hosts, HTTP client and version state with q.
func (q *Querier) WithRecipeID(rid string) *Querier {
	q2 := *q
	q2.rid = rid
	return &q2
}

// Hosts returns the configured core base URLs.
func (q *Querier) Hosts() []string {
	out := make([]string, len(q.hosts))
	for i, h := range q.hosts {
		out[i] = h.String()
	}
	return out
}

// SendGetRequest issues a GET with params as the query string and decodes the
// JSON response into out (when non-nil).
func (q *Querier) SendGetRequest(ctx context.Context, path Path, params url.Values, out any) error {
	return q.send(ctx, http.MethodGet, path, params, nil, out)
}

// SendPostRequest issues a POST with body encoded as JSON.
func (q *Querier) SendPostRequest(ctx context.Context, path Path, body any, out any) error {
	return q.send(ctx, http.MethodPost, path, nil, body, out)
}

// SendPutRequest issues a PUT with body encoded as JSON.
func (q *Querier) SendPutRequest(ctx context.Context, path Path, body any, out any) error {
	return q.send(ctx, http.MethodPut, path, nil, body, out)
}

// SendDeleteRequest issues a DELETE with params as the query string.
func (q *Querier) SendDeleteRequest(ctx context.Context, path Path, params url.Values, out any) error {
	return q.send(ctx, http.MethodDelete, path, params, nil, out)
}

func (q *Querier) send(ctx context.Context, method string, path Path, params url.Values, body any, out any) error {
	version, err := q.APIVersion(ctx)
	if err != nil {
		return err
	}
	return q.do(ctx, method, path, params, body, out, version)
}

func (q *Querier) nextHost() *url.URL {
	n := q.state.next.Add(1) - 1
	return q.hosts[n%uint64(len(q.hosts))]
}

func (q *Querier) do(ctx context.Context, method string, path Path, params url.Values, body any, out any, version string) (err error) {
	ctx, span := q.tracer.Start(ctx, "core "+method+" "+path.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("core.path", path.path),
			attribute.String("core.tenant_id", path.tenantID),
		))
	defer span.End()

	start := time.Now()
	outcome := outcomeOK
	defer func() {
		coreRequests.WithLabelValues(method, path.path, outcome).Inc()
		coreRequestDuration.WithLabelValues(method, path.path).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
	}()

	host := q.nextHost()
	target := *host
	target.Path = host.Path + path.String()
	if len(params) > 0 {
		target.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return oops.With("path", path.String()).Wrapf(merr, "encoding core request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return oops.With("path", path.String()).Wrapf(err, "building core request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if version != "" {
		req.Header.Set(cdiVersionHeader, version)
	}
	if q.rid != "" {
		req.Header.Set(ridHeader, q.rid)
	}
	if q.apiKey != "" {
		req.Header.Set(apiKeyHeader, q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		outcome = outcomeUnreachable
		return oops.Code(CodeUnreachable).
			With("method", method).
			With("path", path.String()).
			With("host", host.Host).
			Wrapf(err, "core request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = outcomeUnreachable
		return oops.Code(CodeUnreachable).With("path", path.String()).Wrapf(err, "reading core response")
	}

	if resp.StatusCode != http.StatusOK {
		outcome = outcomeBadStatus
		return oops.Code(CodeBadStatus).
			With("method", method).
			With("path", path.String()).
			With("status", resp.StatusCode).
			Errorf("core responded with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			outcome = outcomeDecodeError
			return oops.Code(CodeDecode).With("path", path.String()).Wrapf(err, "decoding core response")
		}
	}

	q.logger.DebugContext(ctx, "core request",
		"method", method,
		"path", path.String(),
		"status", resp.StatusCode,
		"duration", time.Since(start))
	return nil
}

// StatusCode returns the HTTP status carried by a CORE_BAD_STATUS error, or 0.
func StatusCode(err error) int {
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Code() != CodeBadStatus {
		return 0
	}
	if status, ok := oopsErr.Context()["status"].(int); ok {
		return status
	}
	return 0
}

// UnknownStatus reports a core status the caller does not handle.
func UnknownStatus(path Path, status string) error {
	return oops.Code(CodeUnknownStatus).
		With("path", path.String()).
		With("status", status).
		Errorf("core returned unexpected status %q", status)
}

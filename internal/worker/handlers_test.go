package worker

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebtf/incident-cluster/internal/config"
	"github.com/thebtf/incident-cluster/internal/engine"
	"github.com/thebtf/incident-cluster/internal/stream"
	"github.com/thebtf/incident-cluster/pkg/models"
)

const testAPIKey = "secret"

// testService creates a Service with the default config plus a test API key.
func testService(t *testing.T, mutate func(*config.Config), producer *stream.Producer) *Service {
	t.Helper()

	cfg := config.Default()
	cfg.APIKey = testAPIKey
	if mutate != nil {
		mutate(&cfg)
	}
	return NewService(cfg, engine.New(cfg, nil), producer)
}

func doRequest(t *testing.T, svc *Service, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	return rr
}

func authed() map[string]string {
	return map[string]string{APIKeyHeader: testAPIKey}
}

func decodeDetail(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Detail
}

// fakeConn answers XADD with a fixed id or error.
type fakeConn struct {
	id   string
	err  error
	args []interface{}
}

func (c *fakeConn) Close() error                                        { return nil }
func (c *fakeConn) Err() error                                          { return nil }
func (c *fakeConn) Send(string, ...interface{}) error                   { return nil }
func (c *fakeConn) Flush() error                                        { return nil }
func (c *fakeConn) Receive() (interface{}, error)                       { return nil, nil }
func (c *fakeConn) ReceiveContext(context.Context) (interface{}, error) { return nil, nil }

func (c *fakeConn) Do(cmd string, args ...interface{}) (interface{}, error) {
	return c.DoContext(context.Background(), cmd, args...)
}

func (c *fakeConn) DoContext(_ context.Context, _ string, args ...interface{}) (interface{}, error) {
	c.args = args
	if c.err != nil {
		return nil, c.err
	}
	return []byte(c.id), nil
}

type fakePool struct{ conn *fakeConn }

func (p *fakePool) GetContext(context.Context) (redis.Conn, error) { return p.conn, nil }

func TestHandleHealth(t *testing.T) {
	svc := testService(t, func(cfg *config.Config) { cfg.APIKey = "" }, nil)

	rr := doRequest(t, svc, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","version":"v1"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestHandleCluster(t *testing.T) {
	svc := testService(t, nil, nil)

	body := `{"items":[
		{"id":"a","embedding":[0,0],"source":"Reuters"},
		{"id":"b","embedding":[0.1,0],"source":"AP"},
		{"id":"c","embedding":[0,0.1],"source":"BBC"},
		{"id":"d","embedding":[10,10],"source":"AP"},
		{"id":"e","embedding":"oops"},
		{"id":"f","embedding":[1,2,3]}
	]}`
	rr := doRequest(t, svc, http.MethodPost, "/cluster", body, authed())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp models.ClusterResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.Version)
	assert.Equal(t, []models.ResultRecord{
		{ID: "a", EventClusterID: 0, ClusterSize: 3},
		{ID: "b", EventClusterID: 0, ClusterSize: 3},
		{ID: "c", EventClusterID: 0, ClusterSize: 3},
		{ID: "d", EventClusterID: -1},
		{ID: "e", EventClusterID: -1},
		{ID: "f", EventClusterID: -1},
	}, resp.Results)
}

func TestHandleCluster_SingleSourceRejected(t *testing.T) {
	svc := testService(t, nil, nil)

	body := `{"items":[
		{"id":"a","embedding":[0,0],"source":"wire"},
		{"id":"b","embedding":[0,0],"source":" WIRE "},
		{"id":"c","embedding":[0,0],"source":"wire"}
	]}`
	rr := doRequest(t, svc, http.MethodPost, "/cluster", body, authed())
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.ClusterResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	for _, rec := range resp.Results {
		assert.True(t, rec.IsNoise(), rec.ID)
		assert.Zero(t, rec.ClusterSize, rec.ID)
	}

	// Same batch with the filter disabled clusters normally
	body = strings.Replace(body, `]}`, `],"require_multi_source":false}`, 1)
	rr = doRequest(t, svc, http.MethodPost, "/cluster", body, authed())
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	for _, rec := range resp.Results {
		assert.Equal(t, 0, rec.EventClusterID, rec.ID)
		assert.Equal(t, 3, rec.ClusterSize, rec.ID)
	}
}

func TestHandleCluster_EmptyBatch(t *testing.T) {
	svc := testService(t, nil, nil)

	rr := doRequest(t, svc, http.MethodPost, "/cluster", `{"items":[]}`, authed())

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"version":"v1","results":[]}`, rr.Body.String())
}

func TestHandleCluster_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		body   string
		status int
		detail string
	}{
		{
			name:   "malformed JSON",
			body:   `{"items":`,
			status: http.StatusBadRequest,
			detail: "invalid request body",
		},
		{
			name:   "non-positive eps",
			body:   `{"items":[],"eps":0}`,
			status: http.StatusBadRequest,
			detail: "eps must be > 0",
		},
		{
			name:   "zero min_samples",
			body:   `{"items":[],"min_samples":0}`,
			status: http.StatusBadRequest,
			detail: "min_samples",
		},
		{
			name:   "too many items",
			mutate: func(cfg *config.Config) { cfg.MaxItems = 2 },
			body:   `{"items":[{"id":"a","embedding":[0]},{"id":"b","embedding":[0]},{"id":"c","embedding":[0]}]}`,
			status: http.StatusRequestEntityTooLarge,
			detail: "too many items",
		},
		{
			name:   "body too large",
			mutate: func(cfg *config.Config) { cfg.MaxBodyBytes = 16 },
			body:   `{"items":[{"id":"a","embedding":[0,0,0,0]}]}`,
			status: http.StatusRequestEntityTooLarge,
			detail: "request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testService(t, tt.mutate, nil)

			rr := doRequest(t, svc, http.MethodPost, "/cluster", tt.body, authed())

			assert.Equal(t, tt.status, rr.Code)
			assert.Contains(t, decodeDetail(t, rr), tt.detail)
		})
	}
}

func TestHandleCluster_DeadlineExceeded(t *testing.T) {
	svc := testService(t, nil, nil)
	svc.requestTimeout = -time.Second

	body := `{"items":[{"id":"a","embedding":[0,0],"source":"wire"}]}`
	rr := doRequest(t, svc, http.MethodPost, "/cluster", body, authed())

	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	// A single response body: nothing was written before the timeout answer
	assert.JSONEq(t, `{"detail":"request timed out"}`, rr.Body.String())
}

func TestHandleCluster_ClientGone(t *testing.T) {
	svc := testService(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/cluster", strings.NewReader(`{"items":[]}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, testAPIKey)
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)

	assert.Empty(t, rr.Body.String())
}

func TestHandleCluster_Auth(t *testing.T) {
	tests := []struct {
		name      string
		serverKey string
		headers   map[string]string
		status    int
	}{
		{"x-api-key", testAPIKey, map[string]string{"x-api-key": testAPIKey}, http.StatusOK},
		{"bearer token", testAPIKey, map[string]string{"Authorization": "Bearer " + testAPIKey}, http.StatusOK},
		{"quoted server key", `"` + testAPIKey + `"`, map[string]string{APIKeyHeader: testAPIKey}, http.StatusOK},
		{"quoted client key", testAPIKey, map[string]string{APIKeyHeader: `'` + testAPIKey + `'`}, http.StatusOK},
		{"missing key", testAPIKey, nil, http.StatusUnauthorized},
		{"wrong key", testAPIKey, map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized},
		{"basic auth ignored", testAPIKey, map[string]string{"Authorization": "Basic " + testAPIKey}, http.StatusUnauthorized},
		{"server key missing", "", map[string]string{APIKeyHeader: testAPIKey}, http.StatusInternalServerError},
		{"server key blank", "  ", map[string]string{APIKeyHeader: testAPIKey}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := testService(t, func(cfg *config.Config) { cfg.APIKey = tt.serverKey }, nil)

			rr := doRequest(t, svc, http.MethodPost, "/cluster", `{"items":[]}`, tt.headers)

			assert.Equal(t, tt.status, rr.Code)
			switch tt.status {
			case http.StatusUnauthorized:
				assert.Equal(t, ErrUnauthorized.Error(), decodeDetail(t, rr))
			case http.StatusInternalServerError:
				assert.Equal(t, ErrAPIKeyNotConfigured.Error(), decodeDetail(t, rr))
			}
		})
	}
}

func TestHandleCluster_WrongContentType(t *testing.T) {
	svc := testService(t, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/cluster", strings.NewReader(`{"items":[]}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(APIKeyHeader, testAPIKey)
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestHandleSelect(t *testing.T) {
	svc := testService(t, nil, nil)

	body := `{"items":[
		{"incident_id":"low","topic_weight":0.1,"engine_weight":0.1,"source_count":1,"story_size":1},
		{"incident_id":"high","topic_weight":1,"engine_weight":1,"source_count":9,"story_size":9},
		{"incident_id":"mid","topic_weight":0.5,"engine_weight":0.5,"source_count":2,"story_size":3}
	],"max_items":2}`
	rr := doRequest(t, svc, http.MethodPost, "/select", body, authed())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp models.SelectResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.Version)
	require.Len(t, resp.Selected, 2)
	assert.Equal(t, "high", resp.Selected[0].IncidentID)
	assert.InDelta(t, 1.2, resp.Selected[0].Priority, 1e-9)
	assert.Equal(t, "mid", resp.Selected[1].IncidentID)
	assert.InDelta(t, 0.6, resp.Selected[1].Priority, 1e-9)
	assert.Equal(t, 9, resp.Selected[0].Features.SourceCount)
}

func TestHandleSelect_DefaultMaxItems(t *testing.T) {
	svc := testService(t, func(cfg *config.Config) {
		cfg.SelectMaxItems = 1
		cfg.SelectVersion = "v7"
	}, nil)

	body := `{"items":[{"incident_id":"a","topic_weight":0.2},{"incident_id":"b","topic_weight":0.9}]}`
	rr := doRequest(t, svc, http.MethodPost, "/select", body, authed())
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.SelectResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "v7", resp.Version)
	require.Len(t, resp.Selected, 1)
	assert.Equal(t, "b", resp.Selected[0].IncidentID)
}

func TestHandleSelect_InvalidMaxItems(t *testing.T) {
	svc := testService(t, nil, nil)

	rr := doRequest(t, svc, http.MethodPost, "/select", `{"items":[],"max_items":0}`, authed())

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeDetail(t, rr), "max_items")
}

func TestHandleEvents(t *testing.T) {
	t.Run("stream not configured", func(t *testing.T) {
		svc := testService(t, nil, nil)
		rr := doRequest(t, svc, http.MethodPost, "/events", `{"items":[]}`, authed())
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("published", func(t *testing.T) {
		conn := &fakeConn{id: "1700000000000-0"}
		svc := testService(t, nil, stream.NewProducer(&fakePool{conn: conn}, "events"))

		rr := doRequest(t, svc, http.MethodPost, "/events", `{"items":[]}`, authed())

		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.JSONEq(t, `{"ok":true,"id":"1700000000000-0"}`, rr.Body.String())
		require.Len(t, conn.args, 4)
		assert.Equal(t, "events", conn.args[0])
		assert.True(t, bytes.Equal([]byte(`{"items":[]}`), conn.args[3].([]byte)))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		conn := &fakeConn{id: "1-0"}
		svc := testService(t, nil, stream.NewProducer(&fakePool{conn: conn}, "events"))

		rr := doRequest(t, svc, http.MethodPost, "/events", `{"items":`, authed())

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Nil(t, conn.args)
	})

	t.Run("publish failure", func(t *testing.T) {
		conn := &fakeConn{err: errors.New("connection refused")}
		svc := testService(t, nil, stream.NewProducer(&fakePool{conn: conn}, "events"))

		rr := doRequest(t, svc, http.MethodPost, "/events", `{"items":[]}`, authed())

		assert.Equal(t, http.StatusBadGateway, rr.Code)
	})

	t.Run("publish timed out", func(t *testing.T) {
		conn := &fakeConn{err: context.DeadlineExceeded}
		svc := testService(t, nil, stream.NewProducer(&fakePool{conn: conn}, "events"))

		rr := doRequest(t, svc, http.MethodPost, "/events", `{"items":[]}`, authed())

		assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
		assert.JSONEq(t, `{"detail":"request timed out"}`, rr.Body.String())
	})

	t.Run("requires auth", func(t *testing.T) {
		svc := testService(t, nil, nil)
		rr := doRequest(t, svc, http.MethodPost, "/events", `{}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRateLimitedRoutes(t *testing.T) {
	svc := testService(t, func(cfg *config.Config) {
		cfg.RateLimitRPS = 0.001
		cfg.RateLimitBurst = 1
	}, nil)

	first := doRequest(t, svc, http.MethodPost, "/cluster", `{"items":[]}`, authed())
	second := doRequest(t, svc, http.MethodPost, "/cluster", `{"items":[]}`, authed())
	health := doRequest(t, svc, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, http.StatusOK, health.Code)
}

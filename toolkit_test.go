package apikit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fernandezvara/dbkit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMeasure struct {
	Model[float64]
}

// fakeHealth reports a fixed health state.
type fakeHealth struct {
	healthy bool
}

func (f fakeHealth) Health(context.Context) dbkit.HealthStatus { return dbkit.HealthStatus{} }
func (f fakeHealth) IsHealthy(context.Context) bool             { return f.healthy }
func (f fakeHealth) Ping(context.Context) error                 { return nil }
func (f fakeHealth) PoolStats() dbkit.PoolStats                 { return dbkit.PoolStats{} }
func (f fakeHealth) Report(context.Context) HealthReport {
	return HealthReport{Healthy: f.healthy}
}

func TestNewResource(t *testing.T) {
	tk := NewToolkit(NewDatabase(nil), WithPaging(NewPagingConfig().WithMaxLimit(10)))

	_, err := NewResource(tk, ResourceConfig[*testNote, int64, testNoteDTO]{})
	assert.Error(t, err)

	_, err = NewResource(tk, ResourceConfig[*testMeasure, float64, testMeasure]{Name: "measures"})
	assert.Error(t, err)

	notes, err := NewResource(tk, ResourceConfig[*testNote, int64, testNoteDTO]{
		Name:         "notes",
		DefaultRules: Anonymous(),
		Migrations:   []dbkit.Migration{{ID: "001"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "/notes", notes.Path())
	assert.Equal(t, "notes", notes.Data.Resource())
	assert.Equal(t, 10, notes.Service.Paging().MaxLimit)
	assert.Len(t, tk.migrations, 1)

	r := gin.New()
	notes.Mount(r.Group("/api"))

	routes := tk.Routes()
	require.Len(t, routes, 13)
	paths := map[string]bool{}
	for _, ri := range routes {
		paths[ri.Method+" "+ri.Path] = true
	}
	assert.True(t, paths["GET /api/notes"])
	assert.True(t, paths["DELETE /api/notes/:id"])
	assert.True(t, paths["GET /api/notes/fields/:field"])

	// An unknown key is rejected before any query runs.
	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/notes/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDefaultKeys(t *testing.T) {
	assert.NotNil(t, defaultKeyParser[uuid.UUID]())
	assert.NotNil(t, defaultKeyParser[int64]())
	assert.NotNil(t, defaultKeyParser[string]())
	assert.Nil(t, defaultKeyParser[float64]())

	gen := defaultKeyGenerator[uuid.UUID]()
	require.NotNil(t, gen)
	assert.NotEqual(t, uuid.Nil, gen())
	assert.Nil(t, defaultKeyGenerator[int64]())

	id, err := defaultKeyParser[int64]()("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		healthy  bool
		wantCode int
	}{
		{true, http.StatusOK},
		{false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		r := gin.New()
		r.GET("/health", HealthHandler(fakeHealth{healthy: tt.healthy}))

		w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, tt.wantCode, w.Code)

		var report map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
		assert.Equal(t, tt.healthy, report["healthy"])
	}
}

func TestToolkit_Router(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{}, nil)
	require.NoError(t, err)
	tk := NewToolkit(NewDatabase(nil), WithMetrics(m))

	_, err = tk.Middleware()
	assert.Error(t, err)

	w := serve(tk.Router(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	tk = NewToolkit(NewDatabase(nil), WithTokenService(newTestTokens(t)))
	mw, err := tk.Middleware()
	require.NoError(t, err)
	assert.NotNil(t, mw)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer broken")
	assert.Equal(t, http.StatusUnauthorized, serve(tk.Router(), req).Code)
}

func TestToolkit_RouterTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
		want    string
	}{
		{"none trusted", nil, "192.0.2.1"},
		{"peer trusted", []string{"192.0.2.0/24"}, "203.0.113.7"},
		{"invalid list trusts none", []string{"not-an-ip"}, "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := NewToolkit(NewDatabase(nil), WithTrustedProxies(tt.proxies...))
			r := tk.Router()
			r.GET("/ip", func(c *gin.Context) {
				c.String(http.StatusOK, GetIPAddress(c.Request.Context()))
			})

			req := httptest.NewRequest(http.MethodGet, "/ip", nil)
			req.RemoteAddr = "192.0.2.1:4321"
			req.Header.Set("X-Forwarded-For", "203.0.113.7")
			assert.Equal(t, tt.want, serve(r, req).Body.String())
		})
	}
}

func TestResource_BodyLimit(t *testing.T) {
	tk := NewToolkit(NewDatabase(nil), WithMaxBodyBytes(16))
	notes, err := NewResource(tk, ResourceConfig[*testNote, int64, testNoteDTO]{
		Name:         "notes",
		DefaultRules: Anonymous(),
	})
	require.NoError(t, err)

	r := gin.New()
	notes.Mount(r.Group("/api"))

	big := `{"title": "` + strings.Repeat("x", 64) + `"}`
	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/notes"},
		{http.MethodPost, "/api/notes/bulk"},
		{http.MethodPut, "/api/notes/1"},
		{http.MethodPatch, "/api/notes/1"},
		{http.MethodPatch, "/api/notes/bulk"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			w := serve(r, request(tt.method, tt.target, big, ""))
			assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		})
	}
}

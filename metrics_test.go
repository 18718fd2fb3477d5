package apikit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Middleware(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Namespace: "test"}, prometheus.NewRegistry())
	require.NoError(t, err)

	r := gin.New()
	g := r.Group("/notes", m.Middleware("notes"))
	g.GET("/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/notes/1", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/notes/2", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("notes", "GET /notes/:id", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(MetricsConfig{}, reg)
	require.NoError(t, err)

	_, err = NewMetrics(MetricsConfig{}, reg)
	assert.Error(t, err)
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Namespace: "apikit", Subsystem: "test"}, nil)
	require.NoError(t, err)
	m.observeTransaction(true)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	assert.True(t, strings.Contains(string(body), `apikit_test_transactions_total{result="success"} 1`))
}

func TestDatabase_TransactionRecordsFailures(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{}, nil)
	require.NoError(t, err)
	db := NewDatabase(nil, WithDatabaseMetrics(m))

	called := false
	err = db.Transaction(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)

	tm := db.TransactionMetrics()
	assert.Equal(t, int64(1), tm.TotalTransactions)
	assert.Equal(t, int64(1), tm.FailedTransactions)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactions.WithLabelValues("failure")))

	db.ResetTransactionMetrics()
	assert.Zero(t, db.TransactionMetrics().TotalTransactions)
}

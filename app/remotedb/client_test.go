package remotedb_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"BillingApp/app/devdb"
	"BillingApp/app/remotedb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

func newEmulator(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := devdb.Open("")
	require.NoError(t, err)
	srv := devdb.NewServer(db, testToken, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func newClient(t *testing.T, baseURL, token string) *remotedb.Client {
	t.Helper()
	c, err := remotedb.NewClient(remotedb.Options{
		AccountID:  "acct",
		DatabaseID: "db",
		APIToken:   token,
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientListsEveryMissingValue(t *testing.T) {
	_, err := remotedb.NewClient(remotedb.Options{DatabaseID: "db"})
	require.Error(t, err)

	var cfgErr *remotedb.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"account id", "api token"}, cfgErr.Missing)
	assert.Contains(t, err.Error(), "account id, api token")
	assert.Equal(t, "config", remotedb.Kind(err))
}

func TestNewClientDefaultsToD1Endpoint(t *testing.T) {
	c, err := remotedb.NewClient(remotedb.Options{AccountID: "a1", DatabaseID: "d1", APIToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.cloudflare.com/client/v4/accounts/a1/d1/database/d1/query", c.Endpoint())
}

func TestQueryRoundTrip(t *testing.T) {
	ts := newEmulator(t)
	c := newClient(t, ts.URL, testToken)
	ctx := context.Background()

	_, err := c.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, price REAL)")
	require.NoError(t, err)

	rs, err := c.Execute(ctx, "INSERT INTO t (name, price) VALUES (?, ?)", "chair", 1600.5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.Meta.LastRowID)
	assert.Equal(t, int64(1), rs.Meta.Changes)

	rs, err = c.Query(ctx, "SELECT id, name, price FROM t WHERE id = ?", 1)
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	row := rs.First()
	assert.Equal(t, int64(1), row.Int64("id"))
	assert.Equal(t, "chair", row.String("name"))
	assert.Equal(t, "1600.5", row.Decimal("price").String())
}

func TestBackendErrorOnBadSQL(t *testing.T) {
	ts := newEmulator(t)
	c := newClient(t, ts.URL, testToken)

	_, err := c.Query(context.Background(), "SELECT * FROM missing_table")
	require.Error(t, err)

	var backendErr *remotedb.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Contains(t, backendErr.Message(), "missing_table")
	assert.Equal(t, "backend", remotedb.Kind(err))
}

func TestBackendErrorOnSuccessFalseWith200(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"result":[],"errors":[{"code":7500,"message":"UNIQUE constraint failed"}]}`))
	}))
	defer ts.Close()

	_, err := newClient(t, ts.URL, testToken).Query(context.Background(), "INSERT INTO t VALUES (1)")
	var backendErr *remotedb.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "UNIQUE constraint failed", backendErr.Message())
}

func TestAuthErrorOnRejectedToken(t *testing.T) {
	ts := newEmulator(t)
	c := newClient(t, ts.URL, "wrong-token")

	_, err := c.Query(context.Background(), "SELECT 1")
	var authErr *remotedb.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, "auth", remotedb.Kind(err))
}

func TestAuthErrorFromBackendCode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"errors":[{"code":9109,"message":"Invalid access token"}]}`))
	}))
	defer ts.Close()

	_, err := newClient(t, ts.URL, testToken).Query(context.Background(), "SELECT 1")
	var authErr *remotedb.AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestTransportErrorOnServerFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := newClient(t, ts.URL, testToken).Query(context.Background(), "SELECT 1")
	var trErr *remotedb.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, http.StatusBadGateway, trErr.StatusCode)
	assert.Contains(t, trErr.Body, "upstream unavailable")
	assert.Equal(t, "transport", remotedb.Kind(err))
}

func TestTransportErrorOnTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, err := remotedb.NewClient(remotedb.Options{
		AccountID: "a", DatabaseID: "d", APIToken: testToken,
		BaseURL: ts.URL, Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "SELECT 1")
	var trErr *remotedb.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.True(t, trErr.Timeout())
}

func TestTimeoutAppliesToSuppliedHTTPClient(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c, err := remotedb.NewClient(remotedb.Options{
		AccountID: "a", DatabaseID: "d", APIToken: testToken,
		BaseURL: ts.URL, Timeout: 50 * time.Millisecond,
		HTTPClient: &http.Client{},
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Query(context.Background(), "SELECT 1")
	var trErr *remotedb.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.True(t, trErr.Timeout())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRequestCarriesBearerAndBody(t *testing.T) {
	var gotAuth, gotType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"success":true,"result":[{"results":[],"meta":{"changes":0}}]}`))
	}))
	defer ts.Close()

	rs, err := newClient(t, ts.URL+"/", "secret").Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "application/json", gotType)
}

func TestBatchStopsAtFirstFailure(t *testing.T) {
	ts := newEmulator(t)
	c := newClient(t, ts.URL, testToken)
	ctx := context.Background()

	_, err := c.Execute(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	require.NoError(t, err)

	results, err := c.Batch(ctx, []remotedb.Statement{
		remotedb.NewStatement("INSERT INTO t (id, name) VALUES (?, ?)", 1, "a"),
		remotedb.NewStatement("INSERT INTO t (id, name) VALUES (?, ?)", 2, nil),
		remotedb.NewStatement("INSERT INTO t (id, name) VALUES (?, ?)", 3, "c"),
	})
	require.Error(t, err)
	assert.Len(t, results, 1)

	var batchErr *remotedb.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.Index)

	var backendErr *remotedb.BackendError
	assert.True(t, errors.As(err, &backendErr))

	// The first statement stays applied and the third never ran.
	rs, err := c.Query(ctx, "SELECT id FROM t ORDER BY id")
	require.NoError(t, err)
	require.Equal(t, 1, rs.Len())
	assert.Equal(t, int64(1), rs.First().Int64("id"))
}

func TestClientNeverRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := newClient(t, ts.URL, testToken).Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPCheckerHealthyOnOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL)
	result := c.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeHTTP, c.Type())
}

func TestHTTPCheckerUnhealthyOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL)
	result := c.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPCheckerUnhealthyOnConnectionFailure(t *testing.T) {
	c := NewHTTPChecker("http://127.0.0.1:1")
	result := c.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestHTTPCheckerWithStatusRangeNarrowsAcceptance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL).WithStatusRange(200, 200)
	result := c.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestTCPCheckerHealthyOnOpenPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	c := NewTCPChecker(l.Addr().String())
	result := c.Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, CheckTypeTCP, c.Type())
}

func TestTCPCheckerUnhealthyOnClosedPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewTCPChecker(addr).WithTimeout(100 * time.Millisecond)
	result := c.Check(context.Background())
	assert.False(t, result.Healthy)
}

func TestStatusUpdateTracksConsecutiveFailures(t *testing.T) {
	cfg := Config{Retries: 2}
	s := NewStatus()

	s.Update(Result{Healthy: false}, cfg)
	assert.True(t, s.Healthy, "should stay healthy before reaching retry threshold")
	assert.Equal(t, 1, s.ConsecutiveFailures)

	s.Update(Result{Healthy: false}, cfg)
	assert.False(t, s.Healthy)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	s.Update(Result{Healthy: true}, cfg)
	assert.True(t, s.Healthy)
	assert.Equal(t, 0, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoReq struct {
	Value string `json:"value"`
}

type echoResp struct {
	Echoed string `json:"echoed"`
}

func TestMemTransportCallInvokesRegisteredHandler(t *testing.T) {
	m := NewMemTransport()
	m.Register("peer-1", "/echo", func(req json.RawMessage) (interface{}, error) {
		var r echoReq
		require.NoError(t, json.Unmarshal(req, &r))
		return echoResp{Echoed: r.Value}, nil
	})

	var resp echoResp
	err := m.Call(context.Background(), "peer-1", "/echo", echoReq{Value: "hi"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Echoed)

	stats := m.Stats("peer-1")
	assert.Equal(t, int64(1), stats.Requests)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestMemTransportCallNoHandlerRegistered(t *testing.T) {
	m := NewMemTransport()
	err := m.Call(context.Background(), "peer-1", "/missing", nil, nil)
	require.Error(t, err)
}

func TestMemTransportDropNextFailsOnce(t *testing.T) {
	m := NewMemTransport()
	m.Register("peer-1", "/echo", func(req json.RawMessage) (interface{}, error) {
		return echoResp{Echoed: "ok"}, nil
	})
	m.DropNext("peer-1")

	var resp echoResp
	err := m.Call(context.Background(), "peer-1", "/echo", echoReq{}, &resp)
	require.Error(t, err)
	var transportErr *ferrors.TransportError
	require.ErrorAs(t, err, &transportErr)

	// second call should succeed since the drop only applies once
	err = m.Call(context.Background(), "peer-1", "/echo", echoReq{}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Echoed)

	stats := m.Stats("peer-1")
	assert.Equal(t, int64(2), stats.Requests)
	assert.Equal(t, int64(1), stats.Failures)
}

func TestMemTransportDuplicateNextInvokesHandlerTwice(t *testing.T) {
	m := NewMemTransport()
	calls := 0
	m.Register("peer-1", "/echo", func(req json.RawMessage) (interface{}, error) {
		calls++
		return echoResp{Echoed: "ok"}, nil
	})
	m.DuplicateNext("peer-1")

	var resp echoResp
	err := m.Call(context.Background(), "peer-1", "/echo", echoReq{}, &resp)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

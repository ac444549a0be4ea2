package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/position-engine/internal/api"
	"github.com/atmx/position-engine/internal/model"
)

func TestWSHub_BroadcastsAlerts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan api.WSMessage, 1)
	go func() {
		var msg api.WSMessage
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if conn.ReadJSON(&msg) == nil {
			received <- msg
		}
	}()

	// Registration happens asynchronously; keep publishing until the
	// client receives one.
	var msg api.WSMessage
	require.Eventually(t, func() bool {
		hub.PublishAlerts([]model.Alert{{ID: "a1", CustomerID: "c1", Type: model.AlertLargeLoss}})
		select {
		case msg = <-received:
			return true
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, api.MsgAlert, msg.Type)
	assert.Equal(t, "c1", msg.CustomerID)
	require.NotNil(t, msg.Alert)
	assert.Equal(t, "a1", msg.Alert.ID)
}

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookNotifierPostsPayload(t *testing.T) {
	var received webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, zap.NewNop())
	n.Send(context.Background(), "user-1", "Pago recibido", "Tu pago fue procesado.",
		map[string]string{"type": "wallet_notification"})

	assert.Equal(t, "user-1", received.UserID)
	assert.Equal(t, "Pago recibido", received.Title)
	assert.Equal(t, "Tu pago fue procesado.", received.Body)
	assert.Equal(t, "wallet_notification", received.Metadata["type"])
}

func TestWebhookNotifierSwallowsDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	server.Close()

	// Connection refused must not panic or surface an error.
	n := NewWebhookNotifier(server.URL, zap.NewNop())
	n.Send(context.Background(), "user-1", "titulo", "cuerpo", nil)
}

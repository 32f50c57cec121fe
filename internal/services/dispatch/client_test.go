package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/Felyppe1/certmill/internal/common"
	"github.com/Felyppe1/certmill/internal/interfaces"
)

type staticTokenSource struct {
	token string
}

func (s *staticTokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}, nil
}

func newTestClient(serverURL string) *Client {
	config := &common.DispatchConfig{
		RenderURL:      serverURL,
		CallbackURL:    "https://certmill.example.com/internal/data-source-rows",
		RequestTimeout: 5 * time.Second,
		TriggerRate:    100,
		TriggerBurst:   100,
	}
	return NewClient(config, &staticTokenSource{token: "test-token"}, arbor.NewLogger())
}

func TestTriggerBatchSendsAuthorizedRequest(t *testing.T) {
	var gotAuth string
	var gotBody triggerRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.TriggerBatch(context.Background(), interfaces.RenderTrigger{
		Emission: interfaces.EmissionPayload{ID: "em_1", UserID: "user-1"},
		Rows: []interfaces.RowPayload{
			{ID: "row_1", Data: map[string]string{"name": "Ada"}},
			{ID: "row_2", Data: map[string]string{"name": "Grace"}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "em_1", gotBody.Emission.ID)
	assert.Len(t, gotBody.Rows, 2)
	assert.Equal(t, "https://certmill.example.com/internal/data-source-rows", gotBody.CallbackURL)
}

func TestTriggerBatchReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "render service unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.TriggerBatch(context.Background(), interfaces.RenderTrigger{
		Emission: interfaces.EmissionPayload{ID: "em_1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestTriggerRowRetrySendsSingleRow(t *testing.T) {
	var gotBody triggerRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.TriggerRowRetry(context.Background(),
		interfaces.EmissionPayload{ID: "em_1"},
		interfaces.RowPayload{ID: "row_9", Data: map[string]string{"name": "Alan"}})
	require.NoError(t, err)

	require.Len(t, gotBody.Rows, 1)
	assert.Equal(t, "row_9", gotBody.Rows[0].ID)
}

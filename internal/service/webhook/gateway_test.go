package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/chat-relay/backend/internal/metrics"
	"github.com/zhouzirui/chat-relay/backend/internal/service/webhook"
)

func newUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestForwardSendsPayloadAndHeaders(t *testing.T) {
	var (
		gotHeader http.Header
		gotBody   map[string]any
	)
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"hello"}`))
	})

	gw := webhook.NewGateway(webhook.Config{URL: upstream.URL, Credential: webhook.StaticToken("secret")}, nil, nil)
	reply, err := gw.Forward(context.Background(), webhook.Request{
		Message:   "hi",
		Context:   "User: earlier",
		SessionID: "abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", reply.Text)
	assert.NotEmpty(t, reply.RequestID)

	assert.Equal(t, "Bearer secret", gotHeader.Get("Authorization"))
	assert.Equal(t, "true", gotHeader.Get("X-Proxy-Request"))
	assert.Equal(t, reply.RequestID, gotHeader.Get("X-Request-ID"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))

	assert.Equal(t, "hi", gotBody["message"])
	assert.Equal(t, "User: earlier", gotBody["context"])
	assert.Equal(t, "abc", gotBody["sessionId"])
	assert.Equal(t, reply.RequestID, gotBody["requestId"])
	assert.Equal(t, true, gotBody["proxy"])
	_, err = time.Parse(time.RFC3339, gotBody["timestamp"].(string))
	assert.NoError(t, err)
}

func TestForwardFreshRequestIDPerCall(t *testing.T) {
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	})
	gw := webhook.NewGateway(webhook.Config{URL: upstream.URL}, nil, nil)

	first, err := gw.Forward(context.Background(), webhook.Request{Message: "a"})
	require.NoError(t, err)
	second, err := gw.Forward(context.Background(), webhook.Request{Message: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestForwardOmitsAuthorizationWithoutToken(t *testing.T) {
	var auth string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	})
	gw := webhook.NewGateway(webhook.Config{URL: upstream.URL}, nil, nil)

	_, err := gw.Forward(context.Background(), webhook.Request{Message: "a"})
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestForwardSignedCredential(t *testing.T) {
	secret := []byte("signing-secret")
	var raw string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	})
	gw := webhook.NewGateway(webhook.Config{
		URL:        upstream.URL,
		Credential: webhook.SignedToken{Secret: secret},
	}, nil, nil)

	reply, err := gw.Forward(context.Background(), webhook.Request{Message: "a", SessionID: "sess-1"})
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return secret, nil })
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "sess-1", claims.Subject)
	assert.Equal(t, reply.RequestID, claims.ID)
	assert.Equal(t, "chat-relay", claims.Issuer)
}

func TestForwardClassifiesOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, reply webhook.Reply, err error)
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"response":"ignored"}`))
			},
			check: func(t *testing.T, _ webhook.Reply, err error) {
				var statusErr *webhook.StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
			},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			check: func(t *testing.T, reply webhook.Reply, err error) {
				require.NoError(t, err)
				assert.Equal(t, webhook.AcknowledgementText, reply.Text)
				assert.Equal(t, webhook.AcknowledgementText, reply.Fields["message"])
			},
		},
		{
			name: "invalid JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			check: func(t *testing.T, _ webhook.Reply, err error) {
				require.ErrorIs(t, err, webhook.ErrInvalidResponse)
				var invalid *webhook.InvalidResponseError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, "<html>oops</html>", invalid.Body)
			},
		},
		{
			name: "list with output",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`[{"output":"hi"}]`))
			},
			check: func(t *testing.T, reply webhook.Reply, err error) {
				require.NoError(t, err)
				assert.Equal(t, "hi", reply.Text)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := newUpstream(t, tt.handler)
			gw := webhook.NewGateway(webhook.Config{URL: upstream.URL}, nil, nil)
			reply, err := gw.Forward(context.Background(), webhook.Request{Message: "x"})
			tt.check(t, reply, err)
		})
	}
}

func TestForwardUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	gw := webhook.NewGateway(webhook.Config{URL: url}, nil, m)

	_, err := gw.Forward(context.Background(), webhook.Request{Message: "x"})
	require.ErrorIs(t, err, webhook.ErrUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookRequests.WithLabelValues("unavailable")))
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	gw := webhook.NewGateway(webhook.Config{URL: upstream.URL, Timeout: 50 * time.Millisecond}, nil, nil)
	_, err := gw.Forward(context.Background(), webhook.Request{Message: "x"})
	require.ErrorIs(t, err, webhook.ErrUnavailable)
}

func TestNormalizePrecedence(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "list output wins", body: `[{"output":"from list","response":"nope"}]`, want: "from list"},
		{name: "object response", body: `{"response":"hello","output":"nope"}`, want: "hello"},
		{name: "list without output", body: `[{"response":"nope"}]`, want: webhook.FallbackText},
		{name: "empty list", body: `[]`, want: webhook.FallbackText},
		{name: "object without response", body: `{"answer":"nope"}`, want: webhook.FallbackText},
		{name: "non-string response", body: `{"response":{"text":"nope"}}`, want: webhook.FallbackText},
		{name: "empty output falls through", body: `[{"output":""}]`, want: webhook.FallbackText},
		{name: "scalar body", body: `"just text"`, want: webhook.FallbackText},
		{name: "whitespace body", body: " \n\t", want: webhook.AcknowledgementText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := webhook.Normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Text)
		})
	}
}

func TestReplyPayloadKeepsUpstreamFields(t *testing.T) {
	reply, err := webhook.Normalize([]byte(`{"response":"hello","sources":["a"]}`))
	require.NoError(t, err)

	payload := reply.Payload()
	assert.Equal(t, "hello", payload["response"])
	assert.Equal(t, []any{"a"}, payload["sources"])

	listReply, err := webhook.Normalize([]byte(`[{"output":"hi"}]`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"response": "hi"}, listReply.Payload())
}

func TestReplyPayloadKeepsUpstreamResponseMember(t *testing.T) {
	structured, err := webhook.Normalize([]byte(`{"response":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, webhook.FallbackText, structured.Text)
	assert.Equal(t, map[string]any{"text": "hi"}, structured.Payload()["response"])

	blank, err := webhook.Normalize([]byte(`{"response":""}`))
	require.NoError(t, err)
	assert.Equal(t, "", blank.Payload()["response"])

	absent, err := webhook.Normalize([]byte(`{"status":"queued"}`))
	require.NoError(t, err)
	assert.Equal(t, webhook.FallbackText, absent.Payload()["response"])
	assert.Equal(t, "queued", absent.Payload()["status"])

	ack, err := webhook.Normalize(nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"message": webhook.AcknowledgementText, "response": webhook.AcknowledgementText}, ack.Payload())
}

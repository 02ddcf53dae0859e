package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient builds a client pointed at the given endpoint with an
// instant, recording sleep so tests don't wait on real backoff.
func testClient(endpoint string, maxRetries int) (*Client, *[]time.Duration) {
	c := NewClient(Config{
		Endpoint:   endpoint,
		MaxRetries: maxRetries,
		BaseDelay:  time.Second,
	})
	delays := &[]time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return c, delays
}

func TestAskSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"response":"Tell me about yourself."}`))
	}))
	defer srv.Close()

	c, delays := testClient(srv.URL, 3)
	reply, err := c.Ask(context.Background(), "start the interview")
	require.NoError(t, err)
	assert.Equal(t, "Tell me about yourself.", reply)
	assert.Empty(t, *delays)
}

func TestAskAttachesToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, Token: "tok-123"})
	_, err := c.Ask(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

// TestAskRetryExhaustion verifies the retry budget: 1 initial attempt plus 3
// retries, with delays doubling from the base.
func TestAskRetryExhaustion(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, delays := testClient(srv.URL, 3)
	_, err := c.Ask(context.Background(), "prompt")
	require.Error(t, err)

	assert.Equal(t, int64(4), attempts.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)

	var infErr *Error
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, KindStatus, infErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, infErr.StatusCode)
}

func TestAskRecoversAfterFailures(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"response":"recovered"}`))
	}))
	defer srv.Close()

	c, delays := testClient(srv.URL, 3)
	reply, err := c.Ask(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, int64(3), attempts.Load())
	assert.Len(t, *delays, 2)
}

func TestAskNoResponse(t *testing.T) {
	// A server that is immediately closed yields connection failures.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	c, _ := testClient(endpoint, 1)
	_, err := c.Ask(context.Background(), "prompt")
	require.Error(t, err)

	var infErr *Error
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, KindNoResponse, infErr.Kind)
}

func TestAskRequestError(t *testing.T) {
	c, _ := testClient("://not-a-url", 0)
	_, err := c.Ask(context.Background(), "prompt")
	require.Error(t, err)

	var infErr *Error
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, KindRequest, infErr.Kind)
}

// TestBotText verifies the persisted diagnostics distinguish the three
// failure classes.
func TestBotText(t *testing.T) {
	assert.Contains(t, BotText(&Error{Kind: KindStatus, StatusCode: 503}), "Code: 503")
	assert.Contains(t, BotText(&Error{Kind: KindNoResponse, Err: errors.New("refused")}), "No response from the AI server")
	assert.Contains(t, BotText(&Error{Kind: KindRequest, Err: errors.New("bad url")}), "Error sending request")
	assert.Contains(t, BotText(errors.New("something else")), "An error occurred")
}

func TestAskContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, MaxRetries: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Ask(ctx, "prompt")
	require.Error(t, err)

	var infErr *Error
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, KindNoResponse, infErr.Kind)
}

package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func newTestClient(url string) *Client {
	return NewClient(url, "test-key", 100, 100, zap.NewNop())
}

func TestComplete_Success(t *testing.T) {
	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"choices":[{"message":{"content":"four"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	text, err := client.Complete(context.Background(), "gpt-4.1", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "2+2?"},
	}, 0.7, 10, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "four", text)
	assert.Equal(t, "Bearer test-key", gotAuth)

	assert.Equal(t, "gpt-4.1", gjson.GetBytes(gotBody, "model").String())
	assert.Equal(t, "system", gjson.GetBytes(gotBody, "messages.0.role").String())
	assert.Equal(t, "2+2?", gjson.GetBytes(gotBody, "messages.1.content").String())
	assert.InDelta(t, 0.7, gjson.GetBytes(gotBody, "temperature").Float(), 1e-9)
	assert.Equal(t, int64(10), gjson.GetBytes(gotBody, "max_tokens").Int())
}

func TestComplete_OmitsMaxTokensWhenUnset(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "gpt-4.1", []Message{{Role: "user", Content: "hi"}}, 0.7, 0, time.Second)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(gotBody, "max_tokens").Exists())
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "gpt-4.1", []Message{{Role: "user", Content: "hi"}}, 0.7, 0, time.Second)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindAPI, pe.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.Equal(t, "model overloaded", pe.Detail)
	assert.Equal(t, "gpt-4.1", pe.Model)
}

func TestComplete_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "gpt-4.1", []Message{{Role: "user", Content: "hi"}}, 0.7, 0, time.Second)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindEmpty, pe.Kind)
}

func TestComplete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "gpt-4.1", []Message{{Role: "user", Content: "hi"}}, 0.7, 0, 20*time.Millisecond)

	assert.True(t, IsTimeout(err), "deadline overruns must surface as timeouts, got %v", err)
}

func TestComplete_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "gpt-4.1", []Message{{Role: "user", Content: "hi"}}, 0.7, 0, time.Second)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, pe.Kind)
}

func TestGenerateImage_Success(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"data":[{"url":"https://img.example/out.png"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	url, err := client.GenerateImage(context.Background(), "gpt-image-1", "a cat", "512x512", time.Second)

	require.NoError(t, err)
	assert.Equal(t, "https://img.example/out.png", url)
	assert.Equal(t, int64(512), gjson.GetBytes(gotBody, "width").Int())
	assert.Equal(t, int64(512), gjson.GetBytes(gotBody, "height").Int())
	assert.Equal(t, "url", gjson.GetBytes(gotBody, "response_format").String())
}

func TestGenerateImage_NoURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.GenerateImage(context.Background(), "gpt-image-1", "a cat", "1024x1024", time.Second)

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindEmpty, pe.Kind)
}

func TestGenerateImage_InvalidSize(t *testing.T) {
	client := newTestClient("http://127.0.0.1:0")
	_, err := client.GenerateImage(context.Background(), "gpt-image-1", "a cat", "huge", time.Second)
	assert.Error(t, err)
}

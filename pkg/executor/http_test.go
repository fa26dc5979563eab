package executor

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method        string
	Authorization string
	ContentType   string
	Body          string
}

func newCapturingServer(t *testing.T, status int, reply string) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		captured = append(captured, capturedRequest{
			Method:        r.Method,
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			Body:          string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func TestHTTPExecutor_Execute(t *testing.T) {
	srv, requests := newCapturingServer(t, http.StatusOK, `{"code":0}`)

	h, err := NewHTTPExecutor(HTTPConfig{URL: srv.URL + "/rest/sql", Token: "root:taosdata"}, zerolog.Nop())
	require.NoError(t, err)
	defer h.Close()

	stmt := "insert into meters values(now, 1)"
	require.NoError(t, h.Execute(context.Background(), stmt))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPost, got[0].Method)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("root:taosdata")), got[0].Authorization)
	assert.Equal(t, "application/json", got[0].ContentType)
	assert.Equal(t, stmt, got[0].Body)
}

func TestHTTPExecutor_AuthorizationHeaderOverride(t *testing.T) {
	srv, requests := newCapturingServer(t, http.StatusOK, "")

	h, err := NewHTTPExecutor(HTTPConfig{URL: srv.URL, Token: "ignored:x", AuthorizationHeader: "Taosd abc"}, zerolog.Nop())
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Execute(context.Background(), "select 1"))
	assert.Equal(t, "Taosd abc", requests()[0].Authorization)
}

func TestHTTPExecutor_ErrorStatusCarriesBody(t *testing.T) {
	srv, _ := newCapturingServer(t, http.StatusBadRequest, `{"code":534,"desc":"Syntax error"}`)

	h, err := NewHTTPExecutor(HTTPConfig{URL: srv.URL, Token: "root:taosdata"}, zerolog.Nop())
	require.NoError(t, err)
	defer h.Close()

	err = h.Execute(context.Background(), "insert bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Syntax error")
}

func TestHTTPExecutor_Closed(t *testing.T) {
	srv, requests := newCapturingServer(t, http.StatusOK, "")

	h, err := NewHTTPExecutor(HTTPConfig{URL: srv.URL, Token: "root:taosdata"}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Execute(context.Background(), "select 1"), ErrClosed)
	assert.Empty(t, requests())
}

func TestNewHTTPExecutor_Validation(t *testing.T) {
	_, err := NewHTTPExecutor(HTTPConfig{Token: "root:taosdata"}, zerolog.Nop())
	assert.Error(t, err, "URL is required")

	_, err = NewHTTPExecutor(HTTPConfig{URL: "http://localhost:6041/rest/sql"}, zerolog.Nop())
	assert.Error(t, err, "credentials are required")
}

package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/scenerr"
)

func TestDispatch_SuccessNoRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	d := New(nil)
	result, err := d.Dispatch(context.Background(), Request{StepID: "s1", Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, 1, result.Attempts)
}

func TestDispatch_RetriesOnConfiguredStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(nil)
	retry := &ast.RetryPolicy{MaxRetries: 3, RetryDelayMs: 1, RetryOn: []int{503}}
	result, err := d.Dispatch(context.Background(), Request{StepID: "s1", Method: "GET", URL: srv.URL, Retry: retry})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDispatch_ExhaustsRetriesReturnsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := New(nil)
	retry := &ast.RetryPolicy{MaxRetries: 1, RetryDelayMs: 1, RetryOn: []int{503}}
	_, err := d.Dispatch(context.Background(), Request{StepID: "s1", Method: "GET", URL: srv.URL, Retry: retry})
	require.Error(t, err)
	assert.True(t, scenerr.OfKind(err, scenerr.KindHTTPStatus))
}

func TestDispatch_NetworkErrorRetriedUnderZeroConvention(t *testing.T) {
	d := New(nil)
	retry := &ast.RetryPolicy{MaxRetries: 2, RetryDelayMs: 1}
	_, err := d.Dispatch(context.Background(), Request{StepID: "s1", Method: "GET", URL: "http://127.0.0.1:1", Retry: retry})
	require.Error(t, err)
	assert.True(t, scenerr.OfKind(err, scenerr.KindDispatch))
}

func TestDispatch_NonRetryableStatusReturnsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(nil)
	result, err := d.Dispatch(context.Background(), Request{StepID: "s1", Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

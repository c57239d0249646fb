package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/onboard/pkg/api"
	"github.com/cuemby/onboard/pkg/types"
)

func TestWaitForTask(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, api.BasePath+"/task/abc", r.URL.Path)
		task := api.TaskResponse{ID: "abc", Result: types.Result{Code: types.CodeAccepted, Status: types.StatusRunning}}
		code := http.StatusAccepted
		if polls.Add(1) >= 3 {
			task.Result = types.Result{Code: types.CodeUnprocessable, Status: types.StatusError, Message: "invalid config - rolled back"}
			code = http.StatusUnprocessableEntity
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(task)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{})
	task, err := c.WaitForTask(context.Background(), "abc", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, task.Result.Status)
	assert.Equal(t, int32(3), polls.Load())
}

func TestSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(api.TaskResponse{ID: "t1", Result: types.Result{Code: 200, Status: types.StatusOK}})
	}))
	defer srv.Close()

	task, err := NewClient(srv.URL, Options{}).Submit(context.Background(), []byte(`{"class":"Device"}`))
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		body  any
		check func(t *testing.T, err error)
	}{
		{
			name: "not found",
			code: http.StatusNotFound,
			body: api.ErrorResponse{Code: 404, Message: "task not found"},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		{
			name: "bad request",
			code: http.StatusBadRequest,
			body: api.ErrorResponse{Code: 400, Message: "bad declaration", Errors: []string{"invalid JSON"}},
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
				assert.Equal(t, "agent returned 400: bad declaration: invalid JSON", apiErr.Error())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, Options{}).GetTask(context.Background(), "missing", false)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

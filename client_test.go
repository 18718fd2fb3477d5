package apikit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method      string
	path        string
	contentType string
	auth        string
	requestID   string
	body        string
}

func newRecordingServer(t *testing.T, status int, reply string) (*httptest.Server, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*rec = recordedRequest{
			method:      r.Method,
			path:        r.URL.RequestURI(),
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			requestID:   r.Header.Get(HeaderRequestID),
			body:        string(body),
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestNewAPIClient(t *testing.T) {
	t.Setenv("API_URL", "")
	_, err := NewAPIClient("")
	assert.Error(t, err)

	t.Setenv("API_URL", "http://api.local/")
	c, err := NewAPIClient("")
	require.NoError(t, err)
	assert.Equal(t, "http://api.local", c.BaseURL())
}

func TestAPIClient_Requests(t *testing.T) {
	srv, rec := newRecordingServer(t, http.StatusCreated, `{"success":true,"status":201,"response":{"title":"x"}}`)
	c, err := NewAPIClient(srv.URL+"/", WithAuthorizationToken("Bearer abc"), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	ctx := WithRequestID(context.Background(), "req-9")

	resp, err := c.Post(ctx, "/notes", testNoteDTO{Title: "x"})
	require.NoError(t, err)
	out, err := DecodeResponse[testNoteDTO](resp)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/notes", rec.path)
	assert.Equal(t, "application/json", rec.contentType)
	assert.Equal(t, "Bearer abc", rec.auth)
	assert.Equal(t, "req-9", rec.requestID)
	assert.JSONEq(t, `{"id":0,"ownerId":"","title":"x","status":"","tags":null}`, rec.body)
	assert.True(t, out.Success)
	assert.Equal(t, "x", out.Response.Title)

	resp, err = c.Patch(ctx, "notes/1", json.RawMessage(`[{"op":"remove","path":"/tags"}]`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "application/json-patch+json", rec.contentType)
	assert.Equal(t, `[{"op":"remove","path":"/tags"}]`, rec.body)

	c.SetAuthorizationToken("")
	resp, err = c.Delete(context.Background(), "/notes/bulk?ids=1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/notes/bulk?ids=1", rec.path)
	assert.Empty(t, rec.auth)
	assert.Empty(t, rec.requestID)
	assert.Empty(t, rec.contentType)
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		reply       string
		wantSuccess bool
		wantErr     bool
	}{
		{"no content", http.StatusNoContent, "", true, false},
		{"bare failure", http.StatusNotFound, "", false, false},
		{"envelope", http.StatusForbidden, `{"success":false,"status":403,"messages":[{"message":"no","type":"error"}]}`, false, false},
		{"not json", http.StatusOK, "<html>", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newRecordingServer(t, tt.status, tt.reply)
			c, err := NewAPIClient(srv.URL)
			require.NoError(t, err)

			resp, err := c.Get(context.Background(), "/x")
			require.NoError(t, err)
			out, err := DecodeResponse[any](resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, out.Status)
			assert.Equal(t, tt.wantSuccess, out.Success)
		})
	}
}

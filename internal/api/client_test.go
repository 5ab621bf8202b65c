package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fastapi/rolldice", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result": 4, "player": "`+r.URL.Query().Get("player")+`"}`)
	})
	mux.HandleFunc("GET /fastapi/slow", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message": "waited `+r.URL.Query().Get("timeDelay")+`"}`)
	})
	mux.HandleFunc("GET /fastapi/hello", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"hello": "`+r.URL.Query().Get("name")+`"}`)
	})
	mux.HandleFunc("GET /fastapi/error", func(w http.ResponseWriter, r *http.Request) {
		code, _ := strconv.Atoi(r.URL.Query().Get("code"))
		http.Error(w, `{"detail": "simulated"}`, code)
	})
	mux.HandleFunc("GET /fastapi/call-loop", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"calls": `+r.URL.Query().Get("loop")+`}`)
	})
	mux.HandleFunc("GET /java/api/hello", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"Hello from Java"`)
	})
	mux.HandleFunc("POST /fastapi/sign-document", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, "sig:"+string(body)+"\n")
	})
	mux.HandleFunc("POST /fastapi/verify-document", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("X-Signature") != "sig:"+string(body) {
			http.Error(w, `{"valid": false}`, http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"valid": true}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) *Client {
	srv := newBackend(t)
	return New(srv.Client(), Config{BaseURL: srv.URL + "/fastapi/", JavaURL: srv.URL + "/java"})
}

func TestClient_GetEndpoints(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	dice, err := c.RollDice(ctx, "gabriel")
	require.NoError(t, err)
	assert.Equal(t, DiceResult{Result: 4, Player: "gabriel"}, dice)

	msg, err := c.Slow(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, "waited 500", msg.Message)

	hello, err := c.Hello(ctx, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello": "ana"}`, string(hello))

	loop, err := c.CallLoop(ctx, 3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"calls": 3}`, string(loop))

	java, err := c.CallJava(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `"Hello from Java"`, string(java))
}

func TestClient_ErrorStatus(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Error(context.Background(), http.StatusTeapot)
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTeapot, se.StatusCode)
	assert.Equal(t, "/fastapi/error", se.URL)
	assert.Contains(t, se.Body, "simulated")
}

func TestClient_SignAndVerify(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	sig, err := c.SignDocument(ctx, "contract")
	require.NoError(t, err)
	assert.Equal(t, "sig:contract", sig)

	res, err := c.VerifyDocument(ctx, sig, "contract")
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid": true}`, string(res))

	_, err = c.VerifyDocument(ctx, sig, "tampered")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
}

func TestClient_TransportFailure(t *testing.T) {
	srv := newBackend(t)
	c := New(srv.Client(), Config{BaseURL: srv.URL + "/fastapi"})
	srv.Close()

	_, err := c.RollDice(context.Background(), "")
	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestNew_DefaultsToTelemetryClient(t *testing.T) {
	c := New(nil, Config{BaseURL: "http://localhost/fastapi"})
	require.NotNil(t, c.http)
	assert.NotNil(t, c.http.Transport)
}

package panelapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vyomcloud/vyom/internal/provision/domain"
	"github.com/vyomcloud/vyom/internal/settings"
	"go.uber.org/zap"
)

func newTestClient(endpoint string) *Client {
	return New(settings.PanelConfig{
		Endpoint: endpoint,
		APIKey:   "key",
		APIPass:  "pass",
		Timeout:  2 * time.Second,
	}, zap.NewNop())
}

func TestCreateSendsActionAndParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "addvs", r.URL.Query().Get("act"))
		assert.Equal(t, "json", r.URL.Query().Get("api"))
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "pass", r.URL.Query().Get("apipass"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "web-01.example.com", r.PostFormValue("hostname"))
		assert.Equal(t, "plid-101", r.PostFormValue("plid"))
		assert.Equal(t, "os-300", r.PostFormValue("osid"))
		assert.NotEmpty(t, r.PostFormValue("rootpass"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"vpsid":"1001","ip":"203.0.113.10"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Create(context.Background(), CreateRequest{
		Hostname:     "web-01.example.com",
		RootPassword: "s3cret",
		PlanID:       "plid-101",
		OSTemplateID: "os-300",
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", resp.InstanceID)
	assert.Equal(t, "203.0.113.10", resp.IPAddress)
}

func TestLoginPageMeansAuthFailure(t *testing.T) {
	// bad API credentials get the HTML login page with a 200 status
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><form action="login">...</form></body></html>`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Create(context.Background(), CreateRequest{Hostname: "h"})
	assert.ErrorIs(t, err, domain.ErrPanelAuthFailed)
}

func TestHTMLBodySniffedDespiteJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("<!DOCTYPE html><html><head><title>Login</title></head></html>"))
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Suspend(context.Background(), "1001")
	assert.ErrorIs(t, err, domain.ErrPanelAuthFailed)
}

func TestNonJSONGarbageMeansUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream connect error or disconnect"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Create(context.Background(), CreateRequest{Hostname: "h"})
	assert.ErrorIs(t, err, domain.ErrPanelUnreachable)
}

func TestHTTPStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("act") {
		case "suspend":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	assert.ErrorIs(t, client.Suspend(context.Background(), "1001"), domain.ErrPanelAuthFailed)
	assert.ErrorIs(t, client.Unsuspend(context.Background(), "1001"), domain.ErrPanelRequest)
}

func TestEnvelopeErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("act") {
		case "suspend":
			w.Write([]byte(`{"error":"Authentication failed"}`))
		default:
			w.Write([]byte(`{"error":"no space left on node"}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	assert.ErrorIs(t, client.Suspend(context.Background(), "1001"), domain.ErrPanelAuthFailed)
	assert.ErrorIs(t, client.Terminate(context.Background(), "1001"), domain.ErrPanelRequest)
}

func TestCreateRequiresInstanceID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"done":true}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Create(context.Background(), CreateRequest{Hostname: "h"})
	assert.ErrorIs(t, err, domain.ErrPanelRequest)
}

func TestConnectionFailureMeansUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).Create(context.Background(), CreateRequest{Hostname: "h"})
	assert.ErrorIs(t, err, domain.ErrPanelUnreachable)
}

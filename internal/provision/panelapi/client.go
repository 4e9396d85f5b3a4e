// Package panelapi is a thin client for the virtualization panel's legacy
// query-string API. Every call is a form POST to a single endpoint with the
// action and credentials in the query string; the panel answers JSON on
// success and an HTML error page when something is wrong on its side.
package panelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vyomcloud/vyom/internal/provision/domain"
	"github.com/vyomcloud/vyom/internal/settings"
	"go.uber.org/zap"
)

// maxResponseBytes bounds how much of a panel response we will buffer.
const maxResponseBytes = 1 << 20

type Client struct {
	cfg  settings.PanelConfig
	http *http.Client
	log  *zap.Logger
}

func New(cfg settings.PanelConfig, log *zap.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.Named("panel.client"),
	}
}

type CreateRequest struct {
	Hostname     string
	RootPassword string
	PlanID       string
	OSTemplateID string
}

type CreateResponse struct {
	InstanceID string `json:"vpsid"`
	IPAddress  string `json:"ip"`
}

// Create provisions a new VM and returns the panel's identifier for it.
func (c *Client) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	form := url.Values{}
	form.Set("hostname", req.Hostname)
	form.Set("rootpass", req.RootPassword)
	form.Set("plid", req.PlanID)
	form.Set("osid", req.OSTemplateID)

	var out CreateResponse
	if err := c.call(ctx, "addvs", form, &out); err != nil {
		return CreateResponse{}, err
	}
	if out.InstanceID == "" {
		return CreateResponse{}, fmt.Errorf("%w: create returned no instance id", domain.ErrPanelRequest)
	}
	return out, nil
}

func (c *Client) Suspend(ctx context.Context, panelInstanceID string) error {
	form := url.Values{}
	form.Set("vpsid", panelInstanceID)
	return c.call(ctx, "suspend", form, nil)
}

func (c *Client) Unsuspend(ctx context.Context, panelInstanceID string) error {
	form := url.Values{}
	form.Set("vpsid", panelInstanceID)
	return c.call(ctx, "unsuspend", form, nil)
}

func (c *Client) Terminate(ctx context.Context, panelInstanceID string) error {
	form := url.Values{}
	form.Set("vpsid", panelInstanceID)
	return c.call(ctx, "delete", form, nil)
}

// panelEnvelope is the common wrapper around every JSON response.
type panelEnvelope struct {
	Error string `json:"error"`
}

func (c *Client) call(ctx context.Context, act string, form url.Values, out any) error {
	endpoint, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: bad endpoint: %v", domain.ErrPanelRequest, err)
	}
	query := endpoint.Query()
	query.Set("act", act)
	query.Set("api", "json")
	query.Set("apikey", c.cfg.APIKey)
	query.Set("apipass", c.cfg.APIPass)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPanelUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPanelUnreachable, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return domain.ErrPanelAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("panel returned non-200", zap.String("act", act), zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", domain.ErrPanelRequest, resp.StatusCode)
	}

	// The panel serves its HTML login page with a 200 status when the API
	// credentials are wrong; anything else non-JSON means the panel (or a
	// proxy in front of it) is not answering properly.
	if !looksLikeJSON(resp.Header.Get("Content-Type"), body) {
		if looksLikeHTML(resp.Header.Get("Content-Type"), body) {
			c.log.Warn("panel returned a login page", zap.String("act", act))
			return fmt.Errorf("%w: login page instead of JSON", domain.ErrPanelAuthFailed)
		}
		c.log.Warn("panel returned non-JSON response", zap.String("act", act))
		return fmt.Errorf("%w: non-JSON response", domain.ErrPanelUnreachable)
	}

	var envelope panelEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPanelRequest, err)
	}
	if envelope.Error != "" {
		if strings.Contains(strings.ToLower(envelope.Error), "auth") {
			return domain.ErrPanelAuthFailed
		}
		return fmt.Errorf("%w: %s", domain.ErrPanelRequest, envelope.Error)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPanelRequest, err)
		}
	}
	return nil
}

func looksLikeJSON(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := strings.ToLower(string(bytes.TrimSpace(body)))
	return strings.HasPrefix(trimmed, "<!doctype") || strings.HasPrefix(trimmed, "<html")
}

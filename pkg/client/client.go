package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oarkflow/anchor/pkg/contracts"
	"github.com/oarkflow/anchor/pkg/models"
)

var tracer = otel.Tracer("client")

const (
	defaultTimeout = 10 * time.Second
	apiPrefix      = "/api/v1"
	serviceInfoKey = "service:info"
)

var ErrEndpointNotSet = errors.New("identity service endpoint is not set")

// Client talks to the identity service over its JSON API.
type Client struct {
	client    *http.Client
	cache     *cache.Cache
	baseURL   string
	userAgent string
}

func New(baseURL, userAgent string) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, ErrEndpointNotSet
	}
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}
	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		baseURL:   baseURL,
		userAgent: userAgent,
	}
	httpClient.Transport = c
	return c, nil
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return http.DefaultTransport.RoundTrip(req)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, body, response any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to perform %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || (apiErr.Code == "" && apiErr.Error == "") {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return contracts.ErrorFromCode(apiErr.Code, apiErr.Error)
	}
	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

func anchorPath(anchor models.AnchorNumber, suffix string) string {
	return fmt.Sprintf("/anchors/%d%s", anchor, suffix)
}

func (c *Client) LookupAuthenticators(ctx context.Context, anchor models.AnchorNumber) ([]models.DeviceData, error) {
	ctx, span := tracer.Start(ctx, "Client.LookupAuthenticators")
	defer span.End()
	span.SetAttributes(attribute.Int64("anchor", int64(anchor)))

	var devices []models.DeviceData
	if err := c.do(ctx, http.MethodGet, anchorPath(anchor, "/authenticators"), nil, &devices); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "lookup authenticators")
	}
	return devices, nil
}

func (c *Client) Lookup(ctx context.Context, anchor models.AnchorNumber) ([]models.DeviceData, error) {
	ctx, span := tracer.Start(ctx, "Client.Lookup")
	defer span.End()
	span.SetAttributes(attribute.Int64("anchor", int64(anchor)))

	var devices []models.DeviceData
	if err := c.do(ctx, http.MethodGet, anchorPath(anchor, "/devices"), nil, &devices); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "lookup devices")
	}
	return devices, nil
}

func (c *Client) GetAnchorInfo(ctx context.Context, anchor models.AnchorNumber) (models.AnchorInfo, error) {
	ctx, span := tracer.Start(ctx, "Client.GetAnchorInfo")
	defer span.End()

	var info models.AnchorInfo
	if err := c.do(ctx, http.MethodGet, anchorPath(anchor, ""), nil, &info); err != nil {
		span.RecordError(err)
		return models.AnchorInfo{}, errors.Wrap(err, "get anchor info")
	}
	return info, nil
}

func (c *Client) CreateAnchor(ctx context.Context, device models.DeviceData) (models.AnchorNumber, error) {
	ctx, span := tracer.Start(ctx, "Client.CreateAnchor")
	defer span.End()

	var created struct {
		Anchor models.AnchorNumber `json:"anchor"`
	}
	if err := c.do(ctx, http.MethodPost, "/anchors", device, &created); err != nil {
		span.RecordError(err)
		return 0, errors.Wrap(err, "create anchor")
	}
	return created.Anchor, nil
}

func (c *Client) AddDevice(ctx context.Context, anchor models.AnchorNumber, device models.DeviceData) error {
	ctx, span := tracer.Start(ctx, "Client.AddDevice")
	defer span.End()

	if err := c.do(ctx, http.MethodPost, anchorPath(anchor, "/devices"), device, nil); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "add device")
	}
	return nil
}

func (c *Client) EnterDeviceRegistrationMode(ctx context.Context, anchor models.AnchorNumber) (models.Timestamp, error) {
	ctx, span := tracer.Start(ctx, "Client.EnterDeviceRegistrationMode")
	defer span.End()

	var mode struct {
		Expiration models.Timestamp `json:"expiration"`
	}
	if err := c.do(ctx, http.MethodPost, anchorPath(anchor, "/registration-mode"), nil, &mode); err != nil {
		span.RecordError(err)
		return 0, errors.Wrap(err, "enter device registration mode")
	}
	return mode.Expiration, nil
}

func (c *Client) AddTentativeDevice(ctx context.Context, anchor models.AnchorNumber, device models.DeviceData) (models.TentativeRegistrationInfo, error) {
	ctx, span := tracer.Start(ctx, "Client.AddTentativeDevice")
	defer span.End()

	var info models.TentativeRegistrationInfo
	if err := c.do(ctx, http.MethodPost, anchorPath(anchor, "/tentative-device"), device, &info); err != nil {
		span.RecordError(err)
		return models.TentativeRegistrationInfo{}, errors.Wrap(err, "add tentative device")
	}
	return info, nil
}

func (c *Client) VerifyTentativeDevice(ctx context.Context, anchor models.AnchorNumber, code string) error {
	ctx, span := tracer.Start(ctx, "Client.VerifyTentativeDevice")
	defer span.End()

	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, anchorPath(anchor, "/tentative-device/verify"), body, nil); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "verify tentative device")
	}
	return nil
}

// ServiceInfo describes the remote service. The answer is cached.
func (c *Client) ServiceInfo(ctx context.Context) (models.ServiceInfo, error) {
	if x, found := c.cache.Get(serviceInfoKey); found {
		return x.(models.ServiceInfo), nil
	}
	var info models.ServiceInfo
	if err := c.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return models.ServiceInfo{}, errors.Wrap(err, "service info")
	}
	c.cache.Set(serviceInfoKey, info, cache.DefaultExpiration)
	return info, nil
}

package bigip

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/onboard/pkg/log"
	"github.com/cuemby/onboard/pkg/metrics"
	"github.com/cuemby/onboard/pkg/types"
)

// Options configure a REST session
type Options struct {
	Host               string
	Port               int
	Scheme             string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = "localhost"
	}
	if o.Port == 0 {
		o.Port = 443
	}
	if o.Scheme == "" {
		o.Scheme = "https"
	}
	if o.Timeout == 0 {
		o.Timeout = 60 * time.Second
	}
	return o
}

// Client is a Device backed by the iControl REST API
type Client struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	password string
}

// NewClient creates a REST session. No request is made until the first call.
func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}, //nolint:gosec // appliances ship self-signed certificates
	}
	return &Client{
		opts:     opts,
		http:     &http.Client{Transport: transport, Timeout: opts.Timeout},
		logger:   log.WithTarget(log.WithComponent("bigip"), opts.Host),
		password: opts.Password,
	}
}

func (c *Client) Host() string { return c.opts.Host }
func (c *Client) User() string { return c.opts.Username }

func (c *Client) SetPassword(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = password
}

func (c *Client) Cluster() Cluster   { return NewCluster(c) }
func (c *Client) Onboard() Onboarder { return NewOnboarder(c, c.dialBigIQ) }

func (c *Client) dialBigIQ(host, username, password string) Device {
	return NewClient(Options{
		Host:               host,
		Username:           username,
		Password:           password,
		InsecureSkipVerify: c.opts.InsecureSkipVerify,
		Timeout:            c.opts.Timeout,
	})
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s://%s/mgmt", c.opts.Scheme, net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port)))
}

func (c *Client) do(ctx context.Context, method, path string, body any) (any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body for %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL()+path, reader)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	req.SetBasicAuth(c.opts.Username, c.password)
	c.mu.RUnlock()
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("method", method).Str("path", path).Msg("Device request")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.DeviceRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	metrics.DeviceRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		devErr := &types.DeviceError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, devErr)
		}
		return nil, devErr
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response for %s %s: %w", method, path, err)
	}
	return out, nil
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}

// List returns the items of a collection, or the object itself for a singleton
func (c *Client) List(ctx context.Context, path string) (any, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	obj, ok := resp.(map[string]any)
	if !ok {
		return resp, nil
	}
	if items, ok := obj["items"].([]any); ok {
		return items, nil
	}
	if kind, _ := obj["kind"].(string); strings.HasSuffix(kind, "collectionstate") {
		return []any{}, nil
	}
	return obj, nil
}

func (c *Client) Create(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Modify(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

func (c *Client) Replace(ctx context.Context, path string, body any) (any, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) CreateOrModify(ctx context.Context, path string, body map[string]any) (any, error) {
	resp, err := c.Create(ctx, path, body)
	if err == nil {
		return resp, nil
	}
	var devErr *types.DeviceError
	if !errors.As(err, &devErr) || devErr.StatusCode != http.StatusConflict {
		return nil, err
	}

	name, _ := body["name"].(string)
	update := make(map[string]any, len(body))
	for k, v := range body {
		if k != "name" && k != "partition" {
			update[k] = v
		}
	}
	return c.Modify(ctx, CommonPath(path, name), update)
}

// Delete removes an object. A missing object is not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.do(ctx, http.MethodDelete, path, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/shared/identified-devices/config/device-info", nil)
	if err != nil {
		return nil, err
	}
	return types.Decode[*DeviceInfo](resp)
}

// Active reports whether config, license and provisioning are all ready
func (c *Client) Active(ctx context.Context) (bool, error) {
	resp, err := c.List(ctx, "/tm/sys/ready")
	if err != nil {
		return false, err
	}
	stats := StatsDescriptions(resp)
	for _, key := range []string{"configReady", "licenseReady", "provisionReady"} {
		if stats[key] != "yes" {
			return false, nil
		}
	}
	return true, nil
}

// RebootRequired checks both the provisioning db flag and the shell prompt
func (c *Client) RebootRequired(ctx context.Context) (bool, error) {
	resp, err := c.List(ctx, "/tm/sys/db/provision.action")
	if err != nil && !IsNotFound(err) {
		return false, err
	}
	if obj, ok := resp.(map[string]any); ok {
		if value, _ := obj["value"].(string); value == "reboot" {
			return true, nil
		}
	}

	prompt, err := c.Bash(ctx, "cat /var/prompt/ps1")
	if err != nil {
		return false, err
	}
	return strings.Contains(prompt, "REBOOT REQUIRED"), nil
}

func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.Create(ctx, "/tm/sys", map[string]any{"command": "reboot"})
	return err
}

func (c *Client) Save(ctx context.Context) error {
	_, err := c.Create(ctx, "/tm/sys/config", map[string]any{"command": "save"})
	return err
}

func (c *Client) Bash(ctx context.Context, command string) (string, error) {
	resp, err := c.Create(ctx, "/tm/util/bash", map[string]any{
		"command":     "run",
		"utilCmdArgs": "-c '" + strings.ReplaceAll(command, "'", `'"'"'`) + "'",
	})
	if err != nil {
		return "", err
	}
	obj, _ := resp.(map[string]any)
	result, _ := obj["commandResult"].(string)
	return result, nil
}

// StatsDescriptions flattens a nestedStats response into name -> description
func StatsDescriptions(resp any) map[string]string {
	out := map[string]string{}
	var walk func(v any)
	walk = func(v any) {
		obj, ok := v.(map[string]any)
		if !ok {
			return
		}
		entries, _ := obj["entries"].(map[string]any)
		for key, entry := range entries {
			entryObj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if desc, ok := entryObj["description"].(string); ok {
				out[key] = desc
			}
			if nested, ok := entryObj["nestedStats"]; ok {
				walk(nested)
			}
		}
	}
	walk(resp)
	return out
}

// Dialer opens REST sessions for task targets, filling gaps from Defaults
type Dialer struct {
	Defaults Options
}

func (d Dialer) Connect(ctx context.Context, target types.Target) (Device, error) {
	opts := d.Defaults
	if target.Host != "" {
		opts.Host = target.Host
	}
	if target.Port != 0 {
		opts.Port = target.Port
	}
	if target.Username != "" {
		opts.Username = target.Username
	}
	if target.Password != "" {
		opts.Password = target.Password
	}
	client := NewClient(opts)
	if _, err := client.DeviceInfo(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", client.Host(), err)
	}
	return client, nil
}

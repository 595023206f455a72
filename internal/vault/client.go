// internal/vault/client.go
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotFound = errors.New("vault: secret not found")

// Client talks to an external KV v2 style vault over HTTP. It implements the
// custody.Vault boundary; the vault itself is an external collaborator.
type Client struct {
	http  *resty.Client
	mount string
}

// New returns nil when addr is empty, which callers treat as "no vault
// configured" (inline fallback in the custody manager).
func New(addr, token, mount string) *Client {
	if addr == "" {
		return nil
	}
	if mount == "" {
		mount = "secret"
	}
	cli := resty.New().
		SetBaseURL(strings.TrimRight(addr, "/")).
		SetHeader("X-Vault-Token", token).
		SetTimeout(10 * time.Second)
	return &Client{http: cli, mount: mount}
}

type kvPayload struct {
	Data struct {
		Data map[string]string `json:"data"`
	} `json:"data"`
}

// Put writes value under key and returns "mount/key" as the stored reference.
// Writes for the same key are idempotent on the vault side (a new version of
// the same path).
func (c *Client) Put(ctx context.Context, key, value string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"data": map[string]string{"value": value}}).
		Post(fmt.Sprintf("/v1/%s/data/%s", c.mount, key))
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("vault put %s: status %d", key, resp.StatusCode())
	}
	return c.mount + "/" + key, nil
}

// Get resolves a reference produced by Put.
func (c *Client) Get(ctx context.Context, ref string) (string, error) {
	key := strings.TrimPrefix(ref, c.mount+"/")
	var out kvPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/v1/%s/data/%s", c.mount, key))
	if err != nil {
		return "", err
	}
	if resp.StatusCode() == 404 {
		return "", ErrNotFound
	}
	if resp.IsError() {
		return "", fmt.Errorf("vault get %s: status %d", ref, resp.StatusCode())
	}
	v, ok := out.Data.Data["value"]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

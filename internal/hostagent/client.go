/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hostagent implements upgrade.HostAgent against the per-host
// cephadm agent's HTTPS control-plane endpoint.
package hostagent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceph/ceph-upgrade-controller/internal/upgrade"
)

// defaultAgentPort is the cephadm host agent's listening port.
const defaultAgentPort = 7150

// Client is the production upgrade.HostAgent implementation. Every call
// goes over mTLS to "https://<host>:Port", using the client certificate
// cmd/main.go loads from --agent-cert-file/--agent-key-file.
type Client struct {
	HTTP *http.Client
	Port int

	// RatePerHost bounds inspect-image/pull calls per host per second, so
	// a single flapping registry or host cannot starve other hosts'
	// ticks. Defaults to 1 request/second, burst 2, when zero.
	RatePerHost rate.Limit
	BurstPerHost int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient builds a Client with the given mTLS client certificate.
func NewClient(cert tls.Certificate) *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					MinVersion:   tls.VersionTLS12,
				},
			},
		},
		Port:         defaultAgentPort,
		RatePerHost:  1,
		BurstPerHost: 2,
		limiters:     map[string]*rate.Limiter{},
	}
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		limit := c.RatePerHost
		if limit == 0 {
			limit = 1
		}
		burst := c.BurstPerHost
		if burst == 0 {
			burst = 2
		}
		l = rate.NewLimiter(limit, burst)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) wait(ctx context.Context, host string) error {
	if err := c.limiterFor(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiting call to host %s: %w", host, err)
	}
	return nil
}

type inspectImageResponse struct {
	Digests []string `json:"digests"`
}

// InspectImage implements upgrade.HostAgent.
func (c *Client) InspectImage(ctx context.Context, host, image string) ([]string, error) {
	if err := c.wait(ctx, host); err != nil {
		return nil, err
	}
	var resp inspectImageResponse
	if err := c.post(ctx, host, "/inspect-image", map[string]string{"image": image}, &resp); err != nil {
		return nil, fmt.Errorf("inspecting image %s on %s: %w", image, host, err)
	}
	return resp.Digests, nil
}

type pullResponse struct {
	ID      string   `json:"id"`
	Version string   `json:"version"`
	Digests []string `json:"digests"`
}

// Pull implements upgrade.HostAgent.
func (c *Client) Pull(ctx context.Context, host, image string) (string, string, []string, error) {
	if err := c.wait(ctx, host); err != nil {
		return "", "", nil, err
	}
	var resp pullResponse
	if err := c.post(ctx, host, "/pull", map[string]string{"image": image}, &resp); err != nil {
		return "", "", nil, fmt.Errorf("pulling image %s on %s: %w", image, host, err)
	}
	return resp.ID, resp.Version, resp.Digests, nil
}

// Redeploy implements upgrade.HostAgent.
func (c *Client) Redeploy(ctx context.Context, d upgrade.Daemon, image string) error {
	body := map[string]string{"daemon": d.Name(), "mode": "redeploy"}
	if image != "" {
		body["image"] = image
	}
	if err := c.post(ctx, d.Host, "/daemon-action", body, nil); err != nil {
		return fmt.Errorf("redeploying %s on %s: %w", d.Name(), d.Host, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, host, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	url := fmt.Sprintf("https://%s:%d%s", host, c.Port, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("calling host agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("host agent returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

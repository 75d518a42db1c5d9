package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const contentType = "application/octet-stream"

// StatusError reports a non-2xx reply from the remote node.
type StatusError struct {
	Address string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rpc to %s: unexpected status %d", e.Address, e.Code)
}

// Client posts opaque payloads to cluster nodes. The address is the full URL
// of the node's task endpoint.
type Client struct {
	httpClient *http.Client
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{httpClient: httpClient}
}

// Send starts the request in the background and returns immediately.
func (c *Client) Send(ctx context.Context, address string, payload []byte) *Call {
	call := NewCall()
	go func() {
		body, err := c.post(ctx, address, payload)
		call.Complete(body, err)
	}()
	return call
}

func (c *Client) post(ctx context.Context, address string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc to %s: %w", address, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rpc reply from %s: %w", address, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Address: address, Code: resp.StatusCode}
	}
	return body, nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultServerURL = "http://localhost:8077"

// client is a thin HTTP client for the control API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: http.DefaultClient}
}

// get decodes a JSON GET response into out.
func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return c.decode(path, resp, out)
}

// post sends a JSON body (may be nil) and decodes the response into out.
func (c *client) post(path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}
	resp, err := c.http.Post(c.base+path, "application/json", buf)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return c.decode(path, resp, out)
}

// stream issues a GET and returns the raw body for SSE consumption.
func (c *client) stream(path string) (io.ReadCloser, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, c.apiError(path, resp)
	}
	return resp.Body, nil
}

func (c *client) decode(path string, resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		return c.apiError(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *client) apiError(path string, resp *http.Response) error {
	var body struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("%s: %s", body.Code, body.Error)
	}
	return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
}

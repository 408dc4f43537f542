// Copyright 2019, Square, Inc.

package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/square/peflow/proto"
)

// client sends messages to peer ranks.
type client struct {
	*http.Client
}

func (c *client) send(ctx context.Context, baseUrl string, msg proto.Message) error {
	// POST /api/v1/messages
	url := baseUrl + API_ROOT + "messages"

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	resp, body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: unsuccessful status code: %d (response body: %s)",
			url, resp.StatusCode, string(body))
	}
	return nil
}

func (c *client) ping(ctx context.Context, baseUrl string) error {
	// GET /api/v1/ping
	url := baseUrl + API_ROOT + "ping"

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return err
	}
	resp, body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unsuccessful status code: %d (response body: %s)",
			url, resp.StatusCode, string(body))
	}
	return nil
}

func (c *client) do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http.Client.Do: %s", err)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("ioutil.ReadAll: %s", err)
	}
	return resp, body, nil
}

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	fspath "path"
	"time"

	"github.com/hearsay-io/hearsay/pkg/gossip"
)

// Client queries the status API exposed on a node's admin port.
type Client struct {
	httpClient *http.Client

	url *url.URL
}

func NewClient(url *url.URL) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Second * 15,
		},
		url: url,
	}
}

func (c *Client) SetURL(url *url.URL) {
	c.url = url
}

func (c *Client) Group() ([]gossip.NodeID, error) {
	r, err := c.request("/status/gossip/group")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var group []gossip.NodeID
	if err := json.NewDecoder(r).Decode(&group); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return group, nil
}

func (c *Client) GraphEvents() ([]gossip.EventEntry, error) {
	r, err := c.request("/status/gossip/graph/events")
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var events []gossip.EventEntry
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return events, nil
}

func (c *Client) GraphEvent(hash string) (*gossip.Event, error) {
	r, err := c.request("/status/gossip/graph/events/" + hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var event gossip.Event
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &event, nil
}

func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) request(path string) (io.ReadCloser, error) {
	url := new(url.URL)
	*url = *c.url

	url.Path = fspath.Join(url.Path, path)

	req, err := http.NewRequest(http.MethodGet, url.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, fmt.Errorf("request: bad status: %d", resp.StatusCode)
	}

	return resp.Body, nil
}

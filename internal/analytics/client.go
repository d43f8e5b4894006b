package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client posts batched listener/playback analytics to an external ingest
// endpoint, the same resty-backed short-timeout POST shape
// sonos.RestyClient uses for SOAP.
type Client struct {
	URL    string
	APIKey string
	http   *resty.Client
}

func NewClient(url, apiKey string) *Client {
	return &Client{
		URL:    url,
		APIKey: apiKey,
		http:   resty.New().SetTimeout(5 * time.Second),
	}
}

func (c *Client) SendBatch(ctx context.Context, batch IngestBatch) error {
	if c.URL == "" {
		return nil
	}
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(batch)
	if c.APIKey != "" {
		req.SetHeader("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := req.Post(c.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("ingest failed: status=%d", resp.StatusCode())
	}
	return nil
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/cascade/pkg/engine"
)

// Client wraps the Cascade query API for CLI usage
type Client struct {
	baseURL  string
	basePath string
	http     *http.Client
}

// NewClient creates a client for a Cascade server address.
func NewClient(addr string) *Client {
	baseURL := addr
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		basePath: "/_ah/pipeline",
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBasePath overrides the default task/query base path.
func (c *Client) WithBasePath(basePath string) *Client {
	c.basePath = "/" + strings.Trim(basePath, "/")
	return c
}

// RootList fetches one page of root pipelines.
func (c *Client) RootList(ctx context.Context, classPath, cursor string, count int) (*engine.RootListResult, error) {
	query := url.Values{}
	if classPath != "" {
		query.Set("class_path", classPath)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if count > 0 {
		query.Set("count", strconv.Itoa(count))
	}
	var result engine.RootListResult
	if err := c.get(ctx, "rootlist", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Tree fetches the full status tree of a workflow.
func (c *Client) Tree(ctx context.Context, rootID string) (*engine.StatusTree, error) {
	query := url.Values{}
	query.Set("root_pipeline_id", rootID)
	var tree engine.StatusTree
	if err := c.get(ctx, "tree", query, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// ClassPaths fetches the registered stage names.
func (c *Client) ClassPaths(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.get(ctx, "class_paths", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	target := c.baseURL + c.basePath + "/" + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

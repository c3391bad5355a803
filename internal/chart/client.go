// internal/chart/client.go
package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"
)

// Renderer turns labeled values into a chart image. Rendering is a
// best-effort collaborator: callers degrade to text-only responses when it
// fails.
type Renderer interface {
	Render(ctx context.Context, chartType models.ChartType, series []Series) (string, error)
}

// Series is one labeled value on a chart.
type Series struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type renderRequest struct {
	ChartType string   `json:"chartType"`
	Series    []Series `json:"series"`
}

type renderResponse struct {
	Image string `json:"image"` // base64 PNG
}

// Client calls the external chart-rendering service.
type Client struct {
	baseURL string
	http    *http.Client
	log     logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Render requests a chart image. Returns the base64 PNG payload.
func (c *Client) Render(ctx context.Context, chartType models.ChartType, series []Series) (string, error) {
	if !chartType.IsValid() {
		chartType = models.ChartBar
	}

	body, err := json.Marshal(renderRequest{
		ChartType: string(chartType),
		Series:    series,
	})
	if err != nil {
		return "", fmt.Errorf("marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chart renderer call failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", fmt.Errorf("chart renderer returned %d: %s", res.StatusCode, string(payload))
	}

	var parsed renderResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode render response: %w", err)
	}
	if parsed.Image == "" {
		return "", fmt.Errorf("chart renderer returned empty image")
	}

	return parsed.Image, nil
}

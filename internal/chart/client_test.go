// internal/chart/client_test.go
package chart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReturnsImage(t *testing.T) {
	var captured renderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/render", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(renderResponse{Image: "aGVsbG8="})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, logger.NewTestLogger(t))

	image, err := client.Render(context.Background(), models.ChartPie, []Series{
		{Label: "example.com", Value: 98.5},
	})
	require.NoError(t, err)
	assert.Equal(t, "aGVsbG8=", image)
	assert.Equal(t, "pie", captured.ChartType)
	require.Len(t, captured.Series, 1)
	assert.Equal(t, "example.com", captured.Series[0].Label)
}

func TestRenderDefaultsInvalidChartType(t *testing.T) {
	var captured renderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(renderResponse{Image: "img"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, logger.NewTestLogger(t))

	_, err := client.Render(context.Background(), models.ChartType("sparkline"), nil)
	require.NoError(t, err)
	assert.Equal(t, "bar", captured.ChartType)
}

func TestRenderErrorResponses(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "renderer exploded", http.StatusInternalServerError)
			},
		},
		{
			name: "empty image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(renderResponse{})
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(tc.handler)
			defer server.Close()

			client := NewClient(server.URL, 5*time.Second, logger.NewTestLogger(t))
			_, err := client.Render(context.Background(), models.ChartBar, nil)
			assert.Error(t, err)
		})
	}
}

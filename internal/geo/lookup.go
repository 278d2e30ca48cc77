package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultLookupTimeout = 5 * time.Second

// Lookup is the outbound precise-distance port. Best-effort: callers must
// tolerate failure and fall back to the local estimate.
type Lookup interface {
	PreciseDistanceKm(ctx context.Context, origin, destination string) (float64, error)
}

type routingResponse struct {
	DistanceKm float64 `json:"distanceKm"`
}

// RoutingClient queries an external routing service for driving distance
// between two addresses (or "lat,lon" coordinate pairs).
type RoutingClient struct {
	client   *resty.Client
	endpoint string
}

func NewRoutingClient(endpoint string) (*RoutingClient, error) {
	client := resty.New()
	client.SetTimeout(defaultLookupTimeout)
	client.SetRetryCount(0)

	return NewRoutingClientWithClient(endpoint, client)
}

func NewRoutingClientWithClient(endpoint string, client *resty.Client) (*RoutingClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("routing endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid routing endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultLookupTimeout)
	}
	client.SetRetryCount(0)

	return &RoutingClient{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (c *RoutingClient) PreciseDistanceKm(ctx context.Context, origin, destination string) (float64, error) {
	if c == nil || c.client == nil {
		return 0, fmt.Errorf("routing client is not initialized")
	}

	origin = strings.TrimSpace(origin)
	destination = strings.TrimSpace(destination)
	if origin == "" || destination == "" {
		return 0, fmt.Errorf("origin and destination are required")
	}

	var result routingResponse
	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("origin", origin).
		SetQueryParam("destination", destination).
		SetResult(&result).
		Get(c.endpoint)
	if err != nil {
		return 0, fmt.Errorf("routing request failed: %w", err)
	}
	if response.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("routing service returned status %d", response.StatusCode())
	}
	if result.DistanceKm <= 0 {
		return 0, fmt.Errorf("routing service returned non-positive distance %g", result.DistanceKm)
	}

	return result.DistanceKm, nil
}

// CoordinateString formats a lat/lon pair as a routing-service query value.
func CoordinateString(lat, lon float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lon)
}

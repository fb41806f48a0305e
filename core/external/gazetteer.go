// Package external implements the two network-bound collaborators named in
// §6.4 but left as opaque HTTP contracts: the geocoder lookup behind
// geocoder.Gazetteer, and the location-finder proximity query behind
// placement.LocationFinder. Grounded on the p1 adapter's http.Client+bearer
// idiom (providers/p1/client.go).
package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudplay/fleet-control-plane/core/geocoder"
	"github.com/cloudplay/fleet-control-plane/core/models"
)

// HTTPGazetteer implements geocoder.Gazetteer against the configured
// geocoder_endpoint. Per §9's open question, this spec prescribes no
// internal retry; a failure or miss is reported up and the Geocoder treats
// it as UNKNOWN.
type HTTPGazetteer struct {
	endpoint string
	http     *http.Client
}

func NewHTTPGazetteer(endpoint string, timeout time.Duration) *HTTPGazetteer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGazetteer{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

type gazetteerResponse struct {
	Found bool    `json:"found"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

func (g *HTTPGazetteer) Lookup(ctx context.Context, city, region, country string) (geocoder.Coord, bool, error) {
	if g.endpoint == "" {
		return geocoder.Coord{}, false, fmt.Errorf("geocoder endpoint not configured")
	}

	q := url.Values{}
	q.Set("city", city)
	q.Set("region", region)
	q.Set("country", country)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return geocoder.Coord{}, false, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return geocoder.Coord{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return geocoder.Coord{}, false, fmt.Errorf("gazetteer: unexpected status %d", resp.StatusCode)
	}

	var out gazetteerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return geocoder.Coord{}, false, err
	}
	if !out.Found {
		return geocoder.Coord{}, false, nil
	}
	return geocoder.Coord{Lat: out.Lat, Lon: out.Lon}, true, nil
}

// HTTPLocationFinder implements placement.LocationFinder against the
// configured location_finder_endpoint.
type HTTPLocationFinder struct {
	endpoint  string
	projectID string
	http      *http.Client
}

func NewHTTPLocationFinder(endpoint, projectID string, timeout time.Duration) *HTTPLocationFinder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPLocationFinder{endpoint: endpoint, projectID: projectID, http: &http.Client{Timeout: timeout}}
}

type locationFinderResponse struct {
	Regions []string `json:"regions"`
}

func (f *HTTPLocationFinder) Proximity(ctx context.Context, coord models.Coord) ([]string, error) {
	if f.endpoint == "" {
		return nil, fmt.Errorf("location finder endpoint not configured")
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", coord.Lat))
	q.Set("lon", fmt.Sprintf("%f", coord.Lon))
	if f.projectID != "" {
		q.Set("project_id", f.projectID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("location finder: unexpected status %d", resp.StatusCode)
	}

	var out locationFinderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Regions, nil
}

package overpass

import (
	"encoding/json"
	"fmt"
)

// response is the service's JSON envelope.
type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Center   *latLon           `json:"center"`
	Members  []member          `json:"members"`
	Geometry []latLon          `json:"geometry"`
}

type member struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func parseResponse(body []byte) (*response, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to parse service response: %w", err)
	}
	return &r, nil
}

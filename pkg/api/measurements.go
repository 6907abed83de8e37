package api

import (
	"context"
	"net/http"
)

// CreateMeasurementRequest is the create-measurement (504) payload.
type CreateMeasurementRequest struct {
	StudyID       string `json:"StudyID"`
	Resolution    int    `json:"Resolution"`
	UserProfileID string `json:"UserProfileID"`
	Mode          string `json:"Mode"`
}

// CreateMeasurement creates a measurement and returns its server-issued
// ID.
func (c *Client) CreateMeasurement(ctx context.Context, req CreateMeasurementRequest) (string, error) {
	var resp struct {
		envelope
		ID string `json:"ID"`
	}
	if err := c.do(ctx, http.MethodPost, "/measurements", c.Token(), req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &Error{HTTPStatus: http.StatusOK, Code: resp.Code, Message: resp.Message}
	}
	return resp.ID, nil
}

// RetrieveMeasurement fetches a measurement's current state and results
// (500).
func (c *Client) RetrieveMeasurement(ctx context.Context, measurementID string) (map[string]any, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodGet, "/measurements/"+measurementID, c.Token(), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AddDataRequest is the REST add-data (506) payload. Payload is
// base64-encoded; Meta is a JSON document.
type AddDataRequest struct {
	ChunkOrder int    `json:"ChunkOrder"`
	Action     string `json:"Action"`
	StartTime  string `json:"StartTime"`
	EndTime    string `json:"EndTime"`
	Duration   string `json:"Duration"`
	Meta       string `json:"Meta"`
	Payload    string `json:"Payload"`
}

// AddMeasurementData uploads one chunk over REST. The websocket flow in
// pkg/measurement is the primary path; this variant serves callers that
// cannot hold a socket open.
func (c *Client) AddMeasurementData(ctx context.Context, measurementID string, req AddDataRequest) error {
	return c.do(ctx, http.MethodPost, "/measurements/"+measurementID+"/data", c.Token(), req, nil)
}

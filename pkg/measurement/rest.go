package measurement

import (
	"context"
	"encoding/base64"

	"github.com/deepaffex/dfx/pkg/api"
)

// DefaultResolution is the fixed measurement resolution this client
// requests.
const DefaultResolution = 100

// Service wraps the measurement REST endpoints for one study.
type Service struct {
	client    *api.Client
	studyID   string
	mode      string
	profileID string
}

// NewService creates a Service creating measurements under the given
// study in the given mode.
func NewService(client *api.Client, studyID, mode string) *Service {
	return &Service{client: client, studyID: studyID, mode: mode}
}

// WithProfileID sets the user profile attached to created measurements.
func (s *Service) WithProfileID(profileID string) *Service {
	s.profileID = profileID
	return s
}

// Create creates a new measurement and returns its ID.
func (s *Service) Create(ctx context.Context) (string, error) {
	return s.client.CreateMeasurement(ctx, api.CreateMeasurementRequest{
		StudyID:       s.studyID,
		Resolution:    DefaultResolution,
		UserProfileID: s.profileID,
		Mode:          s.mode,
	})
}

// Retrieve fetches a measurement's state and results.
func (s *Service) Retrieve(ctx context.Context, measurementID string) (map[string]any, error) {
	return s.client.RetrieveMeasurement(ctx, measurementID)
}

// AddData uploads one chunk over REST instead of the websocket.
func (s *Service) AddData(ctx context.Context, measurementID string, chunk Chunk) error {
	meta, err := chunk.metaJSON()
	if err != nil {
		return err
	}
	return s.client.AddMeasurementData(ctx, measurementID, api.AddDataRequest{
		ChunkOrder: chunk.Order,
		Action:     chunk.Action(),
		StartTime:  chunk.StartTime,
		EndTime:    chunk.EndTime,
		Duration:   chunk.Duration,
		Meta:       string(meta),
		Payload:    base64.StdEncoding.EncodeToString(chunk.Payload),
	})
}

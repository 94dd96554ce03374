package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
)

// ErrNoEstimate is returned when the model does not report a usable size.
var ErrNoEstimate = errors.New("no vehicle size estimate")

// Estimate is the model's read of a vehicle photo.
type Estimate struct {
	Size       db.VehicleSize `json:"vehicle_size"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// SizeEstimator turns a vehicle photo into a size class using a forced
// function call, so the answer always arrives as structured arguments.
type SizeEstimator struct {
	client *Client
	logger *zap.Logger
}

// NewSizeEstimator creates a new estimator.
func NewSizeEstimator(client *Client, logger *zap.Logger) *SizeEstimator {
	return &SizeEstimator{client: client, logger: logger}
}

var reportSizeTool = Tool{
	Type: "function",
	Function: ToolDefinition{
		Name:        "report_vehicle_size",
		Description: "Report the size class of the vehicle in the photo.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"vehicle_size": {
					"type": "string",
					"enum": ["small", "medium", "large", "xl"],
					"description": "small: coupe or hatchback; medium: sedan or small crossover; large: SUV or pickup; xl: van, RV or lifted truck"
				},
				"confidence": {
					"type": "number",
					"description": "Confidence between 0 and 1"
				},
				"reasoning": {
					"type": "string",
					"description": "One short sentence"
				}
			},
			"required": ["vehicle_size", "confidence"]
		}`),
	},
}

const estimatorPrompt = `You size vehicles for a mobile detailing business.
Look at the photo and call report_vehicle_size exactly once.
If more than one vehicle is visible, size the one closest to the camera.`

// EstimateSize asks the model to classify the vehicle at photoURL.
func (e *SizeEstimator) EstimateSize(ctx context.Context, photoURL string) (*Estimate, error) {
	u, err := url.Parse(photoURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("invalid photo_url %q", photoURL)
	}

	messages := []ChatMessage{
		{Role: "system", Content: estimatorPrompt},
		{Role: "user", Content: []ContentPart{
			{Type: "text", Text: "What size is this vehicle?"},
			{Type: "image_url", ImageURL: &ImageURL{URL: photoURL, Detail: "low"}},
		}},
	}
	call, err := e.client.CallFunction(ctx, messages, reportSizeTool)
	if errors.Is(err, errNoFunctionCall) {
		return nil, ErrNoEstimate
	}
	if err != nil {
		return nil, fmt.Errorf("photo analysis failed: %w", err)
	}

	var est Estimate
	if err := json.Unmarshal([]byte(call.Arguments), &est); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	size, err := db.ParseVehicleSize(string(est.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoEstimate, err)
	}
	est.Size = size

	e.logger.Info("vehicle size estimated",
		zap.String("vehicle_size", string(est.Size)),
		zap.Float64("confidence", est.Confidence),
	)
	return &est, nil
}

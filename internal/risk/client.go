package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Detection is the scoring service's verdict for one location sample.
type Detection struct {
	FinalRiskScore float64 `json:"final_risk_score"`
	GeoFlag        bool    `json:"geo_flag"`
	AnomalyFlag    bool    `json:"anomaly_flag"`
	GroupFlag      bool    `json:"group_flag"`
	InactivityFlag bool    `json:"inactivity_flag"`
}

// Client calls the external risk-scoring service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a scoring client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type predictRequest struct {
	ParticipantID string  `json:"participant_id"`
	Latitude      float64 `json:"lat"`
	Longitude     float64 `json:"lon"`
	GroupID       string  `json:"group_id,omitempty"`
}

// Score asks the service for a risk verdict. Every failure mode (timeout,
// network error, non-2xx, bad body) returns nil: scoring is advisory and must
// never block location persistence.
func (c *Client) Score(ctx context.Context, participantID string, lat, lon float64, groupID string) *Detection {
	jsonBody, err := json.Marshal(predictRequest{
		ParticipantID: participantID,
		Latitude:      lat,
		Longitude:     lon,
		GroupID:       groupID,
	})
	if err != nil {
		log.Printf("Failed to marshal scoring request: %v", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/predict", bytes.NewBuffer(jsonBody))
	if err != nil {
		log.Printf("Failed to create scoring request: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("Risk scoring request failed, proceeding without score: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Risk scoring service returned %s, proceeding without score", resp.Status)
		return nil
	}

	var detection Detection
	if err := json.NewDecoder(resp.Body).Decode(&detection); err != nil {
		log.Printf("Failed to parse scoring response, proceeding without score: %v", err)
		return nil
	}
	return &detection
}

// String reports the flags compactly for log lines.
func (d *Detection) String() string {
	if d == nil {
		return "no detection"
	}
	return fmt.Sprintf("risk=%.2f geo=%v ml=%v group=%v inactive=%v",
		d.FinalRiskScore, d.GeoFlag, d.AnomalyFlag, d.GroupFlag, d.InactivityFlag)
}

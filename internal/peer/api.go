package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mentorlink/sessiond/internal/domain"
)

// APIClient talks to the session REST API for the reads and the status
// update the call flow needs.
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type roomResponse struct {
	Session   *domain.Session `json:"session"`
	Occupancy int             `json:"occupancy"`
}

// GetSessionByRoom fetches the session record for the join page check.
func (c *APIClient) GetSessionByRoom(ctx context.Context, room domain.RoomID) (*domain.Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions/room/"+string(room), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get session: unexpected status %d", resp.StatusCode)
	}

	var body roomResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Session, nil
}

// SetStatus PATCHes the session to a terminal status. The server side
// is idempotent, so retrying after a network hiccup is safe.
func (c *APIClient) SetStatus(ctx context.Context, id domain.SessionID, status domain.Status) error {
	payload, _ := json.Marshal(map[string]string{"status": string(status)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/api/sessions/"+string(id)+"/status", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set status: unexpected status %d", resp.StatusCode)
	}
	return nil
}

package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2vyy/qt-camera-dashboard/internal/domain"
)

// Client posts offers to a server's /offer endpoint
type Client struct {
	http *http.Client
}

// NewClient creates a signaling client with the given request timeout
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// SendOffer posts the offer for cameraID and returns the server's answer
func (c *Client) SendOffer(ctx context.Context, url string, cameraID domain.CameraID, offer domain.SessionDescription) (domain.SessionDescription, error) {
	body, err := json.Marshal(OfferRequest{SDP: offer.SDP, Type: offer.Type, CameraID: int(cameraID)})
	if err != nil {
		return domain.SessionDescription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.SessionDescription{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("read answer: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return domain.SessionDescription{}, fmt.Errorf("server rejected offer (%d): %s", resp.StatusCode, e.Error)
		}
		return domain.SessionDescription{}, fmt.Errorf("server rejected offer: %s", resp.Status)
	}

	var answer domain.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("decode answer: %w", err)
	}
	if answer.SDP == "" {
		return domain.SessionDescription{}, fmt.Errorf("server returned an empty answer")
	}
	return answer, nil
}

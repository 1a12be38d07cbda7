// Package video creates and closes rooms on the telehealth video provider.
// The provider is opaque: we store the room id and the URLs it hands back.
package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mentalspace/ehr/internal/platform/retry"
)

// ErrRoomNotFound is returned when the provider no longer knows the room.
var ErrRoomNotFound = errors.New("video room not found")

type Config struct {
	BaseURL string
	APIKey  string
}

type RoomRequest struct {
	Name            string    `json:"name"`
	ExpiresAt       time.Time `json:"expires_at"`
	MaxParticipants int       `json:"max_participants"`
	Recording       bool      `json:"recording"`
}

type Room struct {
	ID      string `json:"id"`
	HostURL string `json:"host_url"`
	JoinURL string `json:"join_url"`
}

// Provider is implemented by Client and by test fakes.
type Provider interface {
	CreateRoom(ctx context.Context, req RoomRequest) (*Room, error)
	EndRoom(ctx context.Context, roomID string) error
}

type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
}

func NewClient(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		policy: retry.DefaultPolicy,
	}
}

func (c *Client) CreateRoom(ctx context.Context, req RoomRequest) (*Room, error) {
	if req.MaxParticipants == 0 {
		req.MaxParticipants = 2
	}
	var room Room
	if err := c.call(ctx, http.MethodPost, "/rooms", req, &room); err != nil {
		return nil, err
	}
	if room.ID == "" || room.JoinURL == "" {
		return nil, fmt.Errorf("video provider returned incomplete room")
	}
	return &room, nil
}

// EndRoom closes the room. A room the provider has already expired is not
// an error.
func (c *Client) EndRoom(ctx context.Context, roomID string) error {
	err := c.call(ctx, http.MethodDelete, "/rooms/"+roomID, nil, nil)
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	return retry.Do(ctx, c.policy, func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("video provider %s %s: %w", method, path, err))
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusNotFound {
			return ErrRoomNotFound
		}
		if resp.StatusCode >= 300 {
			return retry.StatusError(resp.StatusCode, string(raw))
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}

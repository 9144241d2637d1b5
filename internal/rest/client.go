// REST collaborator client of the SecondInning client. Implements the
// bootstrap-fetch and mark-read calls the notification aggregator consumes.
// Endpoint implementation lives server-side, only the signatures are owned
// here.

package rest

import (
	"SecondInning/internal/entity"
	"SecondInning/internal/errors"
	"SecondInning/pkg/log"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the SecondInning REST backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  log.Logger
}

// NewClient returns a REST client rooted at baseURL, authenticating every
// request with the given bearer token.
func NewClient(baseURL, token string, logger log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

func (c *Client) FetchAnnouncements(ctx context.Context) ([]entity.Announcement, error) {
	var anns []entity.Announcement
	if err := c.call(ctx, http.MethodGet, "/api/announcements", &anns); err != nil {
		return nil, err
	}
	return anns, nil
}

func (c *Client) FetchUnreadFeedbackCount(ctx context.Context) (int, error) {
	var payload struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/feedback/unread-count", &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

func (c *Client) FetchUnreadParentEngagements(ctx context.Context) ([]entity.ParentEngagement, error) {
	var engs []entity.ParentEngagement
	if err := c.call(ctx, http.MethodGet, "/api/parent-engagements/unread", &engs); err != nil {
		return nil, err
	}
	return engs, nil
}

func (c *Client) MarkParentEngagementsRead(ctx context.Context) (int, error) {
	var payload struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/parent-engagements/mark-read", &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

// call performs one JSON request/response round trip against the backend.
func (c *Client) call(ctx context.Context, method, path string, out interface{}) error {
	req, reqerr := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if reqerr != nil {
		return errors.CollaboratorError("", reqerr)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, callerr := c.http.Do(req)
	if callerr != nil {
		c.logger.WithCtx(ctx).Error().Err(callerr).Msgf("Error occured while calling %s %s", method, path)
		return errors.CollaboratorError("", callerr)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.WithCtx(ctx).Error().Msgf("Unexpected status %d from %s %s", resp.StatusCode, method, path)
		return errors.CollaboratorError(fmt.Sprintf("Server replied %d to %s.", resp.StatusCode, path), nil)
	}
	if out == nil {
		return nil
	}
	if jsonerr := json.NewDecoder(resp.Body).Decode(out); jsonerr != nil {
		c.logger.WithCtx(ctx).Error().Err(jsonerr).Msgf("Undecodable response body from %s %s", method, path)
		return errors.CollaboratorError("", jsonerr)
	}
	return nil
}

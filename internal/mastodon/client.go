// Package mastodon wraps the two publish endpoints of a
// Mastodon-compatible server plus the credential probe used by the
// -check flag. Authentication is a bearer token supplied by
// configuration; onboarding is out of scope.
package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tomasv/fedipost/internal/version"
)

// Client talks to one Mastodon-compatible server.
type Client struct {
	http    *resty.Client
	baseURL string
}

// NewClient creates a client for the given server.
// Parameters:
//   - baseURL: server base URL, e.g. "https://example.social".
//   - token: bearer token for the bot account.
// Returns:
//   - *Client: initialized client.
func NewClient(baseURL, token string) *Client {
	client := resty.New()
	client.SetHeader("User-Agent", version.UserAgent())
	client.SetHeader("Authorization", "Bearer "+token)
	client.SetTimeout(120 * time.Second)

	return &Client{
		http:    client,
		baseURL: baseURL,
	}
}

type mediaResponse struct {
	ID string `json:"id"`
}

// UploadMedia posts image bytes to /api/v2/media and returns the media
// identifier referenced by the follow-up status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - data: raw image bytes.
//   - altText: media description; empty omits the field.
// Returns:
//   - string: media id from the server response.
//   - error: non-nil on transport failure, non-success status,
//     unparsable body or missing id. All of these abort the publish
//     attempt without committing anything.
func (c *Client) UploadMedia(ctx context.Context, data []byte, altText string) (string, error) {
	req := c.http.R().
		SetContext(ctx).
		SetMultipartField("file", "image", "application/octet-stream", bytes.NewReader(data))

	if altText != "" {
		req.SetMultipartFormData(map[string]string{"description": altText})
	}

	resp, err := req.Post(c.baseURL + "/api/v2/media")
	if err != nil {
		return "", fmt.Errorf("failed to post to /api/v2/media: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("media api returned HTTP %d: %s", resp.StatusCode(), resp.Body())
	}

	var media mediaResponse
	if err := json.Unmarshal(resp.Body(), &media); err != nil {
		return "", fmt.Errorf("failed to parse media api response: %w", err)
	}
	if media.ID == "" {
		return "", fmt.Errorf("media api response has no id: %s", resp.Body())
	}

	return media.ID, nil
}

// Status describes one status creation request.
type Status struct {
	MediaID     string
	Text        string // status body; empty omits the field
	SpoilerText string // content warning; empty omits the field
	Visibility  string // empty leaves the server default
}

// CreateStatus posts a new status referencing previously uploaded
// media via /api/v1/statuses. The response body is not parsed; only
// the status code matters.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: status fields to submit.
// Returns:
//   - error: non-nil on transport failure or non-success status.
func (c *Client) CreateStatus(ctx context.Context, status Status) error {
	form := map[string]string{"media_ids[]": status.MediaID}
	if status.Text != "" {
		form["status"] = status.Text
	}
	if status.SpoilerText != "" {
		form["spoiler_text"] = status.SpoilerText
	}
	if status.Visibility != "" {
		form["visibility"] = status.Visibility
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(form).
		Post(c.baseURL + "/api/v1/statuses")
	if err != nil {
		return fmt.Errorf("failed to post to /api/v1/statuses: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("statuses api returned HTTP %d: %s", resp.StatusCode(), resp.Body())
	}

	return nil
}

type accountResponse struct {
	Acct string `json:"acct"`
}

// VerifyCredentials probes /api/v1/accounts/verify_credentials to
// confirm the server and token are usable. Used by the -check flag and
// as a startup diagnostic.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - string: account name the token authenticates as.
//   - error: non-nil on transport failure or non-success status.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	var account accountResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&account).
		Get(c.baseURL + "/api/v1/accounts/verify_credentials")
	if err != nil {
		return "", fmt.Errorf("failed to verify credentials: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("verify_credentials returned HTTP %d: %s", resp.StatusCode(), resp.Body())
	}

	return account.Acct, nil
}

// Package notify posts finished menus to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"menuagent"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	webhookURL string
	httpClient doer
}

func NewClient(webhookURL string, httpClient doer) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: httpClient,
	}
}

// PostMessage sends a text message to the given channel.
func (c *Client) PostMessage(ctx context.Context, channel string, message string) error {
	payload, err := json.Marshal(map[string]any{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post message: %s", resp.Status)
	}

	return nil
}

// PostResult renders a run result and posts it. Failed runs report the error
// instead of a menu.
func (c *Client) PostResult(ctx context.Context, channel string, result menuagent.Result) error {
	var message string
	switch result.Status {
	case menuagent.RunSucceeded, menuagent.RunPartial:
		if result.Menu == nil {
			return fmt.Errorf("result %s has no menu", result.RunID)
		}
		message = result.Menu.Format()
		if len(result.Unmet) > 0 {
			message += fmt.Sprintf("\nNote: no compliant courses found for %d categories.", len(result.Unmet))
		}
	case menuagent.RunCancelled:
		message = fmt.Sprintf("Planning run %s was cancelled.", result.RunID)
	default:
		message = fmt.Sprintf("Planning run %s failed: %s", result.RunID, result.Err)
	}

	return c.PostMessage(ctx, channel, message)
}

package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"menuagent"
)

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries the DuckDuckGo instant answer API. Results are shallow
// (title, snippet, URL); the discovery agent turns them into candidates.
type Client struct {
	endpoint   string
	httpClient doer
}

func NewClient(endpoint string, httpClient doer) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
	}
}

// instantAnswer is the subset of the API response we read. RelatedTopics mixes
// plain topics with nested category groups.
type instantAnswer struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
		Topics   []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"Topics"`
	} `json:"RelatedTopics"`
}

// Lookup runs one search and returns raw results in response order.
func (c *Client) Lookup(ctx context.Context, query string) ([]menuagent.RawResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed: %s", resp.Status)
	}

	var answer instantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var results []menuagent.RawResult
	if answer.Heading != "" {
		results = append(results, menuagent.RawResult{
			Title:   answer.Heading,
			Snippet: answer.AbstractText,
			URL:     answer.AbstractURL,
		})
	}
	for _, topic := range answer.RelatedTopics {
		if topic.Text != "" {
			results = append(results, menuagent.RawResult{
				Title: topic.Text,
				URL:   topic.FirstURL,
			})
		}
		for _, sub := range topic.Topics {
			if sub.Text == "" {
				continue
			}
			results = append(results, menuagent.RawResult{
				Title: sub.Text,
				URL:   sub.FirstURL,
			})
		}
	}

	return results, nil
}

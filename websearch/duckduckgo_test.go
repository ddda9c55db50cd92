package websearch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"menuagent/websearch"

	should "github.com/stretchr/testify/assert"
	must "github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		must.Equal(t, "vegan dessert recipe", r.URL.Query().Get("q"))
		must.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"Heading": "Vegan desserts",
			"AbstractText": "Desserts made without animal products.",
			"AbstractURL": "https://example.org/vegan-desserts",
			"RelatedTopics": [
				{"Text": "Chocolate avocado mousse", "FirstURL": "https://example.org/mousse"},
				{"Topics": [
					{"Text": "Coconut rice pudding", "FirstURL": "https://example.org/pudding"}
				]}
			]
		}`))
	}))
	defer srv.Close()

	client := websearch.NewClient(srv.URL, srv.Client())

	results, err := client.Lookup(context.Background(), "vegan dessert recipe")
	must.NoError(t, err)
	must.Len(t, results, 3)

	should.Equal(t, "Vegan desserts", results[0].Title)
	should.Equal(t, "Desserts made without animal products.", results[0].Snippet)
	should.Equal(t, "Chocolate avocado mousse", results[1].Title)
	should.Equal(t, "Coconut rice pudding", results[2].Title)
}

func TestLookupHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := websearch.NewClient(srv.URL, srv.Client())

	_, err := client.Lookup(context.Background(), "anything")
	must.Error(t, err)
	should.Contains(t, err.Error(), "search request failed")
}

func TestLookupMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	client := websearch.NewClient(srv.URL, srv.Client())

	_, err := client.Lookup(context.Background(), "anything")
	must.Error(t, err)
}

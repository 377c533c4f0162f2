package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearchProvider struct {
	results []SearchResult
	err     error
}

func (f *fakeSearchProvider) Name() string { return "fake" }
func (f *fakeSearchProvider) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return f.results, f.err
}

func TestWebSearchDomainFilters(t *testing.T) {
	provider := &fakeSearchProvider{results: []SearchResult{
		{Title: "a", URL: "https://docs.example.com/page"},
		{Title: "b", URL: "https://blog.spam.net/post"},
		{Title: "c", URL: "https://example.com/home"},
	}}

	tool := NewWebSearchTool(provider, []string{"example.com"}, []string{"spam.net"})
	res, err := tool.Execute(context.Background(), map[string]any{"query": "anything"})
	require.NoError(t, err)

	results := res.Output.([]SearchResult)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Title)
	assert.Equal(t, "c", results[1].Title)
}

func TestWebSearchExcludeOnly(t *testing.T) {
	provider := &fakeSearchProvider{results: []SearchResult{
		{Title: "a", URL: "https://anywhere.org/x"},
		{Title: "b", URL: "https://sub.spam.net/y"},
	}}

	tool := NewWebSearchTool(provider, nil, []string{"spam.net"})
	res, err := tool.Execute(context.Background(), map[string]any{"query": "q"})
	require.NoError(t, err)

	results := res.Output.([]SearchResult)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Title)
}

func TestWebSearchEmptyQuery(t *testing.T) {
	tool := NewWebSearchTool(&fakeSearchProvider{}, nil, nil)
	_, err := tool.Execute(context.Background(), map[string]any{"query": "   "})
	assert.Error(t, err)
}

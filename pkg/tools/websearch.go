package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lalo/core/pkg/core"
)

// SearchResult is the normalized shape every search provider maps into.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Snippet       string  `json:"snippet"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// SearchProvider dispatches a query to one concrete search backend.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Name() string
}

// WebSearchTool enforces domain include/exclude lists before dispatching to
// the configured provider.
type WebSearchTool struct {
	provider       SearchProvider
	includeDomains []string
	excludeDomains []string
}

func NewWebSearchTool(provider SearchProvider, include, exclude []string) *WebSearchTool {
	return &WebSearchTool{provider: provider, includeDomains: include, excludeDomains: exclude}
}

func (t *WebSearchTool) Definition() Definition {
	return Definition{
		Name:        "web_search",
		Description: "Search the web and return normalized results",
		Category:    CategoryNetwork,
		Parameters: []Parameter{
			{Name: "query", Type: TypeString, Required: true},
			{Name: "limit", Type: TypeNumber, Required: false, Default: 5},
		},
		Returns: "list of {title, url, snippet, score, published_date?}",
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, core.E(core.KindValidationFailed, "query is empty")
	}
	limit := 5
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	} else if raw, ok := args["limit"].(int); ok && raw > 0 {
		limit = raw
	}

	results, err := t.provider.Search(ctx, query, limit)
	if err != nil {
		return nil, core.Wrap(core.KindDependencyUnavailable, err, "%s search failed", t.provider.Name())
	}

	filtered := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if t.domainAllowed(r.URL) {
			filtered = append(filtered, r)
		}
	}

	return &Result{
		Success:  true,
		Output:   filtered,
		Metadata: map[string]any{"provider": t.provider.Name(), "total": len(filtered)},
	}, nil
}

func (t *WebSearchTool) domainAllowed(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, d := range t.excludeDomains {
		if hostMatches(host, d) {
			return false
		}
	}
	if len(t.includeDomains) == 0 {
		return true
	}
	for _, d := range t.includeDomains {
		if hostMatches(host, d) {
			return true
		}
	}
	return false
}

func hostMatches(host, domain string) bool {
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// --- Exa ---

// ExaProvider calls the Exa search API.
type ExaProvider struct {
	apiKey string
	client *http.Client
}

func NewExaProvider(apiKey string) *ExaProvider {
	return &ExaProvider{apiKey: apiKey, client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *ExaProvider) Name() string { return "exa" }

func (p *ExaProvider) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{
		"query":      query,
		"numResults": limit,
		"contents":   map[string]any{"text": map[string]any{"maxCharacters": 500}},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.exa.ai/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exa returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Text          string  `json:"text"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"publishedDate"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode exa response: %w", err)
	}

	out := make([]SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, SearchResult{
			Title:         r.Title,
			URL:           r.URL,
			Snippet:       r.Text,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}
	return out, nil
}

// --- Tavily ---

// TavilyProvider calls the Tavily search API.
type TavilyProvider struct {
	apiKey string
	client *http.Client
}

func NewTavilyProvider(apiKey string) *TavilyProvider {
	return &TavilyProvider{apiKey: apiKey, client: &http.Client{Timeout: 15 * time.Second}}
}

func (p *TavilyProvider) Name() string { return "tavily" }

func (p *TavilyProvider) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{
		"api_key":     p.apiKey,
		"query":       query,
		"max_results": limit,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.tavily.com/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"published_date"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode tavily response: %w", err)
	}

	out := make([]SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		out = append(out, SearchResult{
			Title:         r.Title,
			URL:           r.URL,
			Snippet:       r.Content,
			Score:         r.Score,
			PublishedDate: r.PublishedDate,
		})
	}
	return out, nil
}

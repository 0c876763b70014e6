package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"
)

const (
	defaultSearchBaseURL = "https://www.googleapis.com/customsearch/v1"
	defaultSearchResults = 5
	maxSearchResults     = 10
)

// SearchConfig configures the web search tool.
type SearchConfig struct {
	APIKey   string
	EngineID string
	BaseURL  string
	Timeout  time.Duration
}

// Search queries Google Custom Search.
type Search struct {
	base
	cfg SearchConfig
}

// NewSearch creates the search tool.
func NewSearch(cfg SearchConfig) *Search {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchBaseURL
	}
	return &Search{
		base: base{schema: Schema{
			Name:        "search",
			Description: "Busca información en internet a partir de una consulta.",
			Parameters: Parameters{
				Type: "object",
				Properties: map[string]Property{
					"query":      {Type: "string", Description: "Consulta de búsqueda"},
					"maxResults": {Type: "number", Description: "Número máximo de resultados (por defecto 5)", Default: defaultSearchResults, Minimum: floatPtr(1), Maximum: floatPtr(maxSearchResults)},
				},
				Required: []string{"query"},
			},
		}},
		cfg: cfg,
	}
}

type customSearchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (s *Search) Execute(ctx context.Context, args Args) (Result, error) {
	query := args.String("query")
	if s.cfg.APIKey == "" || s.cfg.EngineID == "" {
		return Failure("Search API credentials not configured. Set SEARCH_API_KEY and SEARCH_ENGINE_ID environment variables."), nil
	}

	n := args.Int("maxResults", defaultSearchResults)
	if n < 1 {
		n = defaultSearchResults
	}
	if n > maxSearchResults {
		n = maxSearchResults
	}

	q := url.Values{}
	q.Set("key", s.cfg.APIKey)
	q.Set("cx", s.cfg.EngineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(n))

	var data customSearchResponse
	client := httpClient(s.cfg.Timeout, 15*time.Second)
	if err := getJSON(ctx, client, s.cfg.BaseURL+"?"+q.Encode(), &data, googleErrorMessage); err != nil {
		return Result{"success": false, "error": err.Error(), "query": query}, nil
	}

	results := make([]map[string]any, 0, len(data.Items))
	for _, it := range data.Items {
		results = append(results, map[string]any{"title": it.Title, "link": it.Link, "snippet": it.Snippet})
	}
	return Result{"success": true, "query": query, "results": results}, nil
}

func googleErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Error.Message
	}
	return ""
}

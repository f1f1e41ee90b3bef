// Package strategy turns configured sources and strategies into concrete
// upstream requests.
package strategy

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"sarkari-pulse/config"
	"sarkari-pulse/fetcher"
	"sarkari-pulse/parser"
)

// URL template placeholders for HTML sources
const (
	pagePlaceholder  = "{page}"
	valuePlaceholder = "{value}"
)

// Filter identifiers understood by the scheme-search API
const (
	filterCategory = "schemeCategory"
	filterState    = "beneficiaryState"
)

// Variant is one value a strategy walks pages for: a keyword, a category,
// a state, or the unfiltered listing
type Variant struct {
	Type  string
	Value string
}

// Label describes the variant for logs and reports
func (v Variant) Label() string {
	if v.Value == "" {
		return v.Type
	}
	return v.Type + ":" + v.Value
}

// Plan is one strategy applied to one source
type Plan struct {
	Name     string
	Source   config.SourceConfig
	Type     string
	Variants []Variant
	MaxPages int
}

// Plans expands every strategy of every source into a Plan, in
// configuration order
func Plans(sources []config.SourceConfig) []Plan {
	var plans []Plan
	for _, src := range sources {
		for _, st := range src.Strategies {
			plans = append(plans, NewPlan(src, st))
		}
	}
	return plans
}

// NewPlan builds the Plan for one strategy of a source
func NewPlan(src config.SourceConfig, st config.StrategyConfig) Plan {
	p := Plan{
		Name:     src.Name + "/" + st.Type,
		Source:   src,
		Type:     st.Type,
		MaxPages: st.MaxPages,
	}
	if p.MaxPages <= 0 {
		p.MaxPages = src.MaxPages
	}

	if st.Type == config.StrategyPaginate || st.Type == "" {
		p.Type = config.StrategyPaginate
		p.Variants = []Variant{{Type: config.StrategyPaginate}}
		return p
	}
	for _, v := range st.Values {
		if v = strings.TrimSpace(v); v != "" {
			p.Variants = append(p.Variants, Variant{Type: st.Type, Value: v})
		}
	}
	return p
}

// Hints returns the extraction hints for the plan's source
func (p Plan) Hints() parser.Hints {
	return parser.HintsFromSource(p.Source)
}

// Paged reports whether the plan can request more than one page per variant.
// API sources page by offset; HTML sources only when the URL has {page}.
func (p Plan) Paged() bool {
	if p.Source.Kind == config.KindAPI {
		return true
	}
	return strings.Contains(p.Source.URL, pagePlaceholder)
}

// Request builds the request for the given variant and zero-based page index
func (p Plan) Request(v Variant, page int) (fetcher.Request, error) {
	src := p.Source
	req := fetcher.Request{
		Headers: buildHeaders(src),
		Timeout: src.Timeout,
	}

	if src.Kind == config.KindHTML {
		u, err := pageURL(src, v, page)
		if err != nil {
			return fetcher.Request{}, err
		}
		req.Kind = fetcher.Page
		req.URL = u
		req.Render = src.Render
		req.WaitIdle = src.Render
		return req, nil
	}

	size := src.PageSize
	if size <= 0 {
		size = 100
	}
	q, err := searchQuery(src, v, page*size, size)
	if err != nil {
		return fetcher.Request{}, err
	}
	req.Kind = fetcher.API
	req.URL = src.URL
	req.Query = q
	req.From = page * size
	req.Size = size
	return req, nil
}

type searchFilter struct {
	Identifier string `json:"identifier"`
	Value      string `json:"value"`
}

// searchQuery builds lang, q, keyword, sort, from and size for the search API
func searchQuery(src config.SourceConfig, v Variant, from, size int) (url.Values, error) {
	filters := []searchFilter{}
	keyword := ""
	switch v.Type {
	case config.StrategyCategory:
		filters = append(filters, searchFilter{Identifier: filterCategory, Value: v.Value})
	case config.StrategyState:
		filters = append(filters, searchFilter{Identifier: filterState, Value: v.Value})
	case config.StrategyKeyword:
		keyword = v.Value
	}

	q, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search filter: %w", err)
	}

	query := url.Values{}
	query.Set("lang", src.Lang)
	query.Set("q", string(q))
	query.Set("keyword", keyword)
	query.Set("sort", src.Sort)
	query.Set("from", strconv.Itoa(from))
	query.Set("size", strconv.Itoa(size))
	return query, nil
}

// pageURL fills the {page} and {value} placeholders of an HTML source URL.
// A value without a {value} placeholder is sent as a query parameter
// named after the strategy type.
func pageURL(src config.SourceConfig, v Variant, page int) (string, error) {
	startPage := src.StartPage
	if startPage <= 0 {
		startPage = 1
	}

	u := strings.ReplaceAll(src.URL, pagePlaceholder, strconv.Itoa(startPage+page))
	hasValue := strings.Contains(u, valuePlaceholder)
	u = strings.ReplaceAll(u, valuePlaceholder, url.QueryEscape(v.Value))

	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	if v.Value != "" && !hasValue {
		query := parsed.Query()
		query.Set(v.Type, v.Value)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// buildHeaders merges the referer and configured headers, expanding
// ${ENV_VAR} references. Headers that expand to nothing are dropped.
func buildHeaders(src config.SourceConfig) map[string]string {
	headers := make(map[string]string, len(src.Headers)+1)
	if src.Referer != "" {
		headers["Referer"] = src.Referer
	}
	for k, v := range src.Headers {
		if v = strings.TrimSpace(os.Expand(v, os.Getenv)); v != "" {
			headers[k] = v
		}
	}
	return headers
}

// CountRequests returns an upper bound on the requests a plan can issue
func (p Plan) CountRequests() int {
	pages := 1
	if p.Paged() {
		pages = p.MaxPages
	}
	return len(p.Variants) * pages
}

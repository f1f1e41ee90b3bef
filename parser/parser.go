// Package parser turns fetched payloads into candidate scheme records.
//
// Where records live and which attribute names a source uses are data
// (Hints), so new portals are configuration rows rather than new code.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"sarkari-pulse/config"
	"sarkari-pulse/fetcher"
	"sarkari-pulse/logger"
	"sarkari-pulse/models"
)

// fallbackArrays are tried at the top level when ResultPath does not resolve
var fallbackArrays = []string{"results", "hits", "data"}

// Hints tells the Extractor where records are and how fields are named
type Hints struct {
	Source string

	// JSON payloads
	ResultPath string
	Fields     map[string][]string

	// HTML payloads
	Containers     []string
	FieldSelectors map[string][]string
	NoTextFallback bool

	// Level is applied when a record does not carry its own
	Level    string
	LinkBase string
}

// HintsFromSource builds Hints from a source configuration
func HintsFromSource(src config.SourceConfig) Hints {
	return Hints{
		Source:         src.Name,
		ResultPath:     src.ResultPath,
		Fields:         src.Fields,
		Containers:     src.Containers,
		FieldSelectors: src.FieldSelectors,
		NoTextFallback: src.NoTextFallback,
		Level:          src.Level,
		LinkBase:       src.LinkBase,
	}
}

// Extractor locates candidate records in JSON and HTML payloads
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates a new Extractor
func NewExtractor() *Extractor {
	return &Extractor{logger: logger.WithComponent("extractor")}
}

// Extract returns the candidate records found in payload. It never fails:
// a payload it cannot read yields no candidates.
func (e *Extractor) Extract(payload *fetcher.Payload, hints Hints) []models.CandidateRecord {
	if payload == nil || len(payload.Body) == 0 {
		return nil
	}

	var candidates []models.CandidateRecord
	var err error
	switch payload.Kind {
	case fetcher.JSON:
		candidates, err = e.extractJSON(payload, hints)
	default:
		candidates, err = e.extractHTML(payload, hints)
	}
	if err != nil {
		e.logger.Warn("payload could not be read", "source", hints.Source, "url", payload.URL, "error", err)
		return nil
	}

	for i := range candidates {
		if hints.Level != "" && isEmpty(candidates[i].Get("level")) {
			candidates[i].Fields["level"] = hints.Level
		}
	}

	if len(candidates) == 0 {
		e.logger.Debug("no candidates in payload", "source", hints.Source, "url", payload.URL)
	}
	return candidates
}

func (e *Extractor) extractJSON(payload *fetcher.Payload, hints Hints) ([]models.CandidateRecord, error) {
	// Numbers stay json.Number so large numeric ids keep every digit
	dec := json.NewDecoder(bytes.NewReader(payload.Body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	items, err := walkPath(raw, hints.ResultPath)
	if err != nil {
		items = findFallbackArray(raw)
		if items == nil {
			e.logger.Debug("result path not found", "path", hints.ResultPath, "error", err)
			return nil, nil
		}
	}

	fields := hints.Fields
	if len(fields) == 0 {
		fields = config.DefaultAPIFields
	}

	candidates := make([]models.CandidateRecord, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := models.CandidateRecord{
			Fields:    make(map[string]any),
			Source:    hints.Source,
			SourceURL: payload.URL,
		}
		for field, names := range fields {
			if v := lookupField(obj, names); v != nil {
				c.Fields[field] = v
			}
		}
		if link, ok := c.Fields["url"].(string); ok {
			c.SourceURL = resolveLink(firstNonEmpty(hints.LinkBase, payload.URL), link)
		}
		delete(c.Fields, "url")
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// walkPath follows a dot-notation path to an array
func walkPath(v any, path string) ([]any, error) {
	if path == "" {
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("root is not an array")
		}
		return arr, nil
	}

	current := v
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object at %q, got %T", part, current)
		}
		current, ok = obj[part]
		if !ok {
			return nil, fmt.Errorf("key %q not found", part)
		}
	}

	arr, ok := current.([]any)
	if !ok {
		return nil, fmt.Errorf("path %q is not an array", path)
	}
	return arr, nil
}

func findFallbackArray(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range fallbackArrays {
		if arr, ok := obj[key].([]any); ok {
			return arr
		}
	}
	return nil
}

// lookupField returns the first non-empty value among names, looking in
// obj and then in its "fields" sub-object
func lookupField(obj map[string]any, names []string) any {
	nested, _ := obj["fields"].(map[string]any)
	for _, name := range names {
		if v := toValue(obj[name]); v != nil {
			return v
		}
		if nested != nil {
			if v := toValue(nested[name]); v != nil {
				return v
			}
		}
	}
	return nil
}

// toValue converts a decoded JSON value to a string or []string.
// Empty values and objects yield nil.
func toValue(v any) any {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return s
		}
	case json.Number:
		if !strings.ContainsAny(val.String(), ".eE") {
			return val.String()
		}
		if f, err := val.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := toValue(item).(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []string:
		return len(val) == 0
	}
	return false
}

// resolveLink makes link absolute against base
func resolveLink(base, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return base
	}
	ref, err := url.Parse(link)
	if err != nil {
		return base
	}
	if ref.IsAbs() {
		return link
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return link
	}
	return b.ResolveReference(ref).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

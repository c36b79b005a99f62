package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/return-etl/internal/failure"
)

// TagDefinition is one entry of the controlled tag vocabulary.
type TagDefinition struct {
	TagCode        string `json:"tag_code"`
	TagNameCN      string `json:"tag_name_cn"`
	CategoryNameCN string `json:"category_name_cn"`
	Definition     string `json:"definition"`
	BoundaryNote   string `json:"boundary_note"`
}

// Vocabulary maps tag codes to their definitions.
type Vocabulary map[string]TagDefinition

// Contains reports whether code is part of the vocabulary.
func (v Vocabulary) Contains(code string) bool {
	_, ok := v[code]
	return ok
}

// Definitions returns the entries sorted by tag code.
func (v Vocabulary) Definitions() []TagDefinition {
	out := make([]TagDefinition, 0, len(v))
	for _, d := range v {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagCode < out[j].TagCode })
	return out
}

// FilterOperatorEq is the only supported tag filter operator.
const FilterOperatorEq = "eq"

// TagFilterColumns lists the tag dimension columns a filter may reference.
var TagFilterColumns = map[string]bool{
	"tag_code":         true,
	"tag_name_cn":      true,
	"category_code":    true,
	"category_name_cn": true,
	"level":            true,
	"version":          true,
}

// TagFilter is an equality predicate applied when reading the vocabulary.
type TagFilter struct {
	Field    string `json:"field" yaml:"field" mapstructure:"field"`
	Operator string `json:"operator" yaml:"operator" mapstructure:"operator"`
	Value    any    `json:"value" yaml:"value" mapstructure:"value"`
}

// NormalizedOperator returns the lower-cased operator, defaulting to eq.
func (f TagFilter) NormalizedOperator() string {
	op := strings.ToLower(strings.TrimSpace(f.Operator))
	if op == "" {
		return FilterOperatorEq
	}
	return op
}

// Validate rejects unsupported operators and unknown columns.
func (f TagFilter) Validate() error {
	if op := f.NormalizedOperator(); op != FilterOperatorEq {
		return failure.Errorf(failure.KindPrecondition, "model: unsupported tag filter operator: %s", op)
	}
	if !TagFilterColumns[f.Field] {
		return failure.Errorf(failure.KindPrecondition, "model: unsupported tag filter field: %q", f.Field)
	}
	return nil
}

// ValidateTagFilters validates every filter, returning the first failure.
func ValidateTagFilters(filters []TagFilter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TagRecord is a full row of the tag dimension.
type TagRecord struct {
	TagCode        string     `json:"tag_code"`
	TagNameCN      string     `json:"tag_name_cn"`
	CategoryCode   string     `json:"category_code"`
	CategoryNameCN string     `json:"category_name_cn"`
	Level          int        `json:"level"`
	Definition     string     `json:"definition"`
	BoundaryNote   string     `json:"boundary_note"`
	IsActive       int        `json:"is_active"`
	Version        int        `json:"version"`
	EffectiveFrom  *time.Time `json:"effective_from,omitempty"`
	EffectiveTo    *time.Time `json:"effective_to,omitempty"`
}

// NormalizeTagRecord builds a TagRecord from a loosely shaped JSON object,
// accepting short alias keys and filling defaults.
func NormalizeTagRecord(item map[string]any) (TagRecord, error) {
	rec := TagRecord{
		TagCode:        firstString(item, "tag_code", "code"),
		TagNameCN:      firstString(item, "tag_name_cn", "name_cn"),
		CategoryCode:   firstString(item, "category_code", "cat_code"),
		CategoryNameCN: firstString(item, "category_name_cn", "cat_name_cn"),
		Definition:     firstString(item, "definition"),
		BoundaryNote:   firstString(item, "boundary_note"),
		Level:          intOr(item, "level", 2),
		IsActive:       intOr(item, "is_active", 1),
		Version:        intOr(item, "version", 1),
	}

	var err error
	if rec.EffectiveFrom, err = dateField(item, "effective_from"); err != nil {
		return TagRecord{}, err
	}
	if rec.EffectiveTo, err = dateField(item, "effective_to"); err != nil {
		return TagRecord{}, err
	}
	return rec, nil
}

// ParseTagRecords decodes a tag dimension export: either a bare list or an
// object wrapping it under "data" or "return_dim_tag". Items without a tag
// code are skipped.
func ParseTagRecords(data []byte) ([]TagRecord, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, failure.Wrap(failure.KindData, err, "model: parse tag records")
	}
	if obj, ok := doc.(map[string]any); ok {
		if inner, ok := obj["data"]; ok {
			doc = inner
		} else if inner, ok := obj["return_dim_tag"]; ok {
			doc = inner
		}
	}
	list, ok := doc.([]any)
	if !ok {
		return nil, failure.New(failure.KindData, "model: expected a list of tag objects")
	}

	records := make([]TagRecord, 0, len(list))
	for i, raw := range list {
		item, ok := raw.(map[string]any)
		if !ok {
			return nil, failure.Errorf(failure.KindData, "model: tag record %d is not an object", i)
		}
		rec, err := NormalizeTagRecord(item)
		if err != nil {
			return nil, err
		}
		if rec.TagCode == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := item[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}

func intOr(item map[string]any, key string, def int) int {
	switch v := item[key].(type) {
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func dateField(item map[string]any, key string) (*time.Time, error) {
	s, ok := item[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, failure.Errorf(failure.KindData, "model: invalid %s date %q", key, s)
}

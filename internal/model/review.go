package model

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/return-etl/internal/failure"
)

// NoTagCode is the sentinel tag written for reviews with no tags so the
// review still appears in the detail fan-out.
const NoTagCode = "NO_TAG"

// DefaultLimit is the row limit used when callers pass a non-positive limit.
const DefaultLimit = 200

// CandidateReview is a source review read from the snapshot view.
type CandidateReview struct {
	ReviewID     string `json:"review_id"`
	ReviewSource int    `json:"review_source"`
	ReviewEN     string `json:"review_en"`
}

// CandidateQuery filters the snapshot view.
type CandidateQuery struct {
	Limit   int
	Country string
	FASIN   string
}

// EffectiveLimit returns Limit, or DefaultLimit when Limit is not positive.
func (q CandidateQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// TagFragment is one tag asserted for a review with its supporting evidence.
type TagFragment struct {
	TagCode   string `json:"tag_code"`
	TagNameCN string `json:"tag_name_cn"`
	Evidence  string `json:"evidence"`
}

// LLMPayload is the full annotation result for one review.
type LLMPayload struct {
	ReviewID     string        `json:"review_id"`
	ReviewSource int           `json:"review_source"`
	ReviewEN     string        `json:"review_en"`
	ReviewCN     string        `json:"review_cn"`
	Sentiment    int           `json:"sentiment"`
	Tags         []TagFragment `json:"tags"`
}

// MarshalJSON always emits tags as an array.
func (p LLMPayload) MarshalJSON() ([]byte, error) {
	type alias LLMPayload
	a := alias(p)
	if a.Tags == nil {
		a.Tags = []TagFragment{}
	}
	return marshalNoEscape(a)
}

// JSON returns the stored string form of the payload.
func (p LLMPayload) JSON() (string, error) {
	b, err := marshalNoEscape(p)
	if err != nil {
		return "", eris.Wrapf(err, "model: marshal payload %s", p.ReviewID)
	}
	return string(b), nil
}

// Candidate returns the review the payload was produced from.
func (p LLMPayload) Candidate() CandidateReview {
	return CandidateReview{ReviewID: p.ReviewID, ReviewSource: p.ReviewSource, ReviewEN: p.ReviewEN}
}

// storedPayload mirrors LLMPayload with pointers so required fields can be
// told apart from zero values.
type storedPayload struct {
	ReviewID     *string       `json:"review_id"`
	ReviewSource *int          `json:"review_source"`
	ReviewEN     *string       `json:"review_en"`
	ReviewCN     string        `json:"review_cn"`
	Sentiment    int           `json:"sentiment"`
	Tags         []TagFragment `json:"tags"`
}

// ParsePayload decodes a stored or snapshotted payload. review_id,
// review_source and review_en are required. Sentiment is clamped to its sign.
func ParsePayload(data []byte) (LLMPayload, error) {
	var sp storedPayload
	if err := json.Unmarshal(data, &sp); err != nil {
		return LLMPayload{}, failure.Wrap(failure.KindData, err, "model: parse payload")
	}
	switch {
	case sp.ReviewID == nil:
		return LLMPayload{}, failure.New(failure.KindData, "model: parse payload: missing review_id")
	case sp.ReviewSource == nil:
		return LLMPayload{}, failure.Errorf(failure.KindData, "model: parse payload %s: missing review_source", *sp.ReviewID)
	case sp.ReviewEN == nil:
		return LLMPayload{}, failure.Errorf(failure.KindData, "model: parse payload %s: missing review_en", *sp.ReviewID)
	}

	p := LLMPayload{
		ReviewID:     *sp.ReviewID,
		ReviewSource: *sp.ReviewSource,
		ReviewEN:     *sp.ReviewEN,
		ReviewCN:     sp.ReviewCN,
		Sentiment:    ClampSentiment(sp.Sentiment),
	}
	if len(sp.Tags) > 0 {
		p.Tags = sp.Tags
	}
	return p, nil
}

// ParseCandidate decodes a snapshotted candidate. All three fields are required.
func ParseCandidate(data []byte) (CandidateReview, error) {
	var raw struct {
		ReviewID     *string `json:"review_id"`
		ReviewSource *int    `json:"review_source"`
		ReviewEN     *string `json:"review_en"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return CandidateReview{}, failure.Wrap(failure.KindData, err, "model: parse candidate")
	}
	if raw.ReviewID == nil || raw.ReviewSource == nil || raw.ReviewEN == nil {
		return CandidateReview{}, failure.New(failure.KindData, "model: parse candidate: review_id, review_source and review_en are required")
	}
	return CandidateReview{ReviewID: *raw.ReviewID, ReviewSource: *raw.ReviewSource, ReviewEN: *raw.ReviewEN}, nil
}

// DetailRow is one normalized (review, tag) pair.
type DetailRow struct {
	ReviewID     string `json:"review_id"`
	TagCode      string `json:"tag_code"`
	ReviewSource int    `json:"review_source"`
	ReviewEN     string `json:"review_en"`
	ReviewCN     string `json:"review_cn"`
	Sentiment    int    `json:"sentiment"`
	TagNameCN    string `json:"tag_name_cn"`
	Evidence     string `json:"evidence"`
}

// DetailRows fans the payload out into one row per tag. A payload without
// tags yields a single NoTagCode row.
func (p LLMPayload) DetailRows() []DetailRow {
	base := DetailRow{
		ReviewID:     p.ReviewID,
		ReviewSource: p.ReviewSource,
		ReviewEN:     p.ReviewEN,
		ReviewCN:     p.ReviewCN,
		Sentiment:    p.Sentiment,
	}
	if len(p.Tags) == 0 {
		row := base
		row.TagCode = NoTagCode
		return []DetailRow{row}
	}

	rows := make([]DetailRow, len(p.Tags))
	for i, tag := range p.Tags {
		row := base
		row.TagCode = tag.TagCode
		row.TagNameCN = tag.TagNameCN
		row.Evidence = tag.Evidence
		rows[i] = row
	}
	return rows
}

// ClampSentiment maps any integer onto {-1, 0, 1} by sign.
func ClampSentiment(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// marshalNoEscape encodes v without HTML escaping so review text is stored
// as written.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalJSONLine encodes v as a single JSON line without HTML escaping.
func MarshalJSONLine(v any) ([]byte, error) {
	return marshalNoEscape(v)
}

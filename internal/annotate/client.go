// Package annotate turns a candidate review into an LLMPayload by prompting an
// LLM backend with the review and the closed tag vocabulary.
package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

// TagPolicy decides what happens to tags whose code is not in the vocabulary.
type TagPolicy string

// Tag policies.
const (
	TagPolicyDrop   TagPolicy = "drop"
	TagPolicyKeep   TagPolicy = "keep"
	TagPolicyReject TagPolicy = "reject"
)

// ParseTagPolicy validates a configured policy. Empty means drop.
func ParseTagPolicy(s string) (TagPolicy, error) {
	switch p := TagPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return TagPolicyDrop, nil
	case TagPolicyDrop, TagPolicyKeep, TagPolicyReject:
		return p, nil
	default:
		return "", failure.Errorf(failure.KindConfig, "annotate: unknown tag policy %q", s)
	}
}

// Client annotates reviews through a Backend.
type Client struct {
	backend Backend
	policy  TagPolicy
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTagPolicy sets the unknown-tag policy.
func WithTagPolicy(p TagPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a Client.
func New(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend: backend,
		policy:  TagPolicyDrop,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Backend returns the backend name.
func (c *Client) Backend() string {
	return c.backend.Name()
}

// Annotate sends one review to the backend and parses the reply. Fields the
// reply omits fall back to the review's values or neutral defaults. The sink,
// if non-nil, sees the outgoing request exactly once before it is sent.
func (c *Client) Annotate(ctx context.Context, review model.CandidateReview, vocab model.Vocabulary, instructions string, sink RequestSink) (model.LLMPayload, error) {
	prompt, err := BuildPrompt(review, vocab, instructions)
	if err != nil {
		return model.LLMPayload{}, err
	}

	content, err := c.backend.Complete(ctx, prompt, sink)
	if err != nil {
		return model.LLMPayload{}, eris.Wrapf(err, "annotate: review %s", review.ReviewID)
	}

	resp, err := parseResponse(content)
	if err != nil {
		return model.LLMPayload{}, failure.Wrapf(failure.KindData, err, "annotate: review %s", review.ReviewID)
	}
	return c.toPayload(review, vocab, resp)
}

// Ping sends a JSON echo request and returns the raw reply.
func (c *Client) Ping(ctx context.Context) (string, error) {
	content, err := c.backend.Complete(ctx, pingPrompt, nil)
	if err != nil {
		return "", eris.Wrap(err, "annotate: ping")
	}
	return content, nil
}

type responseTag struct {
	TagCode   string `json:"tag_code"`
	TagNameCN string `json:"tag_name_cn"`
	Evidence  string `json:"evidence"`
}

type response struct {
	ReviewID     *string       `json:"review_id"`
	ReviewSource *flexInt      `json:"review_source"`
	ReviewEN     *string       `json:"review_en"`
	ReviewCN     *string       `json:"review_cn"`
	Sentiment    *flexInt      `json:"sentiment"`
	Tags         []responseTag `json:"tags"`
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return eris.Errorf("not a number: %s", string(b))
	}
	*f = flexInt(v)
	return nil
}

func parseResponse(content string) (response, error) {
	body := stripFences(content)
	if !strings.HasPrefix(body, "{") {
		return response{}, eris.New("reply is not a JSON object")
	}
	var resp response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return response{}, eris.Wrap(err, "decode reply")
	}
	return resp, nil
}

// stripFences removes a surrounding markdown code fence, with or without a
// language tag.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (c *Client) toPayload(review model.CandidateReview, vocab model.Vocabulary, resp response) (model.LLMPayload, error) {
	p := model.LLMPayload{
		ReviewID:     review.ReviewID,
		ReviewSource: review.ReviewSource,
		ReviewEN:     review.ReviewEN,
	}
	if resp.ReviewID != nil && *resp.ReviewID != "" {
		p.ReviewID = *resp.ReviewID
	}
	if resp.ReviewSource != nil {
		p.ReviewSource = int(*resp.ReviewSource)
	}
	if resp.ReviewEN != nil && *resp.ReviewEN != "" {
		p.ReviewEN = *resp.ReviewEN
	}
	if resp.ReviewCN != nil {
		p.ReviewCN = *resp.ReviewCN
	}
	if resp.Sentiment != nil {
		p.Sentiment = model.ClampSentiment(int(*resp.Sentiment))
	}

	for _, t := range resp.Tags {
		code := strings.TrimSpace(t.TagCode)
		if code == "" {
			c.log.Warn("annotate: skipping tag without code", zap.String("review_id", p.ReviewID))
			continue
		}
		frag := model.TagFragment{TagCode: code, TagNameCN: t.TagNameCN, Evidence: t.Evidence}

		if def, ok := vocab[code]; ok {
			if frag.TagNameCN == "" {
				frag.TagNameCN = def.TagNameCN
			}
			p.Tags = append(p.Tags, frag)
			continue
		}

		switch c.policy {
		case TagPolicyKeep:
			p.Tags = append(p.Tags, frag)
		case TagPolicyReject:
			return model.LLMPayload{}, failure.Errorf(failure.KindData, "annotate: review %s: tag %s is not in the vocabulary", p.ReviewID, code)
		default:
			c.log.Warn("annotate: dropping tag outside vocabulary",
				zap.String("review_id", p.ReviewID),
				zap.String("tag_code", code),
			)
		}
	}
	return p, nil
}

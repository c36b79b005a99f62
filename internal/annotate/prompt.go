package annotate

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/return-etl/internal/model"
)

// DefaultInstructions is used when no instruction text is supplied.
const DefaultInstructions = "You are a return-reason analyst for the Amazon US marketplace. " +
	"Reply with a single JSON object with exactly these fields: review_id, review_source, review_en, " +
	"review_cn (the review translated into Simplified Chinese), sentiment (-1, 0 or 1), " +
	"tags (an array of {tag_code, tag_name_cn, evidence}, where evidence quotes the review). " +
	"Only use tag codes from tag_library. Use an empty tags array when nothing applies."

// Prompt is the backend-neutral request: a system message and a user message,
// both JSON documents.
type Prompt struct {
	System string
	User   string
}

type systemMessage struct {
	Role         string                `json:"role"`
	Instructions string                `json:"instructions"`
	TagLibrary   []model.TagDefinition `json:"tag_library"`
}

// BuildPrompt renders the system message (instructions plus the vocabulary
// sorted by tag code) and the user message (the review).
func BuildPrompt(review model.CandidateReview, vocab model.Vocabulary, instructions string) (Prompt, error) {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		instructions = DefaultInstructions
	}

	system, err := model.MarshalJSONLine(systemMessage{
		Role:         "return_analyst",
		Instructions: instructions,
		TagLibrary:   vocab.Definitions(),
	})
	if err != nil {
		return Prompt{}, eris.Wrap(err, "annotate: marshal system message")
	}
	user, err := model.MarshalJSONLine(review)
	if err != nil {
		return Prompt{}, eris.Wrap(err, "annotate: marshal user message")
	}
	return Prompt{System: string(system), User: string(user)}, nil
}

// pingPrompt is the connectivity check prompt.
var pingPrompt = Prompt{
	System: "You are a JSON echo bot.",
	User:   `{"ping":"hello"}`,
}

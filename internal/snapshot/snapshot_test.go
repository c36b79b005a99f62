package snapshot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

func TestCandidates_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "candidates.jsonl")
	in := []model.CandidateReview{
		{ReviewID: "R1", ReviewSource: 1, ReviewEN: "broke <fast> & hard"},
		{ReviewID: "R2", ReviewSource: 2, ReviewEN: "太小"},
	}
	require.NoError(t, WriteCandidates(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"review_id":"R1","review_source":1,"review_en":"broke <fast> & hard"}`, lines[0])

	out, err := ReadCandidates(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPayloads_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payloads.jsonl")
	in := []model.LLMPayload{
		{ReviewID: "R1", ReviewSource: 1, ReviewEN: "broke", ReviewCN: "坏了", Sentiment: -1,
			Tags: []model.TagFragment{{TagCode: "QUAL_BROKEN", TagNameCN: "损坏", Evidence: "broke"}}},
		{ReviewID: "R2", ReviewSource: 2, ReviewEN: "fine", Sentiment: 1},
	}
	require.NoError(t, WritePayloads(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tags":[]`)

	out, err := ReadPayloads(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWrite_EmptyCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	require.NoError(t, WritePayloads(path, nil))

	out, err := ReadPayloads(path)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRead_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.jsonl")
	content := "\n" + `{"review_id":"R1","review_source":1,"review_en":"a"}` + "\n   \n\n" +
		`{"review_id":"R2","review_source":1,"review_en":"b"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	out, err := ReadCandidates(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "R2", out[1].ReviewID)
}

func TestRead_MalformedLineNamesLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jsonl")
	content := `{"review_id":"R1","review_source":1,"review_en":"a"}` + "\n\n" + `{"review_id": "R2",` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := ReadPayloads(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
	assert.Equal(t, failure.KindData, failure.KindOf(err))
}

func TestRead_MissingRequiredField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"review_id":"R1","review_en":"a"}`+"\n"), 0o644))

	_, err := ReadCandidates(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
	assert.Equal(t, failure.KindData, failure.KindOf(err))
}

func TestRead_LongLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.jsonl")
	long := strings.Repeat("x", 1<<20)
	require.NoError(t, WriteCandidates(path, []model.CandidateReview{{ReviewID: "R1", ReviewSource: 1, ReviewEN: long}}))

	out, err := ReadCandidates(path)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0].ReviewEN, 1<<20)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := ReadPayloads(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)
	assert.Equal(t, failure.KindPrecondition, failure.KindOf(err))
}

func TestRequestLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "requests.jsonl")

	l, err := OpenRequestLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(map[string]any{"model": "deepseek-chat", "n": 1}))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.Error(t, l.Record(map[string]any{}))

	// Reopening appends.
	l, err = OpenRequestLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(map[string]any{"model": "deepseek-chat", "n": 2}))
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"model":"deepseek-chat","n":1}`+"\n"+`{"model":"deepseek-chat","n":2}`+"\n", string(raw))
}

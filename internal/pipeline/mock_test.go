package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/return-etl/internal/annotate"
	"github.com/sells-group/return-etl/internal/model"
)

// --- Warehouse Mock ---

type mockWarehouse struct {
	mock.Mock
}

func (m *mockWarehouse) FetchCandidates(ctx context.Context, q model.CandidateQuery) ([]model.CandidateReview, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CandidateReview), args.Error(1)
}

func (m *mockWarehouse) UpsertRawPayload(ctx context.Context, p model.LLMPayload) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockWarehouse) FetchRawPayloads(ctx context.Context, limit int) ([]model.LLMPayload, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LLMPayload), args.Error(1)
}

func (m *mockWarehouse) WriteDetailRows(ctx context.Context, p model.LLMPayload) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockWarehouse) FetchTagVocabulary(ctx context.Context, filters []model.TagFilter) (model.Vocabulary, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.Vocabulary), args.Error(1)
}

func (m *mockWarehouse) UpsertTags(ctx context.Context, records []model.TagRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

func (m *mockWarehouse) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockWarehouse) Close() error {
	return m.Called().Error(0)
}

// --- Annotator Mock ---

type mockAnnotator struct {
	mock.Mock
}

func (m *mockAnnotator) Annotate(ctx context.Context, review model.CandidateReview, vocab model.Vocabulary, instructions string, sink annotate.RequestSink) (model.LLMPayload, error) {
	args := m.Called(ctx, review, vocab, instructions, sink)
	return args.Get(0).(model.LLMPayload), args.Error(1)
}

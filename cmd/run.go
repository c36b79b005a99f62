package main

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/annotate"
	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
	"github.com/sells-group/return-etl/internal/pipeline"
	"github.com/sells-group/return-etl/internal/snapshot"
)

// Pipeline steps.
const (
	stepCandidates = "candidates"
	stepLLM        = "llm"
	stepParse      = "parse"
	stepRaw        = "raw"
	stepAll        = "all"
)

var steps = []string{stepCandidates, stepLLM, stepParse, stepRaw, stepAll}

type runOptions struct {
	step            string
	limit           int
	country         string
	fasin           string
	candidateOutput string
	candidateInput  string
	payloadOutput   string
	payloadInput    string
	promptFile      string
	requestLog      string
	skipDBWrite     bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pipeline step or the full chain",
	Long: "Steps:\n" +
		"  candidates  fetch candidate reviews, optionally saving them to --candidate-output\n" +
		"  llm         annotate candidates (from --candidate-input or the warehouse) and upsert raw payloads\n" +
		"  parse       write detail rows for payloads (from --payload-input or the warehouse)\n" +
		"  raw         re-upsert payloads from --payload-input without calling the LLM\n" +
		"  all         fetch, annotate and parse in one go",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runOpts.validate(); err != nil {
			return err
		}
		return runStep(cmd.Context(), runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.step, "step", "", "step to run: "+strings.Join(steps, "|"))
	f.IntVar(&runOpts.limit, "limit", model.DefaultLimit, "max rows to process")
	f.StringVar(&runOpts.country, "country", "", "only reviews from this country")
	f.StringVar(&runOpts.fasin, "fasin", "", "only reviews for this parent ASIN")
	f.StringVar(&runOpts.candidateOutput, "candidate-output", "", "JSONL destination for fetched candidates")
	f.StringVar(&runOpts.candidateInput, "candidate-input", "", "JSONL source of candidates for the llm step")
	f.StringVar(&runOpts.payloadOutput, "payload-output", "", "JSONL destination for payloads from the llm step")
	f.StringVar(&runOpts.payloadInput, "payload-input", "", "JSONL source of payloads for the parse and raw steps")
	f.StringVar(&runOpts.promptFile, "prompt-file", "prompt/deepseek_prompt.txt", "custom instructions, used if the file exists")
	f.StringVar(&runOpts.requestLog, "llm-request-output", "", "JSONL file to append outgoing LLM request bodies to")
	f.BoolVar(&runOpts.skipDBWrite, "skip-db-write", false, "llm step: do not upsert payloads into the warehouse")
	_ = runCmd.MarkFlagRequired("step")

	rootCmd.AddCommand(runCmd)
}

// validate checks flags that can be rejected before any I/O.
func (o runOptions) validate() error {
	switch o.step {
	case stepCandidates, stepLLM, stepParse, stepAll:
	case stepRaw:
		if o.payloadInput == "" {
			return failure.New(failure.KindPrecondition, "run: --payload-input is required for --step raw")
		}
	default:
		return failure.Errorf(failure.KindPrecondition, "run: unsupported step %q (want %s)", o.step, strings.Join(steps, "|"))
	}
	return nil
}

func (o runOptions) query() model.CandidateQuery {
	return model.CandidateQuery{Limit: o.limit, Country: o.country, FASIN: o.fasin}
}

func (o runOptions) needsLLM() bool {
	return o.step == stepLLM || o.step == stepAll
}

// loadInstructions reads the prompt file if it exists.
func loadInstructions(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", failure.Wrapf(failure.KindConfig, err, "run: read prompt file %s", path)
	}
	return string(data), nil
}

// runStep wires the warehouse, annotator and snapshots for one step. Inputs
// and LLM settings are checked before the warehouse is opened, and the
// warehouse is closed on every exit path.
func runStep(ctx context.Context, o runOptions) (err error) {
	log := logger.With(zap.String("step", o.step))

	var annotator pipeline.Annotator
	var instructions string
	if o.needsLLM() {
		client, err := newAnnotator()
		if err != nil {
			return err
		}
		annotator = client
		if instructions, err = loadInstructions(o.promptFile); err != nil {
			return err
		}
		if instructions != "" {
			log.Info("using custom instructions", zap.String("prompt_file", o.promptFile))
		}
	}

	// File inputs are read up front so a bad snapshot fails before connecting.
	var candidates []model.CandidateReview
	if o.step == stepLLM && o.candidateInput != "" {
		if candidates, err = snapshot.ReadCandidates(o.candidateInput); err != nil {
			return err
		}
		log.Info("loaded candidates", zap.String("path", o.candidateInput), zap.Int("count", len(candidates)))
	}
	var payloads []model.LLMPayload
	if (o.step == stepParse || o.step == stepRaw) && o.payloadInput != "" {
		if payloads, err = snapshot.ReadPayloads(o.payloadInput); err != nil {
			return err
		}
		if payloads == nil {
			payloads = []model.LLMPayload{}
		}
		log.Info("loaded payloads", zap.String("path", o.payloadInput), zap.Int("count", len(payloads)))
	}

	var sink annotate.RequestSink
	if o.needsLLM() && o.requestLog != "" {
		reqLog, err := snapshot.OpenRequestLog(o.requestLog)
		if err != nil {
			return err
		}
		defer reqLog.Close() //nolint:errcheck
		sink = reqLog
	}

	wh, err := openWarehouse(ctx)
	if err != nil {
		return err
	}
	defer closeWarehouse(wh, &err)

	r := pipeline.NewRunner(wh, annotator, log)

	switch o.step {
	case stepCandidates:
		candidates, err := r.FetchCandidates(ctx, o.query())
		if err != nil {
			return err
		}
		if o.candidateOutput != "" {
			if err := snapshot.WriteCandidates(o.candidateOutput, candidates); err != nil {
				return err
			}
			log.Info("saved candidates", zap.String("path", o.candidateOutput), zap.Int("count", len(candidates)))
		}

	case stepLLM:
		vocab, err := r.Vocabulary(ctx, cfg.TagFilters)
		if err != nil {
			return err
		}
		if o.candidateInput == "" {
			if candidates, err = r.FetchCandidates(ctx, o.query()); err != nil {
				return err
			}
		}
		out, err := r.Annotate(ctx, candidates, vocab, pipeline.AnnotateOptions{
			Instructions: instructions,
			WriteToDB:    !o.skipDBWrite,
			Sink:         sink,
		})
		if err != nil {
			return err
		}
		if o.payloadOutput != "" {
			if err := snapshot.WritePayloads(o.payloadOutput, out); err != nil {
				return err
			}
			log.Info("saved payloads", zap.String("path", o.payloadOutput), zap.Int("count", len(out)))
		}

	case stepParse:
		if _, err := r.Parse(ctx, payloads, o.limit); err != nil {
			return err
		}

	case stepRaw:
		if _, err := r.ReplayRaw(ctx, payloads); err != nil {
			return err
		}

	case stepAll:
		candidates, err := r.FetchCandidates(ctx, o.query())
		if err != nil {
			return err
		}
		vocab, err := r.Vocabulary(ctx, cfg.TagFilters)
		if err != nil {
			return err
		}
		out, err := r.Annotate(ctx, candidates, vocab, pipeline.AnnotateOptions{
			Instructions: instructions,
			WriteToDB:    true,
			Sink:         sink,
		})
		if err != nil {
			return err
		}
		if _, err := r.Parse(ctx, out, o.limit); err != nil {
			return err
		}

	default:
		return eris.Errorf("run: unhandled step %q", o.step)
	}

	log.Info("step complete")
	return nil
}

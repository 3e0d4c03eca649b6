package runner_test

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/component/accumulator"
	citem "github.com/tigerroll/batchflow/pkg/batch/component/item"
	"github.com/tigerroll/batchflow/pkg/batch/component/processor"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/core/job/split"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/skip"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/batchflow/pkg/batch/listener/exitstatus"
	"github.com/tigerroll/batchflow/pkg/batch/listener/promotion"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

func balanceStep(t *testing.T, f *fixture, amounts []interface{}, out *citem.CollectingItemWriter) *item.ChunkStep {
	t.Helper()
	classifier, err := exitstatus.NewContextClassifierListener(exitstatus.ClassifierProperties{Key: processor.DefaultBalanceKey})
	require.NoError(t, err)
	promote := promotion.NewExecutionContextPromotionListener(model.ExecutionContextPromotion{
		Keys: []string{processor.DefaultBalanceKey},
	})

	provider := func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
		p, err := processor.NewRunningBalanceProcessor(scope, processor.DefaultBalanceKey,
			func(it interface{}) (float64, error) { return it.(float64), nil },
			func(_ interface{}, balance float64) (interface{}, error) { return balance, nil })
		if err != nil {
			return port.ChunkComponents{}, err
		}
		return port.ChunkComponents{Reader: citem.NewListItemReader("amounts", amounts), Processor: p, Writer: out}, nil
	}
	return item.NewChunkStep("calculateBalance", provider, 20,
		item.WithStepListeners(promote, classifier),
		item.WithJobRepository(f.repo))
}

func TestFlowJobRoutesOnRunningBalance(t *testing.T) {
	cases := []struct {
		name        string
		amounts     []interface{}
		wantOut     []interface{}
		wantBalance float64
		wantExit    model.ExitStatus
		wantMerch   int
		wantMonth   int
	}{
		{
			name:        "positive",
			amounts:     []interface{}{10.0, -5.0, 20.0},
			wantOut:     []interface{}{10.0, 5.0, 25.0},
			wantBalance: 25,
			wantExit:    "POSITIVE",
			wantMerch:   1,
		},
		{
			name:        "negative",
			amounts:     []interface{}{-10.0, 5.0},
			wantOut:     []interface{}{-10.0, -5.0},
			wantBalance: -5,
			wantExit:    "NEGATIVE",
			wantMonth:   1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture("calculateBalance")
			out := citem.NewCollectingItemWriter()
			byMerchant := &scriptedStep{name: "byMerchant"}
			byMonth := &scriptedStep{name: "byMonth"}
			f.add(t, "calculateBalance", balanceStep(t, f, tc.amounts, out))
			f.add(t, "byMerchant", byMerchant)
			f.add(t, "byMonth", byMonth)
			f.flow.AddTransitionRule("calculateBalance", model.Transition{On: "POSITIVE", To: "byMerchant"})
			f.flow.AddTransitionRule("calculateBalance", model.Transition{On: "NEGATIVE", To: "byMonth"})
			f.flow.AddTransitionRule("calculateBalance", model.Transition{On: "*", End: true})
			require.NoError(t, f.flow.Validate())

			je := f.newExecution(t)
			require.NoError(t, f.job().Run(context.Background(), je, je.Parameters))

			assert.Equal(t, model.BatchStatusCompleted, je.Status)
			assert.Equal(t, tc.wantOut, out.Items())

			balance, ok := je.ContextSnapshot().GetFloat64(processor.DefaultBalanceKey)
			require.True(t, ok)
			assert.Equal(t, tc.wantBalance, balance)

			se, ok := je.FindStepExecution("calculateBalance")
			require.True(t, ok)
			assert.Equal(t, tc.wantExit, se.ExitStatus)
			stored, err := f.repo.FindStepExecutionByID(context.Background(), se.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantExit, stored.ExitStatus)

			assert.Equal(t, tc.wantMerch, byMerchant.Runs())
			assert.Equal(t, tc.wantMonth, byMonth.Runs())
		})
	}
}

type teamScore struct {
	Team  string
	Score float64
}

func parseScore(ctx context.Context, it interface{}) (interface{}, error) {
	line := it.(string)
	team, raw, ok := strings.Cut(line, ":")
	if !ok || team == "" {
		return nil, exception.NewSkippableError("scores", fmt.Sprintf("malformed record '%s'", line), nil)
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, exception.NewSkippableError("scores", fmt.Sprintf("malformed score in '%s'", line), err)
	}
	return teamScore{Team: team, Score: score}, nil
}

func scoreStep(t *testing.T, f *fixture, lines []interface{}, skipLimit int) *item.ChunkStep {
	t.Helper()
	promote := promotion.NewExecutionContextPromotionListener(model.ExecutionContextPromotion{
		Keys: []string{"maxScoreRecord", "minScoreRecord"},
	})
	keyOf := func(it interface{}) string { return it.(teamScore).Team }
	valueOf := func(it interface{}) (float64, error) { return it.(teamScore).Score, nil }

	provider := func(ctx context.Context, scope port.StepScope) (port.ChunkComponents, error) {
		maxP, err := processor.NewRunningExtremumProcessor(scope, "maxScoreRecord", processor.Max, keyOf, valueOf)
		if err != nil {
			return port.ChunkComponents{}, err
		}
		minP, err := processor.NewRunningExtremumProcessor(scope, "minScoreRecord", processor.Min, keyOf, valueOf)
		if err != nil {
			return port.ChunkComponents{}, err
		}
		chain := citem.ProcessorFunc(func(ctx context.Context, it interface{}) (interface{}, error) {
			parsed, err := parseScore(ctx, it)
			if err != nil {
				return nil, err
			}
			if _, err := maxP.Process(ctx, parsed); err != nil {
				return nil, err
			}
			return minP.Process(ctx, parsed)
		})
		return port.ChunkComponents{
			Reader:    citem.NewListItemReader("scores", lines),
			Processor: chain,
			Writer:    citem.NewCollectingItemWriter(),
		}, nil
	}
	return item.NewChunkStep("scoreTeams", provider, 2,
		item.WithStepListeners(promote),
		item.WithSkipPolicy(skip.NewDefaultSkipPolicyFactory().Create(skipLimit, nil)),
		item.WithJobRepository(f.repo))
}

// recordReport reads one promoted record from the job context of its step scope.
type recordReport struct {
	key  string
	mu   sync.Mutex
	runs int
	seen processor.Record
}

func (r *recordReport) provide(ctx context.Context, scope port.StepScope) (port.Tasklet, error) {
	rec, err := accumulator.Bind(scope.JobContext, r.key, processor.Record{})
	if err != nil {
		return nil, err
	}
	seen, err := rec.Get()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	r.seen = seen
	return noopTasklet{}, nil
}

func (r *recordReport) result() (int, processor.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs, r.seen
}

type noopTasklet struct{}

func (noopTasklet) Execute(context.Context, *model.StepExecution) (model.ExitStatus, error) {
	return "", nil
}
func (noopTasklet) Close(context.Context) error { return nil }

func reportFlow(t *testing.T, id string, r *recordReport) *model.FlowDefinition {
	t.Helper()
	flow := model.NewFlowDefinition(id)
	require.NoError(t, flow.AddElement(id, tasklet.NewTaskletStep(id, r.provide)))
	return flow
}

func teamScoresJob(t *testing.T, lines []interface{}, skipLimit int) (*fixture, *recordReport, *recordReport) {
	t.Helper()
	best := &recordReport{key: "maxScoreRecord"}
	worst := &recordReport{key: "minScoreRecord"}
	f := newFixture("scoreTeams")
	f.add(t, "scoreTeams", scoreStep(t, f, lines, skipLimit))
	f.add(t, "reports", split.NewConcreteSplit("reports", []*model.FlowDefinition{
		reportFlow(t, "reportBest", best),
		reportFlow(t, "reportWorst", worst),
	}, 2))
	f.flow.AddTransitionRule("scoreTeams", model.Transition{On: "COMPLETED", To: "reports"})
	require.NoError(t, f.flow.Validate())
	return f, best, worst
}

func TestFlowJobSplitReadsPromotedExtremes(t *testing.T) {
	lines := []interface{}{"owls:12", "broken", "bats:30", "cats:-4", "hawks:abc", "dogs:30"}
	f, best, worst := teamScoresJob(t, lines, 2)

	je := f.newExecution(t)
	require.NoError(t, f.job().Run(context.Background(), je, je.Parameters))
	assert.Equal(t, model.BatchStatusCompleted, je.Status)

	se, ok := je.FindStepExecution("scoreTeams")
	require.True(t, ok)
	assert.Equal(t, 6, se.ReadCount)
	assert.Equal(t, 2, se.SkipProcessCount)
	assert.Equal(t, 4, se.WriteCount)

	runs, seen := best.result()
	assert.Equal(t, 1, runs)
	assert.Equal(t, processor.Record{Key: "bats", Value: 30, Set: true}, seen)
	runs, seen = worst.result()
	assert.Equal(t, 1, runs)
	assert.Equal(t, processor.Record{Key: "cats", Value: -4, Set: true}, seen)

	maxKey, ok := je.ContextSnapshot().GetNested("maxScoreRecord.key")
	require.True(t, ok)
	assert.Equal(t, "bats", maxKey)
}

func TestFlowJobFailsWhenMalformedRecordsExceedSkipLimit(t *testing.T) {
	lines := []interface{}{"owls:12", "broken", "bats:30", "eels:", "hawks:abc"}
	f, best, worst := teamScoresJob(t, lines, 2)

	je := f.newExecution(t)
	err := f.job().Run(context.Background(), je, je.Parameters)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, je.Status)

	se, ok := je.FindStepExecution("scoreTeams")
	require.True(t, ok)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 2, se.SkipProcessCount)

	runs, _ := best.result()
	assert.Zero(t, runs)
	runs, _ = worst.result()
	assert.Zero(t, runs)
	assert.False(t, je.ContextSnapshot().Has("maxScoreRecord"))
}

// Package processor aggregates coin scores per player.
package processor

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/example/coins/internal/domain/entity"
	"github.com/tigerroll/batchflow/pkg/batch/component/accumulator"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

const (
	// ScoreAggregatorRef is the JSL ref of the aggregator.
	ScoreAggregatorRef = "scoreAggregator"
	// TotalsKey is the step context key of the per-player totals.
	TotalsKey = "playerTotals"
)

// ScoreAggregator applies each coin to the total of its player and emits the new total.
// Totals live in the step context, so a partition worker resumes them on restart.
type ScoreAggregator struct {
	totals *accumulator.Scoped[map[string]float64]
}

// NewScoreAggregator binds the totals of the step of scope.
func NewScoreAggregator(scope port.StepScope) (*ScoreAggregator, error) {
	totals, err := accumulator.Bind(scope.StepContext, TotalsKey, map[string]float64{})
	if err != nil {
		return nil, err
	}
	return &ScoreAggregator{totals: totals}, nil
}

// Process implements port.ItemProcessor.
func (p *ScoreAggregator) Process(ctx context.Context, item interface{}) (interface{}, error) {
	coin, ok := item.(entity.Coin)
	if !ok {
		return nil, fmt.Errorf("score aggregator: expected entity.Coin, got %T", item)
	}
	current, err := p.totals.Get()
	if err != nil {
		return nil, err
	}
	total, err := coin.Apply(current[coin.PlayerName])
	if err != nil {
		return nil, exception.NewSkippableError("processor", "score aggregator: invalid coin", err)
	}
	// The stored map is replaced, never mutated, so a chunk rollback restores the old one.
	next := make(map[string]float64, len(current)+1)
	for name, v := range current {
		next[name] = v
	}
	next[coin.PlayerName] = total
	p.totals.Set(next)
	return entity.PlayerScore{PlayerName: coin.PlayerName, TotalScore: total}, nil
}

var _ port.ItemProcessor = (*ScoreAggregator)(nil)

// RegisterBuilders registers the aggregator.
func RegisterBuilders(registry *jsl.Registry) {
	registry.RegisterProcessor(ScoreAggregatorRef, func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemProcessor, error) {
		return NewScoreAggregator(scope)
	})
}

var Module = fx.Invoke(RegisterBuilders)

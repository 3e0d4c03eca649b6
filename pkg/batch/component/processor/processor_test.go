package processor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/component/processor"
	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

type txn struct {
	Amount  float64
	Balance float64
}

func scope() port.StepScope {
	return port.NewStepScope(nil, model.NewStepExecution(model.NewID(), nil, "calculate"))
}

func amountOf(item interface{}) (float64, error) {
	t, ok := item.(txn)
	if !ok {
		return 0, errors.New("not a transaction")
	}
	return t.Amount, nil
}

func TestRunningBalance(t *testing.T) {
	s := scope()
	p, err := processor.NewRunningBalanceProcessor(s, "", amountOf, func(item interface{}, balance float64) (interface{}, error) {
		tr := item.(txn)
		tr.Balance = balance
		return tr, nil
	})
	require.NoError(t, err)

	var balances []float64
	for _, amount := range []float64{10, -5, 20} {
		out, err := p.Process(context.Background(), txn{Amount: amount})
		require.NoError(t, err)
		balances = append(balances, out.(txn).Balance)
	}
	assert.Equal(t, []float64{10, 5, 25}, balances)
	got, _ := s.StepContext.GetFloat64(processor.DefaultBalanceKey)
	assert.Equal(t, 25.0, got)
}

func TestRunningBalanceResumesFromContext(t *testing.T) {
	se := model.NewStepExecution(model.NewID(), nil, "calculate")
	se.ExecutionContext.Put(processor.DefaultBalanceKey, 100.0)
	se.ExecutionContext = se.ExecutionContext.DeepCopy()

	p, err := processor.NewRunningBalanceProcessor(port.NewStepScope(nil, se), "", amountOf, nil)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), txn{Amount: -30})
	require.NoError(t, err)
	balance, err := p.Balance()
	require.NoError(t, err)
	assert.Equal(t, 70.0, balance)
}

func TestRunningBalanceRejectsBadItem(t *testing.T) {
	p, err := processor.NewRunningBalanceProcessor(scope(), "", amountOf, nil)
	require.NoError(t, err)
	_, err = p.Process(context.Background(), "garbage")
	assert.Error(t, err)
	balance, _ := p.Balance()
	assert.Equal(t, 0.0, balance)
}

type score struct {
	Team  string
	Score float64
}

func TestRunningExtremum(t *testing.T) {
	s := scope()
	keyOf := func(item interface{}) string { return item.(score).Team }
	valueOf := func(item interface{}) (float64, error) { return item.(score).Score, nil }
	maxP, err := processor.NewRunningExtremumProcessor(s, "maxScoreRecord", processor.Max, keyOf, valueOf)
	require.NoError(t, err)
	minP, err := processor.NewRunningExtremumProcessor(s, "minScoreRecord", processor.Min, keyOf, valueOf)
	require.NoError(t, err)

	for _, it := range []score{{"owls", 12}, {"bats", 30}, {"cats", -4}, {"dogs", 30}} {
		out, err := maxP.Process(context.Background(), it)
		require.NoError(t, err)
		assert.Equal(t, it, out)
		_, err = minP.Process(context.Background(), it)
		require.NoError(t, err)
	}

	best, err := maxP.Current()
	require.NoError(t, err)
	assert.Equal(t, processor.Record{Key: "bats", Value: 30, Set: true}, best)
	worst, err := minP.Current()
	require.NoError(t, err)
	assert.Equal(t, processor.Record{Key: "cats", Value: -4, Set: true}, worst)
}

func TestRunningExtremumRejectsUnknownMode(t *testing.T) {
	_, err := processor.NewRunningExtremumProcessor(scope(), "k", processor.ExtremumMode("median"),
		func(interface{}) string { return "" }, func(interface{}) (float64, error) { return 0, nil })
	assert.Error(t, err)
}

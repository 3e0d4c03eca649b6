package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

func balanceFlow() *model.FlowDefinition {
	fd := model.NewFlowDefinition("calculate")
	for _, id := range []string{"calculate", "byMerchant", "byMonth"} {
		_ = fd.AddElement(id, id)
	}
	fd.AddTransitionRule("calculate", model.Transition{On: model.WildcardPattern, End: true})
	fd.AddTransitionRule("calculate", model.Transition{On: "POSITIVE", To: "byMerchant"})
	fd.AddTransitionRule("calculate", model.Transition{On: "NEGATIVE", To: "byMonth"})
	return fd
}

func TestResolveTransition_ExactBeforeWildcard(t *testing.T) {
	fd := balanceFlow()

	tr, ok := fd.ResolveTransition("calculate", "POSITIVE")
	require.True(t, ok)
	assert.Equal(t, "byMerchant", tr.To)

	tr, ok = fd.ResolveTransition("calculate", "NEGATIVE")
	require.True(t, ok)
	assert.Equal(t, "byMonth", tr.To)

	tr, ok = fd.ResolveTransition("calculate", "UNKNOWN")
	require.True(t, ok)
	assert.True(t, tr.End, "any other status follows the wildcard rule declared first")

	_, ok = fd.ResolveTransition("byMerchant", model.ExitStatusCompleted)
	assert.False(t, ok, "no rule for the element ends the flow")
}

func TestResolveExactTransition(t *testing.T) {
	fd := balanceFlow()
	_, ok := fd.ResolveExactTransition("calculate", "FAILED")
	assert.False(t, ok)

	fd.AddTransitionRule("calculate", model.Transition{On: "FAILED", To: "byMonth"})
	tr, ok := fd.ResolveExactTransition("calculate", "FAILED")
	require.True(t, ok)
	assert.Equal(t, "byMonth", tr.To)
}

func TestFlowDefinition_Validate(t *testing.T) {
	require.NoError(t, balanceFlow().Validate())

	fd := model.NewFlowDefinition("missing")
	_ = fd.AddElement("a", "a")
	fd.AddTransitionRule("a", model.Transition{On: "*", To: "nowhere"})
	fd.AddTransitionRule("ghost", model.Transition{On: "*", End: true})
	fd.AddTransitionRule("a", model.Transition{On: "COMPLETED"})

	err := fd.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start element 'missing' is not defined")
	assert.Contains(t, err.Error(), "undefined element 'nowhere'")
	assert.Contains(t, err.Error(), "transition source 'ghost' is not defined")
	assert.Contains(t, err.Error(), "has no target")
}

func TestFlowDefinition_AddElementRejectsDuplicates(t *testing.T) {
	fd := model.NewFlowDefinition("a")
	require.NoError(t, fd.AddElement("a", 1))
	assert.Error(t, fd.AddElement("a", 2))
}

func TestPartitionName(t *testing.T) {
	assert.Equal(t, "partition2", model.PartitionName(2))
}

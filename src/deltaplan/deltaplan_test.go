package deltaplan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kopi-dev/kopi/src/core"
)

func fp(size int64, whole string, blocks map[int]string) *core.FileFingerprint {
	return &core.FileFingerprint{Size: size, WholeDigest: whole, Blocks: blocks}
}

func TestPlanRemoteAbsent(t *testing.T) {
	local := fp(10, "abc", map[int]string{0: "abc"})
	plan := Plan(local, nil)
	assert.Equal(t, core.DeltaFull, plan.Kind)
	assert.Equal(t, "abc", plan.WholeDigest)
}

func TestPlanIdentical(t *testing.T) {
	local := fp(10, "abc", map[int]string{0: "abc"})
	remote := fp(10, "abc", map[int]string{0: "abc"})
	plan := Plan(local, remote)
	assert.Equal(t, core.DeltaNone, plan.Kind)
}

func TestPlanSingleBlockChanged(t *testing.T) {
	local := fp(10000, "new", map[int]string{0: "x", 1: "changed", 2: "z"})
	remote := fp(10000, "old", map[int]string{0: "x", 1: "orig", 2: "z"})
	plan := Plan(local, remote)
	require := assert.New(t)
	require.Equal(core.DeltaPartial, plan.Kind)
	require.Len(plan.Blocks, 1)
	_, ok := plan.Blocks[1]
	require.True(ok)
}

func TestPlanGrowAppendsTailIndex(t *testing.T) {
	local := fp(4200, "new", map[int]string{0: "changed-head", 1: "tail"})
	remote := fp(4000, "old", map[int]string{0: "orig-head"})
	plan := Plan(local, remote)
	assert.Equal(t, core.DeltaPartial, plan.Kind)
	assert.Len(t, plan.Blocks, 2)
	assert.Contains(t, plan.Blocks, 1)
}

func TestPlanShrinkAlwaysEscalatesToFull(t *testing.T) {
	local := fp(100, "small", map[int]string{0: "small"})
	remote := fp(10000, "big", map[int]string{0: "a", 1: "b", 2: "c"})
	plan := Plan(local, remote)
	assert.Equal(t, core.DeltaFull, plan.Kind, "a shrink must never be expressed as a delta")
}

package planner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func targets(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("t%02d", i+1)
	}
	return out
}

func TestPlan_Empty(t *testing.T) {
	assert.Empty(t, Plan([]string{}, 4))
	assert.Empty(t, Plan[string](nil, 1))
}

func TestPlan_TenTargetsFourJobs(t *testing.T) {
	batches := Plan(targets(10), 4)

	require.Len(t, batches, 3)
	assert.Equal(t, []string{"t01", "t02", "t03", "t04"}, batches[0])
	assert.Equal(t, []string{"t05", "t06", "t07", "t08"}, batches[1])
	assert.Equal(t, []string{"t09", "t10"}, batches[2])
}

func TestPlan_SingleJobIsSequential(t *testing.T) {
	batches := Plan(targets(5), 1)

	require.Len(t, batches, 5)
	for i, batch := range batches {
		assert.Equal(t, []string{fmt.Sprintf("t%02d", i+1)}, batch)
	}
}

func TestPlan_NonPositiveJobsTreatedAsOne(t *testing.T) {
	assert.Len(t, Plan(targets(3), 0), 3)
	assert.Len(t, Plan(targets(3), -2), 3)
}

func TestPlan_JobsLargerThanTargets(t *testing.T) {
	batches := Plan(targets(3), 16)

	require.Len(t, batches, 1)
	assert.Equal(t, targets(3), batches[0])
}

func TestPlan_PartitionProperties(t *testing.T) {
	for n := 1; n <= 25; n++ {
		for jobs := 1; jobs <= 9; jobs++ {
			t.Run(fmt.Sprintf("n=%d/jobs=%d", n, jobs), func(t *testing.T) {
				input := targets(n)
				batches := Plan(input, jobs)

				var joined []string
				for _, batch := range batches {
					assert.NotEmpty(t, batch)
					assert.LessOrEqual(t, len(batch), jobs)
					joined = append(joined, batch...)
				}

				// Concatenation equals the input: no omissions, duplicates or reordering.
				assert.Equal(t, input, joined)
				assert.Len(t, batches, (n+jobs-1)/jobs)
			})
		}
	}
}

func TestPlan_DoesNotAliasInput(t *testing.T) {
	input := targets(4)
	batches := Plan(input, 2)

	batches[0][0] = "changed"

	assert.Equal(t, "t01", input[0])
}

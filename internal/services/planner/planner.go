// Package planner splits restore targets into batches.
package planner

// Plan splits targets into consecutive batches of at most jobs items. Input
// order is preserved across and within batches; no dependency analysis is
// done, so targets must already be in a restorable order. An empty input
// yields no batches. jobs below 1 is treated as 1.
func Plan[T any](targets []T, jobs int) [][]T {
	if len(targets) == 0 {
		return nil
	}
	if jobs < 1 {
		jobs = 1
	}

	batches := make([][]T, 0, (len(targets)+jobs-1)/jobs)
	for start := 0; start < len(targets); start += jobs {
		end := min(start+jobs, len(targets))
		batch := make([]T, end-start)
		copy(batch, targets[start:end])
		batches = append(batches, batch)
	}

	return batches
}

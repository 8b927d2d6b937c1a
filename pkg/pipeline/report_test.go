package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigyanshaala/kalpana/pkg/scheduler"
)

func TestReport(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	r := &Report{
		RunID:      "run-7",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Tables: []TableReport{
			{Table: "intermediate.student_quiz", Status: scheduler.Done, Inserted: 3, Updated: 1, RowsAffected: 4, DuplicatesRemoved: 2},
			{Table: "final.final_quiz", Status: scheduler.Failed, Error: "boom", ErrorKind: KindUpsert},
			{Table: "final.final_assignment", Status: scheduler.Done, Inserted: 5, RowsAffected: 5, UnmappedValues: 2},
		},
	}

	assert.True(t, r.HasFailures())
	assert.Equal(t, []string{"final.final_quiz"}, r.FailedTables())
	assert.Len(t, r.Succeeded(), 2)
	assert.Equal(t, 90*time.Second, r.Duration())

	total := r.Totals()
	assert.Equal(t, int64(8), total.Inserted)
	assert.Equal(t, int64(9), total.RowsAffected)
	assert.Equal(t, int64(2), total.DuplicatesRemoved)
	assert.Equal(t, 2, total.UnmappedValues)

	buf, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(buf, &decoded))
	assert.Equal(t, scheduler.Failed, decoded.Tables[1].Status)
	assert.Equal(t, KindUpsert, decoded.Tables[1].ErrorKind)
	assert.Equal(t, []string{"final.final_quiz"}, decoded.FailedTables())
}

func TestReport_NoFailures(t *testing.T) {
	t.Parallel()

	r := &Report{Tables: []TableReport{{Table: "final.final_quiz", Status: scheduler.Done}}}
	assert.False(t, r.HasFailures())
	assert.Empty(t, r.FailedTables())
	assert.Zero(t, r.Duration())
}

package scheduler

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
)

func lookup(t *testing.T, names ...string) []catalog.Descriptor {
	t.Helper()

	out := make([]catalog.Descriptor, len(names))
	for i, name := range names {
		d, err := catalog.Default().Lookup(name)
		require.NoError(t, err)
		out[i] = d
	}
	return out
}

func TestTableStatus_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PENDING", Pending.String())
	assert.Equal(t, "CONSTRAINING", Constraining.String())
	assert.Equal(t, "FAILED", Failed.String())
	assert.Equal(t, "UNKNOWN", TableStatus(42).String())
}

func TestTableStatus_JSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(map[string]TableStatus{"status": Done})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"DONE"}`, string(b))

	var decoded map[string]TableStatus
	require.NoError(t, json.Unmarshal([]byte(`{"status":"failed"}`), &decoded))
	assert.Equal(t, Failed, decoded["status"])

	require.Error(t, json.Unmarshal([]byte(`{"status":"RETRYING"}`), &decoded))
}

func TestTableInstance_MarkAs(t *testing.T) {
	t.Parallel()

	t.Run("happy path visits every stage", func(t *testing.T) {
		t.Parallel()

		ti := NewTableInstance(lookup(t, catalog.FinalQuiz)[0])
		assert.NotEmpty(t, ti.ID)
		for _, s := range []TableStatus{Deduping, Constraining, Upserting, Done} {
			require.NoError(t, ti.MarkAs(s))
		}
		assert.True(t, ti.Completed())
		assert.False(t, ti.StartedAt.IsZero())
		assert.False(t, ti.FinishedAt.Before(ti.StartedAt))
	})

	t.Run("stages cannot be skipped", func(t *testing.T) {
		t.Parallel()

		ti := NewTableInstance(lookup(t, catalog.FinalQuiz)[0])
		require.ErrorIs(t, ti.MarkAs(Upserting), ErrInvalidTransition)
		require.ErrorIs(t, ti.MarkAs(Done), ErrInvalidTransition)
		assert.Equal(t, Pending, ti.Status())
	})

	t.Run("failure from any stage, never after completion", func(t *testing.T) {
		t.Parallel()

		ti := NewTableInstance(lookup(t, catalog.FinalQuiz)[0])
		require.NoError(t, ti.MarkAs(Deduping))
		require.NoError(t, ti.Fail(errors.New("duplicates remain")))
		assert.Equal(t, Failed, ti.Status())
		assert.EqualError(t, ti.Err, "duplicates remain")

		require.ErrorIs(t, ti.MarkAs(Failed), ErrInvalidTransition)
		require.ErrorIs(t, ti.MarkAs(Deduping), ErrInvalidTransition)
	})

	t.Run("pending tables can be failed directly", func(t *testing.T) {
		t.Parallel()

		ti := NewTableInstance(lookup(t, catalog.FinalQuiz)[0])
		require.NoError(t, ti.Fail(errors.New("cancelled")))
		assert.Equal(t, Failed, ti.Status())
		assert.GreaterOrEqual(t, ti.Duration().Nanoseconds(), int64(0))
	})
}

func TestValidateOrder(t *testing.T) {
	t.Parallel()

	r := catalog.Default()

	require.NoError(t, ValidateOrder(r, []string{catalog.StudentQuiz, catalog.FinalQuiz}))
	require.NoError(t, ValidateOrder(r, []string{catalog.FinalQuiz}))
	require.NoError(t, ValidateOrder(r, []string{catalog.FinalQuiz, catalog.StudentAssignment}))

	err := ValidateOrder(r, []string{catalog.FinalQuiz, catalog.StudentQuiz})
	require.ErrorIs(t, err, ErrOrderViolation)
	assert.Contains(t, err.Error(), "'final.final_quiz' is listed before 'intermediate.student_quiz'")
}

func TestSortByDependencies(t *testing.T) {
	t.Parallel()

	r := catalog.Default()

	got, err := SortByDependencies(r, []string{
		catalog.DailyWeeklyAttendance,
		catalog.FinalQuiz,
		catalog.StudentSession,
		catalog.StudentQuiz,
		catalog.GeneralInformationSheet,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		catalog.GeneralInformationSheet,
		catalog.StudentSession,
		catalog.DailyWeeklyAttendance,
		catalog.StudentQuiz,
		catalog.FinalQuiz,
	}, got)
	require.NoError(t, ValidateOrder(r, got))

	all, err := SortByDependencies(r, r.Names())
	require.NoError(t, err)
	assert.Equal(t, r.Names(), all)

	_, err = SortByDependencies(r, []string{catalog.FinalQuiz, catalog.FinalQuiz})
	require.Error(t, err)
}

func TestNewPlan(t *testing.T) {
	t.Parallel()

	r := catalog.Default()

	p, err := NewPlan(r, lookup(t, catalog.StudentQuiz, catalog.StudentAssignment, catalog.FinalQuiz))
	require.NoError(t, err)
	require.Len(t, p.Instances(), 3)

	finalQuiz := p.Instances()[2]
	require.Len(t, finalQuiz.Upstream(), 1)
	assert.Equal(t, catalog.StudentQuiz, finalQuiz.Upstream()[0].Name())
	assert.Empty(t, finalQuiz.FailedUpstream())

	require.NoError(t, p.Instances()[0].Fail(errors.New("boom")))
	assert.Equal(t, []string{catalog.StudentQuiz}, finalQuiz.FailedUpstream())
	assert.Equal(t, 2, p.CountByStatus(Pending))
	assert.Equal(t, 1, p.CountByStatus(Failed))

	_, err = NewPlan(r, lookup(t, catalog.FinalQuiz, catalog.StudentQuiz))
	require.ErrorIs(t, err, ErrOrderViolation)
}

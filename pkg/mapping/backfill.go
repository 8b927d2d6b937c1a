package mapping

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

// LocationMatch is a student whose missing location_id can be filled from the raw state and district.
type LocationMatch struct {
	StudentID  string
	LocationID string
	State      string
	District   string
}

// LocationBackfill fills intermediate.student_details.location_id from raw.general_information_sheet,
// matching state and district against intermediate.location_mapping. Only NULL location ids are touched.
type LocationBackfill struct{}

func (LocationBackfill) matchesSQL() string {
	return fmt.Sprintf(`SELECT DISTINCT ON (sd.id)
    sd.id AS student_id,
    lm.location_id,
    gs."State_Union_Territory" AS state,
    gs."District" AS district
FROM intermediate.student_details sd
JOIN raw.general_information_sheet gs
    ON gs."Student_id" = sd.id
JOIN intermediate.location_mapping lm
    ON %s
   AND %s
WHERE sd.location_id IS NULL
ORDER BY sd.id, lm.location_id`,
		Match(`gs."State_Union_Territory"`, "lm.state_union_territory"),
		Match(`gs."District"`, "lm.district"),
	)
}

func (b LocationBackfill) PreviewQuery() *query.Query {
	return query.New(fmt.Sprintf(`SELECT student_id::text, location_id::text, COALESCE(state::text, ''), COALESCE(district::text, '')
FROM (
%s
) AS m`, b.matchesSQL()))
}

func (b LocationBackfill) ApplyQuery() *query.Query {
	return query.New(fmt.Sprintf(`UPDATE intermediate.student_details AS target
SET location_id = m.location_id
FROM (
%s
) AS m
WHERE target.id = m.student_id
  AND target.location_id IS NULL`, b.matchesSQL()))
}

// Preview lists the students that Apply would update.
func (b LocationBackfill) Preview(ctx context.Context, q postgres.Querier) ([]LocationMatch, error) {
	rows, err := postgres.Select(ctx, q, b.PreviewQuery())
	if err != nil {
		return nil, errors.Wrap(err, "failed to preview the location backfill")
	}

	matches := make([]LocationMatch, 0, len(rows))
	for _, row := range rows {
		if len(row) != 4 {
			return nil, errors.Errorf("location backfill preview returned %d columns, expected 4", len(row))
		}
		m := LocationMatch{}
		m.StudentID, _ = row[0].(string)
		m.LocationID, _ = row[1].(string)
		m.State, _ = row[2].(string)
		m.District, _ = row[3].(string)
		matches = append(matches, m)
	}

	return matches, nil
}

// Apply updates the matched students and returns how many rows changed.
func (b LocationBackfill) Apply(ctx context.Context, q postgres.Querier) (int64, error) {
	qry := b.ApplyQuery()
	tag, err := q.Exec(ctx, qry.String(), qry.Args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to apply the location backfill")
	}
	return tag.RowsAffected(), nil
}

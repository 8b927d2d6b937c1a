package mapping

import (
	"fmt"
	"strings"

	"github.com/vigyanshaala/kalpana/pkg/query"
)

// Normalized renders the SQL form of Normalize.
func Normalized(expr string) string {
	return fmt.Sprintf(`lower(btrim(normalize(%s, NFC), E'%s'))`, expr, escapedTrimSet())
}

// escapedTrimSet renders trimSet as the body of a PostgreSQL escape string.
func escapedTrimSet() string {
	var b strings.Builder
	for _, r := range trimSet {
		switch {
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\n':
			b.WriteString(`\n`)
		case r < 0x80:
			b.WriteRune(r)
		default:
			fmt.Fprintf(&b, `\u%04X`, r)
		}
	}
	return b.String()
}

// Match renders the join condition used against curated lookup tables.
func Match(left, right string) string {
	return Normalized(left) + " = " + Normalized(right)
}

// AggregateDistinct renders a deterministic distinct, comma-joined aggregate.
func AggregateDistinct(expr string) string {
	return fmt.Sprintf("string_agg(DISTINCT %s, ', ' ORDER BY %s)", expr, expr)
}

// EducationProfileCTEs resolves each student's education rows against the subject, course, college and
// university mappings. Every mapping is an outer join, so students with unmapped values keep a profile row
// with NULL mapped fields. The last CTE, education_profile, has exactly one row per student_id.
func EducationProfileCTEs() []query.CTE {
	return []query.CTE{
		{
			Name: "mapped_subjects",
			Query: `SELECT
    se.student_id,
    se.education_course_id,
    cm.course_name,
    colm.standard_college_names AS college_name,
    um.standard_university_names AS university_name,
    sm.education_category,
    sm.subject_area,
    sm.sub_field
FROM intermediate.student_education se
LEFT JOIN LATERAL unnest(se.subject_id) AS unnested_subject(subject_id) ON TRUE
LEFT JOIN intermediate.subject_mapping sm
    ON unnested_subject.subject_id = sm.id
LEFT JOIN intermediate.course_mapping cm
    ON se.education_course_id = cm.course_id
LEFT JOIN intermediate.college_mapping colm
    ON se.college_id = colm.college_id
LEFT JOIN intermediate.university_mapping um
    ON se.university_id = um.university_id`,
		},
		{
			Name: "aggregated_subjects",
			Query: `SELECT
    student_id,
    education_course_id,
    ` + AggregateDistinct("education_category") + ` AS education_category,
    ` + AggregateDistinct("subject_area") + ` AS subject_areas,
    ` + AggregateDistinct("sub_field") + ` AS sub_fields_list,
    min(course_name) AS course_name,
    min(college_name) AS college_name,
    min(university_name) AS university_name
FROM mapped_subjects
GROUP BY student_id, education_course_id`,
		},
		{
			Name: "education_profile",
			Query: `SELECT DISTINCT ON (student_id)
    student_id,
    education_course_id,
    education_category,
    subject_areas,
    sub_fields_list,
    course_name,
    college_name,
    university_name
FROM aggregated_subjects
ORDER BY student_id, education_course_id NULLS LAST`,
		},
	}
}

// LatestRegistrationCTE picks one registration form per student, the most recent one.
func LatestRegistrationCTE() query.CTE {
	return query.CTE{
		Name: "student_registration",
		Query: `SELECT DISTINCT ON (student_id)
    student_id,
    form_details
FROM intermediate.student_registration_details
ORDER BY student_id, registration_date DESC NULLS LAST, id DESC`,
	}
}

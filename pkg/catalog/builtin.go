package catalog

import (
	"fmt"
	"strings"

	"github.com/vigyanshaala/kalpana/pkg/mapping"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

const (
	GeneralInformationSheet = "raw.general_information_sheet"
	LiveSession             = "intermediate.live_session"
	StudentAssignment       = "intermediate.student_assignment"
	StudentSession          = "intermediate.student_session"
	StudentQuiz             = "intermediate.student_quiz"
	StudentDemography       = "final.student_demography"
	FinalQuiz               = "final.final_quiz"
	FinalAssignment         = "final.final_assignment"
	DailyWeeklyAttendance   = "final.daily_weekly_attendance"
)

const quizMaxMarks = 100

// submissionMarks maps a review status to the percentage credited for it. Any other status scores 0.
var submissionMarks = []struct {
	Status string
	Marks  int
}{
	{Status: "under review", Marks: 30},
	{Status: "reviewed", Marks: 100},
	{Status: "rejected", Marks: 80},
}

// sessionCodePrefixes selects the live session recordings that count towards attendance.
var sessionCodePrefixes = []string{"SUK", "WS", "MC"}

// profileColumns are the student profile attributes repeated on every final table.
var profileColumns = []string{
	"form_details",
	"state_union_territory",
	"district",
	"country",
	"city_category",
	"education_category",
	"subject_areas",
	"sub_fields_list",
	"course_name",
	"college_name",
	"university_name",
}

var mappingSources = []string{
	"intermediate.location_mapping",
	"intermediate.student_registration_details",
	"intermediate.student_education",
	"intermediate.subject_mapping",
	"intermediate.course_mapping",
	"intermediate.college_mapping",
	"intermediate.university_mapping",
}

var cohortProbe = mapping.Probe{
	Kind:    mapping.KindCohort,
	Table:   GeneralInformationSheet,
	Columns: []string{"Incubator_Course_Name"},
}

func builtin() []Descriptor {
	return []Descriptor{
		{
			Name:           GeneralInformationSheet,
			Tier:           TierRaw,
			Description:    "Raw student registrations loaded from the general information sheet.",
			NaturalKey:     []string{"Email"},
			Dedupe:         true,
			UpsertDisabled: true,
		},
		{
			Name:           LiveSession,
			Tier:           TierIntermediate,
			Description:    "Live sessions loaded by ingestion, one per cohort, code and time.",
			NaturalKey:     []string{"cohort_code", "code", "conducted_on"},
			Dedupe:         true,
			UpsertDisabled: true,
		},
		studentAssignment(),
		studentSession(),
		studentQuiz(),
		studentDemography(),
		finalQuiz(),
		finalAssignment(),
		dailyWeeklyAttendance(),
	}
}

func studentAssignment() Descriptor {
	return Descriptor{
		Name:        StudentAssignment,
		Tier:        TierIntermediate,
		Description: "Assignment submissions resolved to students, resources and cohorts.",
		NaturalKey:  []string{"student_id", "resource_id", "submitted_at"},
		Columns: []string{
			"student_id", "resource_id", "submitted_at", "mentor_id", "cohort_code",
			"submission_status", "marks_pct", "feedback_comments", "assignment_file",
		},
		Derivation: Derivation{
			Select: `SELECT
    g."Student_id"::int AS student_id,
    r.id::int AS resource_id,
    a.submitted_at::timestamp AS submitted_at,
    NULL::int AS mentor_id,
    c.cohort_code,
    NULLIF(` + mapping.Normalized("a.submission_status") + `, '')::intermediate.submission_status_enum AS submission_status,
    ` + marksPctExpr(mapping.Normalized("a.submission_status")) + ` AS marks_pct,
    a.feedback_comments,
    a.assignment_file
FROM raw.assignment_monitoring_data a
JOIN raw.general_information_sheet g
    ON ` + mapping.Match(`a."Email"`, `g."Email"`) + `
JOIN intermediate.cohort c
    ON ` + mapping.Match(`g."Incubator_Course_Name"`, "c.cohort_name") + `
JOIN intermediate.resource r
    ON r.category = 'Assignment'
   AND ` + mapping.Match("a.assignment_name", "r.title"),
		},
		TieBreak: []Order{{Column: "marks_pct", Descending: true}, {Column: "feedback_comments"}, {Column: "assignment_file"}},
		Sources: []string{
			"raw.assignment_monitoring_data",
			GeneralInformationSheet,
			"intermediate.cohort",
			"intermediate.resource",
		},
		Dedupe: true,
		Probes: []mapping.Probe{
			{Kind: mapping.KindResource, Table: "raw.assignment_monitoring_data", Columns: []string{"assignment_name"}},
			cohortProbe,
		},
	}
}

func studentSession() Descriptor {
	return Descriptor{
		Name:        StudentSession,
		Tier:        TierIntermediate,
		Description: "Live session views per student, restricted to tracked session codes.",
		NaturalKey:  []string{"student_id", "session_id"},
		Columns:     []string{"student_id", "session_id", "duration_in_sec", "watched_on"},
		Derivation: Derivation{
			Select: `SELECT
    g."Student_id"::int AS student_id,
    s.id::int AS session_id,
    ssi."Duration_in_secs"::int AS duration_in_sec,
    ssi.watched_on::date AS watched_on
FROM raw.student_session_information ssi
JOIN raw.general_information_sheet g
    ON ` + mapping.Match(`ssi."Email"`, `g."Email"`) + `
JOIN intermediate.cohort c
    ON ` + mapping.Match(`g."Incubator_Course_Name"`, "c.cohort_name") + `
JOIN intermediate.live_session s
    ON s.cohort_code = c.cohort_code
   AND ` + mapping.Match(`ssi."Session_Code"`, "s.code") + `
WHERE ` + sessionCodeFilter(`ssi."Session_Code"`),
		},
		TieBreak: []Order{{Column: "watched_on", Descending: true}, {Column: "duration_in_sec", Descending: true}},
		Sources: []string{
			"raw.student_session_information",
			GeneralInformationSheet,
			"intermediate.cohort",
			LiveSession,
		},
		Dedupe: true,
		Probes: []mapping.Probe{cohortProbe},
	}
}

func studentQuiz() Descriptor {
	return Descriptor{
		Name:        StudentQuiz,
		Tier:        TierIntermediate,
		Description: "Quiz scores resolved to students, quiz resources and cohorts.",
		NaturalKey:  []string{"student_id", "resource_id"},
		Columns:     []string{"student_id", "resource_id", "cohort_code", "max_marks", "marks", "reattempts", "attempted_at"},
		Derivation: Derivation{
			Select: fmt.Sprintf(`SELECT
    g."Student_id"::int AS student_id,
    r.id::int AS resource_id,
    c.cohort_code,
    %d::int AS max_marks,
    q."value"::int AS marks,
    NULL::int AS reattempts,
    NULL::timestamp AS attempted_at
FROM raw.incubator_quiz_monitoring q
JOIN raw.general_information_sheet g
    ON %s
JOIN intermediate.cohort c
    ON %s
JOIN intermediate.resource r
    ON r.category = 'Quiz'
   AND %s`,
				quizMaxMarks,
				mapping.Match("q.user_id", `g."Email"`),
				mapping.Match(`g."Incubator_Course_Name"`, "c.cohort_name"),
				mapping.Match("q.data_fields", "r.title"),
			),
		},
		TieBreak: []Order{{Column: "marks", Descending: true}, {Column: "cohort_code"}},
		Sources: []string{
			"raw.incubator_quiz_monitoring",
			GeneralInformationSheet,
			"intermediate.cohort",
			"intermediate.resource",
		},
		Dedupe: true,
		Probes: []mapping.Probe{
			{Kind: mapping.KindResource, Table: "raw.incubator_quiz_monitoring", Columns: []string{"data_fields"}},
			cohortProbe,
		},
	}
}

func studentDemography() Descriptor {
	return Descriptor{
		Name:        StudentDemography,
		Tier:        TierFinal,
		Description: "One reporting row per student email with location, registration and education profile.",
		NaturalKey:  []string{"email"},
		Columns: append([]string{
			"email", "student_id", "caste", "annual_family_income_inr", "Incubator_Batch",
		}, profileColumns...),
		Derivation: Derivation{
			CTEs: profileCTEs(),
			Select: `SELECT
    sc.email,
    sc.student_id,
    sd.caste,
    sd.annual_family_income_inr,
    sc.incubator_batch AS "Incubator_Batch",
    ` + profileSelect("sc") + `
FROM student_context sc
JOIN intermediate.student_details sd
    ON sd.id = sc.student_id
` + profileJoins("sc"),
		},
		TieBreak: []Order{{Column: "student_id"}},
		Sources:  finalSources(),
		Dedupe:   true,
		Probes: []mapping.Probe{
			{Kind: mapping.KindLocation, Table: GeneralInformationSheet, Columns: []string{"State_Union_Territory", "District"}},
		},
	}
}

func finalQuiz() Descriptor {
	return Descriptor{
		Name:        FinalQuiz,
		Tier:        TierFinal,
		Description: "Quiz scores joined with the student profile for reporting.",
		NaturalKey:  []string{"student_id", "resource_id"},
		Columns: append([]string{
			"student_id", "resource_id", "Incubator_Batch", "category", "title", "cohort_code", "marks", "max_marks",
		}, profileColumns...),
		Derivation: Derivation{
			CTEs: profileCTEs(),
			Select: `SELECT
    sq.student_id,
    sq.resource_id,
    sc.incubator_batch AS "Incubator_Batch",
    r.category,
    r.title,
    sq.cohort_code,
    sq.marks,
    sq.max_marks,
    ` + profileSelect("sc") + `
FROM intermediate.student_quiz sq
JOIN intermediate.resource r
    ON sq.resource_id = r.id
JOIN student_context sc
    ON sq.student_id = sc.student_id
` + profileJoins("sc"),
		},
		Sources: append([]string{StudentQuiz, "intermediate.resource"}, finalSources()...),
		Dedupe:  true,
	}
}

func finalAssignment() Descriptor {
	return Descriptor{
		Name:        FinalAssignment,
		Tier:        TierFinal,
		Description: "Assignment submissions joined with the student profile for reporting.",
		NaturalKey:  []string{"student_id", "resource_id", "submitted_at"},
		Columns: append([]string{
			"student_id", "resource_id", "submitted_at", "Incubator_Batch", "category", "title",
			"cohort_code", "submission_status", "marks_pct",
		}, profileColumns...),
		Derivation: Derivation{
			CTEs: profileCTEs(),
			Select: `SELECT
    sa.student_id,
    sa.resource_id,
    sa.submitted_at,
    sc.incubator_batch AS "Incubator_Batch",
    r.category,
    r.title,
    sa.cohort_code,
    sa.submission_status,
    sa.marks_pct,
    ` + profileSelect("sc") + `
FROM intermediate.student_assignment sa
JOIN intermediate.resource r
    ON sa.resource_id = r.id
JOIN student_context sc
    ON sa.student_id = sc.student_id
` + profileJoins("sc"),
		},
		Sources: append([]string{StudentAssignment, "intermediate.resource"}, finalSources()...),
		Dedupe:  true,
	}
}

func dailyWeeklyAttendance() Descriptor {
	ctes := append(profileCTEs(), query.CTE{
		Name: "cohort_sessions",
		Query: `SELECT
    ls.id,
    ls.session_name,
    ls.code,
    ls.conducted_on::date AS conducted_on
FROM intermediate.live_session ls
JOIN intermediate.cohort c
    ON ls.cohort_code = c.cohort_code
WHERE ls.conducted_on::date BETWEEN c.start_date AND c.end_date`,
	})

	return Descriptor{
		Name:        DailyWeeklyAttendance,
		Tier:        TierFinal,
		Description: "Live session attendance within each cohort's date range, joined with the student profile.",
		NaturalKey:  []string{"student_id", "session_id"},
		Columns: append([]string{
			"student_id", "session_id", "weekday_name", "incubator_batch", "title", "code",
			"conducted_on", "attended_on", "duration_in_sec",
		}, profileColumns...),
		Derivation: Derivation{
			CTEs: ctes,
			Select: `SELECT
    ss.student_id,
    ss.session_id,
    TRIM(TO_CHAR(COALESCE(ss.watched_on, cs.conducted_on), 'Day')) AS weekday_name,
    sc.incubator_batch,
    cs.session_name AS title,
    cs.code,
    cs.conducted_on,
    COALESCE(ss.watched_on, cs.conducted_on) AS attended_on,
    ss.duration_in_sec,
    ` + profileSelect("sc") + `
FROM intermediate.student_session ss
JOIN cohort_sessions cs
    ON ss.session_id = cs.id
JOIN student_context sc
    ON ss.student_id = sc.student_id
` + profileJoins("sc"),
		},
		Sources: append([]string{StudentSession, LiveSession, "intermediate.cohort"}, finalSources()...),
		Dedupe:  true,
	}
}

// profileCTEs are shared by every final table. student_context has one row per student.
func profileCTEs() []query.CTE {
	ctes := []query.CTE{
		{
			Name: "student_context",
			Query: `SELECT DISTINCT ON (sd.id)
    sd.id AS student_id,
    sd.email,
    gs."Incubator_Batch" AS incubator_batch,
    lm.state_union_territory,
    lm.district,
    lm.country,
    lm.city_category
FROM intermediate.student_details sd
JOIN raw.general_information_sheet gs
    ON ` + mapping.Match("sd.email", `gs."Email"`) + `
LEFT JOIN intermediate.location_mapping lm
    ON sd.location_id = lm.location_id
ORDER BY sd.id, gs."Incubator_Batch" NULLS LAST`,
		},
		mapping.LatestRegistrationCTE(),
	}
	return append(ctes, mapping.EducationProfileCTEs()...)
}

func profileSelect(context string) string {
	columns := []string{
		"sr.form_details",
		context + ".state_union_territory",
		context + ".district",
		context + ".country",
		context + ".city_category",
		"ep.education_category",
		"ep.subject_areas",
		"ep.sub_fields_list",
		"ep.course_name",
		"ep.college_name",
		"ep.university_name",
	}
	return strings.Join(columns, ",\n    ")
}

func profileJoins(context string) string {
	return fmt.Sprintf(`LEFT JOIN student_registration sr
    ON %[1]s.student_id = sr.student_id
LEFT JOIN education_profile ep
    ON %[1]s.student_id = ep.student_id`, context)
}

func finalSources() []string {
	return append([]string{"intermediate.student_details", GeneralInformationSheet}, mappingSources...)
}

func marksPctExpr(status string) string {
	var b strings.Builder
	b.WriteString("(CASE")
	for _, m := range submissionMarks {
		fmt.Fprintf(&b, " WHEN %s = '%s' THEN %d", status, m.Status, m.Marks)
	}
	b.WriteString(" ELSE 0 END)::decimal")
	return b.String()
}

func sessionCodeFilter(column string) string {
	conditions := make([]string, len(sessionCodePrefixes))
	for i, prefix := range sessionCodePrefixes {
		conditions[i] = fmt.Sprintf("btrim(%s) LIKE '%s%%'", column, prefix)
	}
	return "(" + strings.Join(conditions, " OR ") + ")"
}

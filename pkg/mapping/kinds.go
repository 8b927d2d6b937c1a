package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

type Kind string

const (
	KindCollege    Kind = "college"
	KindUniversity Kind = "university"
	KindSubject    Kind = "subject"
	KindCourse     Kind = "course"
	KindLocation   Kind = "location"
	KindResource   Kind = "resource"
	KindCohort     Kind = "cohort"
)

var ErrUnknownKind = errors.New("unknown mapping kind")

// source describes where a mapping kind is curated.
type source struct {
	table       string
	idColumn    string
	nameColumns []string
	category    string
}

var sources = map[Kind]source{
	KindCollege:    {table: "intermediate.college_mapping", idColumn: "college_id", nameColumns: []string{"standard_college_names"}},
	KindUniversity: {table: "intermediate.university_mapping", idColumn: "university_id", nameColumns: []string{"standard_university_names"}},
	KindSubject:    {table: "intermediate.subject_mapping", idColumn: "id", nameColumns: []string{"sub_field"}, category: "subject_area"},
	KindCourse:     {table: "intermediate.course_mapping", idColumn: "course_id", nameColumns: []string{"course_name"}},
	KindLocation:   {table: "intermediate.location_mapping", idColumn: "location_id", nameColumns: []string{"state_union_territory", "district"}},
	KindResource:   {table: "intermediate.resource", idColumn: "id", nameColumns: []string{"title"}, category: "category"},
	KindCohort:     {table: "intermediate.cohort", idColumn: "cohort_code", nameColumns: []string{"cohort_name"}},
}

// Kinds lists every supported mapping kind in a stable order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(sources))
	for k := range sources {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := sources[k]; !ok {
		return "", errors.Wrapf(ErrUnknownKind, "'%s'", s)
	}
	return k, nil
}

// Table is the curated table backing the kind.
func (k Kind) Table() string {
	return sources[k].table
}

// Arity is the number of name parts a raw value of this kind has.
func (k Kind) Arity() int {
	return len(sources[k].nameColumns)
}

func (k Kind) loadQuery() (*query.Query, error) {
	src, ok := sources[k]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "'%s'", k)
	}

	columns := []string{postgres.QuoteIdentifier(src.idColumn) + "::text"}
	for _, name := range src.nameColumns {
		columns = append(columns, fmt.Sprintf("COALESCE(%s::text, '')", postgres.QuoteIdentifier(name)))
	}
	if src.category != "" {
		columns = append(columns, fmt.Sprintf("COALESCE(%s::text, '')", postgres.QuoteIdentifier(src.category)))
	} else {
		columns = append(columns, "''")
	}

	return query.New(fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(columns, ", "),
		postgres.QuoteIdentifier(src.table),
		postgres.QuoteIdentifier(src.idColumn),
	)), nil
}

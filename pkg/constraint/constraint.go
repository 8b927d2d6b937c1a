package constraint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/logger"
	"github.com/vigyanshaala/kalpana/pkg/postgres"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

// postgres truncates identifiers longer than this.
const maxIdentifierLength = 63

// keyHashLength hex characters of the key digest end every constraint name.
const keyHashLength = 8

// ErrLeftoverDuplicates means the constraint could not be created because the table still has duplicate keys.
// It is a configuration error: the table must be deduplicated first, or its declared key is wrong.
var ErrLeftoverDuplicates = errors.New("table has duplicate keys, cannot add the unique constraint")

type Outcome int

const (
	AlreadyPresent Outcome = iota
	Created
	// Replaced means a constraint this manager created earlier over another key was dropped first.
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Replaced:
		return "replaced"
	default:
		return "already present"
	}
}

type Manager struct {
	logger logger.Logger
}

func NewManager(l logger.Logger) *Manager {
	return &Manager{logger: l}
}

// Prefix starts the name of every constraint created for the table, whatever its key.
func Prefix(table string) string {
	name := "uq_" + strings.ReplaceAll(table, ".", "_")
	if limit := maxIdentifierLength - keyHashLength - 1; len(name) > limit {
		name = name[:limit]
	}
	return name
}

// Name is the constraint name used for a table and key when one has to be created. It ends with a digest of
// the key columns, so a changed key gets a new name. Column order does not change the digest.
func Name(table string, key []string) string {
	sorted := slices.Clone(key)
	slices.Sort(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return Prefix(table) + "_" + hex.EncodeToString(sum[:])[:keyHashLength]
}

// FindQuery looks for a non-partial unique index, primary keys and unique constraints included, whose
// column set is exactly the key. Column order does not matter for uniqueness.
func FindQuery(table string, key []string) *query.Query {
	sorted := slices.Clone(key)
	slices.Sort(sorted)

	return query.New(`SELECT i.indexrelid::regclass::text
FROM pg_index i
WHERE i.indrelid = to_regclass($1)
  AND i.indisunique
  AND i.indpred IS NULL
  AND i.indexprs IS NULL
  AND ARRAY(
        SELECT a.attname::text
        FROM unnest(i.indkey::int2[]) AS k(attnum)
        JOIN pg_attribute a
            ON a.attrelid = i.indrelid
           AND a.attnum = k.attnum
        ORDER BY a.attname
      ) = $2::text[]
ORDER BY 1
LIMIT 1`, postgres.QuoteIdentifier(table), sorted)
}

func AddQuery(table string, key []string) *query.Query {
	return query.New(fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
		postgres.QuoteIdentifier(table),
		postgres.QuoteIdentifier(Name(table, key)),
		strings.Join(postgres.QuoteIdentifiers(key), ", "),
	))
}

// OwnedQuery lists the unique constraints on the table that carry this manager's name prefix.
func OwnedQuery(table string) *query.Query {
	prefix := Prefix(table)
	return query.New(`SELECT c.conname::text
FROM pg_constraint c
WHERE c.conrelid = to_regclass($1)
  AND c.contype = 'u'
  AND left(c.conname, $2) = $3
ORDER BY 1`, postgres.QuoteIdentifier(table), len(prefix), prefix)
}

func DropQuery(table, name string) *query.Query {
	return query.New(fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s",
		postgres.QuoteIdentifier(table),
		postgres.QuoteIdentifier(name),
	))
}

// Find returns the name of an index enforcing uniqueness over exactly the key, if there is one.
func (m *Manager) Find(ctx context.Context, q postgres.Querier, table string, key []string) (string, bool, error) {
	rows, err := postgres.Select(ctx, q, FindQuery(table, key))
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to look up unique indexes on '%s'", table)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", false, nil
	}

	name, _ := rows[0][0].(string)
	return name, true, nil
}

// Ensure makes sure a uniqueness constraint over the key exists. Running it again is a no-op.
func (m *Manager) Ensure(ctx context.Context, q postgres.Querier, table string, key []string) (Outcome, error) {
	if len(key) == 0 {
		return AlreadyPresent, errors.Errorf("no key columns given for '%s'", table)
	}

	existing, found, err := m.Find(ctx, q, table, key)
	if err != nil {
		return AlreadyPresent, err
	}
	if found {
		m.logger.Debugw("unique constraint already present", "table", table, "index", existing)
		return AlreadyPresent, nil
	}

	// nothing covers the key, so a constraint created here before was made for a different key
	stale, err := postgres.Select(ctx, q, OwnedQuery(table))
	if err != nil {
		return AlreadyPresent, errors.Wrapf(err, "failed to look up existing constraints on '%s'", table)
	}

	outcome := Created
	for _, row := range stale {
		name, _ := row[0].(string)
		if _, err := q.Exec(ctx, DropQuery(table, name).String()); err != nil {
			return AlreadyPresent, errors.Wrapf(err, "failed to drop the outdated constraint '%s' on '%s'", name, table)
		}
		m.logger.Warnw("dropped unique constraint over an outdated key", "table", table, "constraint", name)
		outcome = Replaced
	}

	add := AddQuery(table, key)
	if _, err := q.Exec(ctx, add.String()); err != nil {
		if postgres.IsUniqueViolation(err) {
			return AlreadyPresent, errors.Wrapf(ErrLeftoverDuplicates, "'%s' (%s)", table, strings.Join(key, ", "))
		}
		return AlreadyPresent, errors.Wrapf(err, "failed to add the unique constraint on '%s'", table)
	}

	m.logger.Infow("created unique constraint", "table", table, "constraint", Name(table, key), "key", key)
	return outcome, nil
}

package helpers

import (
	"strconv"

	"github.com/pkg/errors"
)

// CastResultToInteger expects a single-cell result, e.g. from a `SELECT count(*)` query, and converts it to int64.
func CastResultToInteger(res [][]interface{}) (int64, error) {
	if len(res) != 1 || len(res[0]) != 1 {
		return 0, errors.Errorf("expected a single value from the query, got: %v", res)
	}

	switch v := res[0][0].(type) {
	case nil:
		return 0, errors.New("unexpected result from query, result is nil")
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		atoi, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return atoi, nil
		}

		floatValue, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return int64(floatValue), nil
		}

		return 0, errors.Errorf("cannot cast result string to integer: %s", v)
	}

	return 0, errors.Errorf("cannot cast result to integer, unsupported type %T", res[0][0])
}

// Pluralize picks the singular or plural form of a noun for console output.
func Pluralize(count int64, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

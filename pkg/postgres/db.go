package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/vigyanshaala/kalpana/pkg/query"
)

// Querier is the statement surface shared by the pool and an open transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Pool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type Client struct {
	connection Pool
	config     Config
}

func NewClient(ctx context.Context, c Config) (*Client, error) {
	conn, err := pgxpool.New(ctx, c.ToDBConnectionURI())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the connection pool")
	}

	return &Client{connection: conn, config: c}, nil
}

func NewClientWithPool(pool Pool) *Client {
	return &Client{connection: pool}
}

func (c *Client) Close() {
	c.connection.Close()
}

func (c *Client) Querier() Querier {
	return c.connection
}

func (c *Client) RunQueryWithoutResult(ctx context.Context, q *query.Query) error {
	_, err := c.connection.Exec(ctx, q.String(), q.Args...)
	if err != nil {
		return err
	}

	return nil
}

// Select runs a query and returns the results.
func (c *Client) Select(ctx context.Context, q *query.Query) ([][]interface{}, error) {
	return Select(ctx, c.connection, q)
}

func (c *Client) SelectWithSchema(ctx context.Context, q *query.Query) (*query.QueryResult, error) {
	return SelectWithSchema(ctx, c.connection, q)
}

// Ping runs a simple query (SELECT 1) to validate the connection.
func (c *Client) Ping(ctx context.Context) error {
	err := c.RunQueryWithoutResult(ctx, query.New("SELECT 1"))
	if err != nil {
		return errors.Wrap(err, "failed to run test query on Postgres connection")
	}

	return nil
}

// Explain asks the planner to validate the statement without executing it.
func (c *Client) Explain(ctx context.Context, q *query.Query) error {
	rows, err := c.connection.Query(ctx, q.ToExplainQuery(), q.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() { //nolint:revive
	}

	return rows.Err()
}

// WithTx runs fn inside a transaction that is committed when fn succeeds and rolled back otherwise.
func (c *Client) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return c.runTx(ctx, true, fn)
}

// WithRollback runs fn inside a transaction that is always rolled back, used for dry runs.
func (c *Client) WithRollback(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return c.runTx(ctx, false, fn)
}

func (c *Client) runTx(ctx context.Context, commit bool, fn func(tx pgx.Tx) error) (err error) {
	tx, err := c.connection.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		// the original context may already be cancelled, the rollback still has to reach the server
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Wrapf(err, "rollback also failed: %v", rbErr)
		}
		return err
	}

	if !commit {
		if err := tx.Rollback(ctx); err != nil {
			return errors.Wrap(err, "failed to roll back transaction")
		}
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	return nil
}

// Select runs a query on any Querier and returns the raw row values.
func Select(ctx context.Context, q Querier, qry *query.Query) ([][]interface{}, error) {
	rows, err := q.Query(ctx, qry.String(), qry.Args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	collectedRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]interface{}, error) {
		return row.Values()
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect row values")
	}

	if len(collectedRows) == 0 {
		return make([][]interface{}, 0), nil
	}

	return collectedRows, nil
}

func SelectWithSchema(ctx context.Context, q Querier, qry *query.Query) (*query.QueryResult, error) {
	rows, err := q.Query(ctx, qry.String(), qry.Args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute query")
	}
	defer rows.Close()

	fieldDescriptions := rows.FieldDescriptions()
	if fieldDescriptions == nil {
		return nil, errors.New("field descriptions are not available")
	}

	columns := make([]string, len(fieldDescriptions))
	for i, field := range fieldDescriptions {
		columns[i] = field.Name
	}

	collectedRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]interface{}, error) {
		return row.Values()
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect row values")
	}

	return &query.QueryResult{
		Columns: columns,
		Rows:    collectedRows,
	}, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dncproxy/internal/actionlog/models"
)

var tracer = otel.Tracer("dncproxy/actionlog")

// PostgresStore persists the action log in PostgreSQL. IDs come from a
// BIGSERIAL so they increase monotonically with insert order.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open action log db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping action log db: %w", describe(err))
	}
	return db, nil
}

// EnsureSchema creates the action_log table and indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply action log schema: %w", describe(err))
	}
	return nil
}

// Append inserts record and returns its assigned ID. The insert is
// committed before Append returns.
func (s *PostgresStore) Append(ctx context.Context, record *models.ActionRecord) (int64, error) {
	ctx, span := tracer.Start(ctx, "actionlog.Append")
	defer span.End()
	span.SetAttributes(attribute.String("action.result", string(record.Result)))

	if err := record.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid record")
		return 0, err
	}

	query := `
		INSERT INTO action_log (timestamp, email, source_origin, source_ip, result, contact_id, error_detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		record.Timestamp.UTC(),
		pgText(record.Email),
		pgText(record.SourceOrigin),
		pgText(record.SourceIP),
		string(record.Result),
		nullString(record.ContactID),
		nullString(record.ErrorDetail),
	).Scan(&id)
	if err != nil {
		err = describe(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return 0, fmt.Errorf("insert action record: %w", err)
	}
	span.SetAttributes(attribute.Int64("action.id", id))
	return id, nil
}

// Query returns matching records newest first plus the total number of
// matches. Count and page are read from one snapshot so contiguous pages
// neither skip nor repeat rows.
func (s *PostgresStore) Query(ctx context.Context, filter models.Filter, page models.Page) ([]models.ActionRecord, int, error) {
	if err := page.Validate(); err != nil {
		return nil, 0, err
	}
	ctx, span := tracer.Start(ctx, "actionlog.Query")
	defer span.End()

	where, args := buildWhere(filter)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("begin action log query: %w", describe(err))
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM action_log"+where, args...).Scan(&total); err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("count action records: %w", describe(err))
	}

	n := len(args)
	query := `SELECT id, timestamp, email, source_origin, source_ip, result, contact_id, error_detail FROM action_log` +
		where + ` ORDER BY id DESC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)
	rows, err := tx.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("query action records: %w", describe(err))
	}
	defer rows.Close()

	records := make([]models.ActionRecord, 0, page.Limit)
	for rows.Next() {
		var (
			r           models.ActionRecord
			result      string
			contactID   sql.NullString
			errorDetail sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Email, &r.SourceOrigin, &r.SourceIP, &result, &contactID, &errorDetail); err != nil {
			return nil, 0, fmt.Errorf("scan action record: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.Result = models.Result(result)
		r.ContactID = stringPtr(contactID)
		r.ErrorDetail = stringPtr(errorDetail)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate action records: %w", describe(err))
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit action log query: %w", describe(err))
	}

	span.SetAttributes(attribute.Int("action.total", total), attribute.Int("action.returned", len(records)))
	return records, total, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func buildWhere(filter models.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Email != "" {
		args = append(args, filter.Email)
		clauses = append(clauses, "lower(email) = lower($"+strconv.Itoa(len(args))+")")
	}
	if filter.Result != "" {
		args = append(args, string(filter.Result))
		clauses = append(clauses, "result = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// describe adds the SQLSTATE to server-side errors so operators can tell a
// missing table from a constraint violation in the logs.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("sqlstate %s: %w", pgErr.Code, err)
	}
	return err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: pgText(*s), Valid: true}
}

// pgText drops what a TEXT column rejects (SQLSTATE 22021): invalid UTF-8
// becomes U+FFFD and NUL bytes are removed.
func pgText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

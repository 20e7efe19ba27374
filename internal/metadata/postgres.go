package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/postgres"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Postgres reads rows from a table shaped like questions(site, id,
// answer_count, link).
type Postgres struct {
	client *postgres.Client
	table  string
	logger *slog.Logger
}

func NewPostgres(client *postgres.Client, table string) (*Postgres, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: metadata table name %q", apperrors.ErrInvalidInput, table)
	}
	return &Postgres{
		client: client,
		table:  table,
		logger: slog.Default().With("component", "metadata-store", "table", table),
	}, nil
}

// Lookup issues a single query for all ids. The id column is compared as
// text so numeric and string keys behave the same.
func (p *Postgres) Lookup(ctx context.Context, site string, ids []string) ([]Row, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := lookupQuery(p.table, site, ids)

	var out []Row
	err := p.client.ReadOnly(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r Row
			var answers sql.NullInt64
			var link sql.NullString
			if err := rows.Scan(&r.ID, &answers, &link); err != nil {
				return fmt.Errorf("scanning metadata row: %w", err)
			}
			r.EngagementCount = int(answers.Int64)
			r.Link = link.String
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("metadata lookup: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: metadata lookup: %v", apperrors.ErrBackendUnavailable, err)
	}
	p.logger.Debug("lookup done", "site", site, "requested", len(ids), "found", len(out))
	return out, nil
}

func lookupQuery(table, site string, ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, site)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}
	query := fmt.Sprintf(
		"SELECT id::text, answer_count, link FROM %s WHERE site = $1 AND id::text IN (%s)",
		table, strings.Join(placeholders, ", "),
	)
	return query, args
}

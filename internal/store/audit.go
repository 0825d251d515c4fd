package store

import (
	"context"
	"fmt"
)

// AuditRow is one row of command_audit.
type AuditRow struct {
	Seq       int64
	T         int64
	Cmd       string
	Args      string
	OK        bool
	MS        int64
	ErrorCode *string
}

// AppendAudit records one handled request, success or failure.
func (d *DB) AppendAudit(ctx context.Context, cmd, args string, ok bool, ms int64, errorCode *string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO command_audit (t, cmd, args, ok, ms, error_code)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		nowMS(), cmd, args, ok, ms, errorCode)
	if err != nil {
		return fmt.Errorf("append audit for %s: %w", cmd, err)
	}
	return nil
}

// CommandHistory returns the newest audited commands up to limit.
func (d *DB) CommandHistory(ctx context.Context, limit int) ([]AuditRow, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT seq, t, cmd, args, ok, ms, error_code
		 FROM command_audit ORDER BY seq DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("command history: %w", err)
	}
	defer rows.Close()

	var result []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.Seq, &r.T, &r.Cmd, &r.Args, &r.OK, &r.MS, &r.ErrorCode); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

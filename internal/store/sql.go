package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FundTracker/internal/model"
)

// dialect carries what differs between the SQL backends.
type dialect struct {
	name   string
	rebind func(string) string
	schema []string
}

func rebindQuestion(q string) string { return q }

// rebindDollar rewrites ? placeholders to $1, $2, ...
func rebindDollar(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store on database/sql for both SQLite and Postgres.
type SQLStore struct {
	db  *sql.DB
	d   dialect
	log zerolog.Logger
}

func newSQLStore(db *sql.DB, d dialect, log zerolog.Logger) *SQLStore {
	return &SQLStore{db: db, d: d, log: log}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) exec(ctx context.Context, e execer, q string, args ...any) (sql.Result, error) {
	return e.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *SQLStore) query(ctx context.Context, e execer, q string, args ...any) (*sql.Rows, error) {
	return e.QueryContext(ctx, s.d.rebind(q), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, e execer, q string, args ...any) *sql.Row {
	return e.QueryRowContext(ctx, s.d.rebind(q), args...)
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, e execer, q string, args ...any) (bool, error) {
	var one int
	err := s.queryRow(ctx, e, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Users

func (s *SQLStore) CreateUser(ctx context.Context, u model.User) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := s.exists(ctx, tx, `SELECT 1 FROM users WHERE id = ?`, u.ID)
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if found {
			return fmt.Errorf("user %s: %w", u.ID, ErrConflict)
		}
		if _, err := s.exec(ctx, tx, `INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`,
			u.ID, u.Name, formatTime(u.CreatedAt)); err != nil {
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.query(ctx, s.db, `SELECT id, name, created_at FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(s.queryRow(ctx, s.db, `SELECT id, name, created_at FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM history WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM funds WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("delete funds: %w", err)
		}
		res, err := s.exec(ctx, tx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return requireRow(res, "user "+id)
	})
}

// Holdings

const holdingColumns = `user_id, code, initial_cost, current_amount, last_settlement_date, created_at`

func (s *SQLStore) UpsertHolding(ctx context.Context, h model.Holding) (model.Holding, error) {
	if err := h.Validate(); err != nil {
		return model.Holding{}, err
	}
	var out model.Holding
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := s.exists(ctx, tx, `SELECT 1 FROM users WHERE id = ?`, h.UserID)
		if err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if !found {
			return fmt.Errorf("user %s: %w", h.UserID, ErrNotFound)
		}
		if _, err := s.exec(ctx, tx, `INSERT INTO funds (user_id, code, initial_cost, current_amount, last_settlement_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, code) DO UPDATE SET
				initial_cost = excluded.initial_cost,
				current_amount = excluded.current_amount,
				last_settlement_date = excluded.last_settlement_date`,
			h.UserID, h.Code, h.InitialCost, h.CurrentAmount, nullString(h.LastSettlementDate), formatTime(h.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert holding: %w", err)
		}
		out, err = s.getHolding(ctx, tx, h.UserID, h.Code)
		return err
	})
	return out, err
}

func (s *SQLStore) GetHoldings(ctx context.Context, userID string) ([]model.Holding, error) {
	return s.listHoldings(ctx, `SELECT `+holdingColumns+` FROM funds WHERE user_id = ? ORDER BY id ASC`, userID)
}

func (s *SQLStore) ListAllHoldings(ctx context.Context) ([]model.Holding, error) {
	return s.listHoldings(ctx, `SELECT `+holdingColumns+` FROM funds ORDER BY id ASC`)
}

func (s *SQLStore) listHoldings(ctx context.Context, q string, args ...any) ([]model.Holding, error) {
	rows, err := s.query(ctx, s.db, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	defer rows.Close()

	holdings := []model.Holding{}
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *SQLStore) GetHolding(ctx context.Context, userID, code string) (model.Holding, error) {
	return s.getHolding(ctx, s.db, userID, code)
}

func (s *SQLStore) getHolding(ctx context.Context, e execer, userID, code string) (model.Holding, error) {
	h, err := scanHolding(s.queryRow(ctx, e, `SELECT `+holdingColumns+` FROM funds WHERE user_id = ? AND code = ?`, userID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Holding{}, fmt.Errorf("holding %s/%s: %w", userID, code, ErrNotFound)
	}
	return h, err
}

func (s *SQLStore) UpdateHolding(ctx context.Context, userID, code string, p model.HoldingPatch) (model.Holding, error) {
	if err := p.Validate(); err != nil {
		return model.Holding{}, err
	}
	var out model.Holding
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.getHolding(ctx, tx, userID, code)
		if err != nil {
			return err
		}
		out = p.Apply(cur)
		_, err = s.exec(ctx, tx, `UPDATE funds SET initial_cost = ?, current_amount = ?, last_settlement_date = ? WHERE user_id = ? AND code = ?`,
			out.InitialCost, out.CurrentAmount, nullString(out.LastSettlementDate), userID, code)
		if err != nil {
			return fmt.Errorf("update holding: %w", err)
		}
		return nil
	})
	return out, err
}

func (s *SQLStore) SettleHolding(ctx context.Context, userID, code, date string, amount decimal.Decimal) (bool, error) {
	res, err := s.exec(ctx, s.db, `UPDATE funds SET current_amount = ?, last_settlement_date = ? WHERE user_id = ? AND code = ? AND (last_settlement_date IS NULL OR last_settlement_date <> ?)`,
		amount, date, userID, code, date)
	if err != nil {
		return false, fmt.Errorf("settle holding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle holding: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) DeleteHolding(ctx context.Context, userID, code string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `DELETE FROM history WHERE user_id = ? AND fund_code = ?`, userID, code); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		res, err := s.exec(ctx, tx, `DELETE FROM funds WHERE user_id = ? AND code = ?`, userID, code)
		if err != nil {
			return fmt.Errorf("delete holding: %w", err)
		}
		return requireRow(res, "holding "+userID+"/"+code)
	})
}

// History

func (s *SQLStore) AppendHistory(ctx context.Context, userID, code, date string, p model.HistoryPoint, limit int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := s.exists(ctx, tx, `SELECT 1 FROM funds WHERE user_id = ? AND code = ?`, userID, code)
		if err != nil {
			return fmt.Errorf("check holding: %w", err)
		}
		if !found {
			return fmt.Errorf("holding %s/%s: %w", userID, code, ErrNotFound)
		}
		if _, err := s.exec(ctx, tx, `INSERT INTO history (user_id, fund_code, date, time, value, change)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, fund_code, date, time) DO UPDATE SET value = excluded.value, change = excluded.change`,
			userID, code, date, p.Time, p.Value, p.Change,
		); err != nil {
			return fmt.Errorf("upsert history: %w", err)
		}
		if limit <= 0 {
			return nil
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM history WHERE user_id = ? AND fund_code = ? AND date = ? AND id NOT IN (SELECT id FROM history WHERE user_id = ? AND fund_code = ? AND date = ? ORDER BY id DESC LIMIT ?)`,
			userID, code, date, userID, code, date, limit,
		); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetHistory(ctx context.Context, userID, date string) (map[string][]model.HistoryPoint, error) {
	rows, err := s.query(ctx, s.db, `SELECT fund_code, time, value, change FROM history WHERE user_id = ? AND date = ? ORDER BY id ASC`, userID, date)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.HistoryPoint)
	for rows.Next() {
		var code string
		var p model.HistoryPoint
		if err := rows.Scan(&code, &p.Time, &p.Value, &p.Change); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out[code] = append(out[code], p)
	}
	return out, rows.Err()
}

func (s *SQLStore) ClearHistory(ctx context.Context, userID, date string) (int64, error) {
	var res sql.Result
	var err error
	if date == "" {
		res, err = s.exec(ctx, s.db, `DELETE FROM history WHERE user_id = ?`, userID)
	} else {
		res, err = s.exec(ctx, s.db, `DELETE FROM history WHERE user_id = ? AND date = ?`, userID, date)
	}
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) PurgeHistoryBefore(ctx context.Context, date string) (int64, error) {
	res, err := s.exec(ctx, s.db, `DELETE FROM history WHERE date < ?`, date)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	s.log.Info().Str("driver", s.d.name).Msg("closing store")
	return s.db.Close()
}

// helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (model.User, error) {
	var u model.User
	var created string
	if err := sc.Scan(&u.ID, &u.Name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, err
		}
		return u, fmt.Errorf("scan user: %w", err)
	}
	t, err := parseTime(created)
	if err != nil {
		return u, err
	}
	u.CreatedAt = t
	return u, nil
}

func scanHolding(sc scanner) (model.Holding, error) {
	var h model.Holding
	var last sql.NullString
	var created string
	if err := sc.Scan(&h.UserID, &h.Code, &h.InitialCost, &h.CurrentAmount, &last, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return h, err
		}
		return h, fmt.Errorf("scan holding: %w", err)
	}
	if last.Valid {
		d := last.String
		h.LastSettlementDate = &d
	}
	t, err := parseTime(created)
	if err != nil {
		return h, err
	}
	h.CreatedAt = t
	return h, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

// timestampLayout is fixed width so created_at sorts as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return s[:i]
	}
	return s
}

/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

SCHEMA HIGHLIGHTS:
  periods:  A partial unique index on (group_id) WHERE status='active'
            enforces at most one active period per group at the store,
            closing the check-then-act race under concurrent creators.
  meals:    UNIQUE(period_id, user_id, date, slot) - a meal-slot claim
            is binary per member per day.
  All ledger tables hang off periods with ON DELETE CASCADE, and
  periods hang off groups the same way, so deleting a group removes its
  entire ledger.

APPEND-ONLY ENFORCEMENT:
  transactions and transaction_history have no UPDATE or DELETE
  statements anywhere in this package. Corrections are new rows.

AMOUNTS:
  Stored as decimal strings, never floats.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better
  concurrency and crash recovery. Foreign keys are switched on in the
  DSN; SQLite defaults them off.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mealsphere/settlement-engine/engine"
	"github.com/shopspring/decimal"
)

// Store implements engine.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		private INTEGER NOT NULL DEFAULT 0,
		password_hash TEXT,
		max_members INTEGER NOT NULL DEFAULT 0,
		member_count INTEGER NOT NULL DEFAULT 0,
		period_mode TEXT NOT NULL DEFAULT 'monthly',
		created_by TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memberships (
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS periods (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		locked INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one active period per group, enforced by the
	-- store rather than an application-level existence check.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_periods_single_active
		ON periods(group_id) WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_periods_group
		ON periods(group_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS meals (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		slot TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (period_id, user_id, date, slot)
	);

	CREATE INDEX IF NOT EXISTS idx_meals_period
		ON meals(period_id);

	CREATE TABLE IF NOT EXISTS guest_meals (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		slot TEXT NOT NULL,
		count INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_guest_meals_period
		ON guest_meals(period_id);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_period
		ON expenses(period_id);

	-- Append-only: no UPDATE/DELETE statements exist for this table.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		created_by TEXT NOT NULL,
		target_user_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_period
		ON transactions(period_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_period_target
		ON transactions(period_id, target_user_id);

	-- Append-only audit log mirroring transaction mutations.
	CREATE TABLE IF NOT EXISTS transaction_history (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		target_user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		amount TEXT NOT NULL,
		changed_by TEXT NOT NULL,
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_period_target
		ON transaction_history(period_id, target_user_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		period_id TEXT NOT NULL REFERENCES periods(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_period
		ON payments(period_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, so the read/write
// helpers work inside and outside a store transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// GROUP STORE
// =============================================================================

func (s *Store) SaveGroup(ctx context.Context, g engine.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveGroup(ctx, s.db, g)
}

func saveGroup(ctx context.Context, db dbtx, g engine.Group) error {
	query := `
		INSERT INTO groups (id, name, private, password_hash, max_members, member_count, period_mode, created_by, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			private = excluded.private,
			password_hash = excluded.password_hash,
			max_members = excluded.max_members,
			member_count = excluded.member_count,
			period_mode = excluded.period_mode,
			active = excluded.active
	`
	createdAt := g.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, query,
		g.ID, g.Name, boolInt(g.Private), nullString(g.PasswordHash),
		g.MaxMembers, g.MemberCount, g.PeriodMode, g.CreatedBy,
		boolInt(g.Active), createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id engine.GroupID) (*engine.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getGroup(ctx, s.db, id)
}

func getGroup(ctx context.Context, db dbtx, id engine.GroupID) (*engine.Group, error) {
	var (
		g            engine.Group
		private      int
		passwordHash sql.NullString
		active       int
		createdAt    string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, private, password_hash, max_members, member_count, period_mode, created_by, active, created_at FROM groups WHERE id = ?",
		id,
	).Scan(&g.ID, &g.Name, &private, &passwordHash, &g.MaxMembers, &g.MemberCount, &g.PeriodMode, &g.CreatedBy, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	g.Private = private != 0
	g.PasswordHash = passwordHash.String
	g.Active = active != 0
	g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &g, nil
}

// DeleteGroup removes the group; foreign keys cascade to periods and
// every ledger table.
func (s *Store) DeleteGroup(ctx context.Context, id engine.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	return err
}

func (s *Store) ListGroups(ctx context.Context) ([]engine.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listGroups(ctx, s.db)
}

func listGroups(ctx context.Context, db dbtx) ([]engine.Group, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, private, password_hash, max_members, member_count, period_mode, created_by, active, created_at FROM groups WHERE active = 1 ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []engine.Group
	for rows.Next() {
		var (
			g            engine.Group
			private      int
			passwordHash sql.NullString
			active       int
			createdAt    string
		)
		if err := rows.Scan(&g.ID, &g.Name, &private, &passwordHash, &g.MaxMembers, &g.MemberCount, &g.PeriodMode, &g.CreatedBy, &active, &createdAt); err != nil {
			return nil, err
		}
		g.Private = private != 0
		g.PasswordHash = passwordHash.String
		g.Active = active != 0
		g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) SaveMembership(ctx context.Context, m engine.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveMembership(ctx, s.db, m)
}

func saveMembership(ctx context.Context, db dbtx, m engine.Membership) error {
	query := `
		INSERT INTO memberships (group_id, user_id, role, active, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, user_id) DO UPDATE SET
			role = excluded.role,
			active = excluded.active
	`
	joinedAt := m.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, query,
		m.GroupID, m.UserID, m.Role, boolInt(m.Active), joinedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

func (s *Store) GetMembership(ctx context.Context, groupID engine.GroupID, userID engine.UserID) (*engine.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getMembership(ctx, s.db, groupID, userID)
}

func getMembership(ctx context.Context, db dbtx, groupID engine.GroupID, userID engine.UserID) (*engine.Membership, error) {
	var (
		m        engine.Membership
		active   int
		joinedAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT group_id, user_id, role, active, joined_at FROM memberships WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	).Scan(&m.GroupID, &m.UserID, &m.Role, &active, &joinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Active = active != 0
	m.JoinedAt, _ = time.Parse(time.RFC3339, joinedAt)
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, groupID engine.GroupID) ([]engine.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMembers(ctx, s.db, groupID)
}

func listMembers(ctx context.Context, db dbtx, groupID engine.GroupID) ([]engine.Membership, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT group_id, user_id, role, active, joined_at FROM memberships WHERE group_id = ? AND active = 1 ORDER BY user_id",
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []engine.Membership
	for rows.Next() {
		var (
			m        engine.Membership
			active   int
			joinedAt string
		)
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &active, &joinedAt); err != nil {
			return nil, err
		}
		m.Active = active != 0
		m.JoinedAt, _ = time.Parse(time.RFC3339, joinedAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// PERIOD STORE
// =============================================================================

const periodColumns = "id, group_id, name, start_date, end_date, status, locked, created_by, created_at"

func (s *Store) CreatePeriod(ctx context.Context, p engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createPeriod(ctx, s.db, p)
}

func createPeriod(ctx context.Context, db dbtx, p engine.Period) error {
	query := `
		INSERT INTO periods (id, group_id, name, start_date, end_date, status, locked, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		p.ID, p.GroupID, p.Name,
		p.Start.String(), nullDate(p.End),
		p.Status, boolInt(p.Locked), p.CreatedBy,
		timeOrNow(p.CreatedAt),
	)
	if err != nil {
		if isSingleActiveViolation(err) {
			return engine.ErrActivePeriodExists
		}
		return fmt.Errorf("failed to create period: %w", err)
	}
	return nil
}

func (s *Store) GetPeriod(ctx context.Context, id engine.PeriodID) (*engine.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPeriod(ctx, s.db,
		"SELECT "+periodColumns+" FROM periods WHERE id = ?", id)
}

func (s *Store) UpdatePeriod(ctx context.Context, p engine.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updatePeriod(ctx, s.db, p)
}

func updatePeriod(ctx context.Context, db dbtx, p engine.Period) error {
	res, err := db.ExecContext(ctx,
		"UPDATE periods SET name = ?, start_date = ?, end_date = ?, status = ?, locked = ? WHERE id = ?",
		p.Name, p.Start.String(), nullDate(p.End), p.Status, boolInt(p.Locked), p.ID,
	)
	if err != nil {
		if isSingleActiveViolation(err) {
			return engine.ErrActivePeriodExists
		}
		return fmt.Errorf("failed to update period: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return engine.ErrPeriodNotFound
	}
	return nil
}

func (s *Store) ListPeriods(ctx context.Context, groupID engine.GroupID) ([]engine.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPeriods(ctx, s.db, groupID)
}

func listPeriods(ctx context.Context, db dbtx, groupID engine.GroupID) ([]engine.Period, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+periodColumns+" FROM periods WHERE group_id = ? ORDER BY created_at DESC, id DESC",
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var periods []engine.Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (s *Store) ActivePeriod(ctx context.Context, groupID engine.GroupID) (*engine.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPeriod(ctx, s.db,
		"SELECT "+periodColumns+" FROM periods WHERE group_id = ? AND status = 'active'", groupID)
}

// queryPeriod returns nil, nil when no row matches.
func queryPeriod(ctx context.Context, db dbtx, query string, args ...any) (*engine.Period, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	p, err := scanPeriod(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPeriod(rows *sql.Rows) (engine.Period, error) {
	var (
		p         engine.Period
		startDate string
		endDate   sql.NullString
		locked    int
		createdAt string
	)
	err := rows.Scan(&p.ID, &p.GroupID, &p.Name, &startDate, &endDate, &p.Status, &locked, &p.CreatedBy, &createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan period: %w", err)
	}
	p.Start, _ = engine.ParseDate(startDate)
	if endDate.Valid {
		d, _ := engine.ParseDate(endDate.String)
		p.End = &d
	}
	p.Locked = locked != 0
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return p, nil
}

// =============================================================================
// LEDGER STORE - WRITES
// =============================================================================

func (s *Store) AddMeal(ctx context.Context, m engine.Meal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addMeal(ctx, s.db, m)
}

func addMeal(ctx context.Context, db dbtx, m engine.Meal) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO meals (id, group_id, period_id, user_id, date, slot, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.GroupID, m.PeriodID, m.UserID, m.Date.String(), m.Slot, timeOrNow(m.CreatedAt),
	)
	if err != nil {
		if isDuplicateMealViolation(err) {
			return engine.ErrDuplicateMeal
		}
		return fmt.Errorf("failed to add meal: %w", err)
	}
	return nil
}

func (s *Store) AddGuestMeal(ctx context.Context, gm engine.GuestMeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addGuestMeal(ctx, s.db, gm)
}

func addGuestMeal(ctx context.Context, db dbtx, gm engine.GuestMeal) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO guest_meals (id, group_id, period_id, user_id, date, slot, count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		gm.ID, gm.GroupID, gm.PeriodID, gm.UserID, gm.Date.String(), gm.Slot, gm.Count, timeOrNow(gm.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add guest meal: %w", err)
	}
	return nil
}

func (s *Store) AddExpense(ctx context.Context, e engine.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addExpense(ctx, s.db, e)
}

func addExpense(ctx context.Context, db dbtx, e engine.Expense) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO expenses (id, group_id, period_id, user_id, kind, amount, date, description, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.GroupID, e.PeriodID, e.UserID, e.Kind, e.Amount.String(), e.Date.String(), nullString(e.Description), timeOrNow(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add expense: %w", err)
	}
	return nil
}

func (s *Store) AppendTransaction(ctx context.Context, tx engine.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendTransaction(ctx, s.db, tx)
}

func appendTransaction(ctx context.Context, db dbtx, tx engine.Transaction) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO transactions (id, group_id, period_id, created_by, target_user_id, tx_type, amount, date, note, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		tx.ID, tx.GroupID, tx.PeriodID, tx.CreatedBy, tx.TargetUserID, tx.Type,
		tx.Amount.String(), tx.Date.String(), nullString(tx.Note), timeOrNow(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) AppendHistory(ctx context.Context, h engine.TransactionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendHistory(ctx, s.db, h)
}

func appendHistory(ctx context.Context, db dbtx, h engine.TransactionHistory) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO transaction_history (id, transaction_id, group_id, period_id, target_user_id, action, amount, changed_by, changed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		h.ID, h.TransactionID, h.GroupID, h.PeriodID, h.TargetUserID, h.Action,
		h.Amount.String(), h.ChangedBy, timeOrNow(h.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (s *Store) SavePayment(ctx context.Context, p engine.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, db dbtx, p engine.Payment) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO payments (id, group_id, period_id, user_id, method, status, amount, date, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.GroupID, p.PeriodID, p.UserID, p.Method, p.Status,
		p.Amount.String(), p.Date.String(), timeOrNow(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// =============================================================================
// LEDGER STORE - BATCHED READS
// =============================================================================

const txColumns = "id, group_id, period_id, created_by, target_user_id, tx_type, amount, date, note, created_at"

func (s *Store) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db dbtx, id engine.TransactionID) (*engine.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	tx, err := scanTransaction(rows)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) MealsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mealsInPeriod(ctx, s.db, periodID)
}

func mealsInPeriod(ctx context.Context, db dbtx, periodID engine.PeriodID) ([]engine.Meal, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, group_id, period_id, user_id, date, slot, created_at FROM meals WHERE period_id = ? ORDER BY date, user_id",
		periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var meals []engine.Meal
	for rows.Next() {
		var (
			m         engine.Meal
			date      string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &m.PeriodID, &m.UserID, &date, &m.Slot, &createdAt); err != nil {
			return nil, err
		}
		m.Date, _ = engine.ParseDate(date)
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		meals = append(meals, m)
	}
	return meals, rows.Err()
}

func (s *Store) GuestMealsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.GuestMeal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return guestMealsInPeriod(ctx, s.db, periodID)
}

func guestMealsInPeriod(ctx context.Context, db dbtx, periodID engine.PeriodID) ([]engine.GuestMeal, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, group_id, period_id, user_id, date, slot, count, created_at FROM guest_meals WHERE period_id = ? ORDER BY date, user_id",
		periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guestMeals []engine.GuestMeal
	for rows.Next() {
		var (
			gm        engine.GuestMeal
			date      string
			createdAt string
		)
		if err := rows.Scan(&gm.ID, &gm.GroupID, &gm.PeriodID, &gm.UserID, &date, &gm.Slot, &gm.Count, &createdAt); err != nil {
			return nil, err
		}
		gm.Date, _ = engine.ParseDate(date)
		gm.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		guestMeals = append(guestMeals, gm)
	}
	return guestMeals, rows.Err()
}

func (s *Store) ExpensesInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expensesInPeriod(ctx, s.db, periodID)
}

func expensesInPeriod(ctx context.Context, db dbtx, periodID engine.PeriodID) ([]engine.Expense, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, group_id, period_id, user_id, kind, amount, date, description, created_at FROM expenses WHERE period_id = ? ORDER BY date",
		periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expenses []engine.Expense
	for rows.Next() {
		var (
			e           engine.Expense
			amount      string
			date        string
			description sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.GroupID, &e.PeriodID, &e.UserID, &e.Kind, &amount, &date, &description, &createdAt); err != nil {
			return nil, err
		}
		e.Amount = parseAmount(amount)
		e.Date, _ = engine.ParseDate(date)
		e.Description = description.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (s *Store) TransactionsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionsInPeriod(ctx, s.db, periodID)
}

func transactionsInPeriod(ctx context.Context, db dbtx, periodID engine.PeriodID) ([]engine.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE period_id = ? ORDER BY created_at, id",
		periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []engine.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (engine.Transaction, error) {
	var (
		tx        engine.Transaction
		amount    string
		date      string
		note      sql.NullString
		createdAt string
	)
	err := rows.Scan(&tx.ID, &tx.GroupID, &tx.PeriodID, &tx.CreatedBy, &tx.TargetUserID, &tx.Type, &amount, &date, &note, &createdAt)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Amount = parseAmount(amount)
	tx.Date, _ = engine.ParseDate(date)
	tx.Note = note.String
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

func (s *Store) PaymentsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paymentsInPeriod(ctx, s.db, periodID)
}

func paymentsInPeriod(ctx context.Context, db dbtx, periodID engine.PeriodID) ([]engine.Payment, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, group_id, period_id, user_id, method, status, amount, date, created_at FROM payments WHERE period_id = ? ORDER BY date",
		periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []engine.Payment
	for rows.Next() {
		var (
			p         engine.Payment
			amount    string
			date      string
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.GroupID, &p.PeriodID, &p.UserID, &p.Method, &p.Status, &amount, &date, &createdAt); err != nil {
			return nil, err
		}
		p.Amount = parseAmount(amount)
		p.Date, _ = engine.ParseDate(date)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) HistoryForUser(ctx context.Context, periodID engine.PeriodID, userID engine.UserID) ([]engine.TransactionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return historyForUser(ctx, s.db, periodID, userID)
}

func historyForUser(ctx context.Context, db dbtx, periodID engine.PeriodID, userID engine.UserID) ([]engine.TransactionHistory, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, transaction_id, group_id, period_id, target_user_id, action, amount, changed_by, changed_at FROM transaction_history WHERE period_id = ? AND target_user_id = ? ORDER BY changed_at, id",
		periodID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []engine.TransactionHistory
	for rows.Next() {
		var (
			h         engine.TransactionHistory
			amount    string
			changedAt string
		)
		if err := rows.Scan(&h.ID, &h.TransactionID, &h.GroupID, &h.PeriodID, &h.TargetUserID, &h.Action, &amount, &h.ChangedBy, &changedAt); err != nil {
			return nil, err
		}
		h.Amount = parseAmount(amount)
		h.ChangedAt, _ = time.Parse(time.RFC3339, changedAt)
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn inside a database transaction. The store passed
// to fn routes every operation through the open *sql.Tx, so writes
// made by fn are visible to its own subsequent reads and roll back as
// a unit on error.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore is the view of Store handed to WithTx callbacks. Every
// method delegates to the package-level helpers with the *sql.Tx
// handle. No mutex: the parent already holds the write lock.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveGroup(ctx context.Context, g engine.Group) error {
	return saveGroup(ctx, ts.tx, g)
}
func (ts *txStore) GetGroup(ctx context.Context, id engine.GroupID) (*engine.Group, error) {
	return getGroup(ctx, ts.tx, id)
}
func (ts *txStore) DeleteGroup(ctx context.Context, id engine.GroupID) error {
	_, err := ts.tx.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", id)
	return err
}
func (ts *txStore) ListGroups(ctx context.Context) ([]engine.Group, error) {
	return listGroups(ctx, ts.tx)
}
func (ts *txStore) SaveMembership(ctx context.Context, m engine.Membership) error {
	return saveMembership(ctx, ts.tx, m)
}
func (ts *txStore) GetMembership(ctx context.Context, groupID engine.GroupID, userID engine.UserID) (*engine.Membership, error) {
	return getMembership(ctx, ts.tx, groupID, userID)
}
func (ts *txStore) ListMembers(ctx context.Context, groupID engine.GroupID) ([]engine.Membership, error) {
	return listMembers(ctx, ts.tx, groupID)
}
func (ts *txStore) CreatePeriod(ctx context.Context, p engine.Period) error {
	return createPeriod(ctx, ts.tx, p)
}
func (ts *txStore) GetPeriod(ctx context.Context, id engine.PeriodID) (*engine.Period, error) {
	return queryPeriod(ctx, ts.tx, "SELECT "+periodColumns+" FROM periods WHERE id = ?", id)
}
func (ts *txStore) UpdatePeriod(ctx context.Context, p engine.Period) error {
	return updatePeriod(ctx, ts.tx, p)
}
func (ts *txStore) ListPeriods(ctx context.Context, groupID engine.GroupID) ([]engine.Period, error) {
	return listPeriods(ctx, ts.tx, groupID)
}
func (ts *txStore) ActivePeriod(ctx context.Context, groupID engine.GroupID) (*engine.Period, error) {
	return queryPeriod(ctx, ts.tx,
		"SELECT "+periodColumns+" FROM periods WHERE group_id = ? AND status = 'active'", groupID)
}
func (ts *txStore) AddMeal(ctx context.Context, m engine.Meal) error {
	return addMeal(ctx, ts.tx, m)
}
func (ts *txStore) AddGuestMeal(ctx context.Context, gm engine.GuestMeal) error {
	return addGuestMeal(ctx, ts.tx, gm)
}
func (ts *txStore) AddExpense(ctx context.Context, e engine.Expense) error {
	return addExpense(ctx, ts.tx, e)
}
func (ts *txStore) AppendTransaction(ctx context.Context, tx engine.Transaction) error {
	return appendTransaction(ctx, ts.tx, tx)
}
func (ts *txStore) AppendHistory(ctx context.Context, h engine.TransactionHistory) error {
	return appendHistory(ctx, ts.tx, h)
}
func (ts *txStore) SavePayment(ctx context.Context, p engine.Payment) error {
	return savePayment(ctx, ts.tx, p)
}
func (ts *txStore) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}
func (ts *txStore) MealsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Meal, error) {
	return mealsInPeriod(ctx, ts.tx, periodID)
}
func (ts *txStore) GuestMealsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.GuestMeal, error) {
	return guestMealsInPeriod(ctx, ts.tx, periodID)
}
func (ts *txStore) ExpensesInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Expense, error) {
	return expensesInPeriod(ctx, ts.tx, periodID)
}
func (ts *txStore) TransactionsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Transaction, error) {
	return transactionsInPeriod(ctx, ts.tx, periodID)
}
func (ts *txStore) PaymentsInPeriod(ctx context.Context, periodID engine.PeriodID) ([]engine.Payment, error) {
	return paymentsInPeriod(ctx, ts.tx, periodID)
}
func (ts *txStore) HistoryForUser(ctx context.Context, periodID engine.PeriodID, userID engine.UserID) ([]engine.TransactionHistory, error) {
	return historyForUser(ctx, ts.tx, periodID, userID)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *engine.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseAmount(s string) engine.Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return engine.ZeroAmount()
	}
	return engine.Amount{Value: d}
}

// isSingleActiveViolation detects the partial unique index violation
// without a driver-specific error type, same trick PostgreSQL code
// uses with pq error codes.
func isSingleActiveViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "idx_periods_single_active") ||
		(strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "periods.group_id"))
}

// isDuplicateMealViolation detects the meals table's
// UNIQUE(period_id, user_id, date, slot) violation.
func isDuplicateMealViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "meals.")
}

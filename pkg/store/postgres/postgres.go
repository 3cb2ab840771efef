// Package postgres is a pgx-backed implementation of store.Store for
// multi-instance control-plane deployments sharing one database (§6).
package postgres

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/agentimmune/control-plane/pkg/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection and pool settings for the postgres store.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// RunID scopes every read/write so multiple control-plane instances
	// can share this database without cross-contamination.
	RunID string
}

// Validate checks the configuration for obvious misconfiguration.
func (c Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("postgres: password is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("postgres: max idle conns (%d) cannot exceed max open conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("postgres: max open conns must be at least 1")
	}
	if c.RunID == "" {
		return fmt.Errorf("postgres: run id is required")
	}
	return nil
}

// Store is a pgx/database-sql-backed store.Store implementation.
type Store struct {
	db    *stdsql.DB
	runID string
}

// NewClient opens a pooled connection, applies embedded migrations and
// returns a ready-to-use Store.
func NewClient(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &Store{db: db, runID: cfg.RunID}, nil
}

// NewClientFromDB wraps an already-open, already-migrated connection
// (used by integration tests against a testcontainers instance).
func NewClientFromDB(db *stdsql.DB, runID string) *Store {
	return &Store{db: db, runID: runID}
}

func runMigrations(db *stdsql.DB, database string) error {
	if _, err := fs.ReadDir(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("embedded migrations missing: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return sourceDriver.Close()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB, for components that need to share this
// store's connection pool directly (events.EventPublisher's transactional
// persist-then-notify, events.StoreCatchupAdapter's catchup queries).
func (s *Store) DB() *stdsql.DB { return s.db }

func (s *Store) WriteVitals(ctx context.Context, v store.VitalsRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vitals (run_id, agent_id, agent_type, ts, latency_ms, total_tokens, input_tokens,
			output_tokens, tool_calls, retry_count, success, cost, model, error_category, prompt_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		s.runID, v.AgentID, v.AgentType, v.Timestamp, v.LatencyMS, v.TotalTokens, v.InputTokens,
		v.OutputTokens, v.ToolCalls, v.RetryCount, v.Success, v.Cost, v.Model, v.ErrorCategory, v.PromptHash)
	return err
}

func scanVitals(rows *stdsql.Rows) ([]store.VitalsRecord, error) {
	defer rows.Close()
	var out []store.VitalsRecord
	for rows.Next() {
		var v store.VitalsRecord
		if err := rows.Scan(&v.AgentID, &v.AgentType, &v.Timestamp, &v.LatencyMS, &v.TotalTokens,
			&v.InputTokens, &v.OutputTokens, &v.ToolCalls, &v.RetryCount, &v.Success, &v.Cost,
			&v.Model, &v.ErrorCategory, &v.PromptHash); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const vitalsColumns = `agent_id, agent_type, ts, latency_ms, total_tokens, input_tokens, output_tokens,
	tool_calls, retry_count, success, cost, model, error_category, prompt_hash`

func (s *Store) RecentVitals(ctx context.Context, agentID string, window time.Duration) ([]store.VitalsRecord, error) {
	cutoff := time.Now().Add(-window)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vitalsColumns+` FROM vitals WHERE run_id=$1 AND agent_id=$2 AND ts > $3 ORDER BY ts ASC`,
		s.runID, agentID, cutoff)
	if err != nil {
		return nil, err
	}
	return scanVitals(rows)
}

func (s *Store) AllVitals(ctx context.Context, agentID string) ([]store.VitalsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+vitalsColumns+` FROM vitals WHERE run_id=$1 AND agent_id=$2 ORDER BY ts ASC`,
		s.runID, agentID)
	if err != nil {
		return nil, err
	}
	return scanVitals(rows)
}

func (s *Store) LatestVitals(ctx context.Context, agentID string) (*store.VitalsRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+vitalsColumns+` FROM vitals WHERE run_id=$1 AND agent_id=$2 ORDER BY ts DESC LIMIT 1`,
		s.runID, agentID)
	var v store.VitalsRecord
	err := row.Scan(&v.AgentID, &v.AgentType, &v.Timestamp, &v.LatencyMS, &v.TotalTokens,
		&v.InputTokens, &v.OutputTokens, &v.ToolCalls, &v.RetryCount, &v.Success, &v.Cost,
		&v.Model, &v.ErrorCategory, &v.PromptHash)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) ExecutionCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vitals WHERE run_id=$1 AND agent_id=$2`, s.runID, agentID).Scan(&n)
	return n, err
}

func (s *Store) TotalExecutions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vitals WHERE run_id=$1`, s.runID).Scan(&n)
	return n, err
}

func (s *Store) WriteBaseline(ctx context.Context, snap store.BaselineSnapshot) error {
	means, err := json.Marshal(snap.Means)
	if err != nil {
		return err
	}
	variances, err := json.Marshal(snap.Variances)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO baselines (run_id, agent_id, sample_count, means, variances, dominant_prompt, saved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (run_id, agent_id) DO UPDATE SET
			sample_count=EXCLUDED.sample_count, means=EXCLUDED.means, variances=EXCLUDED.variances,
			dominant_prompt=EXCLUDED.dominant_prompt, saved_at=EXCLUDED.saved_at`,
		s.runID, snap.AgentID, snap.SampleCount, means, variances, snap.DominantPrompt, snap.SavedAt)
	return err
}

func (s *Store) GetBaseline(ctx context.Context, agentID string) (*store.BaselineSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, sample_count, means, variances, dominant_prompt, saved_at
		 FROM baselines WHERE run_id=$1 AND agent_id=$2`, s.runID, agentID)
	var snap store.BaselineSnapshot
	var means, variances []byte
	err := row.Scan(&snap.AgentID, &snap.SampleCount, &means, &variances, &snap.DominantPrompt, &snap.SavedAt)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(means, &snap.Means); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variances, &snap.Variances); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) CountBaselines(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM baselines WHERE run_id=$1`, s.runID).Scan(&n)
	return n, err
}

func (s *Store) WriteInfectionEvent(ctx context.Context, ev store.InfectionEvent) error {
	kinds := ev.Kinds
	if kinds == nil {
		kinds = []string{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO infection_events (run_id, agent_id, kinds, max_deviation, ts) VALUES ($1,$2,$3,$4,$5)`,
		s.runID, ev.AgentID, kinds, ev.MaxDeviation, ev.Timestamp)
	return err
}

func (s *Store) WriteQuarantineEvent(ctx context.Context, ev store.QuarantineEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quarantine_events (run_id, agent_id, reason, ts) VALUES ($1,$2,$3,$4)`,
		s.runID, ev.AgentID, ev.Reason, ev.Timestamp)
	return err
}

func (s *Store) WriteApprovalEvent(ctx context.Context, ev store.ApprovalEvent) error {
	kinds := ev.InfectionKinds
	if kinds == nil {
		kinds = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (run_id, agent_id, decision, infection_kinds, max_deviation, diagnosis_kind, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (run_id, agent_id) DO UPDATE SET
			decision=EXCLUDED.decision, infection_kinds=EXCLUDED.infection_kinds,
			max_deviation=EXCLUDED.max_deviation, diagnosis_kind=EXCLUDED.diagnosis_kind, ts=EXCLUDED.ts`,
		s.runID, ev.AgentID, string(ev.Decision), kinds, ev.MaxDeviation, ev.DiagnosisKind, ev.Timestamp)
	return err
}

func scanApproval(row interface {
	Scan(dest ...any) error
}) (*store.ApprovalEvent, error) {
	var ev store.ApprovalEvent
	var decision string
	var kinds []string
	err := row.Scan(&ev.AgentID, &decision, &kinds, &ev.MaxDeviation, &ev.DiagnosisKind, &ev.Timestamp)
	if err == stdsql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ev.Decision = store.ApprovalDecision(decision)
	ev.InfectionKinds = kinds
	return &ev, nil
}

func (s *Store) LatestApprovalState(ctx context.Context, agentID string) (*store.ApprovalEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, decision, infection_kinds, max_deviation, diagnosis_kind, ts
		 FROM approvals WHERE run_id=$1 AND agent_id=$2`, s.runID, agentID)
	return scanApproval(row)
}

func (s *Store) approvalsByDecision(ctx context.Context, decision store.ApprovalDecision) ([]store.ApprovalEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, decision, infection_kinds, max_deviation, diagnosis_kind, ts
		 FROM approvals WHERE run_id=$1 AND decision=$2 ORDER BY agent_id ASC`, s.runID, string(decision))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ApprovalEvent
	for rows.Next() {
		ev, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (s *Store) PendingApprovals(ctx context.Context) ([]store.ApprovalEvent, error) {
	return s.approvalsByDecision(ctx, store.ApprovalPending)
}

func (s *Store) RejectedApprovals(ctx context.Context) ([]store.ApprovalEvent, error) {
	return s.approvalsByDecision(ctx, store.ApprovalRejected)
}

func (s *Store) WriteHealingEvent(ctx context.Context, ev store.HealingEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO healing_events (run_id, agent_id, diagnosis_kind, action, success, validation_passed, trigger, message, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.runID, ev.AgentID, ev.DiagnosisKind, ev.Action, ev.Success, ev.ValidationPassed, ev.Trigger, ev.Message, ev.Timestamp)
	return err
}

func (s *Store) FailedHealingActions(ctx context.Context, agentID, diagnosisKind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT action FROM healing_events
		WHERE run_id=$1 AND agent_id=$2 AND diagnosis_kind=$3 AND success=FALSE`,
		s.runID, agentID, diagnosisKind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, rows.Err()
}

func (s *Store) TotalHealings(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM healing_events WHERE run_id=$1`, s.runID).Scan(&n)
	return n, err
}

func (s *Store) HealingSuccessRate(ctx context.Context) (float64, error) {
	var total, succeeded int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE success) FROM healing_events WHERE run_id=$1`,
		s.runID).Scan(&total, &succeeded)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(succeeded) / float64(total), nil
}

func (s *Store) PatternSummary(ctx context.Context) ([]store.PatternSummaryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (diagnosis_kind) diagnosis_kind, action, COUNT(*) OVER (PARTITION BY diagnosis_kind, action) AS cnt
		FROM healing_events
		WHERE run_id=$1 AND success=TRUE
		ORDER BY diagnosis_kind, cnt DESC, action ASC`, s.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.PatternSummaryEntry
	for rows.Next() {
		var e store.PatternSummaryEntry
		if err := rows.Scan(&e.DiagnosisKind, &e.BestAction, &e.SuccessCount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) WriteActionLog(ctx context.Context, entry store.ActionLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_log (run_id, agent_id, action, detail, ts) VALUES ($1,$2,$3,$4,$5)`,
		s.runID, entry.AgentID, entry.Action, entry.Detail, entry.Timestamp)
	return err
}

func (s *Store) RecentActions(ctx context.Context, limit int) ([]store.ActionLogEntry, error) {
	if limit <= 0 {
		limit = 80
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, action, detail, ts FROM action_log WHERE run_id=$1 ORDER BY ts DESC LIMIT $2`,
		s.runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ActionLogEntry
	for rows.Next() {
		var e store.ActionLogEntry
		if err := rows.Scan(&e.AgentID, &e.Action, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) HealingCounts(ctx context.Context) (successes, failures map[string]map[string]int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT diagnosis_kind, action, success, COUNT(*) FROM healing_events WHERE run_id=$1 GROUP BY diagnosis_kind, action, success`,
		s.runID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	successes = make(map[string]map[string]int)
	failures = make(map[string]map[string]int)
	for rows.Next() {
		var kind, action string
		var ok bool
		var count int
		if err := rows.Scan(&kind, &action, &ok, &count); err != nil {
			return nil, nil, err
		}
		bucket := failures
		if ok {
			bucket = successes
		}
		if bucket[kind] == nil {
			bucket[kind] = make(map[string]int)
		}
		bucket[kind][action] = count
	}
	return successes, failures, rows.Err()
}

func (s *Store) WriteFeedback(ctx context.Context, ev store.FeedbackEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_events (run_id, diagnosis_kind, label, notes, ts) VALUES ($1,$2,$3,$4,$5)`,
		s.runID, ev.Kind, ev.Label, ev.Notes, ev.Timestamp)
	return err
}

// InsertWSEvent persists a dashboard event for websocket catchup delivery
// and returns its row id (used as the cursor for later catchup queries).
func (s *Store) InsertWSEvent(ctx context.Context, channel string, payload []byte) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO ws_events (run_id, channel, payload, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		s.runID, channel, payload, time.Now()).Scan(&id)
	return id, err
}

// WSEventsSince returns events on channel with id > sinceID, oldest first,
// capped at limit rows. Used by events.CatchupQuerier to replay events a
// client missed while reconnecting.
func (s *Store) WSEventsSince(ctx context.Context, channel string, sinceID, limit int) ([]store.WSEventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM ws_events WHERE run_id=$1 AND channel=$2 AND id > $3 ORDER BY id ASC LIMIT $4`,
		s.runID, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.WSEventRow
	for rows.Next() {
		var row store.WSEventRow
		var raw []byte
		if err := rows.Scan(&row.ID, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &row.Payload); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var _ store.Store = (*Store)(nil)

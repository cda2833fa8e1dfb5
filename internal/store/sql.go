package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"call-audit-go/internal/common"
	"call-audit-go/internal/config"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

//go:embed migrations
var migrations embed.FS

// goose keeps its dialect and filesystem in package state
var gooseMu sync.Mutex

type dialect string

const (
	dialectSQLite   dialect = "sqlite3"
	dialectPostgres dialect = "postgres"
)

// SQL is a Store over database/sql. Timestamps are stored as unix nanoseconds.
type SQL struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect dialect
	locks   *keyedMutex
	log     *logger.Logger
	now     func() time.Time
}

// OpenSQLite opens (and migrates) a SQLite database through the pure-Go driver.
func OpenSQLite(ctx context.Context, dsn string, log *logger.Logger) (*SQL, error) {
	log = log.Component("store.sqlite")
	log.WithField("dsn", dsn).Info("opening sqlite database")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.NewAppError("STORE", "open sqlite", err)
	}
	// one writer at a time; the per-job locks handle ordering above this
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, common.NewAppError("STORE", "enable foreign keys", err)
	}

	s := newSQL(db, nil, dialectSQLite, log)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres creates a pgx pool, wraps it as *sql.DB and migrates it.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*SQL, error) {
	log = log.Component("store.postgres")
	log.Info("connecting to database")

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, common.NewAppError("STORE", "parse postgres dsn", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "call-audit-go"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, common.NewAppError("STORE", "connect postgres", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, common.NewAppError("STORE", "ping postgres", err)
	}

	s := newSQL(stdlib.OpenDBFromPool(pool), pool, dialectPostgres, log)
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	log.Info("successfully connected to database")
	return s, nil
}

func newSQL(db *sql.DB, pool *pgxpool.Pool, d dialect, log *logger.Logger) *SQL {
	return &SQL{
		db:      db,
		pool:    pool,
		dialect: d,
		locks:   newKeyedMutex(),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQL) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(s.dialect)); err != nil {
		return common.NewAppError("STORE", "goose dialect", err)
	}

	dir := "migrations/sqlite"
	if s.dialect == dialectPostgres {
		dir = "migrations/postgres"
	}
	if err := goose.UpContext(ctx, s.db, dir); err != nil {
		return common.NewAppError("STORE", "migrate", err)
	}
	s.log.WithField("dir", dir).Info("migrations applied")
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return nil
}

const jobColumns = `id, audio_file, agent, customer, duration, status, progress, current_step,
	status_message, error_message, score, compliance_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (types.Job, error) {
	var (
		j                  types.Job
		status, compliance string
		created, updated   int64
	)
	err := row.Scan(&j.ID, &j.AudioFile, &j.Agent, &j.Customer, &j.Duration, &status, &j.Progress,
		&j.CurrentStep, &j.StatusMessage, &j.ErrorMessage, &j.Score, &compliance, &created, &updated)
	if err != nil {
		return types.Job{}, err
	}
	j.Status = types.JobStatus(status)
	j.ComplianceStatus = types.ComplianceStatus(compliance)
	j.CreatedAt = time.Unix(0, created).UTC()
	j.UpdatedAt = time.Unix(0, updated).UTC()
	return j, nil
}

func (s *SQL) CreateJob(ctx context.Context, job types.Job) (types.Job, error) {
	job, err := prepareJob(job, s.now())
	if err != nil {
		return types.Job{}, err
	}
	var exists int
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM jobs WHERE id = ?`), job.ID).Scan(&exists)
	if err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if exists > 0 {
		return types.Job{}, fmt.Errorf("job %s: %w", job.ID, common.ErrConflict)
	}

	err = s.exec(ctx, `INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.AudioFile, job.Agent, job.Customer, job.Duration, string(job.Status), job.Progress,
		job.CurrentStep, job.StatusMessage, job.ErrorMessage, job.Score, string(job.ComplianceStatus),
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return types.Job{}, err
	}
	return job, nil
}

func (s *SQL) GetJob(ctx context.Context, id string) (types.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, notFound("job", id)
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return job, nil
}

func (s *SQL) ListJobs(ctx context.Context) ([]types.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	out := []types.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJob reads, mutates and writes the row in one transaction under the job lock.
func (s *SQL) UpdateJob(ctx context.Context, id string, fn func(*types.Job) error) (types.Job, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer tx.Rollback()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	if s.dialect == dialectPostgres {
		query += ` FOR UPDATE`
	}
	job, err := scanJob(tx.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Job{}, notFound("job", id)
	}
	if err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}

	if err := fn(&job); err != nil {
		return types.Job{}, err
	}
	job.ID = id
	job.UpdatedAt = s.now()

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE jobs SET audio_file = ?, agent = ?, customer = ?, duration = ?,
		status = ?, progress = ?, current_step = ?, status_message = ?, error_message = ?, score = ?,
		compliance_status = ?, updated_at = ? WHERE id = ?`),
		job.AudioFile, job.Agent, job.Customer, job.Duration, string(job.Status), job.Progress, job.CurrentStep,
		job.StatusMessage, job.ErrorMessage, job.Score, string(job.ComplianceStatus), job.UpdatedAt.UnixNano(), id)
	if err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if err := tx.Commit(); err != nil {
		return types.Job{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return job, nil
}

func (s *SQL) AddUtterance(ctx context.Context, jobID string, u types.Utterance) error {
	return s.exec(ctx, `INSERT INTO utterances (job_id, speaker, offset_ms, duration_ms, text, flagged, flag_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		jobID, string(u.Speaker), u.OffsetMs, u.DurationMs, u.Text, u.Flagged, u.FlagReason)
}

func (s *SQL) AddSentiment(ctx context.Context, jobID string, r types.SentimentRecord) error {
	return s.exec(ctx, `INSERT INTO sentiments (job_id, utterance, sentiment, confidence) VALUES (?, ?, ?, ?)`,
		jobID, r.Utterance, r.Sentiment, r.Confidence)
}

func (s *SQL) AddSafetyFinding(ctx context.Context, jobID string, f types.SafetyFinding) error {
	return s.exec(ctx, `INSERT INTO safety_findings (job_id, utterance, category, severity) VALUES (?, ?, ?, ?)`,
		jobID, f.Utterance, f.Category, f.Severity)
}

func (s *SQL) SaveComplianceReport(ctx context.Context, jobID string, r types.ComplianceReport) error {
	unlock := s.locks.Lock(jobID)
	defer unlock()

	if _, err := s.ComplianceReport(ctx, jobID); err == nil {
		return fmt.Errorf("compliance report for %s: %w", jobID, common.ErrConflict)
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	var encoded [4]string
	for i, v := range []any{nonNil(r.Checklist), nonNil(r.Recommendations), nonNil(r.Violations), nonNil(r.Improvements)} {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode compliance report: %w", err)
		}
		encoded[i] = string(data)
	}
	return s.exec(ctx, `INSERT INTO compliance_reports
		(job_id, checklist, risk_level, score, recommendations, violations, improvements, sentiment, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, encoded[0], r.RiskLevel, r.Score, encoded[1], encoded[2], encoded[3], r.Sentiment, r.Summary)
}

// SaveAnalytics replaces the job's analytics row. The previous row survives a failed write.
func (s *SQL) SaveAnalytics(ctx context.Context, jobID string, a types.CallAnalytics) error {
	phrases, err := json.Marshal(nonNil(a.KeyPhrases))
	if err != nil {
		return fmt.Errorf("encode key phrases: %w", err)
	}
	unlock := s.locks.Lock(jobID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM call_analytics WHERE job_id = ?`), jobID); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO call_analytics
		(job_id, agent_talk_time, customer_talk_time, agent_tone, customer_sentiment, silence_periods,
		interruption_count, key_phrases) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		jobID, a.AgentTalkTime, a.CustomerTalkTime, a.AgentTone, a.CustomerSentiment, a.SilencePeriods,
		a.InterruptionCount, string(phrases))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return nil
}

func (s *SQL) ComplianceReport(ctx context.Context, jobID string) (types.ComplianceReport, error) {
	var (
		r                                         types.ComplianceReport
		checklist, recs, violations, improvements string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT checklist, risk_level, score, recommendations, violations,
		improvements, sentiment, summary FROM compliance_reports WHERE job_id = ?`), jobID).
		Scan(&checklist, &r.RiskLevel, &r.Score, &recs, &violations, &improvements, &r.Sentiment, &r.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ComplianceReport{}, notFound("compliance report", jobID)
	}
	if err != nil {
		return types.ComplianceReport{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	r.Checklist = []types.ChecklistItem{}
	r.Recommendations = []string{}
	r.Violations = []types.Violation{}
	r.Improvements = []string{}
	for _, f := range []struct {
		raw string
		dst any
	}{{checklist, &r.Checklist}, {recs, &r.Recommendations}, {violations, &r.Violations}, {improvements, &r.Improvements}} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return types.ComplianceReport{}, fmt.Errorf("decode compliance report: %w", err)
		}
	}
	return r, nil
}

func (s *SQL) Analytics(ctx context.Context, jobID string) (types.CallAnalytics, error) {
	var (
		a       types.CallAnalytics
		phrases string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT agent_talk_time, customer_talk_time, agent_tone,
		customer_sentiment, silence_periods, interruption_count, key_phrases FROM call_analytics WHERE job_id = ?`), jobID).
		Scan(&a.AgentTalkTime, &a.CustomerTalkTime, &a.AgentTone, &a.CustomerSentiment, &a.SilencePeriods,
			&a.InterruptionCount, &phrases)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CallAnalytics{}, notFound("analytics", jobID)
	}
	if err != nil {
		return types.CallAnalytics{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	a.KeyPhrases = []string{}
	if err := json.Unmarshal([]byte(phrases), &a.KeyPhrases); err != nil {
		return types.CallAnalytics{}, fmt.Errorf("decode key phrases: %w", err)
	}
	return a, nil
}

func (s *SQL) Result(ctx context.Context, jobID string) (types.JobResult, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return types.JobResult{}, err
	}
	res := types.JobResult{
		Job:            job,
		Utterances:     []types.Utterance{},
		Sentiments:     []types.SentimentRecord{},
		SafetyFindings: []types.SafetyFinding{},
		Report:         types.EmptyReport(),
		Analytics:      types.EmptyAnalytics(),
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT speaker, offset_ms, duration_ms, text, flagged, flag_reason
		FROM utterances WHERE job_id = ? ORDER BY offset_ms, id`), jobID)
	if err != nil {
		return types.JobResult{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	res.Utterances, err = collect(rows, res.Utterances, func(r rowScanner) (types.Utterance, error) {
		var (
			u       types.Utterance
			speaker string
		)
		err := r.Scan(&speaker, &u.OffsetMs, &u.DurationMs, &u.Text, &u.Flagged, &u.FlagReason)
		u.Speaker = types.Speaker(speaker)
		return u, err
	})
	if err != nil {
		return types.JobResult{}, err
	}

	rows, err = s.db.QueryContext(ctx, s.rebind(`SELECT utterance, sentiment, confidence FROM sentiments
		WHERE job_id = ? ORDER BY id`), jobID)
	if err != nil {
		return types.JobResult{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	res.Sentiments, err = collect(rows, res.Sentiments, func(r rowScanner) (types.SentimentRecord, error) {
		var rec types.SentimentRecord
		err := r.Scan(&rec.Utterance, &rec.Sentiment, &rec.Confidence)
		return rec, err
	})
	if err != nil {
		return types.JobResult{}, err
	}

	rows, err = s.db.QueryContext(ctx, s.rebind(`SELECT utterance, category, severity FROM safety_findings
		WHERE job_id = ? ORDER BY id`), jobID)
	if err != nil {
		return types.JobResult{}, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	res.SafetyFindings, err = collect(rows, res.SafetyFindings, func(r rowScanner) (types.SafetyFinding, error) {
		var f types.SafetyFinding
		err := r.Scan(&f.Utterance, &f.Category, &f.Severity)
		return f, err
	})
	if err != nil {
		return types.JobResult{}, err
	}

	if r, err := s.ComplianceReport(ctx, jobID); err == nil {
		res.Report = r
	} else if !errors.Is(err, common.ErrNotFound) {
		return types.JobResult{}, err
	}
	if a, err := s.Analytics(ctx, jobID); err == nil {
		res.Analytics = a
	} else if !errors.Is(err, common.ErrNotFound) {
		return types.JobResult{}, err
	}
	return res, nil
}

func (s *SQL) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// rowIterator is the part of *sql.Rows that collect consumes.
type rowIterator interface {
	rowScanner
	Next() bool
	Err() error
	Close() error
}

// collect appends every scanned row to out and closes rows. An iteration
// error is returned instead of a partial result.
func collect[T any](rows rowIterator, out []T, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

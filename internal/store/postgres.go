package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/govsniper/govsniper/internal/db"
	"github.com/govsniper/govsniper/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations (the pipeline jobs run
// these every few minutes).
var preparedStatements = map[string]string{
	"get_tender":          `SELECT ` + tenderColumns + ` FROM tenders WHERE id = $1`,
	"get_tender_ext":      `SELECT ` + tenderColumns + ` FROM tenders WHERE external_id = $1`,
	"get_payment_ext":     `SELECT id, external_id, tender_id, client_id, amount, currency, status, report_sent, created_at, updated_at FROM payments WHERE external_id = $1`,
	"insert_notification": `INSERT INTO notifications (id, tender_id, client_id, sent_at) VALUES ($1, $2, $3, $4) ON CONFLICT (tender_id, client_id) DO NOTHING`,
	"transition_payment":  `UPDATE payments SET status = $1, updated_at = $2 WHERE external_id = $3 AND status = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id     TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL,
	url             TEXT NOT NULL DEFAULT '',
	price           NUMERIC(16,2) NOT NULL DEFAULT 0,
	category        TEXT NOT NULL DEFAULT '',
	customer        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	documents       JSONB,
	risk_score      DOUBLE PRECISION,
	margin_estimate DOUBLE PRECISION,
	summary         TEXT NOT NULL DEFAULT '',
	deep_analysis   TEXT NOT NULL DEFAULT '',
	published_at    TIMESTAMPTZ,
	analyzed_at     TIMESTAMPTZ,
	notified_at     TIMESTAMPTZ,
	sold_at         TIMESTAMPTZ,
	leads_extracted_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tenders_status_created ON tenders(status, created_at);

CREATE TABLE IF NOT EXISTS clients (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email          TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL DEFAULT '',
	company        TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	keywords       JSONB NOT NULL DEFAULT '[]',
	min_price      NUMERIC(16,2),
	max_price      NUMERIC(16,2),
	origin         TEXT NOT NULL DEFAULT 'manual',
	lead_tax_id    TEXT NOT NULL DEFAULT '',
	lead_tender_id TEXT NOT NULL DEFAULT '',
	notes          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_lead_tax_id ON clients(lead_tax_id) WHERE lead_tax_id <> '';

CREATE TABLE IF NOT EXISTS notifications (
	id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tender_id TEXT NOT NULL REFERENCES tenders(id) ON DELETE CASCADE,
	client_id TEXT NOT NULL,
	sent_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tender_id, client_id)
);

CREATE TABLE IF NOT EXISTS payments (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	external_id TEXT NOT NULL UNIQUE,
	tender_id   TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	amount      NUMERIC(16,2) NOT NULL DEFAULT 0,
	currency    TEXT NOT NULL DEFAULT 'RUB',
	status      TEXT NOT NULL DEFAULT 'pending',
	report_sent BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_tasks (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	payment_id      TEXT NOT NULL UNIQUE,
	tender_id       TEXT NOT NULL,
	client_id       TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 5,
	next_attempt_at TIMESTAMPTZ NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_tasks_due ON audit_tasks(state, next_attempt_at);

CREATE TABLE IF NOT EXISTS participants (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tender_id        TEXT NOT NULL,
	tax_id           TEXT NOT NULL,
	company_name     TEXT NOT NULL DEFAULT '',
	bid_amount       NUMERIC(16,2),
	is_winner        BOOLEAN NOT NULL DEFAULT FALSE,
	email            TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	contacts_fetched BOOLEAN NOT NULL DEFAULT FALSE,
	client_created   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tender_id, tax_id)
);

CREATE INDEX IF NOT EXISTS idx_participants_contacts ON participants(contacts_fetched, client_created);

CREATE TABLE IF NOT EXISTS lookup_failures (
	tax_id     TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	processed   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_job_runs_open ON job_runs(job_id) WHERE finished_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_job_runs_history ON job_runs(job_id, started_at DESC);
`

const tenderColumns = `id, external_id, title, url, price, category, customer, status, documents,
	risk_score, margin_estimate, summary, deep_analysis,
	published_at, analyzed_at, notified_at, sold_at, created_at, updated_at`

// transitionStamps maps a target tender status to the timestamp column set
// when the transition lands.
var transitionStamps = map[model.TenderStatus]string{
	model.TenderStatusAnalyzed: "analyzed_at",
	model.TenderStatusRejected: "analyzed_at",
	model.TenderStatusNotified: "notified_at",
	model.TenderStatusSold:     "sold_at",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Tenders

func (s *PostgresStore) InsertTender(ctx context.Context, t *model.Tender) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = model.TenderStatusPending
	}

	var docsJSON []byte
	if len(t.Documents) > 0 {
		var err error
		docsJSON, err = json.Marshal(t.Documents)
		if err != nil {
			return false, eris.Wrap(err, "postgres: marshal documents")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tenders (id, external_id, title, url, price, category, customer, status, documents, published_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (external_id) DO NOTHING`,
		t.ID, t.ExternalID, t.Title, t.URL, t.Price, t.Category, t.Customer,
		string(t.Status), docsJSON, t.PublishedAt, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert tender %s", t.ExternalID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetTender(ctx context.Context, id string) (*model.Tender, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenderColumns+` FROM tenders WHERE id = $1`, id)
	t, err := scanTender(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get tender %s", id)
	}
	return t, nil
}

func (s *PostgresStore) GetTenderByExternalID(ctx context.Context, externalID string) (*model.Tender, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tenderColumns+` FROM tenders WHERE external_id = $1`, externalID)
	t, err := scanTender(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get tender by external id %s", externalID)
	}
	return t, nil
}

func (s *PostgresStore) ListTenders(ctx context.Context, filter TenderFilter) ([]model.Tender, error) {
	query := `SELECT ` + tenderColumns + ` FROM tenders WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tenders")
	}
	defer rows.Close()
	return collectTenders(rows)
}

func (s *PostgresStore) ListTendersMissingDocuments(ctx context.Context, limit int) ([]model.Tender, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenderColumns+` FROM tenders
		 WHERE status = $1 AND documents IS NULL
		 ORDER BY created_at ASC LIMIT $2`,
		string(model.TenderStatusPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tenders missing documents")
	}
	defer rows.Close()
	return collectTenders(rows)
}

func (s *PostgresStore) SetTenderDocuments(ctx context.Context, id string, docs []model.DocumentMeta) error {
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal documents")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenders SET documents = $1, updated_at = $2 WHERE id = $3`,
		docsJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set tender documents %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("tender not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) SetTenderAnalysis(ctx context.Context, id string, risk, margin float64, summary string, to model.TenderStatus) (bool, error) {
	if !model.TenderStatusPending.CanTransition(to) {
		return false, eris.Errorf("invalid analysis transition pending -> %s", to)
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenders
		 SET risk_score = $1, margin_estimate = $2, summary = $3, status = $4, analyzed_at = $5, updated_at = $5
		 WHERE id = $6 AND status = $7`,
		risk, margin, summary, string(to), now, id, string(model.TenderStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set tender analysis %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) TransitionTender(ctx context.Context, id string, from, to model.TenderStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, eris.Errorf("invalid tender transition %s -> %s", from, to)
	}
	now := time.Now().UTC()
	query := `UPDATE tenders SET status = $1, updated_at = $2`
	if col, ok := transitionStamps[to]; ok {
		query += fmt.Sprintf(`, %s = $2`, col)
	}
	query += ` WHERE id = $3 AND status = $4`

	tag, err := s.pool.Exec(ctx, query, string(to), now, id, string(from))
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition tender %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetDeepAnalysis(ctx context.Context, id string, text string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenders SET deep_analysis = $1, updated_at = $2 WHERE id = $3`,
		text, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set deep analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("tender not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) PurgeTenderArtifacts(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tenders SET documents = NULL, deep_analysis = '', updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "postgres: purge tender artifacts %s", id)
}

func (s *PostgresStore) ListTerminalTendersInWindow(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]model.Tender, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenderColumns+` FROM tenders t
		 WHERE t.status IN ('rejected', 'sold', 'archived')
		   AND t.created_at < $1 AND t.created_at > $2
		   AND t.leads_extracted_at IS NULL
		 ORDER BY t.created_at ASC LIMIT $3`,
		olderThan, youngerThan, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list terminal tenders")
	}
	defer rows.Close()
	return collectTenders(rows)
}

func (s *PostgresStore) MarkLeadsExtracted(ctx context.Context, tenderID string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`UPDATE tenders SET leads_extracted_at = $1, updated_at = $1 WHERE id = $2`,
		now, tenderID,
	)
	return eris.Wrapf(err, "postgres: mark leads extracted %s", tenderID)
}

func (s *PostgresStore) DeleteExpiredTenders(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tenders
		 WHERE status IN ('rejected', 'sold', 'archived') AND created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired tenders")
	}
	return int(tag.RowsAffected()), nil
}

// Clients

func (s *PostgresStore) CreateClient(ctx context.Context, c *model.Client) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Origin == "" {
		c.Origin = model.OriginManual
	}

	kwJSON, err := json.Marshal(c.Keywords)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal keywords")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO clients (id, email, name, company, phone, active, keywords, min_price, max_price, origin, lead_tax_id, lead_tender_id, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT DO NOTHING`,
		c.ID, c.Email, c.Name, c.Company, c.Phone, c.Active, kwJSON,
		c.MinPrice, c.MaxPrice, string(c.Origin), c.LeadTaxID, c.LeadTenderID, c.Notes, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: create client %s", c.Email)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get client %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListActiveClients(ctx context.Context) ([]model.Client, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE active ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active clients")
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan client")
		}
		clients = append(clients, *c)
	}
	return clients, eris.Wrap(rows.Err(), "postgres: list active clients iterate")
}

// Notifications

func (s *PostgresStore) InsertNotification(ctx context.Context, tenderID, clientID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, tender_id, client_id, sent_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tender_id, client_id) DO NOTHING`,
		uuid.New().String(), tenderID, clientID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert notification %s/%s", tenderID, clientID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, tenderID, clientID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM notifications WHERE tender_id = $1 AND client_id = $2`,
		tenderID, clientID,
	)
	return eris.Wrapf(err, "postgres: delete notification %s/%s", tenderID, clientID)
}

func (s *PostgresStore) CountNotifications(ctx context.Context, tenderID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tender_id = $1`, tenderID,
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count notifications %s", tenderID)
}

// Payments

func (s *PostgresStore) CreatePayment(ctx context.Context, p *model.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.PaymentStatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO payments (id, external_id, tender_id, client_id, amount, currency, status, report_sent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.ExternalID, p.TenderID, p.ClientID, p.Amount, p.Currency,
		string(p.Status), p.ReportSent, now, now,
	)
	return eris.Wrapf(err, "postgres: create payment %s", p.ExternalID)
}

func (s *PostgresStore) GetPaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	var p model.Payment
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, tender_id, client_id, amount, currency, status, report_sent, created_at, updated_at
		 FROM payments WHERE external_id = $1`,
		externalID,
	).Scan(&p.ID, &p.ExternalID, &p.TenderID, &p.ClientID, &p.Amount, &p.Currency,
		&p.Status, &p.ReportSent, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get payment %s", externalID)
	}
	return &p, nil
}

func (s *PostgresStore) TransitionPayment(ctx context.Context, externalID string, from, to model.PaymentStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, eris.Errorf("invalid payment transition %s -> %s", from, to)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET status = $1, updated_at = $2 WHERE external_id = $3 AND status = $4`,
		string(to), time.Now().UTC(), externalID, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition payment %s", externalID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkReportSent(ctx context.Context, externalID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET report_sent = TRUE, updated_at = $1 WHERE external_id = $2`,
		time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark report sent %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("payment not found: %s", externalID)
	}
	return nil
}

// Audit tasks

func (s *PostgresStore) EnqueueAuditTask(ctx context.Context, task model.AuditTask) (bool, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if task.NextAttempt.IsZero() {
		task.NextAttempt = now
	}
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = 5
	}
	if task.State == "" {
		task.State = model.AuditStatePending
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO audit_tasks (id, payment_id, tender_id, client_id, state, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (payment_id) DO NOTHING`,
		task.ID, task.PaymentID, task.TenderID, task.ClientID, string(task.State),
		task.Attempts, task.MaxAttempts, task.NextAttempt, task.LastError, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue audit task %s", task.PaymentID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DueAuditTasks(ctx context.Context, now time.Time, limit int) ([]model.AuditTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, payment_id, tender_id, client_id, state, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		 FROM audit_tasks
		 WHERE state = $1 AND next_attempt_at <= $2
		 ORDER BY next_attempt_at ASC LIMIT $3`,
		string(model.AuditStatePending), now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due audit tasks")
	}
	defer rows.Close()

	var tasks []model.AuditTask
	for rows.Next() {
		var t model.AuditTask
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.TenderID, &t.ClientID, &t.State,
			&t.Attempts, &t.MaxAttempts, &t.NextAttempt, &t.LastError,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit task")
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: due audit tasks iterate")
}

func (s *PostgresStore) CompleteAuditTask(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_tasks SET state = $1, updated_at = $2 WHERE id = $3`,
		string(model.AuditStateDone), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete audit task %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("audit_task not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RescheduleAuditTask(ctx context.Context, id string, next time.Time, lastErr string, manual bool) error {
	state := model.AuditStatePending
	if manual {
		state = model.AuditStateManual
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_tasks
		 SET attempts = attempts + 1, next_attempt_at = $1, last_error = $2, state = $3, updated_at = $4
		 WHERE id = $5`,
		next, lastErr, string(state), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reschedule audit task %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("audit_task not found: %s", id)
	}
	return nil
}

// Participants

func (s *PostgresStore) InsertParticipant(ctx context.Context, p *model.Participant) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO participants (id, tender_id, tax_id, company_name, bid_amount, is_winner, email, phone, address, contacts_fetched, client_created, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (tender_id, tax_id) DO NOTHING`,
		p.ID, p.TenderID, p.TaxID, p.CompanyName, p.BidAmount, p.IsWinner,
		p.Email, p.Phone, p.Address, p.ContactsFetched, p.ClientCreated, p.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert participant %s/%s", p.TenderID, p.TaxID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) HasParticipants(ctx context.Context, tenderID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE tender_id = $1)`, tenderID,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: has participants %s", tenderID)
}

func (s *PostgresStore) ListParticipantsNeedingContacts(ctx context.Context, limit int) ([]model.Participant, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE contacts_fetched = FALSE
		 ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list participants needing contacts")
	}
	defer rows.Close()
	return collectParticipants(rows)
}

func (s *PostgresStore) SetParticipantContacts(ctx context.Context, id, email, phone, address string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET email = $1, phone = $2, address = $3, contacts_fetched = TRUE WHERE id = $4`,
		email, phone, address, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set participant contacts %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("participant not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListParticipantsForClientCreation(ctx context.Context, limit int) ([]model.Participant, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE contacts_fetched = TRUE AND client_created = FALSE AND is_winner = FALSE AND email <> ''
		 ORDER BY created_at ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list participants for client creation")
	}
	defer rows.Close()
	return collectParticipants(rows)
}

func (s *PostgresStore) MarkClientCreated(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE participants SET client_created = TRUE WHERE id = $1`, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark client created %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("participant not found: %s", id)
	}
	return nil
}

// Lookup failure cache

func (s *PostgresStore) RecordLookupFailure(ctx context.Context, taxID string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lookup_failures (tax_id, expires_at) VALUES ($1, $2)
		 ON CONFLICT (tax_id) DO UPDATE SET expires_at = $2`,
		taxID, expiresAt,
	)
	return eris.Wrapf(err, "postgres: record lookup failure %s", taxID)
}

func (s *PostgresStore) LookupRecentlyFailed(ctx context.Context, taxID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lookup_failures WHERE tax_id = $1 AND expires_at > $2)`,
		taxID, time.Now().UTC(),
	).Scan(&exists)
	return exists, eris.Wrapf(err, "postgres: lookup recently failed %s", taxID)
}

// Job runs

func (s *PostgresStore) StartJobRun(ctx context.Context, jobID string, leaseTTL time.Duration) (*model.JobRun, error) {
	now := time.Now().UTC()

	// Reap a stale lease first: an open row older than the TTL belongs to a
	// crashed instance and must not block the job forever.
	_, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET status = $1, error = 'lease expired', finished_at = $2
		 WHERE job_id = $3 AND finished_at IS NULL AND started_at < $4`,
		string(model.RunStatusFailed), now, jobID, now.Add(-leaseTTL),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: reap stale run %s", jobID)
	}

	run := &model.JobRun{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, job_id, status, started_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id) WHERE finished_at IS NULL DO NOTHING`,
		run.ID, jobID, string(run.Status), now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: start job run %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return run, nil
}

func (s *PostgresStore) FinishJobRun(ctx context.Context, runID string, status model.RunStatus, processed int, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_runs SET status = $1, processed = $2, error = $3, finished_at = $4
		 WHERE id = $5 AND finished_at IS NULL`,
		string(status), processed, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish job run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("open run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListJobRuns(ctx context.Context, jobID string, limit int) ([]model.JobRun, error) {
	query := `SELECT id, job_id, status, processed, error, started_at, finished_at FROM job_runs WHERE true`
	args := []any{}
	argIdx := 1

	if jobID != "" {
		query += fmt.Sprintf(` AND job_id = $%d`, argIdx)
		args = append(args, jobID)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list job runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		var r model.JobRun
		if err := rows.Scan(&r.ID, &r.JobID, &r.Status, &r.Processed, &r.Error,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list job runs iterate")
}

// Scan helpers

const clientColumns = `id, email, name, company, phone, active, keywords, min_price, max_price,
	origin, lead_tax_id, lead_tender_id, notes, created_at, updated_at`

const participantColumns = `id, tender_id, tax_id, company_name, bid_amount, is_winner,
	email, phone, address, contacts_fetched, client_created, created_at`

func scanTender(row pgx.Row) (*model.Tender, error) {
	var t model.Tender
	var docsJSON []byte
	err := row.Scan(&t.ID, &t.ExternalID, &t.Title, &t.URL, &t.Price, &t.Category,
		&t.Customer, &t.Status, &docsJSON, &t.RiskScore, &t.MarginEstimate,
		&t.Summary, &t.DeepAnalysis, &t.PublishedAt, &t.AnalyzedAt,
		&t.NotifiedAt, &t.SoldAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(docsJSON) > 0 {
		if err := json.Unmarshal(docsJSON, &t.Documents); err != nil {
			return nil, eris.Wrap(err, "unmarshal documents")
		}
	}
	return &t, nil
}

func collectTenders(rows pgx.Rows) ([]model.Tender, error) {
	var tenders []model.Tender
	for rows.Next() {
		t, err := scanTender(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan tender")
		}
		tenders = append(tenders, *t)
	}
	return tenders, eris.Wrap(rows.Err(), "postgres: tenders iterate")
}

func scanClient(row pgx.Row) (*model.Client, error) {
	var c model.Client
	var kwJSON []byte
	var minPrice, maxPrice decimal.NullDecimal
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.Company, &c.Phone, &c.Active,
		&kwJSON, &minPrice, &maxPrice, &c.Origin, &c.LeadTaxID, &c.LeadTenderID,
		&c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(kwJSON) > 0 {
		if err := json.Unmarshal(kwJSON, &c.Keywords); err != nil {
			return nil, eris.Wrap(err, "unmarshal keywords")
		}
	}
	if minPrice.Valid {
		c.MinPrice = &minPrice.Decimal
	}
	if maxPrice.Valid {
		c.MaxPrice = &maxPrice.Decimal
	}
	return &c, nil
}

func collectParticipants(rows pgx.Rows) ([]model.Participant, error) {
	var participants []model.Participant
	for rows.Next() {
		var p model.Participant
		var bid decimal.NullDecimal
		if err := rows.Scan(&p.ID, &p.TenderID, &p.TaxID, &p.CompanyName, &bid,
			&p.IsWinner, &p.Email, &p.Phone, &p.Address,
			&p.ContactsFetched, &p.ClientCreated, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan participant")
		}
		if bid.Valid {
			p.BidAmount = &bid.Decimal
		}
		participants = append(participants, p)
	}
	return participants, eris.Wrap(rows.Err(), "postgres: participants iterate")
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/govsniper/govsniper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Single connection keeps concurrent writers serialized instead of
	// surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	id              TEXT PRIMARY KEY,
	external_id     TEXT NOT NULL UNIQUE,
	title           TEXT NOT NULL,
	url             TEXT NOT NULL DEFAULT '',
	price           TEXT NOT NULL DEFAULT '0',
	category        TEXT NOT NULL DEFAULT '',
	customer        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	documents       TEXT,
	risk_score      REAL,
	margin_estimate REAL,
	summary         TEXT NOT NULL DEFAULT '',
	deep_analysis   TEXT NOT NULL DEFAULT '',
	published_at    DATETIME,
	analyzed_at     DATETIME,
	notified_at     DATETIME,
	sold_at         DATETIME,
	leads_extracted_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tenders_status_created ON tenders(status, created_at);

CREATE TABLE IF NOT EXISTS clients (
	id             TEXT PRIMARY KEY,
	email          TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL DEFAULT '',
	company        TEXT NOT NULL DEFAULT '',
	phone          TEXT NOT NULL DEFAULT '',
	active         INTEGER NOT NULL DEFAULT 1,
	keywords       TEXT NOT NULL DEFAULT '[]',
	min_price      TEXT,
	max_price      TEXT,
	origin         TEXT NOT NULL DEFAULT 'manual',
	lead_tax_id    TEXT NOT NULL DEFAULT '',
	lead_tender_id TEXT NOT NULL DEFAULT '',
	notes          TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_lead_tax_id ON clients(lead_tax_id) WHERE lead_tax_id <> '';

CREATE TABLE IF NOT EXISTS notifications (
	id        TEXT PRIMARY KEY,
	tender_id TEXT NOT NULL REFERENCES tenders(id) ON DELETE CASCADE,
	client_id TEXT NOT NULL,
	sent_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tender_id, client_id)
);

CREATE TABLE IF NOT EXISTS payments (
	id          TEXT PRIMARY KEY,
	external_id TEXT NOT NULL UNIQUE,
	tender_id   TEXT NOT NULL,
	client_id   TEXT NOT NULL,
	amount      TEXT NOT NULL DEFAULT '0',
	currency    TEXT NOT NULL DEFAULT 'RUB',
	status      TEXT NOT NULL DEFAULT 'pending',
	report_sent INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_tasks (
	id              TEXT PRIMARY KEY,
	payment_id      TEXT NOT NULL UNIQUE,
	tender_id       TEXT NOT NULL,
	client_id       TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	max_attempts    INTEGER NOT NULL DEFAULT 5,
	next_attempt_at DATETIME NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_tasks_due ON audit_tasks(state, next_attempt_at);

CREATE TABLE IF NOT EXISTS participants (
	id               TEXT PRIMARY KEY,
	tender_id        TEXT NOT NULL,
	tax_id           TEXT NOT NULL,
	company_name     TEXT NOT NULL DEFAULT '',
	bid_amount       TEXT,
	is_winner        INTEGER NOT NULL DEFAULT 0,
	email            TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	contacts_fetched INTEGER NOT NULL DEFAULT 0,
	client_created   INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (tender_id, tax_id)
);

CREATE INDEX IF NOT EXISTS idx_participants_contacts ON participants(contacts_fetched, client_created);

CREATE TABLE IF NOT EXISTS lookup_failures (
	tax_id     TEXT PRIMARY KEY,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	processed   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_job_runs_open ON job_runs(job_id) WHERE finished_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_job_runs_history ON job_runs(job_id, started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Tenders

func (s *SQLiteStore) InsertTender(ctx context.Context, t *model.Tender) (bool, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = model.TenderStatusPending
	}

	var docsJSON any
	if len(t.Documents) > 0 {
		b, err := json.Marshal(t.Documents)
		if err != nil {
			return false, eris.Wrap(err, "sqlite: marshal documents")
		}
		docsJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tenders (id, external_id, title, url, price, category, customer, status, documents, published_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO NOTHING`,
		t.ID, t.ExternalID, t.Title, t.URL, t.Price.String(), t.Category, t.Customer,
		string(t.Status), docsJSON, t.PublishedAt, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert tender %s", t.ExternalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetTender(ctx context.Context, id string) (*model.Tender, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenderColumns+` FROM tenders WHERE id = ?`, id)
	t, err := scanTenderSQL(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get tender %s", id)
	}
	return t, nil
}

func (s *SQLiteStore) GetTenderByExternalID(ctx context.Context, externalID string) (*model.Tender, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenderColumns+` FROM tenders WHERE external_id = ?`, externalID)
	t, err := scanTenderSQL(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get tender by external id %s", externalID)
	}
	return t, nil
}

func (s *SQLiteStore) ListTenders(ctx context.Context, filter TenderFilter) ([]model.Tender, error) {
	query := `SELECT ` + tenderColumns + ` FROM tenders WHERE true`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tenders")
	}
	defer rows.Close()
	return collectTendersSQL(rows)
}

func (s *SQLiteStore) ListTendersMissingDocuments(ctx context.Context, limit int) ([]model.Tender, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tenderColumns+` FROM tenders
		 WHERE status = ? AND documents IS NULL
		 ORDER BY created_at ASC LIMIT ?`,
		string(model.TenderStatusPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tenders missing documents")
	}
	defer rows.Close()
	return collectTendersSQL(rows)
}

func (s *SQLiteStore) SetTenderDocuments(ctx context.Context, id string, docs []model.DocumentMeta) error {
	docsJSON, err := json.Marshal(docs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal documents")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenders SET documents = ?, updated_at = ? WHERE id = ?`,
		string(docsJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set tender documents %s", id)
	}
	return checkRowsAffected(res, "tender", id)
}

func (s *SQLiteStore) SetTenderAnalysis(ctx context.Context, id string, risk, margin float64, summary string, to model.TenderStatus) (bool, error) {
	if !model.TenderStatusPending.CanTransition(to) {
		return false, eris.Errorf("invalid analysis transition pending -> %s", to)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenders
		 SET risk_score = ?, margin_estimate = ?, summary = ?, status = ?, analyzed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		risk, margin, summary, string(to), now, now, id, string(model.TenderStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set tender analysis %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) TransitionTender(ctx context.Context, id string, from, to model.TenderStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, eris.Errorf("invalid tender transition %s -> %s", from, to)
	}
	now := time.Now().UTC()
	query := `UPDATE tenders SET status = ?, updated_at = ?`
	args := []any{string(to), now}
	if col, ok := transitionStamps[to]; ok {
		query += fmt.Sprintf(`, %s = ?`, col)
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, string(from))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition tender %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetDeepAnalysis(ctx context.Context, id string, text string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenders SET deep_analysis = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set deep analysis %s", id)
	}
	return checkRowsAffected(res, "tender", id)
}

func (s *SQLiteStore) PurgeTenderArtifacts(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenders SET documents = NULL, deep_analysis = '', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "sqlite: purge tender artifacts %s", id)
}

func (s *SQLiteStore) ListTerminalTendersInWindow(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]model.Tender, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tenderColumns+` FROM tenders
		 WHERE status IN ('rejected', 'sold', 'archived')
		   AND created_at < ? AND created_at > ?
		   AND leads_extracted_at IS NULL
		 ORDER BY created_at ASC LIMIT ?`,
		olderThan, youngerThan, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list terminal tenders")
	}
	defer rows.Close()
	return collectTendersSQL(rows)
}

func (s *SQLiteStore) MarkLeadsExtracted(ctx context.Context, tenderID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenders SET leads_extracted_at = ?, updated_at = ? WHERE id = ?`,
		now, now, tenderID,
	)
	return eris.Wrapf(err, "sqlite: mark leads extracted %s", tenderID)
}

func (s *SQLiteStore) DeleteExpiredTenders(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tenders
		 WHERE status IN ('rejected', 'sold', 'archived') AND created_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired tenders")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

// Clients

func (s *SQLiteStore) CreateClient(ctx context.Context, c *model.Client) (bool, error) {
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
		return false, eris.Wrap(err, "sqlite: marshal keywords")
	}

	var minPrice, maxPrice any
	if c.MinPrice != nil {
		minPrice = c.MinPrice.String()
	}
	if c.MaxPrice != nil {
		maxPrice = c.MaxPrice.String()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (id, email, name, company, phone, active, keywords, min_price, max_price, origin, lead_tax_id, lead_tender_id, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		c.ID, c.Email, c.Name, c.Company, c.Phone, c.Active, string(kwJSON),
		minPrice, maxPrice, string(c.Origin), c.LeadTaxID, c.LeadTenderID, c.Notes, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: create client %s", c.Email)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClientSQL(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get client %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListActiveClients(ctx context.Context) ([]model.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE active ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active clients")
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClientSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan client")
		}
		clients = append(clients, *c)
	}
	return clients, eris.Wrap(rows.Err(), "sqlite: list active clients iterate")
}

// Notifications

func (s *SQLiteStore) InsertNotification(ctx context.Context, tenderID, clientID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, tender_id, client_id, sent_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tender_id, client_id) DO NOTHING`,
		uuid.New().String(), tenderID, clientID, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert notification %s/%s", tenderID, clientID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) DeleteNotification(ctx context.Context, tenderID, clientID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE tender_id = ? AND client_id = ?`,
		tenderID, clientID,
	)
	return eris.Wrapf(err, "sqlite: delete notification %s/%s", tenderID, clientID)
}

func (s *SQLiteStore) CountNotifications(ctx context.Context, tenderID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE tender_id = ?`, tenderID,
	).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: count notifications %s", tenderID)
}

// Payments

func (s *SQLiteStore) CreatePayment(ctx context.Context, p *model.Payment) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = model.PaymentStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, external_id, tender_id, client_id, amount, currency, status, report_sent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ExternalID, p.TenderID, p.ClientID, p.Amount.String(), p.Currency,
		string(p.Status), p.ReportSent, now, now,
	)
	return eris.Wrapf(err, "sqlite: create payment %s", p.ExternalID)
}

func (s *SQLiteStore) GetPaymentByExternalID(ctx context.Context, externalID string) (*model.Payment, error) {
	var p model.Payment
	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, tender_id, client_id, amount, currency, status, report_sent, created_at, updated_at
		 FROM payments WHERE external_id = ?`,
		externalID,
	).Scan(&p.ID, &p.ExternalID, &p.TenderID, &p.ClientID, &amount, &p.Currency,
		&p.Status, &p.ReportSent, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get payment %s", externalID)
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse payment amount")
	}
	return &p, nil
}

func (s *SQLiteStore) TransitionPayment(ctx context.Context, externalID string, from, to model.PaymentStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, eris.Errorf("invalid payment transition %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, updated_at = ? WHERE external_id = ? AND status = ?`,
		string(to), time.Now().UTC(), externalID, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition payment %s", externalID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkReportSent(ctx context.Context, externalID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET report_sent = 1, updated_at = ? WHERE external_id = ?`,
		time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark report sent %s", externalID)
	}
	return checkRowsAffected(res, "payment", externalID)
}

// Audit tasks

func (s *SQLiteStore) EnqueueAuditTask(ctx context.Context, task model.AuditTask) (bool, error) {
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

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_tasks (id, payment_id, tender_id, client_id, state, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (payment_id) DO NOTHING`,
		task.ID, task.PaymentID, task.TenderID, task.ClientID, string(task.State),
		task.Attempts, task.MaxAttempts, task.NextAttempt, task.LastError, now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: enqueue audit task %s", task.PaymentID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) DueAuditTasks(ctx context.Context, now time.Time, limit int) ([]model.AuditTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payment_id, tender_id, client_id, state, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at
		 FROM audit_tasks
		 WHERE state = ? AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC LIMIT ?`,
		string(model.AuditStatePending), now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due audit tasks")
	}
	defer rows.Close()

	var tasks []model.AuditTask
	for rows.Next() {
		var t model.AuditTask
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.TenderID, &t.ClientID, &t.State,
			&t.Attempts, &t.MaxAttempts, &t.NextAttempt, &t.LastError,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit task")
		}
		tasks = append(tasks, t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: due audit tasks iterate")
}

func (s *SQLiteStore) CompleteAuditTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_tasks SET state = ?, updated_at = ? WHERE id = ?`,
		string(model.AuditStateDone), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete audit task %s", id)
	}
	return checkRowsAffected(res, "audit_task", id)
}

func (s *SQLiteStore) RescheduleAuditTask(ctx context.Context, id string, next time.Time, lastErr string, manual bool) error {
	state := model.AuditStatePending
	if manual {
		state = model.AuditStateManual
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_tasks
		 SET attempts = attempts + 1, next_attempt_at = ?, last_error = ?, state = ?, updated_at = ?
		 WHERE id = ?`,
		next, lastErr, string(state), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reschedule audit task %s", id)
	}
	return checkRowsAffected(res, "audit_task", id)
}

// Participants

func (s *SQLiteStore) InsertParticipant(ctx context.Context, p *model.Participant) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now().UTC()

	var bid any
	if p.BidAmount != nil {
		bid = p.BidAmount.String()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (id, tender_id, tax_id, company_name, bid_amount, is_winner, email, phone, address, contacts_fetched, client_created, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tender_id, tax_id) DO NOTHING`,
		p.ID, p.TenderID, p.TaxID, p.CompanyName, bid, p.IsWinner,
		p.Email, p.Phone, p.Address, p.ContactsFetched, p.ClientCreated, p.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert participant %s/%s", p.TenderID, p.TaxID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) HasParticipants(ctx context.Context, tenderID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM participants WHERE tender_id = ?)`, tenderID,
	).Scan(&exists)
	return exists, eris.Wrapf(err, "sqlite: has participants %s", tenderID)
}

func (s *SQLiteStore) ListParticipantsNeedingContacts(ctx context.Context, limit int) ([]model.Participant, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE contacts_fetched = 0
		 ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list participants needing contacts")
	}
	defer rows.Close()
	return collectParticipantsSQL(rows)
}

func (s *SQLiteStore) SetParticipantContacts(ctx context.Context, id, email, phone, address string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET email = ?, phone = ?, address = ?, contacts_fetched = 1 WHERE id = ?`,
		email, phone, address, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set participant contacts %s", id)
	}
	return checkRowsAffected(res, "participant", id)
}

func (s *SQLiteStore) ListParticipantsForClientCreation(ctx context.Context, limit int) ([]model.Participant, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants
		 WHERE contacts_fetched = 1 AND client_created = 0 AND is_winner = 0 AND email <> ''
		 ORDER BY created_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list participants for client creation")
	}
	defer rows.Close()
	return collectParticipantsSQL(rows)
}

func (s *SQLiteStore) MarkClientCreated(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE participants SET client_created = 1 WHERE id = ?`, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark client created %s", id)
	}
	return checkRowsAffected(res, "participant", id)
}

// Lookup failure cache

func (s *SQLiteStore) RecordLookupFailure(ctx context.Context, taxID string, ttl time.Duration) error {
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lookup_failures (tax_id, expires_at) VALUES (?, ?)
		 ON CONFLICT (tax_id) DO UPDATE SET expires_at = excluded.expires_at`,
		taxID, expiresAt,
	)
	return eris.Wrapf(err, "sqlite: record lookup failure %s", taxID)
}

func (s *SQLiteStore) LookupRecentlyFailed(ctx context.Context, taxID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM lookup_failures WHERE tax_id = ? AND expires_at > ?)`,
		taxID, time.Now().UTC(),
	).Scan(&exists)
	return exists, eris.Wrapf(err, "sqlite: lookup recently failed %s", taxID)
}

// Job runs

func (s *SQLiteStore) StartJobRun(ctx context.Context, jobID string, leaseTTL time.Duration) (*model.JobRun, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, error = 'lease expired', finished_at = ?
		 WHERE job_id = ? AND finished_at IS NULL AND started_at < ?`,
		string(model.RunStatusFailed), now, jobID, now.Add(-leaseTTL),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: reap stale run %s", jobID)
	}

	run := &model.JobRun{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (id, job_id, status, started_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id) WHERE finished_at IS NULL DO NOTHING`,
		run.ID, jobID, string(run.Status), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: start job run %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, nil
	}
	return run, nil
}

func (s *SQLiteStore) FinishJobRun(ctx context.Context, runID string, status model.RunStatus, processed int, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET status = ?, processed = ?, error = ?, finished_at = ?
		 WHERE id = ? AND finished_at IS NULL`,
		string(status), processed, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish job run %s", runID)
	}
	return checkRowsAffected(res, "open run", runID)
}

func (s *SQLiteStore) ListJobRuns(ctx context.Context, jobID string, limit int) ([]model.JobRun, error) {
	query := `SELECT id, job_id, status, processed, error, started_at, finished_at FROM job_runs WHERE true`
	args := []any{}

	if jobID != "" {
		query += ` AND job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list job runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		var r model.JobRun
		if err := rows.Scan(&r.ID, &r.JobID, &r.Status, &r.Processed, &r.Error,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list job runs iterate")
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenderSQL(row rowScanner) (*model.Tender, error) {
	var t model.Tender
	var price string
	var docsJSON sql.NullString
	err := row.Scan(&t.ID, &t.ExternalID, &t.Title, &t.URL, &price, &t.Category,
		&t.Customer, &t.Status, &docsJSON, &t.RiskScore, &t.MarginEstimate,
		&t.Summary, &t.DeepAnalysis, &t.PublishedAt, &t.AnalyzedAt,
		&t.NotifiedAt, &t.SoldAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, eris.Wrap(err, "parse tender price")
	}
	if docsJSON.Valid && docsJSON.String != "" {
		if err := json.Unmarshal([]byte(docsJSON.String), &t.Documents); err != nil {
			return nil, eris.Wrap(err, "unmarshal documents")
		}
	}
	return &t, nil
}

func collectTendersSQL(rows *sql.Rows) ([]model.Tender, error) {
	var tenders []model.Tender
	for rows.Next() {
		t, err := scanTenderSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tender")
		}
		tenders = append(tenders, *t)
	}
	return tenders, eris.Wrap(rows.Err(), "sqlite: tenders iterate")
}

func scanClientSQL(row rowScanner) (*model.Client, error) {
	var c model.Client
	var kwJSON string
	var minPrice, maxPrice sql.NullString
	err := row.Scan(&c.ID, &c.Email, &c.Name, &c.Company, &c.Phone, &c.Active,
		&kwJSON, &minPrice, &maxPrice, &c.Origin, &c.LeadTaxID, &c.LeadTenderID,
		&c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if kwJSON != "" {
		if err := json.Unmarshal([]byte(kwJSON), &c.Keywords); err != nil {
			return nil, eris.Wrap(err, "unmarshal keywords")
		}
	}
	if minPrice.Valid {
		d, err := decimal.NewFromString(minPrice.String)
		if err != nil {
			return nil, eris.Wrap(err, "parse min price")
		}
		c.MinPrice = &d
	}
	if maxPrice.Valid {
		d, err := decimal.NewFromString(maxPrice.String)
		if err != nil {
			return nil, eris.Wrap(err, "parse max price")
		}
		c.MaxPrice = &d
	}
	return &c, nil
}

func collectParticipantsSQL(rows *sql.Rows) ([]model.Participant, error) {
	var participants []model.Participant
	for rows.Next() {
		var p model.Participant
		var bid sql.NullString
		if err := rows.Scan(&p.ID, &p.TenderID, &p.TaxID, &p.CompanyName, &bid,
			&p.IsWinner, &p.Email, &p.Phone, &p.Address,
			&p.ContactsFetched, &p.ClientCreated, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan participant")
		}
		if bid.Valid {
			d, err := decimal.NewFromString(bid.String)
			if err != nil {
				return nil, eris.Wrap(err, "parse bid amount")
			}
			p.BidAmount = &d
		}
		participants = append(participants, p)
	}
	return participants, eris.Wrap(rows.Err(), "sqlite: participants iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/farhan/wagate/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone_number TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'disconnected',
			api_key TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS webhooks (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			secret TEXT NOT NULL DEFAULT '',
			events TEXT NOT NULL DEFAULT '[]',
			max_retries INTEGER NOT NULL DEFAULT 3,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// webhook_id carries no foreign key: a delivery keeps its url/secret
		// snapshot and must survive deletion of the webhook row.
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			webhook_id TEXT NOT NULL,
			webhook_url TEXT NOT NULL,
			webhook_secret TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempt_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			last_error TEXT NOT NULL DEFAULT '',
			response_status INTEGER NOT NULL DEFAULT 0,
			next_attempt_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_api_key ON accounts(api_key)`,
		`CREATE INDEX IF NOT EXISTS idx_webhooks_account ON webhooks(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_account ON deliveries(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(status, next_attempt_at) WHERE status IN ('pending', 'failed')`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- Accounts ---

func (s *SQLiteStorage) CreateAccount(ctx context.Context, acc *models.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, phone_number, status, api_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.Name, acc.PhoneNumber, acc.Status, acc.APIKey, acc.CreatedAt, acc.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanAccount(row interface{ Scan(...interface{}) error }) (*models.Account, error) {
	var acc models.Account
	err := row.Scan(&acc.ID, &acc.Name, &acc.PhoneNumber, &acc.Status, &acc.APIKey, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *SQLiteStorage) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, status, api_key, created_at, updated_at FROM accounts WHERE id = ?`, id)
	acc, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acc, err
}

func (s *SQLiteStorage) GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, status, api_key, created_at, updated_at FROM accounts WHERE api_key = ?`, apiKey)
	acc, err := s.scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return acc, err
}

func (s *SQLiteStorage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone_number, status, api_key, created_at, updated_at FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		acc, err := s.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes the tenant; webhooks and delivery records cascade,
// so pending deliveries for a deleted account never fire.
func (s *SQLiteStorage) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) UpdateAccountAPIKey(ctx context.Context, id, newKey string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET api_key = ?, updated_at = ? WHERE id = ?`,
		newKey, time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) UpdateAccountStatus(ctx context.Context, id string, status models.AccountStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	return err
}

// --- Webhooks ---

func (s *SQLiteStorage) CreateWebhook(ctx context.Context, wh *models.Webhook) error {
	events, _ := json.Marshal(wh.Events)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, account_id, url, secret, events, max_retries, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wh.ID, wh.AccountID, wh.URL, wh.Secret, string(events), wh.MaxRetries, boolToInt(wh.Active), wh.CreatedAt, wh.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) scanWebhook(row interface{ Scan(...interface{}) error }) (*models.Webhook, error) {
	var wh models.Webhook
	var events string
	var active int
	err := row.Scan(&wh.ID, &wh.AccountID, &wh.URL, &wh.Secret, &events, &wh.MaxRetries, &active, &wh.CreatedAt, &wh.UpdatedAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(events), &wh.Events)
	wh.Active = active == 1
	return &wh, nil
}

func (s *SQLiteStorage) GetWebhook(ctx context.Context, id string) (*models.Webhook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, url, secret, events, max_retries, active, created_at, updated_at FROM webhooks WHERE id = ?`, id)
	wh, err := s.scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wh, err
}

func (s *SQLiteStorage) ListWebhooks(ctx context.Context, accountID string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, url, secret, events, max_retries, active, created_at, updated_at
		 FROM webhooks WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		wh, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, *wh)
	}
	return webhooks, rows.Err()
}

func (s *SQLiteStorage) UpdateWebhook(ctx context.Context, wh *models.Webhook) error {
	events, _ := json.Marshal(wh.Events)
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET url = ?, secret = ?, events = ?, max_retries = ?, active = ?, updated_at = ? WHERE id = ?`,
		wh.URL, wh.Secret, string(events), wh.MaxRetries, boolToInt(wh.Active), time.Now().UTC(), wh.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteWebhook(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ToggleWebhook(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id,
	)
	return err
}

func (s *SQLiteStorage) ActiveWebhooks(ctx context.Context, accountID, eventKind string) ([]models.Webhook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, url, secret, events, max_retries, active, created_at, updated_at
		 FROM webhooks WHERE account_id = ? AND active = 1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		wh, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		if matchesEvent(wh.Events, eventKind) {
			webhooks = append(webhooks, *wh)
		}
	}
	return webhooks, rows.Err()
}

func matchesEvent(subscribed []string, eventKind string) bool {
	if len(subscribed) == 0 {
		return true // no filter means all events
	}
	for _, sub := range subscribed {
		if sub == eventKind || sub == "*" {
			return true
		}
		// wildcard matching: "message.*" matches "message.ack"
		if strings.HasSuffix(sub, ".*") {
			prefix := strings.TrimSuffix(sub, ".*")
			if strings.HasPrefix(eventKind, prefix+".") {
				return true
			}
		}
	}
	return false
}

// --- Delivery queue ---

// queueErr maps a missing deliveries table onto ErrQueueUnavailable so the
// facade can distinguish "migration never ran" from ordinary I/O trouble.
func queueErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return err
}

func (s *SQLiteStorage) EnqueueDelivery(ctx context.Context, rec *models.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, account_id, webhook_id, webhook_url, webhook_secret, payload, status, attempt_count, max_retries, last_error, response_status, next_attempt_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AccountID, rec.WebhookID, rec.WebhookURL, rec.WebhookSecret, string(rec.Payload),
		rec.Status, rec.AttemptCount, rec.MaxRetries, rec.LastError, rec.ResponseStatus,
		rec.NextAttemptAt, rec.CreatedAt, rec.UpdatedAt,
	)
	return queueErr(err)
}

const deliveryColumns = `id, account_id, webhook_id, webhook_url, webhook_secret, payload, status, attempt_count, max_retries, last_error, response_status, next_attempt_at, created_at, updated_at`

func (s *SQLiteStorage) scanDelivery(row interface{ Scan(...interface{}) error }) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	var payload string
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.WebhookID, &rec.WebhookURL, &rec.WebhookSecret, &payload,
		&rec.Status, &rec.AttemptCount, &rec.MaxRetries, &rec.LastError, &rec.ResponseStatus,
		&rec.NextAttemptAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Payload = json.RawMessage(payload)
	return &rec, nil
}

func (s *SQLiteStorage) GetDelivery(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
	rec, err := s.scanDelivery(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, queueErr(err)
}

func (s *SQLiteStorage) DueDeliveries(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+`
		 FROM deliveries
		 WHERE status IN ('pending', 'failed') AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC LIMIT ?`,
		time.Now().UTC(), limit)
	if err != nil {
		return nil, queueErr(err)
	}
	defer rows.Close()

	var recs []models.DeliveryRecord
	for rows.Next() {
		rec, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// ClaimDelivery flips the record to processing and bumps attempt_count in a
// single conditional UPDATE. The status guard is the only concurrency control
// in the system: a lost race returns (nil, nil), never an error.
func (s *SQLiteStorage) ClaimDelivery(ctx context.Context, rec *models.DeliveryRecord) (*models.DeliveryRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET status = 'processing', attempt_count = attempt_count + 1, updated_at = ?
		 WHERE id = ? AND status IN ('pending', 'failed')`,
		time.Now().UTC(), rec.ID,
	)
	if err != nil {
		return nil, queueErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // another claimant won
	}
	return s.GetDelivery(ctx, rec.ID)
}

func (s *SQLiteStorage) CompleteDelivery(ctx context.Context, id string, responseStatus int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = 'success', response_status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		responseStatus, time.Now().UTC(), id,
	)
	return queueErr(err)
}

func (s *SQLiteStorage) FailDelivery(ctx context.Context, rec *models.DeliveryRecord, errMsg string, responseStatus int, nextAttemptAt time.Time, deadLetter bool) error {
	status := models.DeliveryFailed
	if deadLetter {
		status = models.DeliveryDeadLetter
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, last_error = ?, response_status = ?, next_attempt_at = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, responseStatus, nextAttemptAt, time.Now().UTC(), rec.ID,
	)
	return queueErr(err)
}

// ResetStuckDeliveries returns records abandoned mid-processing by a crashed
// worker to the claimable pool. Runs once at worker startup.
func (s *SQLiteStorage) ResetStuckDeliveries(ctx context.Context, maxAge time.Duration) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET status = 'failed', last_error = 'reset: stuck in processing', next_attempt_at = ?, updated_at = ?
		 WHERE status = 'processing' AND updated_at < ?`,
		now, now, now.Add(-maxAge),
	)
	if err != nil {
		return 0, queueErr(err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) ListDeadLetters(ctx context.Context, accountID string, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+`
		 FROM deliveries WHERE account_id = ? AND status = 'dead_letter'
		 ORDER BY updated_at DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, queueErr(err)
	}
	defer rows.Close()

	var recs []models.DeliveryRecord
	for rows.Next() {
		rec, err := s.scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// RequeueDelivery gives a dead-lettered record a fresh attempt budget.
func (s *SQLiteStorage) RequeueDelivery(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE deliveries
		 SET status = 'pending', attempt_count = 0, last_error = '', next_attempt_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'dead_letter'`,
		now, now, id,
	)
	if err != nil {
		return queueErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delivery %s is not dead-lettered", id)
	}
	return nil
}

func (s *SQLiteStorage) PurgeTerminalDeliveries(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE status IN ('success', 'dead_letter') AND updated_at < ?`,
		time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, queueErr(err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) QueueStats(ctx context.Context, accountID string) (*QueueStats, error) {
	query := `SELECT status, COUNT(*) FROM deliveries GROUP BY status`
	args := []interface{}{}
	if accountID != "" {
		query = `SELECT status, COUNT(*) FROM deliveries WHERE account_id = ? GROUP BY status`
		args = append(args, accountID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queueErr(err)
	}
	defer rows.Close()

	stats := &QueueStats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch models.DeliveryStatus(status) {
		case models.DeliveryPending:
			stats.Pending = count
		case models.DeliveryProcessing:
			stats.Processing = count
		case models.DeliverySuccess:
			stats.Success = count
		case models.DeliveryFailed:
			stats.Failed = count
		case models.DeliveryDeadLetter:
			stats.DeadLetter = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

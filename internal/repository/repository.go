// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	dialect := database.DialectSQLite3
	if r.driver == "postgres" {
		dialect = database.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, r.db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	_, err = provider.Up(ctx)
	return err
}

const transactionColumns = `
	tenant_id, tx_id, sender_phone_hash, receiver_phone_hash, device_id_hash,
	amount, tx_type, location, merchant_id, account_age_days, previous_disputes,
	timestamp, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.StoredTransaction, error) {
	var tx domain.StoredTransaction
	err := row.Scan(
		&tx.TenantID, &tx.TxID,
		&tx.SenderPhoneHash, &tx.ReceiverPhoneHash, &tx.DeviceIDHash,
		&tx.Amount, &tx.TxType, &tx.Location, &tx.MerchantID,
		&tx.AccountAgeDays, &tx.PreviousDisputes,
		&tx.Timestamp, &tx.Status, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// SaveTransaction stores a transaction with tenant isolation.
// Saving an existing tx_id updates its status.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.StoredTransaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if tx.TxID == "" {
		return fmt.Errorf("%w: tx_id is required", ErrInvalidInput)
	}

	status := tx.Status
	if status == "" {
		status = domain.TxStatusPending
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, tx_id) DO UPDATE SET
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, tx.TxID,
		tx.SenderPhoneHash, tx.ReceiverPhoneHash, tx.DeviceIDHash,
		tx.Amount, tx.TxType, tx.Location, tx.MerchantID,
		tx.AccountAgeDays, tx.PreviousDisputes,
		tx.Timestamp.UTC(), status, createdAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.StoredTransaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tenant_id = ? AND tx_id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns a tenant's transactions, newest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string, limit, offset int) ([]*domain.StoredTransaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ?
		ORDER BY created_at DESC, tx_id
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.StoredTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

// UpdateTransactionStatus sets the lifecycle status of a transaction.
func (r *SQLRepository) UpdateTransactionStatus(ctx context.Context, tenantID string, txID string, status string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE transactions SET status = ? WHERE tenant_id = ? AND tx_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, tenantID, txID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAssessment stores an assessment result with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, rec *domain.AssessmentRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	importances, err := json.Marshal(rec.FeatureImportances)
	if err != nil {
		return fmt.Errorf("%w: feature importances: %v", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO risk_assessments (
			id, tenant_id, tx_id, risk_score, risk_label, explanation,
			action, features, model_version, ledger_tx_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.TxID, rec.RiskScore, string(rec.RiskLabel), rec.Explanation,
		string(rec.Action), string(importances), rec.ModelVersion, rec.LedgerTxHash, rec.CreatedAt.UTC(),
	)
	return err
}

// GetAssessmentByTx returns the most recent assessment of a transaction.
func (r *SQLRepository) GetAssessmentByTx(ctx context.Context, tenantID string, txID string) (*domain.AssessmentRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, risk_score, risk_label, explanation,
			   action, features, model_version, ledger_tx_hash, created_at
		FROM risk_assessments
		WHERE tenant_id = ? AND tx_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var rec domain.AssessmentRecord
	var label, action string
	var importances sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&rec.ID, &rec.TenantID, &rec.TxID, &rec.RiskScore, &label, &rec.Explanation,
		&action, &importances, &rec.ModelVersion, &rec.LedgerTxHash, &rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.RiskLabel = domain.RiskLabel(label)
	rec.Action = domain.Action(action)
	if importances.Valid && importances.String != "" && importances.String != "null" {
		if err := json.Unmarshal([]byte(importances.String), &rec.FeatureImportances); err != nil {
			return nil, fmt.Errorf("failed to parse feature importances: %w", err)
		}
	}

	return &rec, nil
}

// SaveModelArtifact stores a serialized model.
func (r *SQLRepository) SaveModelArtifact(ctx context.Context, artifact *domain.ModelArtifact) error {
	if artifact.Version == "" || len(artifact.Data) == 0 {
		return fmt.Errorf("%w: artifact version and data are required", ErrInvalidInput)
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO model_artifacts (version, data, samples, fraud_samples, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		artifact.Version, artifact.Data, artifact.Samples, artifact.FraudSamples, createdAt,
	)
	return err
}

// GetLatestModelArtifact returns the most recently stored model.
func (r *SQLRepository) GetLatestModelArtifact(ctx context.Context) (*domain.ModelArtifact, error) {
	query := `
		SELECT version, data, samples, fraud_samples, created_at
		FROM model_artifacts
		ORDER BY created_at DESC
		LIMIT 1
	`

	var a domain.ModelArtifact
	err := r.db.QueryRowContext(ctx, query).Scan(
		&a.Version, &a.Data, &a.Samples, &a.FraudSamples, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// BlockAccount blocks a phone hash for a tenant, replacing any earlier block.
func (r *SQLRepository) BlockAccount(ctx context.Context, tenantID string, acct *domain.BlockedAccount) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if acct.PhoneHash == "" {
		return fmt.Errorf("%w: phone hash is required", ErrInvalidInput)
	}

	permanent := 0
	if acct.IsPermanent {
		permanent = 1
	}
	blockedBy := acct.BlockedBy
	if blockedBy == "" {
		blockedBy = "system"
	}
	blockedAt := acct.BlockedAt
	if blockedAt.IsZero() {
		blockedAt = time.Now().UTC()
	}

	var unblockAt sql.NullTime
	if acct.UnblockAt != nil {
		unblockAt = sql.NullTime{Time: acct.UnblockAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO blocked_accounts (
			tenant_id, phone_hash, reason, blocked_by, is_permanent, blocked_at, unblock_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, phone_hash) DO UPDATE SET
			reason = excluded.reason,
			blocked_by = excluded.blocked_by,
			is_permanent = excluded.is_permanent,
			blocked_at = excluded.blocked_at,
			unblock_at = excluded.unblock_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, acct.PhoneHash, acct.Reason, blockedBy, permanent, blockedAt.UTC(), unblockAt,
	)
	return err
}

// IsAccountBlocked reports whether a phone hash is blocked right now.
func (r *SQLRepository) IsAccountBlocked(ctx context.Context, tenantID string, phoneHash string) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT is_permanent, unblock_at
		FROM blocked_accounts
		WHERE tenant_id = ? AND phone_hash = ?
	`

	var permanent int
	var unblockAt sql.NullTime
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, phoneHash).Scan(&permanent, &unblockAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if permanent == 1 || !unblockAt.Valid {
		return true, nil
	}
	return time.Now().Before(unblockAt.Time), nil
}

// ListBlockedAccounts returns all blocks of a tenant, newest first.
func (r *SQLRepository) ListBlockedAccounts(ctx context.Context, tenantID string) ([]*domain.BlockedAccount, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, phone_hash, reason, blocked_by, is_permanent, blocked_at, unblock_at
		FROM blocked_accounts
		WHERE tenant_id = ?
		ORDER BY blocked_at DESC, phone_hash
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.BlockedAccount
	for rows.Next() {
		var a domain.BlockedAccount
		var permanent int
		var unblockAt sql.NullTime

		if err := rows.Scan(
			&a.TenantID, &a.PhoneHash, &a.Reason, &a.BlockedBy,
			&permanent, &a.BlockedAt, &unblockAt,
		); err != nil {
			return nil, err
		}

		a.IsPermanent = permanent == 1
		if unblockAt.Valid {
			t := unblockAt.Time
			a.UnblockAt = &t
		}
		accounts = append(accounts, &a)
	}

	return accounts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

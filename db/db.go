package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/opsgate/releasegate/gate"
	"github.com/opsgate/releasegate/models"
)

type Database struct {
	db *sql.DB
}

func New(path string) (*Database, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deployments (
		id TEXT PRIMARY KEY,
		service_name TEXT NOT NULL,
		version TEXT NOT NULL,
		environment TEXT NOT NULL,
		strategy TEXT NOT NULL,
		change_control TEXT NOT NULL,
		deployed_by TEXT NOT NULL,
		status TEXT NOT NULL,
		type TEXT NOT NULL,
		report_id TEXT,
		deployed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_service_name ON deployments(service_name);
	CREATE INDEX IF NOT EXISTS idx_deployed_at ON deployments(deployed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_status ON deployments(status);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		action TEXT NOT NULL,
		details TEXT,
		actor TEXT NOT NULL,
		change_control TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_change_control ON audit_entries(change_control);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_entries(timestamp DESC);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		deployment_id TEXT NOT NULL,
		service_name TEXT NOT NULL,
		compliance_status TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_report_service ON reports(service_name);

	CREATE TABLE IF NOT EXISTS leases (
		target TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

func (d *Database) CreateDeployment(dep *models.Deployment) error {
	_, err := d.db.Exec(`
		INSERT INTO deployments (id, service_name, version, environment, strategy, change_control, deployed_by, status, type, report_id, deployed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, dep.ID, dep.Service, dep.Version, dep.Environment, dep.Strategy, dep.ChangeControl, dep.DeployedBy, dep.Status, dep.Type, dep.ReportID, dep.DeployedAt)

	return err
}

func (d *Database) UpdateDeploymentStatus(id, status string) error {
	_, err := d.db.Exec(`UPDATE deployments SET status = ? WHERE id = ?`, status, id)
	return err
}

func (d *Database) SetDeploymentReport(id, reportID string) error {
	_, err := d.db.Exec(`UPDATE deployments SET report_id = ? WHERE id = ?`, reportID, id)
	return err
}

func (d *Database) GetDeployment(id string) (*models.Deployment, error) {
	var dep models.Deployment
	var reportID sql.NullString
	err := d.db.QueryRow(`
		SELECT id, service_name, version, environment, strategy, change_control, deployed_by, status, type, report_id, deployed_at
		FROM deployments WHERE id = ?
	`, id).Scan(&dep.ID, &dep.Service, &dep.Version, &dep.Environment, &dep.Strategy, &dep.ChangeControl, &dep.DeployedBy, &dep.Status, &dep.Type, &reportID, &dep.DeployedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment not found")
	}
	dep.ReportID = reportID.String
	return &dep, err
}

func (d *Database) GetDeployments(serviceName string, limit, offset int) ([]models.Deployment, int, error) {
	// Get total count
	var total int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM deployments WHERE service_name = ?`, serviceName).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := d.db.Query(`
		SELECT id, service_name, version, environment, strategy, change_control, deployed_by, status, type, report_id, deployed_at
		FROM deployments
		WHERE service_name = ?
		ORDER BY deployed_at DESC
		LIMIT ? OFFSET ?
	`, serviceName, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var deployments []models.Deployment
	for rows.Next() {
		var dep models.Deployment
		var reportID sql.NullString
		if err := rows.Scan(&dep.ID, &dep.Service, &dep.Version, &dep.Environment, &dep.Strategy, &dep.ChangeControl, &dep.DeployedBy, &dep.Status, &dep.Type, &reportID, &dep.DeployedAt); err != nil {
			return nil, 0, err
		}
		dep.ReportID = reportID.String
		deployments = append(deployments, dep)
	}

	return deployments, total, rows.Err()
}

// GetCurrentDeployment returns the most recent successful deployment for a
// service in an environment, or nil if there is none.
func (d *Database) GetCurrentDeployment(serviceName string, environment models.Environment) (*models.Deployment, error) {
	var dep models.Deployment
	var reportID sql.NullString
	err := d.db.QueryRow(`
		SELECT id, service_name, version, environment, strategy, change_control, deployed_by, status, type, report_id, deployed_at
		FROM deployments
		WHERE service_name = ? AND environment = ? AND status = 'success'
		ORDER BY deployed_at DESC
		LIMIT 1
	`, serviceName, environment).Scan(&dep.ID, &dep.Service, &dep.Version, &dep.Environment, &dep.Strategy, &dep.ChangeControl, &dep.DeployedBy, &dep.Status, &dep.Type, &reportID, &dep.DeployedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	dep.ReportID = reportID.String
	return &dep, err
}

// GetPreviousSuccessfulDeployment returns the rollback target for a service
// in an environment: the most recent successful deployment older than the
// currently running one. Failed attempts and other environments never
// shadow the target. Returns nil if there is nothing to roll back to.
func (d *Database) GetPreviousSuccessfulDeployment(serviceName string, environment models.Environment) (*models.Deployment, error) {
	current, err := d.GetCurrentDeployment(serviceName, environment)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	var dep models.Deployment
	var reportID sql.NullString
	err = d.db.QueryRow(`
		SELECT id, service_name, version, environment, strategy, change_control, deployed_by, status, type, report_id, deployed_at
		FROM deployments
		WHERE service_name = ? AND environment = ? AND status = 'success' AND deployed_at < ?
		ORDER BY deployed_at DESC
		LIMIT 1
	`, serviceName, environment, current.DeployedAt).Scan(&dep.ID, &dep.Service, &dep.Version, &dep.Environment, &dep.Strategy, &dep.ChangeControl, &dep.DeployedBy, &dep.Status, &dep.Type, &reportID, &dep.DeployedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	dep.ReportID = reportID.String
	return &dep, err
}

// AppendAuditEntry appends one immutable audit record. There is no update or
// delete path for audit_entries by design.
func (d *Database) AppendAuditEntry(entry *models.AuditEntry) error {
	res, err := d.db.Exec(`
		INSERT INTO audit_entries (timestamp, action, details, actor, change_control)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Timestamp, entry.Action, entry.Details, entry.Actor, entry.ChangeControl)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (d *Database) GetAuditEntries(changeControl string, limit, offset int) ([]models.AuditEntry, int, error) {
	where := ""
	args := []interface{}{}
	if changeControl != "" {
		where = "WHERE change_control = ?"
		args = append(args, changeControl)
	}

	var total int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM audit_entries `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := d.db.Query(`
		SELECT id, timestamp, action, details, actor, change_control
		FROM audit_entries `+where+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &details, &e.Actor, &e.ChangeControl); err != nil {
			return nil, 0, err
		}
		e.Details = details.String
		entries = append(entries, e)
	}

	return entries, total, rows.Err()
}

func (d *Database) SaveReport(report *models.ComplianceReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	_, err = d.db.Exec(`
		INSERT INTO reports (id, deployment_id, service_name, compliance_status, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, report.ID, report.DeploymentID, report.Service, report.ComplianceStatus, string(body), report.CompletedAt)
	return err
}

func (d *Database) GetReport(id string) (*models.ComplianceReport, error) {
	var body string
	err := d.db.QueryRow(`SELECT body FROM reports WHERE id = ?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("report not found")
	}
	if err != nil {
		return nil, err
	}

	var report models.ComplianceReport
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

func (d *Database) GetReports(serviceName string, limit, offset int) ([]models.ComplianceReport, int, error) {
	var total int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM reports WHERE service_name = ?`, serviceName).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := d.db.Query(`
		SELECT body FROM reports
		WHERE service_name = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, serviceName, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var reports []models.ComplianceReport
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, 0, err
		}
		var report models.ComplianceReport
		if err := json.Unmarshal([]byte(body), &report); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		reports = append(reports, report)
	}

	return reports, total, rows.Err()
}

// AcquireLease takes the deployment lease for a target (service/environment
// pair). Only one invocation may hold the lease at a time; expired leases
// from crashed invocations are reaped on acquisition.
func (d *Database) AcquireLease(target, holder string, ttl time.Duration) error {
	now := time.Now()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM leases WHERE target = ? AND expires_at < ?`, target, now); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO leases (target, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, target, holder, now, now.Add(ttl))
	if err != nil {
		// Only a primary-key violation means the lease is held; anything
		// else is an infrastructure failure, not a conflict.
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("deployment already in progress for %s: %w", target, gate.ErrLeaseHeld)
		}
		return fmt.Errorf("failed to acquire lease for %s: %w", target, err)
	}

	return tx.Commit()
}

// ReleaseLease releases a lease held by holder. Releasing a lease that was
// already reaped is not an error.
func (d *Database) ReleaseLease(target, holder string) error {
	_, err := d.db.Exec(`DELETE FROM leases WHERE target = ? AND holder = ?`, target, holder)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping() error {
	return d.db.Ping()
}

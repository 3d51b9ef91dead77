package db

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/releasegate/gate"
	"github.com/opsgate/releasegate/models"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func sampleDeployment(id, version string, deployedAt time.Time) *models.Deployment {
	return &models.Deployment{
		ID:            id,
		Service:       "filler-line",
		Version:       version,
		Environment:   models.EnvironmentProduction,
		Strategy:      models.StrategyRolling,
		ChangeControl: "CC-1001",
		DeployedBy:    "jdoe",
		Status:        "success",
		Type:          "deploy",
		DeployedAt:    deployedAt,
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	d := testDB(t)

	dep := sampleDeployment("dep-1", "v1.0.0", time.Now().UTC())
	dep.ReportID = "rep-1"
	require.NoError(t, d.CreateDeployment(dep))

	got, err := d.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, "filler-line", got.Service)
	assert.Equal(t, "v1.0.0", got.Version)
	assert.Equal(t, "CC-1001", got.ChangeControl)
	assert.Equal(t, "rep-1", got.ReportID)
	assert.Equal(t, models.EnvironmentProduction, got.Environment)

	require.NoError(t, d.UpdateDeploymentStatus("dep-1", "rolled_back"))
	got, err = d.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", got.Status)

	require.NoError(t, d.SetDeploymentReport("dep-1", "rep-2"))
	got, err = d.GetDeployment("dep-1")
	require.NoError(t, err)
	assert.Equal(t, "rep-2", got.ReportID)
}

func TestGetDeploymentNotFound(t *testing.T) {
	d := testDB(t)

	_, err := d.GetDeployment("missing")
	assert.EqualError(t, err, "deployment not found")
}

func TestGetDeploymentsPagination(t *testing.T) {
	d := testDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		dep := sampleDeployment(
			fmt.Sprintf("dep-%d", i),
			fmt.Sprintf("v1.0.%d", i),
			base.Add(time.Duration(i)*time.Hour),
		)
		require.NoError(t, d.CreateDeployment(dep))
	}

	deployments, total, err := d.GetDeployments("filler-line", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, deployments, 2)
	// Most recent first.
	assert.Equal(t, "v1.0.4", deployments[0].Version)
	assert.Equal(t, "v1.0.3", deployments[1].Version)

	deployments, total, err = d.GetDeployments("filler-line", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, deployments, 1)
	assert.Equal(t, "v1.0.0", deployments[0].Version)

	deployments, total, err = d.GetDeployments("other-service", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, deployments)
}

func TestGetCurrentDeployment(t *testing.T) {
	d := testDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := sampleDeployment("dep-1", "v1.0.0", base)
	require.NoError(t, d.CreateDeployment(first))

	failed := sampleDeployment("dep-2", "v1.1.0", base.Add(time.Hour))
	failed.Status = "failed"
	require.NoError(t, d.CreateDeployment(failed))

	// Only the most recent *successful* deployment counts as current.
	current, err := d.GetCurrentDeployment("filler-line", models.EnvironmentProduction)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "v1.0.0", current.Version)

	current, err = d.GetCurrentDeployment("filler-line", models.EnvironmentStaging)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestGetPreviousSuccessfulDeployment(t *testing.T) {
	d := testDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	oldest := sampleDeployment("dep-1", "v2.0.4", base)
	require.NoError(t, d.CreateDeployment(oldest))

	// With a single success there is nothing older to roll back to.
	prev, err := d.GetPreviousSuccessfulDeployment("filler-line", models.EnvironmentProduction)
	require.NoError(t, err)
	assert.Nil(t, prev)

	staging := sampleDeployment("dep-2", "v2.2.0-rc1", base.Add(30*time.Minute))
	staging.Environment = models.EnvironmentStaging
	require.NoError(t, d.CreateDeployment(staging))

	running := sampleDeployment("dep-3", "v2.1.0", base.Add(time.Hour))
	require.NoError(t, d.CreateDeployment(running))

	rejected := sampleDeployment("dep-4", "v3.0.0", base.Add(2*time.Hour))
	rejected.Status = "failed"
	require.NoError(t, d.CreateDeployment(rejected))

	// The target is the success before the currently running one; the failed
	// attempt and the staging row never shadow it.
	prev, err = d.GetPreviousSuccessfulDeployment("filler-line", models.EnvironmentProduction)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "v2.0.4", prev.Version)
	assert.Equal(t, "dep-1", prev.ID)

	prev, err = d.GetPreviousSuccessfulDeployment("filler-line", models.EnvironmentStaging)
	require.NoError(t, err)
	assert.Nil(t, prev)
}

func TestAuditEntries(t *testing.T) {
	d := testDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []models.AuditEntry{
		{Timestamp: base, Action: "DEPLOYMENT_STARTED", Actor: "jdoe", ChangeControl: "CC-1001"},
		{Timestamp: base.Add(time.Minute), Action: "CONFIG_APPLIED", Details: "version=v1.1.0", Actor: "jdoe", ChangeControl: "CC-1001"},
		{Timestamp: base.Add(2 * time.Minute), Action: "DEPLOYMENT_STARTED", Actor: "asmith", ChangeControl: "CC-1002"},
	}
	for i := range entries {
		require.NoError(t, d.AppendAuditEntry(&entries[i]))
		assert.NotZero(t, entries[i].ID)
	}

	all, total, err := d.GetAuditEntries("", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	// Most recent first.
	assert.Equal(t, "CC-1002", all[0].ChangeControl)

	filtered, total, err := d.GetAuditEntries("CC-1001", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, filtered, 2)
	for _, e := range filtered {
		assert.Equal(t, "CC-1001", e.ChangeControl)
	}
	assert.Equal(t, "version=v1.1.0", filtered[0].Details)
}

func TestReports(t *testing.T) {
	d := testDB(t)

	report := &models.ComplianceReport{
		ID:               "rep-1",
		DeploymentID:     "dep-1",
		Service:          "filler-line",
		Version:          "v1.1.0",
		ChangeControl:    "CC-1001",
		ValidatedBy:      "jdoe",
		Strategy:         models.StrategyBlueGreen,
		Environment:      models.EnvironmentProduction,
		ComplianceStatus: models.StatusCompliant,
		Checks: []models.CheckResult{
			{Name: "production_active", Stage: "PRODUCTION_STATE_CHECK", Outcome: models.OutcomePass},
		},
		StartedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC),
	}
	require.NoError(t, d.SaveReport(report))

	got, err := d.GetReport("rep-1")
	require.NoError(t, err)
	assert.Equal(t, report.DeploymentID, got.DeploymentID)
	assert.Equal(t, report.ComplianceStatus, got.ComplianceStatus)
	require.Len(t, got.Checks, 1)
	assert.Equal(t, "production_active", got.Checks[0].Name)

	_, err = d.GetReport("missing")
	assert.EqualError(t, err, "report not found")

	reports, total, err := d.GetReports("filler-line", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, reports, 1)
	assert.Equal(t, "rep-1", reports[0].ID)
}

func TestLeases(t *testing.T) {
	d := testDB(t)

	target := "filler-line/production"

	require.NoError(t, d.AcquireLease(target, "run-1", time.Minute))

	// A second acquisition while held must fail as a conflict.
	err := d.AcquireLease(target, "run-2", time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, gate.ErrLeaseHeld)

	// A different target is independent.
	require.NoError(t, d.AcquireLease("labeler/production", "run-3", time.Minute))

	require.NoError(t, d.ReleaseLease(target, "run-1"))
	assert.NoError(t, d.AcquireLease(target, "run-2", time.Minute))

	// Releasing an already-released lease is not an error.
	assert.NoError(t, d.ReleaseLease(target, "run-1"))
}

func TestExpiredLeaseIsReaped(t *testing.T) {
	d := testDB(t)

	target := "filler-line/production"

	require.NoError(t, d.AcquireLease(target, "crashed-run", -time.Second))
	assert.NoError(t, d.AcquireLease(target, "new-run", time.Minute))
}

func TestAcquireLeaseInfrastructureFailure(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.Close())

	// A broken store must not masquerade as a held lease.
	err := d.AcquireLease("filler-line/production", "run-1", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, gate.ErrLeaseHeld)
}

// Package testutil holds database & fixture helpers shared by the test suites.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/wastewise/core/certification"
	"github.com/trezcool/wastewise/core/user"
	"github.com/trezcool/wastewise/storage/database"
)

// PrepareDB opens a private, migrated in-memory sqlite database, closed when the test ends.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		OrganizationID: "3b7c5f0e-0d7e-4d0c-9c0a-6e2a9b1f0c11",
		Name:           name,
		Username:       uname,
		Email:          email,
		Roles:          roles,
		IsActive:       isActive,
		CreatedAt:      tstamp,
		UpdatedAt:      tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

func CreateTypes(t *testing.T, repo certification.TypeRepository, types ...certification.Type) []certification.Type {
	t.Helper()

	if err := repo.UpsertTypes(context.Background(), types...); err != nil {
		t.Fatalf("CreateTypes() failed: %v", err)
	}
	return types
}

// CreateProgress stores a progress record of usr that reached stage, entering each stage a day apart from startedAt.
func CreateProgress(
	t *testing.T,
	repo certification.ProgressRepository,
	usr user.User,
	certificationID int,
	stage certification.Stage,
	startedAt time.Time,
) certification.Progress {
	t.Helper()

	startedAt = startedAt.UTC()
	p := certification.Progress{
		UserID:          usr.ID,
		OrganizationID:  usr.OrganizationID,
		CertificationID: certificationID,
		CurrentStage:    stage,
		NextSteps:       []string{},
		CreatedAt:       startedAt,
		UpdatedAt:       startedAt,
	}
	for i := 0; i <= stage.Index(); i++ {
		ts := startedAt.AddDate(0, 0, i)
		switch certification.Stages[i] {
		case certification.StageStarted:
			p.StartedAt = &ts
		case certification.StageApplied:
			p.AppliedAt = &ts
		case certification.StageInProgress:
			p.InProgressAt = &ts
		case certification.StageApproved:
			p.ApprovedAt = &ts
		}
		p.UpdatedAt = ts
	}

	p, err := repo.CreateProgress(context.Background(), p)
	if err != nil {
		t.Fatalf("CreateProgress() failed: %v", err)
	}
	return p
}

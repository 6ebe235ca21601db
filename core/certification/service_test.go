package certification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trezcool/wastewise/core/certification"
	"github.com/trezcool/wastewise/core/user"
	logsvc "github.com/trezcool/wastewise/services/logger"
	inmemdb "github.com/trezcool/wastewise/storage/database/inmem"
	"github.com/trezcool/wastewise/testutil"
)

var (
	alice = certification.Owner{UserID: "8f3c2d4e-8b73-4a5e-9a59-0b8c1c1f0a01", OrganizationID: "org-1"}
	bob   = certification.Owner{UserID: "8f3c2d4e-8b73-4a5e-9a59-0b8c1c1f0a02", OrganizationID: "org-1"}

	iso14001 = certification.Type{
		ID:             7,
		Name:           "ISO 14001",
		Requirements:   []string{"Environmental policy", "Internal audit"},
		ValidityPeriod: 36,
		Industries:     []string{"Manufacturing"},
		Difficulty:     certification.DifficultyAdvanced,
	}
	zeroWaste = certification.Type{ID: 8, Name: "Zero Waste", Industries: []string{"Retail"}}
)

func setup(t *testing.T) (*certification.Service, certification.Repository) {
	t.Helper()
	repo := inmemdb.NewCertificationRepository(inmemdb.Open())
	require.NoError(t, repo.UpsertTypes(context.Background(), iso14001, zeroWaste))
	return certification.NewService(repo, repo, repo, logsvc.NewZapLogger(zap.NewNop())), repo
}

// freezeTime makes certification.NowFunc return now until the test ends.
func freezeTime(t *testing.T, now time.Time) {
	t.Helper()
	orig := certification.NowFunc
	certification.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { certification.NowFunc = orig })
}

func checked(b bool) *bool { return &b }

func advance(t *testing.T, svc *certification.Service, p certification.Progress, stages ...certification.Stage) certification.Progress {
	t.Helper()
	var err error
	for _, s := range stages {
		p, err = svc.UpdateStage(context.Background(), alice, p.ID, certification.UpdateStage{Stage: s, Checked: checked(true)})
		require.NoError(t, err)
	}
	return p
}

func TestService_StartProcess(t *testing.T) {
	now := time.Date(2024, time.February, 1, 8, 0, 0, 0, time.UTC)
	freezeTime(t, now)
	svc, _ := setup(t)
	ctx := context.Background()

	p, err := svc.StartProcess(ctx, alice, 7)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, alice.UserID, p.UserID)
	assert.Equal(t, alice.OrganizationID, p.OrganizationID)
	assert.Equal(t, 7, p.CertificationID)
	assert.Equal(t, certification.StageStarted, p.CurrentStage)
	require.NotNil(t, p.StartedAt)
	assert.True(t, p.StartedAt.Equal(now))
	assert.Nil(t, p.AppliedAt)
	assert.Nil(t, p.InProgressAt)
	assert.Nil(t, p.ApprovedAt)

	t.Run("duplicate start", func(t *testing.T) {
		_, err := svc.StartProcess(ctx, alice, 7)
		assert.Equal(t, certification.ErrDuplicateStart, err)
	})
	t.Run("another user may start the same type", func(t *testing.T) {
		_, err := svc.StartProcess(ctx, bob, 7)
		assert.NoError(t, err)
	})
	t.Run("unknown type", func(t *testing.T) {
		_, err := svc.StartProcess(ctx, alice, 404)
		assert.Equal(t, certification.ErrTypeNotFound, err)
	})
}

func TestService_UpdateStage(t *testing.T) {
	svc, repo := setup(t)
	ctx := context.Background()

	start, err := svc.StartProcess(ctx, alice, 7)
	require.NoError(t, err)

	t.Run("advance to applied", func(t *testing.T) {
		p, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{Stage: certification.StageApplied, Checked: checked(true)})
		require.NoError(t, err)
		assert.Equal(t, certification.StageApplied, p.CurrentStage)
		assert.NotNil(t, p.AppliedAt)
		assert.Equal(t, start.StartedAt, p.StartedAt)
	})

	t.Run("skipping in_progress is rejected", func(t *testing.T) {
		_, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{Stage: certification.StageApproved, Checked: checked(true)})
		require.Error(t, err)
		assert.True(t, certification.IsTransitionError(err))
		assert.EqualError(t, err, "stages must be completed in order")

		stored, err := repo.GetProgress(ctx, start.ID)
		require.NoError(t, err)
		assert.Equal(t, certification.StageApplied, stored.CurrentStage)
	})

	t.Run("mismatching newStatus is rejected", func(t *testing.T) {
		_, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{
			Stage: certification.StageInProgress, Checked: checked(true), NewStatus: certification.StageApproved,
		})
		assert.True(t, certification.IsTransitionError(err))
	})

	t.Run("matching newStatus is accepted", func(t *testing.T) {
		p, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{
			Stage: certification.StageInProgress, Checked: checked(true), NewStatus: certification.StageInProgress,
		})
		require.NoError(t, err)
		assert.Equal(t, certification.StageInProgress, p.CurrentStage)
	})

	t.Run("reverting a previous stage is rejected", func(t *testing.T) {
		_, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{Stage: certification.StageApplied, Checked: checked(false)})
		require.Error(t, err)
		assert.EqualError(t, err, "only the current stage can be unchecked")

		stored, err := repo.GetProgress(ctx, start.ID)
		require.NoError(t, err)
		assert.Equal(t, certification.StageInProgress, stored.CurrentStage)
	})

	t.Run("reverting the current stage", func(t *testing.T) {
		p, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{Stage: certification.StageInProgress, Checked: checked(false)})
		require.NoError(t, err)
		assert.Equal(t, certification.StageApplied, p.CurrentStage)
		assert.Nil(t, p.InProgressAt)
		assert.NotNil(t, p.AppliedAt)
	})

	t.Run("other users cannot see the record", func(t *testing.T) {
		_, err := svc.UpdateStage(ctx, bob, start.ID, certification.UpdateStage{Stage: certification.StageApplied, Checked: checked(false)})
		assert.Equal(t, certification.ErrNotFound, err)
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := svc.UpdateStage(ctx, alice, "0d5c6a1e-58b9-4a7f-8c77-07c2a0b4f5e3", certification.UpdateStage{Stage: certification.StageApplied, Checked: checked(true)})
		assert.Equal(t, certification.ErrNotFound, err)
		_, err = svc.UpdateStage(ctx, alice, "not-a-uuid", certification.UpdateStage{Stage: certification.StageApplied, Checked: checked(true)})
		assert.Equal(t, certification.ErrNotFound, err)
	})
}

func TestService_UpdateStage_revertStartedIsNoop(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	start, err := svc.StartProcess(ctx, alice, 8)
	require.NoError(t, err)

	p, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{Stage: certification.StageStarted, Checked: checked(false)})
	require.NoError(t, err)
	assert.Equal(t, certification.StageStarted, p.CurrentStage)
	assert.Equal(t, start.StartedAt, p.StartedAt)
}

func TestService_UpdateStage_concurrentWritersOneWins(t *testing.T) {
	svc, repo := setup(t)
	ctx := context.Background()

	start, err := svc.StartProcess(ctx, alice, 7)
	require.NoError(t, err)

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.UpdateStage(ctx, alice, start.ID, certification.UpdateStage{Stage: certification.StageApplied, Checked: checked(true)})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			// losers either read the new stage or lost the swap
			if err != certification.ErrStaleStage && !certification.IsTransitionError(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	stored, err := repo.GetProgress(ctx, start.ID)
	require.NoError(t, err)
	assert.Equal(t, certification.StageApplied, stored.CurrentStage)
}

func TestService_CompareAndAdvance(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	start, err := svc.StartProcess(ctx, alice, 7)
	require.NoError(t, err)

	p, err := svc.CompareAndAdvance(ctx, alice, start.ID, certification.StageStarted, certification.StageApplied)
	require.NoError(t, err)
	assert.Equal(t, certification.StageApplied, p.CurrentStage)

	_, err = svc.CompareAndAdvance(ctx, alice, start.ID, certification.StageStarted, certification.StageApplied)
	assert.Equal(t, certification.ErrStaleStage, err)

	_, err = svc.CompareAndAdvance(ctx, alice, start.ID, certification.StageApplied, certification.StageApproved)
	assert.True(t, certification.IsTransitionError(err))

	_, err = svc.CompareAndAdvance(ctx, bob, start.ID, certification.StageApplied, certification.StageInProgress)
	assert.Equal(t, certification.ErrNotFound, err)
}

func TestService_UpdateDetails(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	start, err := svc.StartProcess(ctx, alice, 7)
	require.NoError(t, err)

	notes := "auditor booked"
	p, err := svc.UpdateDetails(ctx, alice, start.ID, certification.UpdateDetails{Notes: &notes, NextSteps: []string{"send docs", "pay fee"}})
	require.NoError(t, err)
	assert.Equal(t, notes, p.Notes)
	assert.Equal(t, []string{"send docs", "pay fee"}, p.NextSteps)
	assert.Equal(t, certification.StageStarted, p.CurrentStage)

	// nil fields are left untouched
	p, err = svc.UpdateDetails(ctx, alice, start.ID, certification.UpdateDetails{})
	require.NoError(t, err)
	assert.Equal(t, notes, p.Notes)
	assert.Equal(t, []string{"send docs", "pay fee"}, p.NextSteps)

	// stage changes keep the guidance
	p = advance(t, svc, p, certification.StageApplied)
	assert.Equal(t, []string{"send docs", "pay fee"}, p.NextSteps)
}

func TestService_ListProgress_displayStatus(t *testing.T) {
	approvedAt := time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC)
	freezeTime(t, approvedAt)
	svc, repo := setup(t)
	ctx := context.Background()

	iso, err := svc.StartProcess(ctx, alice, 7)
	require.NoError(t, err)
	iso = advance(t, svc, iso, certification.StageApplied, certification.StageInProgress, certification.StageApproved)

	zw, err := svc.StartProcess(ctx, alice, 8)
	require.NoError(t, err)
	_ = advance(t, svc, zw, certification.StageApplied, certification.StageInProgress, certification.StageApproved)

	asOf := approvedAt.AddDate(0, 40, 0)
	views, err := svc.ListProgress(ctx, alice, asOf)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byType := map[int]certification.ProgressView{}
	for _, v := range views {
		byType[v.CertificationID] = v
	}

	assert.Equal(t, certification.DisplayExpired, byType[7].DisplayStatus)
	assert.Equal(t, certification.StageApproved, byType[7].CurrentStage)
	require.NotNil(t, byType[7].ExpiresAt)
	assert.True(t, byType[7].ExpiresAt.Equal(approvedAt.AddDate(0, 36, 0)))
	require.NotNil(t, byType[7].Certification)
	assert.Equal(t, "ISO 14001", byType[7].Certification.Name)

	assert.Equal(t, certification.DisplayApproved, byType[8].DisplayStatus)
	assert.Nil(t, byType[8].ExpiresAt)

	v, err := svc.GetProgress(ctx, alice, iso.ID, approvedAt.AddDate(0, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, certification.DisplayApproved, v.DisplayStatus)

	t.Run("reads are idempotent", func(t *testing.T) {
		first, err := svc.GetProgress(ctx, alice, iso.ID, asOf)
		require.NoError(t, err)
		second, err := svc.GetProgress(ctx, alice, iso.ID, asOf)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, certification.DisplayExpired, second.DisplayStatus)

		stored, err := repo.GetProgress(ctx, iso.ID)
		require.NoError(t, err)
		assert.Equal(t, certification.StageApproved, stored.CurrentStage)
		assert.Equal(t, iso.ApprovedAt, stored.ApprovedAt)
	})

	empty, err := svc.ListProgress(ctx, bob, asOf)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestService_IssueCertificate(t *testing.T) {
	approvedAt := time.Date(2022, time.March, 15, 10, 0, 0, 0, time.UTC)
	freezeTime(t, approvedAt)
	svc, _ := setup(t)
	ctx := context.Background()

	p, err := svc.StartProcess(ctx, alice, 7)
	require.NoError(t, err)

	_, err = svc.IssueCertificate(ctx, certification.IssueCertificate{ProgressID: p.ID})
	assert.Equal(t, certification.ErrNotApproved, err)

	p = advance(t, svc, p, certification.StageApplied, certification.StageInProgress, certification.StageApproved)

	uc, err := svc.IssueCertificate(ctx, certification.IssueCertificate{ProgressID: p.ID})
	require.NoError(t, err)
	assert.NotEmpty(t, uc.ID)
	assert.Equal(t, alice.UserID, uc.UserID)
	assert.Equal(t, p.ID, uc.ProgressID)
	assert.Regexp(t, `^ISO14001-2022-[0-9A-F]{8}$`, uc.CertificateNumber)
	assert.True(t, uc.IssuedAt.Equal(approvedAt))
	require.NotNil(t, uc.ExpiresAt)
	assert.True(t, uc.ExpiresAt.Equal(approvedAt.AddDate(3, 0, 0)))

	_, err = svc.IssueCertificate(ctx, certification.IssueCertificate{ProgressID: p.ID})
	assert.Equal(t, certification.ErrAlreadyIssued, err)

	_, err = svc.IssueCertificate(ctx, certification.IssueCertificate{ProgressID: "0d5c6a1e-58b9-4a7f-8c77-07c2a0b4f5e3"})
	assert.Equal(t, certification.ErrNotFound, err)

	t.Run("listing computes the status", func(t *testing.T) {
		certs, err := svc.ListUserCertifications(ctx, alice, approvedAt.AddDate(1, 0, 0))
		require.NoError(t, err)
		require.Len(t, certs, 1)
		assert.Equal(t, certification.CertificateActive, certs[0].Status)
		require.NotNil(t, certs[0].Certification)
		assert.Equal(t, 7, certs[0].Certification.ID)

		certs, err = svc.ListUserCertifications(ctx, alice, approvedAt.AddDate(4, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, certification.CertificateExpired, certs[0].Status)
	})

	t.Run("unchecking an issued approval is rejected", func(t *testing.T) {
		_, err := svc.UpdateStage(ctx, alice, p.ID, certification.UpdateStage{Stage: certification.StageApproved, Checked: checked(false)})
		assert.Equal(t, certification.ErrAlreadyIssued, err)

		stored, err := svc.GetProgress(ctx, alice, p.ID, approvedAt)
		require.NoError(t, err)
		assert.Equal(t, certification.StageApproved, stored.CurrentStage)
		require.NotNil(t, stored.ApprovedAt)
		assert.True(t, stored.ApprovedAt.Equal(approvedAt))
	})

	t.Run("unchecking an approval without certificate", func(t *testing.T) {
		zw, err := svc.StartProcess(ctx, alice, 8)
		require.NoError(t, err)
		zw = advance(t, svc, zw, certification.StageApplied, certification.StageInProgress, certification.StageApproved)

		zw, err = svc.UpdateStage(ctx, alice, zw.ID, certification.UpdateStage{Stage: certification.StageApproved, Checked: checked(false)})
		require.NoError(t, err)
		assert.Equal(t, certification.StageInProgress, zw.CurrentStage)
		assert.Nil(t, zw.ApprovedAt)
	})
}

func TestService_ListTypes(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	types, err := svc.ListTypes(ctx, nil, nil)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, 7, types[0].ID)

	types, err = svc.ListTypes(ctx, &certification.TypeFilter{Industry: "retail"}, nil)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, 8, types[0].ID)

	_, err = svc.GetType(ctx, 99)
	assert.Equal(t, certification.ErrTypeNotFound, err)
}

type brokenTypes struct {
	certification.TypeRepository
	err error
}

func (b brokenTypes) GetType(context.Context, int) (certification.Type, error) {
	return certification.Type{}, b.err
}

func TestService_typeLookupFailures(t *testing.T) {
	_, repo := setup(t)
	ctx := context.Background()
	errDown := errors.New("connection refused")
	svc := certification.NewService(brokenTypes{TypeRepository: repo, err: errDown}, repo, repo, logsvc.NewZapLogger(zap.NewNop()))

	_, err := svc.StartProcess(ctx, alice, 7)
	require.Error(t, err)
	assert.Equal(t, errDown, errors.Cause(err))
	assert.EqualError(t, err, "getting certification type: connection refused")

	_, err = svc.GetType(ctx, 7)
	assert.Equal(t, errDown, errors.Cause(err))
	assert.EqualError(t, err, "getting certification type: connection refused")

	p := testutil.CreateProgress(t, repo, user.User{ID: alice.UserID}, 7, certification.StageApproved, time.Now())
	_, err = svc.IssueCertificate(ctx, certification.IssueCertificate{ProgressID: p.ID})
	assert.Equal(t, errDown, errors.Cause(err))
	assert.EqualError(t, err, "getting certification type: connection refused")

	missing := certification.NewService(brokenTypes{TypeRepository: repo, err: errors.Wrap(certification.ErrTypeNotFound, "cache")}, repo, repo, logsvc.NewZapLogger(zap.NewNop()))
	_, err = missing.StartProcess(ctx, alice, 7)
	assert.Equal(t, certification.ErrTypeNotFound, err)
}

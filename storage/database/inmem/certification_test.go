package inmemdb_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/wastewise/core/certification"
	"github.com/trezcool/wastewise/core/user"
	inmemdb "github.com/trezcool/wastewise/storage/database/inmem"
	"github.com/trezcool/wastewise/testutil"
)

func TestCertificationRepository_userCertifications(t *testing.T) {
	db := inmemdb.Open()
	repo := inmemdb.NewCertificationRepository(db)
	usr := testutil.CreateUser(t, inmemdb.NewUserRepository(db), "Operator", "op", "op@wastewise.io", "", []string{user.RoleOperator}, true)
	ctx := context.Background()
	issued := time.Date(2023, time.January, 5, 0, 0, 0, 0, time.UTC)

	p := testutil.CreateProgress(t, repo, usr, 1, certification.StageApproved, issued)
	pending := testutil.CreateProgress(t, repo, usr, 2, certification.StageApproved, issued)

	ok, err := repo.IsIssued(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.CreateUserCertification(ctx, certification.UserCertification{
		UserID: usr.ID, CertificationID: 1, ProgressID: p.ID, CertificateNumber: "CERT-0", IssuedAt: issued,
	})
	require.NoError(t, err)

	// other rows make the table scan order vary
	for i := 1; i <= 20; i++ {
		_, err = repo.CreateUserCertification(ctx, certification.UserCertification{
			UserID: usr.ID, CertificationID: 1, ProgressID: fmt.Sprintf("progress-%d", i),
			CertificateNumber: fmt.Sprintf("CERT-%d", i), IssuedAt: issued,
		})
		require.NoError(t, err)
	}

	ok, err = repo.IsIssued(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.IsIssued(ctx, pending.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("progress conflict wins over number conflict", func(t *testing.T) {
		for i := 1; i <= 20; i++ {
			_, err := repo.CreateUserCertification(ctx, certification.UserCertification{
				UserID: usr.ID, CertificationID: 1, ProgressID: p.ID,
				CertificateNumber: fmt.Sprintf("CERT-%d", i), IssuedAt: issued,
			})
			assert.Equal(t, certification.ErrAlreadyIssued, err)
		}
	})

	t.Run("number conflict", func(t *testing.T) {
		_, err := repo.CreateUserCertification(ctx, certification.UserCertification{
			UserID: usr.ID, CertificationID: 2, ProgressID: pending.ID, CertificateNumber: "CERT-0", IssuedAt: issued,
		})
		assert.Equal(t, certification.ErrCertificateTaken, err)
	})
}

func TestCertificationRepository_QueryTypes_literalSearch(t *testing.T) {
	repo := inmemdb.NewCertificationRepository(inmemdb.Open())
	ctx := context.Background()
	require.NoError(t, repo.UpsertTypes(ctx,
		certification.Type{ID: 1, Name: "ISO 14001", Description: "Environmental management"},
		certification.Type{ID: 2, Name: "TRUE Zero Waste", Description: "Landfill diversion above 90%"},
	))

	for search, want := range map[string]int{"90%": 1, "%": 1, "_": 0, "zero": 1} {
		types, err := repo.QueryTypes(ctx, &certification.TypeFilter{Search: search}, nil)
		require.NoError(t, err)
		assert.Len(t, types, want, search)
	}
}

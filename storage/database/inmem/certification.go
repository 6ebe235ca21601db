package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/wastewise/core"
	"github.com/trezcool/wastewise/core/certification"
)

type certificationRepository struct {
	types     *certTypeTable
	progress  *progressTable
	certified *userCertificationTable
}

var _ certification.Repository = (*certificationRepository)(nil) // interface compliance check

func NewCertificationRepository(db *DB) certification.Repository {
	return &certificationRepository{
		types:     db.certType,
		progress:  db.progress,
		certified: db.certified,
	}
}

func copyStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append(make([]string, 0, len(s)), s...)
}

func copyType(ct certification.Type) certification.Type {
	ct.Requirements = copyStrings(ct.Requirements)
	ct.Industries = copyStrings(ct.Industries)
	return ct
}

func copyProgress(p certification.Progress) certification.Progress {
	p.NextSteps = copyStrings(p.NextSteps)
	return p
}

func typeMatches(ct *certification.Type, filter *certification.TypeFilter) bool {
	if filter.IsEmpty() {
		return true
	}
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(ct.Name), search) &&
			!strings.Contains(strings.ToLower(ct.Description), search) {
			return false
		}
	}
	if filter.Industry != "" {
		var found bool
		for _, industry := range ct.Industries {
			if strings.EqualFold(industry, filter.Industry) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.Difficulty != "" && !strings.EqualFold(ct.Difficulty, filter.Difficulty) {
		return false
	}
	return true
}

// compareTypes compares a & b on a column of certification.TypeOrderingFields.
func compareTypes(a, b certification.Type, column string) int {
	switch column {
	case "name":
		return strings.Compare(a.Name, b.Name)
	case "validity_period_months":
		return a.ValidityPeriod - b.ValidityPeriod
	case "relevance_score":
		return a.RelevanceScore - b.RelevanceScore
	case "difficulty":
		return strings.Compare(a.Difficulty, b.Difficulty)
	default:
		return a.ID - b.ID
	}
}

func (repo *certificationRepository) QueryTypes(
	_ context.Context,
	filter *certification.TypeFilter,
	ordering []core.DBOrdering,
) ([]certification.Type, error) {
	repo.types.RLock()
	defer repo.types.RUnlock()

	types := make([]certification.Type, 0, len(repo.types.table))
	for _, ct := range repo.types.table {
		if typeMatches(ct, filter) {
			types = append(types, copyType(*ct))
		}
	}

	// id ascending breaks ties
	ordering = append(append([]core.DBOrdering{}, ordering...), core.DBOrdering{Field: "id", Ascending: true})
	sort.Slice(types, func(i, j int) bool {
		for _, ord := range ordering {
			c := compareTypes(types[i], types[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return types, nil
}

func (repo *certificationRepository) GetType(_ context.Context, id int) (certification.Type, error) {
	repo.types.RLock()
	defer repo.types.RUnlock()

	if ct, ok := repo.types.table[id]; ok {
		return copyType(*ct), nil
	}
	return certification.Type{}, certification.ErrTypeNotFound
}

func (repo *certificationRepository) UpsertTypes(_ context.Context, types ...certification.Type) error {
	repo.types.Lock()
	defer repo.types.Unlock()

	for _, ct := range types {
		ct = copyType(ct)
		repo.types.table[ct.ID] = &ct
	}
	return nil
}

func (repo *certificationRepository) CreateProgress(_ context.Context, p certification.Progress) (certification.Progress, error) {
	repo.progress.Lock()
	defer repo.progress.Unlock()

	for _, existing := range repo.progress.table {
		if existing.UserID == p.UserID && existing.CertificationID == p.CertificationID {
			return certification.Progress{}, certification.ErrDuplicateStart
		}
	}

	p = copyProgress(p)
	p.ID = uuid.NewString()
	repo.progress.table[p.ID] = &p
	return copyProgress(p), nil
}

func (repo *certificationRepository) GetProgress(_ context.Context, id string) (certification.Progress, error) {
	repo.progress.RLock()
	defer repo.progress.RUnlock()

	if p, ok := repo.progress.table[id]; ok {
		return copyProgress(*p), nil
	}
	return certification.Progress{}, certification.ErrNotFound
}

func (repo *certificationRepository) FindProgress(_ context.Context, userID string, certificationID int) (certification.Progress, error) {
	repo.progress.RLock()
	defer repo.progress.RUnlock()

	for _, p := range repo.progress.table {
		if p.UserID == userID && p.CertificationID == certificationID {
			return copyProgress(*p), nil
		}
	}
	return certification.Progress{}, certification.ErrNotFound
}

func (repo *certificationRepository) QueryProgress(_ context.Context, userID string) ([]certification.Progress, error) {
	repo.progress.RLock()
	defer repo.progress.RUnlock()

	records := make([]certification.Progress, 0)
	for _, p := range repo.progress.table {
		if p.UserID == userID {
			records = append(records, copyProgress(*p))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (repo *certificationRepository) SwapStage(
	_ context.Context,
	p certification.Progress,
	expected certification.Stage,
) (certification.Progress, error) {
	repo.progress.Lock()
	defer repo.progress.Unlock()

	orig, ok := repo.progress.table[p.ID]
	if !ok {
		return certification.Progress{}, certification.ErrNotFound
	}
	if orig.CurrentStage != expected {
		return certification.Progress{}, certification.ErrStaleStage
	}

	orig.CurrentStage = p.CurrentStage
	orig.StartedAt = p.StartedAt
	orig.AppliedAt = p.AppliedAt
	orig.InProgressAt = p.InProgressAt
	orig.ApprovedAt = p.ApprovedAt
	orig.UpdatedAt = p.UpdatedAt
	return copyProgress(*orig), nil
}

func (repo *certificationRepository) UpdateProgressDetails(_ context.Context, p certification.Progress) (certification.Progress, error) {
	repo.progress.Lock()
	defer repo.progress.Unlock()

	orig, ok := repo.progress.table[p.ID]
	if !ok {
		return certification.Progress{}, certification.ErrNotFound
	}
	orig.Notes = p.Notes
	orig.NextSteps = copyStrings(p.NextSteps)
	orig.UpdatedAt = p.UpdatedAt
	return copyProgress(*orig), nil
}

func (repo *certificationRepository) CreateUserCertification(
	_ context.Context,
	uc certification.UserCertification,
) (certification.UserCertification, error) {
	repo.certified.Lock()
	defer repo.certified.Unlock()

	for _, existing := range repo.certified.table {
		if existing.ProgressID == uc.ProgressID {
			return certification.UserCertification{}, certification.ErrAlreadyIssued
		}
	}
	for _, existing := range repo.certified.table {
		if existing.CertificateNumber == uc.CertificateNumber {
			return certification.UserCertification{}, certification.ErrCertificateTaken
		}
	}

	uc.ID = uuid.NewString()
	repo.certified.table[uc.ID] = &uc
	return uc, nil
}

func (repo *certificationRepository) IsIssued(_ context.Context, progressID string) (bool, error) {
	repo.certified.RLock()
	defer repo.certified.RUnlock()

	for _, uc := range repo.certified.table {
		if uc.ProgressID == progressID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *certificationRepository) QueryUserCertifications(_ context.Context, userID string) ([]certification.UserCertification, error) {
	repo.certified.RLock()
	defer repo.certified.RUnlock()

	certs := make([]certification.UserCertification, 0)
	for _, uc := range repo.certified.table {
		if uc.UserID == userID {
			certs = append(certs, *uc)
		}
	}
	sort.Slice(certs, func(i, j int) bool {
		if certs[i].IssuedAt.Equal(certs[j].IssuedAt) {
			return certs[i].ID < certs[j].ID
		}
		return certs[i].IssuedAt.After(certs[j].IssuedAt)
	})
	return certs, nil
}

package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/wastewise/core"
	"github.com/trezcool/wastewise/core/certification"
	"github.com/trezcool/wastewise/storage/database"
)

const (
	typeColumns = `id, name, description, requirements, validity_period_months, industries, difficulty,
		provider_name, provider_url, estimated_time, cost_tier, relevance_score`
	progressColumns = `id, user_id, organization_id, certification_id, current_stage,
		started_at, applied_at, in_progress_at, approved_at, next_steps, notes, created_at, updated_at`
	userCertificationColumns = `id, user_id, organization_id, certification_id, progress_id,
		certificate_number, issued_at, expires_at, created_at`
)

type (
	typeRow struct {
		ID             int    `db:"id"`
		Name           string `db:"name"`
		Description    string `db:"description"`
		Requirements   string `db:"requirements"`
		ValidityPeriod int    `db:"validity_period_months"`
		Industries     string `db:"industries"`
		Difficulty     string `db:"difficulty"`
		ProviderName   string `db:"provider_name"`
		ProviderURL    string `db:"provider_url"`
		EstimatedTime  string `db:"estimated_time"`
		CostTier       string `db:"cost_tier"`
		RelevanceScore int    `db:"relevance_score"`
	}

	progressRow struct {
		ID              string      `db:"id"`
		UserID          string      `db:"user_id"`
		OrganizationID  null.String `db:"organization_id"`
		CertificationID int         `db:"certification_id"`
		CurrentStage    string      `db:"current_stage"`
		StartedAt       null.Time   `db:"started_at"`
		AppliedAt       null.Time   `db:"applied_at"`
		InProgressAt    null.Time   `db:"in_progress_at"`
		ApprovedAt      null.Time   `db:"approved_at"`
		NextSteps       string      `db:"next_steps"`
		Notes           null.String `db:"notes"`
		CreatedAt       time.Time   `db:"created_at"`
		UpdatedAt       time.Time   `db:"updated_at"`
	}

	userCertificationRow struct {
		ID                string      `db:"id"`
		UserID            string      `db:"user_id"`
		OrganizationID    null.String `db:"organization_id"`
		CertificationID   int         `db:"certification_id"`
		ProgressID        string      `db:"progress_id"`
		CertificateNumber string      `db:"certificate_number"`
		IssuedAt          time.Time   `db:"issued_at"`
		ExpiresAt         null.Time   `db:"expires_at"`
		CreatedAt         time.Time   `db:"created_at"`
	}
)

type certificationRepository struct {
	exec core.DBExecutor
}

var _ certification.Repository = (*certificationRepository)(nil) // interface compliance check

func NewCertificationRepository(exec core.DBExecutor) certification.Repository {
	return &certificationRepository{exec: exec}
}

func typeToRow(ct certification.Type) (typeRow, error) {
	requirements, err := encodeList(ct.Requirements)
	if err != nil {
		return typeRow{}, err
	}
	industries, err := encodeList(ct.Industries)
	if err != nil {
		return typeRow{}, err
	}
	return typeRow{
		ID:             ct.ID,
		Name:           ct.Name,
		Description:    ct.Description,
		Requirements:   requirements,
		ValidityPeriod: ct.ValidityPeriod,
		Industries:     industries,
		Difficulty:     ct.Difficulty,
		ProviderName:   ct.ProviderName,
		ProviderURL:    ct.ProviderURL,
		EstimatedTime:  ct.EstimatedTime,
		CostTier:       ct.CostTier,
		RelevanceScore: ct.RelevanceScore,
	}, nil
}

func typeFromRow(row typeRow) (certification.Type, error) {
	requirements, err := decodeList(row.Requirements)
	if err != nil {
		return certification.Type{}, err
	}
	industries, err := decodeList(row.Industries)
	if err != nil {
		return certification.Type{}, err
	}
	return certification.Type{
		ID:             row.ID,
		Name:           row.Name,
		Description:    row.Description,
		Requirements:   requirements,
		ValidityPeriod: row.ValidityPeriod,
		Industries:     industries,
		Difficulty:     row.Difficulty,
		ProviderName:   row.ProviderName,
		ProviderURL:    row.ProviderURL,
		EstimatedTime:  row.EstimatedTime,
		CostTier:       row.CostTier,
		RelevanceScore: row.RelevanceScore,
	}, nil
}

func progressToRow(p certification.Progress) (progressRow, error) {
	nextSteps, err := encodeList(p.NextSteps)
	if err != nil {
		return progressRow{}, err
	}
	return progressRow{
		ID:              p.ID,
		UserID:          p.UserID,
		OrganizationID:  null.NewString(p.OrganizationID, p.OrganizationID != ""),
		CertificationID: p.CertificationID,
		CurrentStage:    string(p.CurrentStage),
		StartedAt:       nullTime(p.StartedAt),
		AppliedAt:       nullTime(p.AppliedAt),
		InProgressAt:    nullTime(p.InProgressAt),
		ApprovedAt:      nullTime(p.ApprovedAt),
		NextSteps:       nextSteps,
		Notes:           null.NewString(p.Notes, p.Notes != ""),
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}, nil
}

func progressFromRow(row progressRow) (certification.Progress, error) {
	nextSteps, err := decodeList(row.NextSteps)
	if err != nil {
		return certification.Progress{}, err
	}
	return certification.Progress{
		ID:              row.ID,
		UserID:          row.UserID,
		OrganizationID:  row.OrganizationID.String,
		CertificationID: row.CertificationID,
		CurrentStage:    certification.Stage(row.CurrentStage),
		StartedAt:       timePtr(row.StartedAt),
		AppliedAt:       timePtr(row.AppliedAt),
		InProgressAt:    timePtr(row.InProgressAt),
		ApprovedAt:      timePtr(row.ApprovedAt),
		NextSteps:       nextSteps,
		Notes:           row.Notes.String,
		CreatedAt:       row.CreatedAt.UTC(),
		UpdatedAt:       row.UpdatedAt.UTC(),
	}, nil
}

func userCertificationFromRow(row userCertificationRow) certification.UserCertification {
	return certification.UserCertification{
		ID:                row.ID,
		UserID:            row.UserID,
		OrganizationID:    row.OrganizationID.String,
		CertificationID:   row.CertificationID,
		ProgressID:        row.ProgressID,
		CertificateNumber: row.CertificateNumber,
		IssuedAt:          row.IssuedAt.UTC(),
		ExpiresAt:         timePtr(row.ExpiresAt),
		CreatedAt:         row.CreatedAt.UTC(),
	}
}

func (repo *certificationRepository) QueryTypes(
	ctx context.Context,
	filter *certification.TypeFilter,
	ordering []core.DBOrdering,
) ([]certification.Type, error) {
	var (
		where []string
		args  []interface{}
	)
	if !filter.IsEmpty() {
		if filter.Search != "" {
			val := "%" + escapeLike(strings.ToLower(filter.Search)) + "%"
			where = append(where, `(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`)
			args = append(args, val, val)
		}
		if filter.Industry != "" {
			// industries is a JSON array: match a whole element
			elem, err := json.Marshal(strings.ToLower(filter.Industry))
			if err != nil {
				return nil, errors.Wrap(err, "encoding industry filter")
			}
			where = append(where, `LOWER(industries) LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(string(elem))+"%")
		}
		if filter.Difficulty != "" {
			where = append(where, "LOWER(difficulty) = ?")
			args = append(args, strings.ToLower(filter.Difficulty))
		}
	}

	q := `SELECT ` + typeColumns + ` FROM certification_type`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += orderBy(ordering, "id ASC")

	var rows []typeRow
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, repo.exec.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying certification types")
	}

	types := make([]certification.Type, 0, len(rows))
	for _, row := range rows {
		ct, err := typeFromRow(row)
		if err != nil {
			return nil, err
		}
		types = append(types, ct)
	}
	return types, nil
}

func (repo *certificationRepository) GetType(ctx context.Context, id int) (certification.Type, error) {
	var row typeRow
	q := repo.exec.Rebind(`SELECT ` + typeColumns + ` FROM certification_type WHERE id = ?`)
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, id); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return certification.Type{}, certification.ErrTypeNotFound
		}
		return certification.Type{}, errors.Wrap(err, "getting certification type")
	}
	return typeFromRow(row)
}

func (repo *certificationRepository) UpsertTypes(ctx context.Context, types ...certification.Type) error {
	q := `INSERT INTO certification_type (` + typeColumns + `) VALUES
		(:id, :name, :description, :requirements, :validity_period_months, :industries, :difficulty,
		:provider_name, :provider_url, :estimated_time, :cost_tier, :relevance_score)
		ON CONFLICT (id) DO UPDATE SET
		name = excluded.name, description = excluded.description, requirements = excluded.requirements,
		validity_period_months = excluded.validity_period_months, industries = excluded.industries,
		difficulty = excluded.difficulty, provider_name = excluded.provider_name, provider_url = excluded.provider_url,
		estimated_time = excluded.estimated_time, cost_tier = excluded.cost_tier, relevance_score = excluded.relevance_score`

	return inTx(ctx, repo.exec, func(exec core.DBExecutor) error {
		for _, ct := range types {
			row, err := typeToRow(ct)
			if err != nil {
				return err
			}
			if _, err = sqlx.NamedExecContext(ctx, exec, q, row); err != nil {
				return errors.Wrapf(err, "upserting certification type %d", ct.ID)
			}
		}
		return nil
	})
}

func (repo *certificationRepository) getProgress(ctx context.Context, where string, args ...interface{}) (certification.Progress, error) {
	var row progressRow
	q := repo.exec.Rebind(`SELECT ` + progressColumns + ` FROM certification_progress WHERE ` + where)
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, args...); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return certification.Progress{}, certification.ErrNotFound
		}
		return certification.Progress{}, errors.Wrap(err, "getting certification progress")
	}
	return progressFromRow(row)
}

func (repo *certificationRepository) CreateProgress(ctx context.Context, p certification.Progress) (certification.Progress, error) {
	p.ID = uuid.New().String()
	row, err := progressToRow(p)
	if err != nil {
		return certification.Progress{}, err
	}

	q := `INSERT INTO certification_progress (` + progressColumns + `) VALUES
		(:id, :user_id, :organization_id, :certification_id, :current_stage,
		:started_at, :applied_at, :in_progress_at, :approved_at, :next_steps, :notes, :created_at, :updated_at)`
	if _, err = sqlx.NamedExecContext(ctx, repo.exec, q, row); err != nil {
		if database.IsUniqueViolation(err) {
			return certification.Progress{}, certification.ErrDuplicateStart
		}
		return certification.Progress{}, errors.Wrap(err, "inserting certification progress")
	}
	return progressFromRow(row)
}

func (repo *certificationRepository) GetProgress(ctx context.Context, id string) (certification.Progress, error) {
	if _, err := uuid.Parse(id); err != nil {
		return certification.Progress{}, certification.ErrNotFound
	}
	return repo.getProgress(ctx, "id = ?", id)
}

func (repo *certificationRepository) FindProgress(ctx context.Context, userID string, certificationID int) (certification.Progress, error) {
	return repo.getProgress(ctx, "user_id = ? AND certification_id = ?", userID, certificationID)
}

func (repo *certificationRepository) QueryProgress(ctx context.Context, userID string) ([]certification.Progress, error) {
	var rows []progressRow
	q := repo.exec.Rebind(`SELECT ` + progressColumns + ` FROM certification_progress WHERE user_id = ? ORDER BY created_at ASC, id ASC`)
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying certification progress")
	}

	records := make([]certification.Progress, 0, len(rows))
	for _, row := range rows {
		p, err := progressFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, nil
}

// SwapStage is a single conditional UPDATE: the row only changes if its stage is still expected.
func (repo *certificationRepository) SwapStage(
	ctx context.Context,
	p certification.Progress,
	expected certification.Stage,
) (certification.Progress, error) {
	row, err := progressToRow(p)
	if err != nil {
		return certification.Progress{}, err
	}

	q := repo.exec.Rebind(`UPDATE certification_progress SET
		current_stage = ?, started_at = ?, applied_at = ?, in_progress_at = ?, approved_at = ?, updated_at = ?
		WHERE id = ? AND current_stage = ?`)
	res, err := repo.exec.ExecContext(ctx, q,
		row.CurrentStage, row.StartedAt, row.AppliedAt, row.InProgressAt, row.ApprovedAt, row.UpdatedAt,
		row.ID, string(expected),
	)
	if err != nil {
		return certification.Progress{}, errors.Wrap(err, "swapping certification progress stage")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return certification.Progress{}, errors.Wrap(err, "swapping certification progress stage")
	}
	if n == 0 {
		// lost the race, or the record is gone
		if _, err = repo.GetProgress(ctx, p.ID); err != nil {
			return certification.Progress{}, err
		}
		return certification.Progress{}, certification.ErrStaleStage
	}
	return repo.GetProgress(ctx, p.ID)
}

func (repo *certificationRepository) UpdateProgressDetails(ctx context.Context, p certification.Progress) (certification.Progress, error) {
	row, err := progressToRow(p)
	if err != nil {
		return certification.Progress{}, err
	}

	q := `UPDATE certification_progress SET notes = :notes, next_steps = :next_steps, updated_at = :updated_at WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec, q, row)
	if err != nil {
		return certification.Progress{}, errors.Wrap(err, "updating certification progress details")
	}
	if n, err := res.RowsAffected(); err != nil {
		return certification.Progress{}, errors.Wrap(err, "updating certification progress details")
	} else if n == 0 {
		return certification.Progress{}, certification.ErrNotFound
	}
	return repo.GetProgress(ctx, p.ID)
}

func (repo *certificationRepository) CreateUserCertification(
	ctx context.Context,
	uc certification.UserCertification,
) (certification.UserCertification, error) {
	uc.ID = uuid.New().String()
	row := userCertificationRow{
		ID:                uc.ID,
		UserID:            uc.UserID,
		OrganizationID:    null.NewString(uc.OrganizationID, uc.OrganizationID != ""),
		CertificationID:   uc.CertificationID,
		ProgressID:        uc.ProgressID,
		CertificateNumber: uc.CertificateNumber,
		IssuedAt:          uc.IssuedAt.UTC(),
		ExpiresAt:         nullTime(uc.ExpiresAt),
		CreatedAt:         uc.CreatedAt.UTC(),
	}

	q := `INSERT INTO user_certification (` + userCertificationColumns + `) VALUES
		(:id, :user_id, :organization_id, :certification_id, :progress_id, :certificate_number, :issued_at, :expires_at, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec, q, row); err != nil {
		if database.IsUniqueViolation(err) {
			issued, cerr := repo.IsIssued(ctx, uc.ProgressID)
			if cerr != nil {
				return certification.UserCertification{}, cerr
			}
			if issued {
				return certification.UserCertification{}, certification.ErrAlreadyIssued
			}
			return certification.UserCertification{}, certification.ErrCertificateTaken
		}
		return certification.UserCertification{}, errors.Wrap(err, "inserting user certification")
	}
	return userCertificationFromRow(row), nil
}

func (repo *certificationRepository) IsIssued(ctx context.Context, progressID string) (bool, error) {
	var issued int
	q := repo.exec.Rebind(`SELECT COUNT(*) FROM user_certification WHERE progress_id = ?`)
	if err := sqlx.GetContext(ctx, repo.exec, &issued, q, progressID); err != nil {
		return false, errors.Wrap(err, "checking issued certificates")
	}
	return issued > 0, nil
}

func (repo *certificationRepository) QueryUserCertifications(ctx context.Context, userID string) ([]certification.UserCertification, error) {
	var rows []userCertificationRow
	q := repo.exec.Rebind(`SELECT ` + userCertificationColumns + ` FROM user_certification WHERE user_id = ? ORDER BY issued_at DESC, id ASC`)
	if err := sqlx.SelectContext(ctx, repo.exec, &rows, q, userID); err != nil {
		return nil, errors.Wrap(err, "querying user certifications")
	}

	certs := make([]certification.UserCertification, 0, len(rows))
	for _, row := range rows {
		certs = append(certs, userCertificationFromRow(row))
	}
	return certs, nil
}

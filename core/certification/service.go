package certification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trezcool/wastewise/core"
)

var (
	NowFunc = time.Now // mockable

	tracer = otel.Tracer("github.com/trezcool/wastewise/core/certification")
)

type (
	TypeRepository interface {
		QueryTypes(ctx context.Context, filter *TypeFilter, ordering []core.DBOrdering) ([]Type, error)
		// GetType returns ErrTypeNotFound when no Type has the given id.
		GetType(ctx context.Context, id int) (Type, error)
		UpsertTypes(ctx context.Context, types ...Type) error
	}

	ProgressRepository interface {
		// CreateProgress assigns the ID; it returns ErrDuplicateStart when (UserID, CertificationID) exists.
		CreateProgress(ctx context.Context, p Progress) (Progress, error)
		// GetProgress returns ErrNotFound when no Progress has the given id.
		GetProgress(ctx context.Context, id string) (Progress, error)
		FindProgress(ctx context.Context, userID string, certificationID int) (Progress, error)
		QueryProgress(ctx context.Context, userID string) ([]Progress, error)
		// SwapStage persists the stage & stage timestamps of p only if the stored stage still equals expected.
		// It returns ErrStaleStage when the stored stage differs and ErrNotFound when p does not exist.
		SwapStage(ctx context.Context, p Progress, expected Stage) (Progress, error)
		UpdateProgressDetails(ctx context.Context, p Progress) (Progress, error)
	}

	UserCertificationRepository interface {
		// CreateUserCertification assigns the ID; it returns ErrAlreadyIssued when the progress already has one.
		CreateUserCertification(ctx context.Context, uc UserCertification) (UserCertification, error)
		QueryUserCertifications(ctx context.Context, userID string) ([]UserCertification, error)
		IsIssued(ctx context.Context, progressID string) (bool, error)
	}

	// Repository is implemented by every storage backend.
	Repository interface {
		TypeRepository
		ProgressRepository
		UserCertificationRepository
	}

	// Owner identifies the caller on whose behalf an operation runs.
	Owner struct {
		UserID         string
		OrganizationID string
	}

	ServiceInterface interface {
		ListTypes(ctx context.Context, filter *TypeFilter, ordering []core.DBOrdering) ([]Type, error)
		GetType(ctx context.Context, id int) (Type, error)
		StartProcess(ctx context.Context, owner Owner, certificationTypeID int) (Progress, error)
		UpdateStage(ctx context.Context, owner Owner, progressID string, req UpdateStage) (Progress, error)
		CompareAndAdvance(ctx context.Context, owner Owner, progressID string, expected, target Stage) (Progress, error)
		UpdateDetails(ctx context.Context, owner Owner, progressID string, ud UpdateDetails) (Progress, error)
		GetProgress(ctx context.Context, owner Owner, progressID string, asOf time.Time) (ProgressView, error)
		ListProgress(ctx context.Context, owner Owner, asOf time.Time) ([]ProgressView, error)
		IssueCertificate(ctx context.Context, ic IssueCertificate) (UserCertification, error)
		ListUserCertifications(ctx context.Context, owner Owner, asOf time.Time) ([]UserCertificationView, error)
	}

	Service struct {
		types    TypeRepository
		progress ProgressRepository
		issued   UserCertificationRepository
		logger   core.Logger
	}
)

var _ ServiceInterface = (*Service)(nil)

// NewService wires the tracker; types may be a cached decorator of the same storage.
func NewService(types TypeRepository, progress ProgressRepository, issued UserCertificationRepository, logger core.Logger) *Service {
	return &Service{
		types:    types,
		progress: progress,
		issued:   issued,
		logger:   logger,
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "certification."+name, trace.WithAttributes(attrs...))
}

func (svc *Service) ListTypes(ctx context.Context, filter *TypeFilter, ordering []core.DBOrdering) ([]Type, error) {
	ctx, span := startSpan(ctx, "ListTypes")
	defer span.End()

	if filter != nil {
		filter.Clean()
	}

	types, err := svc.types.QueryTypes(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying certification types")
	}
	return types, nil
}

func (svc *Service) GetType(ctx context.Context, id int) (Type, error) {
	ctx, span := startSpan(ctx, "GetType", attribute.Int("certification.id", id))
	defer span.End()

	ct, err := svc.types.GetType(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrTypeNotFound {
			return Type{}, ErrTypeNotFound
		}
		return Type{}, errors.Wrap(err, "getting certification type")
	}
	return ct, nil
}

// StartProcess creates the progress record of owner for a certification type, at StageStarted.
func (svc *Service) StartProcess(ctx context.Context, owner Owner, certificationTypeID int) (Progress, error) {
	ctx, span := startSpan(ctx, "StartProcess", attribute.Int("certification.id", certificationTypeID))
	defer span.End()

	if _, err := svc.types.GetType(ctx, certificationTypeID); err != nil {
		if errors.Cause(err) == ErrTypeNotFound {
			return Progress{}, ErrTypeNotFound
		}
		return Progress{}, errors.Wrap(err, "getting certification type")
	}

	// the unique (user, certification) constraint still guards concurrent starts
	if _, err := svc.progress.FindProgress(ctx, owner.UserID, certificationTypeID); err == nil {
		return Progress{}, ErrDuplicateStart
	} else if errors.Cause(err) != ErrNotFound {
		return Progress{}, errors.Wrap(err, "finding progress")
	}

	now := NowFunc().UTC()
	p, err := svc.progress.CreateProgress(ctx, Progress{
		UserID:          owner.UserID,
		OrganizationID:  owner.OrganizationID,
		CertificationID: certificationTypeID,
		CurrentStage:    StageStarted,
		StartedAt:       &now,
		NextSteps:       []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		if errors.Cause(err) == ErrDuplicateStart {
			return Progress{}, ErrDuplicateStart
		}
		return Progress{}, errors.Wrap(err, "creating progress")
	}

	svc.logger.Info("certification process started", map[string]interface{}{
		"progress_id":      p.ID,
		"certification_id": certificationTypeID,
		"user_id":          owner.UserID,
	})
	return p, nil
}

// getOwnedProgress hides records of other users behind ErrNotFound.
func (svc *Service) getOwnedProgress(ctx context.Context, owner Owner, progressID string) (Progress, error) {
	if _, err := uuid.Parse(progressID); err != nil {
		return Progress{}, ErrNotFound
	}
	p, err := svc.progress.GetProgress(ctx, progressID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Progress{}, ErrNotFound
		}
		return Progress{}, errors.Wrap(err, "getting progress")
	}
	if p.UserID != owner.UserID {
		return Progress{}, ErrNotFound
	}
	return p, nil
}

// UpdateStage applies a validated stage transition. The write only lands if the stage read
// before validation is still the stored one, so concurrent updates cannot both succeed.
func (svc *Service) UpdateStage(ctx context.Context, owner Owner, progressID string, req UpdateStage) (Progress, error) {
	checked := req.Checked != nil && *req.Checked
	ctx, span := startSpan(ctx, "UpdateStage",
		attribute.String("progress.id", progressID),
		attribute.String("stage", string(req.Stage)),
		attribute.Bool("checked", checked),
	)
	defer span.End()

	p, err := svc.getOwnedProgress(ctx, owner, progressID)
	if err != nil {
		return Progress{}, err
	}

	next, err := Transition(p, req.Stage, checked, NowFunc())
	if err != nil {
		svc.logger.Debug("certification stage transition rejected", map[string]interface{}{
			"progress_id": p.ID,
			"detail":      err.(*TransitionError).Detail(),
		})
		return Progress{}, err
	}
	if req.NewStatus != "" && req.NewStatus != next.CurrentStage {
		return Progress{}, newTransitionError(p.CurrentStage, req.Stage, checked, reasonStatusDiffer)
	}
	if p.CurrentStage == StageApproved && next.CurrentStage != StageApproved {
		// an issued certificate pins its progress to approved
		issued, err := svc.issued.IsIssued(ctx, p.ID)
		if err != nil {
			return Progress{}, errors.Wrap(err, "checking issued certificates")
		}
		if issued {
			return Progress{}, ErrAlreadyIssued
		}
	}

	return svc.swap(ctx, p, next)
}

// CompareAndAdvance advances progressID from expected to target, failing with ErrStaleStage
// when the stored stage is no longer expected.
func (svc *Service) CompareAndAdvance(ctx context.Context, owner Owner, progressID string, expected, target Stage) (Progress, error) {
	ctx, span := startSpan(ctx, "CompareAndAdvance",
		attribute.String("progress.id", progressID),
		attribute.String("expected", string(expected)),
		attribute.String("target", string(target)),
	)
	defer span.End()

	p, err := svc.getOwnedProgress(ctx, owner, progressID)
	if err != nil {
		return Progress{}, err
	}
	if p.CurrentStage != expected {
		return Progress{}, ErrStaleStage
	}

	next, err := Transition(p, target, true, NowFunc())
	if err != nil {
		return Progress{}, err
	}
	return svc.swap(ctx, p, next)
}

func (svc *Service) swap(ctx context.Context, prev, next Progress) (Progress, error) {
	if prev.CurrentStage == next.CurrentStage {
		// reverting StageStarted: nothing to persist
		return prev, nil
	}

	next.UpdatedAt = NowFunc().UTC()
	p, err := svc.progress.SwapStage(ctx, next, prev.CurrentStage)
	if err != nil {
		switch errors.Cause(err) {
		case ErrStaleStage, ErrNotFound:
			return Progress{}, errors.Cause(err)
		default:
			return Progress{}, errors.Wrap(err, "swapping progress stage")
		}
	}

	svc.logger.Info("certification stage updated", map[string]interface{}{
		"progress_id": p.ID,
		"from":        prev.CurrentStage,
		"to":          p.CurrentStage,
	})
	return p, nil
}

func (svc *Service) UpdateDetails(ctx context.Context, owner Owner, progressID string, ud UpdateDetails) (Progress, error) {
	ctx, span := startSpan(ctx, "UpdateDetails", attribute.String("progress.id", progressID))
	defer span.End()

	p, err := svc.getOwnedProgress(ctx, owner, progressID)
	if err != nil {
		return Progress{}, err
	}
	if ud.Notes != nil {
		p.Notes = *ud.Notes
	}
	if ud.NextSteps != nil {
		p.NextSteps = ud.NextSteps
	}
	p.UpdatedAt = NowFunc().UTC()

	p, err = svc.progress.UpdateProgressDetails(ctx, p)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Progress{}, ErrNotFound
		}
		return Progress{}, errors.Wrap(err, "updating progress details")
	}
	return p, nil
}

// view pairs p with its certification type; a missing type only drops the pairing.
func (svc *Service) view(ctx context.Context, p Progress, asOf time.Time, cache map[int]*Type) (ProgressView, error) {
	ct, ok := cache[p.CertificationID]
	if !ok {
		t, err := svc.types.GetType(ctx, p.CertificationID)
		switch {
		case err == nil:
			ct = &t
		case errors.Cause(err) == ErrTypeNotFound:
		default:
			return ProgressView{}, errors.Wrap(err, "getting certification type")
		}
		if cache != nil {
			cache[p.CertificationID] = ct
		}
	}

	v := ProgressView{Progress: p, DisplayStatus: DisplayStatus(p.CurrentStage), Certification: ct}
	if ct != nil {
		v.DisplayStatus = ComputeDisplayStatus(p, *ct, asOf)
		v.ExpiresAt = ExpiresAt(p, *ct)
	}
	return v, nil
}

func (svc *Service) GetProgress(ctx context.Context, owner Owner, progressID string, asOf time.Time) (ProgressView, error) {
	ctx, span := startSpan(ctx, "GetProgress", attribute.String("progress.id", progressID))
	defer span.End()

	p, err := svc.getOwnedProgress(ctx, owner, progressID)
	if err != nil {
		return ProgressView{}, err
	}
	return svc.view(ctx, p, asOf, nil)
}

func (svc *Service) ListProgress(ctx context.Context, owner Owner, asOf time.Time) ([]ProgressView, error) {
	ctx, span := startSpan(ctx, "ListProgress")
	defer span.End()

	records, err := svc.progress.QueryProgress(ctx, owner.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "querying progress")
	}

	cache := make(map[int]*Type)
	views := make([]ProgressView, 0, len(records))
	for _, p := range records {
		v, err := svc.view(ctx, p, asOf, cache)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// IssueCertificate records the certificate of an approved progress record.
// Validity runs from the issue date, which defaults to the approval date.
func (svc *Service) IssueCertificate(ctx context.Context, ic IssueCertificate) (UserCertification, error) {
	ctx, span := startSpan(ctx, "IssueCertificate", attribute.String("progress.id", ic.ProgressID))
	defer span.End()

	p, err := svc.progress.GetProgress(ctx, ic.ProgressID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return UserCertification{}, ErrNotFound
		}
		return UserCertification{}, errors.Wrap(err, "getting progress")
	}
	if p.CurrentStage != StageApproved || p.ApprovedAt == nil {
		return UserCertification{}, ErrNotApproved
	}

	ct, err := svc.types.GetType(ctx, p.CertificationID)
	if err != nil {
		if errors.Cause(err) == ErrTypeNotFound {
			return UserCertification{}, ErrTypeNotFound
		}
		return UserCertification{}, errors.Wrap(err, "getting certification type")
	}

	issuedAt := ic.IssuedAt.UTC()
	if ic.IssuedAt.IsZero() {
		issuedAt = p.ApprovedAt.UTC()
	}
	number := ic.CertificateNumber
	if number == "" {
		number = certificateNumber(ct, p, issuedAt)
	}

	uc := UserCertification{
		UserID:            p.UserID,
		OrganizationID:    p.OrganizationID,
		CertificationID:   p.CertificationID,
		ProgressID:        p.ID,
		CertificateNumber: number,
		IssuedAt:          issuedAt,
		CreatedAt:         NowFunc().UTC(),
	}
	if ct.ValidityPeriod > 0 {
		uc.ExpiresAt = addMonths(issuedAt, ct.ValidityPeriod)
	}

	uc, err = svc.issued.CreateUserCertification(ctx, uc)
	if err != nil {
		switch errors.Cause(err) {
		case ErrAlreadyIssued, ErrCertificateTaken:
			return UserCertification{}, errors.Cause(err)
		default:
			return UserCertification{}, errors.Wrap(err, "creating user certification")
		}
	}

	svc.logger.Info("certificate issued", map[string]interface{}{
		"progress_id":        p.ID,
		"certificate_number": uc.CertificateNumber,
	})
	return uc, nil
}

// certificateNumber builds e.g. "ISO14001-2026-1A2B3C4D" from the type name, issue year and progress id.
func certificateNumber(ct Type, p Progress, issuedAt time.Time) string {
	var prefix strings.Builder
	for _, r := range strings.ToUpper(ct.Name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			prefix.WriteRune(r)
		}
		if prefix.Len() == 10 {
			break
		}
	}
	if prefix.Len() == 0 {
		prefix.WriteString(fmt.Sprintf("CERT%d", ct.ID))
	}
	suffix := strings.ToUpper(strings.ReplaceAll(p.ID, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s-%d-%s", prefix.String(), issuedAt.Year(), suffix)
}

func (svc *Service) ListUserCertifications(ctx context.Context, owner Owner, asOf time.Time) ([]UserCertificationView, error) {
	ctx, span := startSpan(ctx, "ListUserCertifications")
	defer span.End()

	certs, err := svc.issued.QueryUserCertifications(ctx, owner.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "querying user certifications")
	}

	types := make(map[int]*Type)
	views := make([]UserCertificationView, 0, len(certs))
	for _, uc := range certs {
		ct, ok := types[uc.CertificationID]
		if !ok {
			t, err := svc.types.GetType(ctx, uc.CertificationID)
			switch {
			case err == nil:
				ct = &t
			case errors.Cause(err) == ErrTypeNotFound:
			default:
				return nil, errors.Wrap(err, "getting certification type")
			}
			types[uc.CertificationID] = ct
		}
		views = append(views, UserCertificationView{UserCertification: uc, Status: uc.Status(asOf), Certification: ct})
	}
	return views, nil
}

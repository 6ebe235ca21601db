package certification

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/wastewise/core"
)

// Difficulty tiers
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// Cost tiers
const (
	CostLow    = "low"
	CostMedium = "medium"
	CostHigh   = "high"
)

// Type is a certification program. It is static reference data, seeded out of band.
type Type struct {
	ID             int      `json:"id" yaml:"id" validate:"required,gt=0"`
	Name           string   `json:"name" yaml:"name" validate:"required,notblank"`
	Description    string   `json:"description" yaml:"description"`
	Requirements   []string `json:"requirements" yaml:"requirements"`
	ValidityPeriod int      `json:"validityPeriod" yaml:"validityPeriod" validate:"gte=0"` // months; 0: never expires
	Industries     []string `json:"industries" yaml:"industries" validate:"required,min=1,dive,notblank"`
	Difficulty     string   `json:"difficulty" yaml:"difficulty" validate:"omitempty,oneof=beginner intermediate advanced"`
	ProviderName   string   `json:"providerName" yaml:"providerName"`
	ProviderURL    string   `json:"providerUrl" yaml:"providerUrl" validate:"omitempty,url"`
	EstimatedTime  string   `json:"estimatedTime" yaml:"estimatedTime"`
	CostTier       string   `json:"costTier" yaml:"costTier" validate:"omitempty,oneof=low medium high"`
	RelevanceScore int      `json:"relevanceScore" yaml:"relevanceScore" validate:"gte=0,lte=100"`
}

func (ct Type) Validate(validate *validator.Validate) error { return validate.Struct(ct) }

// Progress tracks one user's advancement through a certification's stages.
type Progress struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	OrganizationID  string     `json:"organizationId"`
	CertificationID int        `json:"certificationId"`
	CurrentStage    Stage      `json:"currentStage"`
	StartedAt       *time.Time `json:"startedAt"`
	AppliedAt       *time.Time `json:"appliedAt"`
	InProgressAt    *time.Time `json:"inProgressAt"`
	ApprovedAt      *time.Time `json:"approvedAt"`
	NextSteps       []string   `json:"nextSteps"`
	Notes           string     `json:"notes"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// StageTime returns the timestamp recorded when s was reached.
func (p Progress) StageTime(s Stage) *time.Time {
	switch s {
	case StageStarted:
		return p.StartedAt
	case StageApplied:
		return p.AppliedAt
	case StageInProgress:
		return p.InProgressAt
	case StageApproved:
		return p.ApprovedAt
	default:
		return nil
	}
}

func (p *Progress) setStageTime(s Stage, t *time.Time) {
	switch s {
	case StageStarted:
		p.StartedAt = t
	case StageApplied:
		p.AppliedAt = t
	case StageInProgress:
		p.InProgressAt = t
	case StageApproved:
		p.ApprovedAt = t
	}
}

// ProgressView is a progress record as displayed to its owner.
type ProgressView struct {
	Progress
	DisplayStatus DisplayStatus `json:"displayStatus"`
	ExpiresAt     *time.Time    `json:"expiresAt"`
	Certification *Type         `json:"certification,omitempty"`
}

// Issued certificate statuses
const (
	CertificateActive  = "active"
	CertificateExpired = "expired"
)

// UserCertification is a certificate issued once a progress record was approved.
type UserCertification struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	OrganizationID    string     `json:"organizationId"`
	CertificationID   int        `json:"certificationId"`
	ProgressID        string     `json:"progressId"`
	CertificateNumber string     `json:"certificateNumber"`
	IssuedAt          time.Time  `json:"issuedAt"`
	ExpiresAt         *time.Time `json:"expiresAt"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// Status is computed on every read.
func (uc UserCertification) Status(asOf time.Time) string {
	if uc.ExpiresAt != nil && uc.ExpiresAt.Before(asOf) {
		return CertificateExpired
	}
	return CertificateActive
}

type UserCertificationView struct {
	UserCertification
	Status        string `json:"status"`
	Certification *Type  `json:"certification,omitempty"`
}

// StartProcess contains information needed to start a certification process.
type StartProcess struct {
	CertificationTypeID int `json:"certificationTypeId" validate:"required,gt=0"`
}

func (sp StartProcess) Validate(validate *validator.Validate) error { return validate.Struct(sp) }

// UpdateStage checks (advances to) or unchecks (reverts from) a stage.
type UpdateStage struct {
	Stage     Stage `json:"stage" validate:"required,stage"`
	Checked   *bool `json:"checked" validate:"required"`
	NewStatus Stage `json:"newStatus" validate:"omitempty,stage"`
}

func (us UpdateStage) Validate(validate *validator.Validate) error { return validate.Struct(us) }

// CompareAndAdvance advances only when the stored stage still equals ExpectedStage.
type CompareAndAdvance struct {
	ExpectedStage Stage `json:"expectedStage" validate:"required,stage"`
	TargetStage   Stage `json:"targetStage" validate:"required,stage"`
}

func (ca CompareAndAdvance) Validate(validate *validator.Validate) error { return validate.Struct(ca) }

// UpdateDetails edits the operator-curated guidance of a progress record.
type UpdateDetails struct {
	Notes     *string  `json:"notes"`
	NextSteps []string `json:"nextSteps" validate:"omitempty,max=50,dive,notblank,max=500"`
}

func (ud *UpdateDetails) Validate(validate *validator.Validate) error {
	if ud.Notes != nil {
		notes := core.CleanString(*ud.Notes)
		ud.Notes = &notes
	}
	for i, step := range ud.NextSteps {
		ud.NextSteps[i] = core.CleanString(step)
	}
	return validate.Struct(ud)
}

// IssueCertificate contains information needed to issue a certificate for an approved progress record.
type IssueCertificate struct {
	ProgressID        string    `json:"progressId" validate:"required,uuid"`
	CertificateNumber string    `json:"certificateNumber" validate:"omitempty,max=64"`
	IssuedAt          time.Time `json:"issuedAt"`
}

func (ic *IssueCertificate) Validate(validate *validator.Validate) error {
	ic.CertificateNumber = core.CleanString(ic.CertificateNumber)
	return validate.Struct(ic)
}

// TypeFilter narrows certification type listings. Empty fields are ignored.
type TypeFilter struct {
	Search     string `query:"search"`
	Industry   string `query:"industry"`
	Difficulty string `query:"difficulty"`
}

func (tf *TypeFilter) Clean() {
	tf.Search = core.CleanString(tf.Search)
	tf.Industry = core.CleanString(tf.Industry, true /* lower */)
	tf.Difficulty = core.CleanString(tf.Difficulty, true /* lower */)
}

func (tf *TypeFilter) IsEmpty() bool {
	return tf == nil || (tf.Search == "" && tf.Industry == "" && tf.Difficulty == "")
}

// TypeOrderingFields lists the fields certification types may be ordered by.
var TypeOrderingFields = map[string]string{
	"id":             "id",
	"name":           "name",
	"validityPeriod": "validity_period_months",
	"relevanceScore": "relevance_score",
	"difficulty":     "difficulty",
}

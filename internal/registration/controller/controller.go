// Package controller implements the core business logic (service layer)
// for the registration system: reconciling pre-registration and full
// registration submissions into company records, coordinating group
// capacity, and gating writes on the global schedule.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gartstein/enroll/internal/registration/codes"
	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/events"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventProducer interface {
	Produce(eventType events.EventType, key string, payload interface{})
}

// Repository defines the storage interface for registration records.
// No in-process caching sits in front of it: every check reads the store,
// and the store's constraints are the authoritative uniqueness gates.
type Repository interface {
	CreateCompany(ctx context.Context, company *models.Company) error
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	FindCompanyByIdentity(ctx context.Context, name string, code *string) (*models.Company, error)
	FindCompanyByPreRegistration(ctx context.Context, preID uuid.UUID) (*models.Company, error)
	UpdateCompany(ctx context.Context, update *models.CompanyUpdate) error
	DeleteCompany(ctx context.Context, id uuid.UUID) error
	ListCompanies(ctx context.Context) ([]models.Company, error)
	CountGroupCompanies(ctx context.Context, groupID uuid.UUID) (int64, error)

	CreatePreRegistration(ctx context.Context, pre *models.PreRegistration) error
	GetPreRegistration(ctx context.Context, id uuid.UUID) (*models.PreRegistration, error)
	FindPreRegistrationByIdentity(ctx context.Context, companyName string, code *string) (*models.PreRegistration, error)
	UpdatePreRegistration(ctx context.Context, pre *models.PreRegistration) error
	DeletePreRegistration(ctx context.Context, id uuid.UUID) error
	ListPreRegistrations(ctx context.Context) ([]models.PreRegistration, error)

	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error)
	UpdateGroupFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	ListGroups(ctx context.Context) ([]models.Group, error)
	AdmitToGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error)
	ReleaseGroupSlot(ctx context.Context, groupID uuid.UUID) error

	GetSchedule(ctx context.Context) (*models.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *models.Schedule) error
	SaveScheduleIf(ctx context.Context, prev time.Time, isOpen, autoClosed bool) error

	Close() error
}

// CodeDirectory resolves submissions against the company-name directory.
type CodeDirectory interface {
	LookupByName(ctx context.Context, name string) (*models.CompanyName, error)
	LookupByCode(ctx context.Context, code string) (*models.CompanyName, error)
}

// RegistrationService reconciles incoming submissions with existing
// Company and PreRegistration records.
type RegistrationService struct {
	repo      Repository
	directory CodeDirectory
	schedule  *ScheduleService
	producer  EventProducer
	logger    *zap.Logger
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(
	repo Repository,
	directory CodeDirectory,
	scheduleSvc *ScheduleService,
	producer EventProducer,
	logger *zap.Logger,
) *RegistrationService {
	return &RegistrationService{
		repo:      repo,
		directory: directory,
		schedule:  scheduleSvc,
		producer:  producer,
		logger:    logger.Named("registration_service"),
	}
}

// PreRegistrationInput is a pre-registration submission.
type PreRegistrationInput struct {
	Name         string
	MobileNumber string
	CompanyName  string
	Code         string
	GroupID      *uuid.UUID
}

// PreRegistrationResult reports the reconciled state after a submission.
// Company may be nil when the company insert lost a code race; the
// pre-registration still committed and a later submission converges.
type PreRegistrationResult struct {
	PreRegistrationID uuid.UUID
	CompanyID         *uuid.UUID
	Company           *models.Company
	Updated           bool
}

// RegisterInput is a direct full-registration submission.
type RegisterInput struct {
	RegistrantName string
	PhoneNumber    string
	Address        string
	Email          string
	CompanyName    string
	Code           string
	GroupID        *uuid.UUID
	Paid           bool
}

// SubmitPreRegistration reconciles a pre-registration submission: repeat
// submissions for the same identity update the existing records in place,
// a company-owned identity without a pre-registration link is rejected,
// and a new identity materializes both a PreRegistration and a linked,
// auto-approved Company.
func (s *RegistrationService) SubmitPreRegistration(ctx context.Context, in *PreRegistrationInput) (*PreRegistrationResult, error) {
	sched, err := s.gate(ctx)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.MobileNumber) == "" {
		return nil, fmt.Errorf("%w: name and mobile number required", e.ErrInvalidInput)
	}
	companyName, code, err := s.resolveIdentity(ctx, in.CompanyName, in.Code, sched.CodesActive)
	if err != nil {
		return nil, err
	}
	if in.GroupID != nil {
		if err := s.validateGroup(ctx, *in.GroupID); err != nil {
			return nil, err
		}
	}

	// A company already owning the identity ends the flow unless it was
	// materialized from a pre-registration, in which case the submission
	// is a repeat and merges in place.
	company, err := s.repo.FindCompanyByIdentity(ctx, companyName, code)
	switch {
	case err == nil:
		if company.PreRegistrationID == nil {
			return nil, e.ErrAlreadyRegistered
		}
		return s.mergeLinkedSubmission(ctx, company, in)
	case !errors.Is(err, e.ErrNotFound):
		return nil, fmt.Errorf("failed to resolve company identity: %w", err)
	}

	pre, err := s.repo.FindPreRegistrationByIdentity(ctx, companyName, code)
	switch {
	case err == nil:
		return s.refreshPreRegistration(ctx, pre, in)
	case !errors.Is(err, e.ErrNotFound):
		return nil, fmt.Errorf("failed to resolve pre-registration identity: %w", err)
	}

	return s.createPreRegistration(ctx, companyName, code, in)
}

// mergeLinkedSubmission updates a pre-registration-linked company and its
// pre-registration from a repeat submission. The company's registrant,
// group and code are preserved.
func (s *RegistrationService) mergeLinkedSubmission(ctx context.Context, company *models.Company, in *PreRegistrationInput) (*PreRegistrationResult, error) {
	pre, err := s.repo.GetPreRegistration(ctx, *company.PreRegistrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked pre-registration: %w", err)
	}
	pre.RegistrantName = in.Name
	pre.MobileNumber = in.MobileNumber
	pre.Status = models.StatusPending
	if err := s.repo.UpdatePreRegistration(ctx, pre); err != nil {
		return nil, fmt.Errorf("failed to update pre-registration: %w", err)
	}

	update := &models.CompanyUpdate{
		ID:    company.ID,
		Phone: &in.MobileNumber,
	}
	if err := s.repo.UpdateCompany(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to update company: %w", err)
	}
	refreshed, err := s.repo.GetCompany(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload company: %w", err)
	}
	go func() {
		s.producer.Produce(events.CompanyUpdated, refreshed.ID.String(), refreshed)
	}()
	return &PreRegistrationResult{
		PreRegistrationID: pre.ID,
		CompanyID:         &refreshed.ID,
		Company:           refreshed,
		Updated:           true,
	}, nil
}

// refreshPreRegistration merges a repeat submission into an existing
// unconsumed pre-registration, then (re)materializes its linked company.
func (s *RegistrationService) refreshPreRegistration(ctx context.Context, pre *models.PreRegistration, in *PreRegistrationInput) (*PreRegistrationResult, error) {
	pre.RegistrantName = in.Name
	pre.MobileNumber = in.MobileNumber
	pre.Status = models.StatusPending
	if in.GroupID != nil {
		pre.GroupID = in.GroupID
	}
	if err := s.repo.UpdatePreRegistration(ctx, pre); err != nil {
		return nil, fmt.Errorf("failed to update pre-registration: %w", err)
	}

	result := &PreRegistrationResult{PreRegistrationID: pre.ID, Updated: true}

	linked, err := s.repo.FindCompanyByPreRegistration(ctx, pre.ID)
	switch {
	case err == nil:
		update := &models.CompanyUpdate{ID: linked.ID, Phone: &in.MobileNumber}
		if err := s.repo.UpdateCompany(ctx, update); err != nil {
			return nil, fmt.Errorf("failed to update linked company: %w", err)
		}
		refreshed, err := s.repo.GetCompany(ctx, linked.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload company: %w", err)
		}
		go func() {
			s.producer.Produce(events.CompanyUpdated, refreshed.ID.String(), refreshed)
		}()
		result.CompanyID = &refreshed.ID
		result.Company = refreshed
	case errors.Is(err, e.ErrNotFound):
		company := s.companyFromPreRegistration(pre)
		if err := s.materializeCompany(ctx, company); err != nil {
			if !errors.Is(err, e.ErrDuplicateCode) {
				return nil, err
			}
			// Lost a code race; the pre-registration stands and a later
			// submission converges.
			s.logger.Warn("company materialization lost code race",
				zap.String("pre_registration_id", pre.ID.String()))
		} else {
			result.CompanyID = &company.ID
			result.Company = company
		}
	default:
		return nil, fmt.Errorf("failed to look up linked company: %w", err)
	}
	return result, nil
}

// createPreRegistration handles a truly new identity: inserts the
// pre-registration, then attempts to materialize the linked company. When
// a concurrent submission inserts the identity first, the unique index
// rejects ours and the submission merges into the winner instead.
func (s *RegistrationService) createPreRegistration(ctx context.Context, companyName string, code *string, in *PreRegistrationInput) (*PreRegistrationResult, error) {
	pre := &models.PreRegistration{
		ID:             uuid.New(),
		RegistrantName: in.Name,
		MobileNumber:   in.MobileNumber,
		CompanyName:    companyName,
		Code:           code,
		GroupID:        in.GroupID,
		Status:         models.StatusPending,
	}
	if err := s.repo.CreatePreRegistration(ctx, pre); err != nil {
		if !errors.Is(err, e.ErrConflict) {
			return nil, fmt.Errorf("failed to create pre-registration: %w", err)
		}
		existing, findErr := s.repo.FindPreRegistrationByIdentity(ctx, companyName, code)
		if findErr != nil {
			return nil, fmt.Errorf("failed to resolve racing pre-registration: %w", findErr)
		}
		return s.refreshPreRegistration(ctx, existing, in)
	}
	go func() {
		s.producer.Produce(events.PreRegistrationCreated, pre.ID.String(), pre)
	}()

	result := &PreRegistrationResult{PreRegistrationID: pre.ID}

	company := s.companyFromPreRegistration(pre)
	if err := s.materializeCompany(ctx, company); err != nil {
		if !errors.Is(err, e.ErrDuplicateCode) {
			return nil, err
		}
		s.logger.Warn("company materialization lost code race",
			zap.String("pre_registration_id", pre.ID.String()))
		return result, nil
	}
	result.CompanyID = &company.ID
	result.Company = company
	return result, nil
}

func (s *RegistrationService) companyFromPreRegistration(pre *models.PreRegistration) *models.Company {
	return &models.Company{
		ID:                uuid.New(),
		Name:              pre.CompanyName,
		Code:              pre.Code,
		RegistrantName:    pre.RegistrantName,
		Phone:             pre.MobileNumber,
		GroupID:           pre.GroupID,
		Status:            models.StatusApproved,
		PreRegistrationID: &pre.ID,
	}
}

// RegisterCompany handles a direct full registration with the same
// identity resolution as pre-registration, minus the PreRegistration
// layer. Registrations are auto-approved.
func (s *RegistrationService) RegisterCompany(ctx context.Context, in *RegisterInput) (*models.Company, error) {
	sched, err := s.gate(ctx)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(in.RegistrantName) == "" || strings.TrimSpace(in.PhoneNumber) == "" {
		return nil, fmt.Errorf("%w: registrant name and phone number required", e.ErrInvalidInput)
	}
	companyName, code, err := s.resolveIdentity(ctx, in.CompanyName, in.Code, sched.CodesActive)
	if err != nil {
		return nil, err
	}
	if in.GroupID != nil {
		if err := s.validateGroup(ctx, *in.GroupID); err != nil {
			return nil, err
		}
	}

	existing, err := s.repo.FindCompanyByIdentity(ctx, companyName, code)
	switch {
	case err == nil:
		// A company materialized from a pre-registration is completed in
		// place; registrant, group and code are preserved.
		if existing.PreRegistrationID == nil {
			return nil, e.ErrAlreadyRegistered
		}
		update := &models.CompanyUpdate{
			ID:      existing.ID,
			Phone:   &in.PhoneNumber,
			Address: &in.Address,
			Email:   &in.Email,
			Paid:    &in.Paid,
		}
		if err := s.repo.UpdateCompany(ctx, update); err != nil {
			return nil, fmt.Errorf("failed to update company: %w", err)
		}
		refreshed, err := s.repo.GetCompany(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload company: %w", err)
		}
		go func() {
			s.producer.Produce(events.CompanyUpdated, refreshed.ID.String(), refreshed)
		}()
		return refreshed, nil
	case !errors.Is(err, e.ErrNotFound):
		return nil, fmt.Errorf("failed to resolve company identity: %w", err)
	}

	company := &models.Company{
		ID:             uuid.New(),
		Name:           companyName,
		Code:           code,
		RegistrantName: in.RegistrantName,
		Phone:          in.PhoneNumber,
		Address:        in.Address,
		Email:          in.Email,
		GroupID:        in.GroupID,
		Status:         models.StatusApproved,
		Paid:           in.Paid,
	}
	if err := s.materializeCompany(ctx, company); err != nil {
		return nil, err
	}
	return company, nil
}

// gate rejects gated operations while the schedule is closed.
func (s *RegistrationService) gate(ctx context.Context) (*models.Schedule, error) {
	sched, err := s.schedule.Current(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if !sched.IsOpen {
		return nil, e.ErrRegistrationClosed
	}
	return sched, nil
}

// resolveIdentity normalizes a submission to its identity key. While
// codes are active, a missing code is filled from the directory by
// company name; a submission that resolves to no code is invalid. With
// codes disabled the identity is the company name alone.
func (s *RegistrationService) resolveIdentity(ctx context.Context, companyName, code string, codesActive bool) (string, *string, error) {
	companyName = strings.TrimSpace(companyName)
	if companyName == "" {
		return "", nil, fmt.Errorf("%w: company name required", e.ErrInvalidInput)
	}
	if !codesActive {
		return companyName, nil, nil
	}

	code = strings.TrimSpace(code)
	if code == "" {
		entry, err := s.directory.LookupByName(ctx, companyName)
		if err != nil {
			if errors.Is(err, e.ErrNotFound) {
				return "", nil, fmt.Errorf("%w: code required", e.ErrInvalidInput)
			}
			return "", nil, fmt.Errorf("failed to resolve code from directory: %w", err)
		}
		code = entry.Code
	}
	if !codes.ValidFormat(code) {
		return "", nil, fmt.Errorf("%w: code must be exactly 4 digits", e.ErrInvalidInput)
	}
	return companyName, &code, nil
}

// validateGroup pre-checks admission before any state is mutated. The
// same conditions are enforced atomically again at admission time.
func (s *RegistrationService) validateGroup(ctx context.Context, groupID uuid.UUID) error {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.IsClosed {
		return e.ErrGroupClosed
	}
	if group.MaxCompanies > 0 && group.RegisteredCount >= group.MaxCompanies {
		return e.ErrGroupFull
	}
	return nil
}

// materializeCompany reserves a group slot when one is requested, then
// inserts the company. A rejected insert releases the reserved slot; if
// the release itself fails the drift is logged and emitted rather than
// failing the submission.
func (s *RegistrationService) materializeCompany(ctx context.Context, company *models.Company) error {
	var admitted *models.Group
	if company.GroupID != nil {
		group, err := s.repo.AdmitToGroup(ctx, *company.GroupID)
		if err != nil {
			return err
		}
		admitted = group
	}

	if err := s.repo.CreateCompany(ctx, company); err != nil {
		if admitted != nil {
			if relErr := s.repo.ReleaseGroupSlot(ctx, admitted.ID); relErr != nil {
				s.logger.Error("failed to release group slot after rejected insert",
					zap.Error(relErr),
					zap.String("group_id", admitted.ID.String()),
				)
				go func() {
					s.producer.Produce(events.GroupDriftDetected, admitted.ID.String(), admitted)
				}()
			}
		}
		return err
	}

	go func() {
		s.producer.Produce(events.CompanyRegistered, company.ID.String(), company)
	}()
	if admitted != nil && admitted.IsClosed {
		go func() {
			s.producer.Produce(events.GroupClosed, admitted.ID.String(), admitted)
		}()
	}
	return nil
}

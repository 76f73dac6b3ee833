package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/events"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminService carries the operator-facing operations: company review,
// group administration and group-count auditing. Callers pass an already
// verified principal; this layer never sees transport headers.
type AdminService struct {
	repo     Repository
	producer EventProducer
	logger   *zap.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(repo Repository, producer EventProducer, logger *zap.Logger) *AdminService {
	return &AdminService{
		repo:     repo,
		producer: producer,
		logger:   logger.Named("admin_service"),
	}
}

// ApproveCompany marks a company approved.
func (s *AdminService) ApproveCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	status := models.StatusApproved
	return s.patchCompany(ctx, &models.CompanyUpdate{ID: id, Status: &status})
}

// RejectCompany marks a company rejected.
func (s *AdminService) RejectCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	status := models.StatusRejected
	return s.patchCompany(ctx, &models.CompanyUpdate{ID: id, Status: &status})
}

// PatchCompany applies an allow-listed partial update to a company.
func (s *AdminService) PatchCompany(ctx context.Context, update *models.CompanyUpdate) (*models.Company, error) {
	return s.patchCompany(ctx, update)
}

func (s *AdminService) patchCompany(ctx context.Context, update *models.CompanyUpdate) (*models.Company, error) {
	if update.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: invalid company ID", e.ErrInvalidInput)
	}
	if err := s.repo.UpdateCompany(ctx, update); err != nil {
		if errors.Is(err, e.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update company: %w", err)
	}
	updated, err := s.repo.GetCompany(ctx, update.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload company: %w", err)
	}
	go func() {
		s.producer.Produce(events.CompanyUpdated, updated.ID.String(), updated)
	}()
	return updated, nil
}

// DeleteCompany removes a company. The group counter is left alone; the
// audit routine surfaces the resulting drift.
func (s *AdminService) DeleteCompany(ctx context.Context, id uuid.UUID) error {
	company, err := s.repo.GetCompany(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCompany(ctx, id); err != nil {
		return fmt.Errorf("failed to delete company: %w", err)
	}
	go func() {
		s.producer.Produce(events.CompanyDeleted, company.ID.String(), company)
	}()
	return nil
}

// ListCompanies returns all companies ordered by creation time.
func (s *AdminService) ListCompanies(ctx context.Context) ([]models.Company, error) {
	return s.repo.ListCompanies(ctx)
}

// ListPreRegistrations returns all pre-registrations.
func (s *AdminService) ListPreRegistrations(ctx context.Context) ([]models.PreRegistration, error) {
	return s.repo.ListPreRegistrations(ctx)
}

// DeletePreRegistration removes a pre-registration, refusing while a
// materialized company still links to it.
func (s *AdminService) DeletePreRegistration(ctx context.Context, id uuid.UUID) error {
	_, err := s.repo.FindCompanyByPreRegistration(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: a registered company links to this pre-registration", e.ErrConflict)
	case !errors.Is(err, e.ErrNotFound):
		return fmt.Errorf("failed to check linked company: %w", err)
	}
	return s.repo.DeletePreRegistration(ctx, id)
}

// CreateGroup adds a registration cohort.
func (s *AdminService) CreateGroup(ctx context.Context, group *models.Group) (*models.Group, error) {
	if strings.TrimSpace(group.Name) == "" {
		return nil, fmt.Errorf("%w: group name required", e.ErrInvalidInput)
	}
	if group.MaxCompanies < 0 {
		return nil, fmt.Errorf("%w: max companies must not be negative", e.ErrInvalidInput)
	}
	group.ID = uuid.New()
	group.RegisteredCount = 0
	group.IsClosed = false
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateGroup edits a group and recomputes the closed flag. The closed
// flag stays true while the counter is at or over a non-zero limit, no
// matter what the edit asked for; the counter itself never moves here.
func (s *AdminService) UpdateGroup(ctx context.Context, update *models.GroupUpdate) (*models.Group, error) {
	if update.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: invalid group ID", e.ErrInvalidInput)
	}
	group, err := s.repo.GetGroup(ctx, update.ID)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]interface{})
	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			return nil, fmt.Errorf("%w: group name required", e.ErrInvalidInput)
		}
		fields["name"] = *update.Name
	}
	if update.Date != nil {
		fields["date"] = *update.Date
	}
	if update.TimeFrom != nil {
		fields["time_from"] = *update.TimeFrom
	}
	if update.TimeTo != nil {
		fields["time_to"] = *update.TimeTo
	}

	maxCompanies := group.MaxCompanies
	if update.MaxCompanies != nil {
		if *update.MaxCompanies < 0 {
			return nil, fmt.Errorf("%w: max companies must not be negative", e.ErrInvalidInput)
		}
		maxCompanies = *update.MaxCompanies
		fields["max_companies"] = maxCompanies
	}

	atCapacity := maxCompanies > 0 && group.RegisteredCount >= maxCompanies
	switch {
	case update.IsClosed != nil:
		fields["is_closed"] = *update.IsClosed || atCapacity
	case update.MaxCompanies != nil:
		fields["is_closed"] = atCapacity
	}

	if len(fields) > 0 {
		if err := s.repo.UpdateGroupFields(ctx, update.ID, fields); err != nil {
			return nil, err
		}
	}
	return s.repo.GetGroup(ctx, update.ID)
}

// DeleteGroup removes a cohort.
func (s *AdminService) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteGroup(ctx, id)
}

// ListGroups returns all cohorts ordered by date.
func (s *AdminService) ListGroups(ctx context.Context) ([]models.Group, error) {
	return s.repo.ListGroups(ctx)
}

// GroupDrift reports a group whose reserved-slot counter disagrees with
// the actual member count.
type GroupDrift struct {
	GroupID  uuid.UUID `json:"groupId"`
	Name     string    `json:"name"`
	Recorded int       `json:"recorded"`
	Actual   int       `json:"actual"`
}

// AuditGroupCounts compares every group's counter with its actual member
// count. Best-effort bookkeeping writes are allowed to drift; this makes
// the drift observable instead of silent.
func (s *AdminService) AuditGroupCounts(ctx context.Context) ([]GroupDrift, error) {
	groups, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	var drifts []GroupDrift
	for _, group := range groups {
		actual, err := s.repo.CountGroupCompanies(ctx, group.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count group members: %w", err)
		}
		if int(actual) == group.RegisteredCount {
			continue
		}
		drift := GroupDrift{
			GroupID:  group.ID,
			Name:     group.Name,
			Recorded: group.RegisteredCount,
			Actual:   int(actual),
		}
		drifts = append(drifts, drift)
		s.logger.Warn("group counter drift",
			zap.String("group_id", group.ID.String()),
			zap.Int("recorded", drift.Recorded),
			zap.Int("actual", drift.Actual),
		)
		go func(d GroupDrift) {
			s.producer.Produce(events.GroupDriftDetected, d.GroupID.String(), d)
		}(drift)
	}
	return drifts, nil
}

// Package db implements the GORM-backed repository for registration
// records. Unique indexes are the authoritative uniqueness gates: inserts
// race freely and constraint violations are translated into domain errors.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db *gorm.DB
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func NewRepository(cfg *Config) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Repository{db: db}, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Company{},
		&models.PreRegistration{},
		&models.Group{},
		&models.CompanyName{},
		&models.Schedule{},
	)
}

// Companies

func (r *Repository) CreateCompany(ctx context.Context, company *models.Company) error {
	result := r.db.WithContext(ctx).Create(company)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return e.ErrDuplicateCode
		}
		return result.Error
	}
	return nil
}

func (r *Repository) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	var company models.Company
	result := r.db.WithContext(ctx).First(&company, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &company, nil
}

// FindCompanyByIdentity resolves a company by its identity key:
// (name, code) when a code is given, name alone otherwise.
func (r *Repository) FindCompanyByIdentity(ctx context.Context, name string, code *string) (*models.Company, error) {
	query := r.db.WithContext(ctx).Where("name = ?", name)
	if code != nil {
		query = query.Where("code = ?", *code)
	}
	var company models.Company
	result := query.First(&company)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &company, nil
}

func (r *Repository) FindCompanyByPreRegistration(ctx context.Context, preID uuid.UUID) (*models.Company, error) {
	var company models.Company
	result := r.db.WithContext(ctx).First(&company, "pre_registration_id = ?", preID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &company, nil
}

func (r *Repository) UpdateCompany(ctx context.Context, update *models.CompanyUpdate) error {
	result := r.db.WithContext(ctx).Model(&models.Company{}).
		Where("id = ?", update.ID).
		Updates(update)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteCompany(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.Company{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) ListCompanies(ctx context.Context) ([]models.Company, error) {
	var companies []models.Company
	result := r.db.WithContext(ctx).Order("created_at").Find(&companies)
	return companies, result.Error
}

func (r *Repository) CountGroupCompanies(ctx context.Context, groupID uuid.UUID) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Company{}).
		Where("group_id = ?", groupID).
		Count(&count)
	return count, result.Error
}

// PreRegistrations

func (r *Repository) CreatePreRegistration(ctx context.Context, pre *models.PreRegistration) error {
	result := r.db.WithContext(ctx).Create(pre)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return e.ErrConflict
		}
		return result.Error
	}
	return nil
}

func (r *Repository) GetPreRegistration(ctx context.Context, id uuid.UUID) (*models.PreRegistration, error) {
	var pre models.PreRegistration
	result := r.db.WithContext(ctx).First(&pre, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &pre, nil
}

// FindPreRegistrationByIdentity resolves a pre-registration by its
// identity key, mirroring FindCompanyByIdentity.
func (r *Repository) FindPreRegistrationByIdentity(ctx context.Context, companyName string, code *string) (*models.PreRegistration, error) {
	query := r.db.WithContext(ctx).Where("company_name = ?", companyName)
	if code != nil {
		query = query.Where("code = ?", *code)
	}
	var pre models.PreRegistration
	result := query.First(&pre)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &pre, nil
}

func (r *Repository) UpdatePreRegistration(ctx context.Context, pre *models.PreRegistration) error {
	result := r.db.WithContext(ctx).Save(pre)
	return result.Error
}

func (r *Repository) DeletePreRegistration(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.PreRegistration{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) ListPreRegistrations(ctx context.Context) ([]models.PreRegistration, error) {
	var pres []models.PreRegistration
	result := r.db.WithContext(ctx).Order("created_at").Find(&pres)
	return pres, result.Error
}

// Groups

func (r *Repository) CreateGroup(ctx context.Context, group *models.Group) error {
	result := r.db.WithContext(ctx).Create(group)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return e.ErrDuplicateName
		}
		return result.Error
	}
	return nil
}

func (r *Repository) GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	var group models.Group
	result := r.db.WithContext(ctx).First(&group, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &group, nil
}

// UpdateGroupFields applies an allow-listed set of columns to a group.
// Callers are responsible for recomputing is_closed when max_companies
// changes; RegisteredCount never moves through this path.
func (r *Repository) UpdateGroupFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return e.ErrDuplicateName
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.Group{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) ListGroups(ctx context.Context) ([]models.Group, error) {
	var groups []models.Group
	result := r.db.WithContext(ctx).Order("date, time_from").Find(&groups)
	return groups, result.Error
}

// AdmitToGroup reserves one slot in a single conditional update so that
// concurrent admissions can never overshoot max_companies. The update
// closes the group when the post-increment count reaches the limit.
// Returns the refreshed group on success.
func (r *Repository) AdmitToGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	result := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND is_closed = ? AND (max_companies = 0 OR registered_count < max_companies)",
			groupID, false).
		Updates(map[string]interface{}{
			"registered_count": gorm.Expr("registered_count + 1"),
			"is_closed":        gorm.Expr("max_companies > 0 AND registered_count + 1 >= max_companies"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		group, err := r.GetGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}
		if group.IsClosed {
			return nil, e.ErrGroupClosed
		}
		return nil, e.ErrGroupFull
	}
	return r.GetGroup(ctx, groupID)
}

// ReleaseGroupSlot undoes one admission after a failed company insert.
// The group is reopened only when it drops back under its limit.
func (r *Repository) ReleaseGroupSlot(ctx context.Context, groupID uuid.UUID) error {
	result := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND registered_count > 0", groupID).
		Updates(map[string]interface{}{
			"registered_count": gorm.Expr("registered_count - 1"),
			"is_closed":        gorm.Expr("is_closed AND max_companies > 0 AND registered_count - 1 >= max_companies"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

// CompanyName directory

func (r *Repository) CreateCompanyName(ctx context.Context, entry *models.CompanyName) error {
	result := r.db.WithContext(ctx).Create(entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return e.ErrDuplicateCode
		}
		return result.Error
	}
	return nil
}

func (r *Repository) CompanyNameByCode(ctx context.Context, code string) (*models.CompanyName, error) {
	var entry models.CompanyName
	result := r.db.WithContext(ctx).First(&entry, "code = ?", code)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &entry, nil
}

func (r *Repository) CompanyNameByName(ctx context.Context, name string) (*models.CompanyName, error) {
	var entry models.CompanyName
	result := r.db.WithContext(ctx).First(&entry, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &entry, nil
}

// CodeInUse reports whether a directory code is taken by an entry other
// than excludeID. Pass uuid.Nil to check against every entry.
func (r *Repository) CodeInUse(ctx context.Context, code string, excludeID uuid.UUID) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.CompanyName{}).Where("code = ?", code)
	if excludeID != uuid.Nil {
		query = query.Where("id <> ?", excludeID)
	}
	result := query.Limit(1).Count(&count)
	return count > 0, result.Error
}

func (r *Repository) UpdateCompanyName(ctx context.Context, entry *models.CompanyName) error {
	result := r.db.WithContext(ctx).Save(entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return e.ErrDuplicateCode
		}
		return result.Error
	}
	return nil
}

func (r *Repository) DeleteCompanyName(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.CompanyName{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrNotFound
	}
	return nil
}

func (r *Repository) ListCompanyNames(ctx context.Context) ([]models.CompanyName, error) {
	var entries []models.CompanyName
	result := r.db.WithContext(ctx).Order("name").Find(&entries)
	return entries, result.Error
}

// Schedule

func (r *Repository) GetSchedule(ctx context.Context) (*models.Schedule, error) {
	var schedule models.Schedule
	result := r.db.WithContext(ctx).First(&schedule, "id = ?", models.ScheduleID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, e.ErrNotFound
		}
		return nil, result.Error
	}
	return &schedule, nil
}

// SaveSchedule upserts the single settings row.
func (r *Repository) SaveSchedule(ctx context.Context, schedule *models.Schedule) error {
	schedule.ID = models.ScheduleID
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(schedule)
	return result.Error
}

// SaveScheduleIf persists an evaluator transition with a compare-and-swap
// on updated_at so two racing evaluations cannot flip-flop the state.
// Returns ErrConflict when the row changed underneath the caller.
func (r *Repository) SaveScheduleIf(ctx context.Context, prev time.Time, isOpen, autoClosed bool) error {
	result := r.db.WithContext(ctx).Model(&models.Schedule{}).
		Where("id = ? AND updated_at = ?", models.ScheduleID, prev).
		Updates(map[string]interface{}{
			"is_open":     isOpen,
			"auto_closed": autoClosed,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return e.ErrConflict
	}
	return nil
}

func (r *Repository) WithTransaction(ctx context.Context, fn func(repo *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) Exec(ctx context.Context, query string, params ...interface{}) error {
	result := r.db.WithContext(ctx).Exec(query, params...)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func (r *Repository) Close() error {
	db, err := r.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

package db

import (
	"context"
	"testing"
	"time"

	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/gartstein/enroll/internal/pkg/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB initializes an in-memory SQLite database for testing.
func SetupTestDB(t *testing.T) *Repository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "failed to open test database")

	err = migrate(db)
	require.NoError(t, err, "failed to migrate test database")

	return &Repository{db: db}
}

func TestCreateCompany(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	company := &models.Company{
		ID:   uuid.New(),
		Name: "Test Company",
	}

	err := repo.CreateCompany(ctx, company)
	assert.NoError(t, err, "CreateCompany should not return an error")

	retrieved, err := repo.GetCompany(ctx, company.ID)
	assert.NoError(t, err, "GetCompany should retrieve the created company")
	assert.Equal(t, company.Name, retrieved.Name, "Company name should match")
}

// TestCreateCompanyDuplicateCode verifies that the unique index on code is
// the authoritative gate: a second insert with the same code is rejected
// as a domain error, not a raw storage error.
func TestCreateCompanyDuplicateCode(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	first := &models.Company{ID: uuid.New(), Name: "Acme", Code: utils.Ptr("1234")}
	require.NoError(t, repo.CreateCompany(ctx, first))

	second := &models.Company{ID: uuid.New(), Name: "Globex", Code: utils.Ptr("1234")}
	err := repo.CreateCompany(ctx, second)
	assert.ErrorIs(t, err, e.ErrDuplicateCode, "duplicate code should be rejected at insert")
}

// TestCreateCompanyNilCodes verifies codeless companies do not collide on
// the unique code index.
func TestCreateCompanyNilCodes(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateCompany(ctx, &models.Company{ID: uuid.New(), Name: "Acme"}))
	assert.NoError(t, repo.CreateCompany(ctx, &models.Company{ID: uuid.New(), Name: "Globex"}))
}

// TestCreateCompanyDuplicateNilCodeName verifies the insert is the
// authoritative gate for codeless identities too: NULL codes escape the
// composite index, so the partial name index must reject the second row.
func TestCreateCompanyDuplicateNilCodeName(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateCompany(ctx, &models.Company{ID: uuid.New(), Name: "Acme"}))

	err := repo.CreateCompany(ctx, &models.Company{ID: uuid.New(), Name: "Acme"})
	assert.ErrorIs(t, err, e.ErrDuplicateCode, "codeless name must be unique among codeless rows")

	// A coded row under the same name is a distinct identity.
	assert.NoError(t, repo.CreateCompany(ctx, &models.Company{ID: uuid.New(), Name: "Acme", Code: utils.Ptr("1234")}))
}

func TestFindCompanyByIdentity(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	company := &models.Company{ID: uuid.New(), Name: "Acme", Code: utils.Ptr("1234")}
	require.NoError(t, repo.CreateCompany(ctx, company))

	found, err := repo.FindCompanyByIdentity(ctx, "Acme", utils.Ptr("1234"))
	assert.NoError(t, err)
	assert.Equal(t, company.ID, found.ID)

	_, err = repo.FindCompanyByIdentity(ctx, "Acme", utils.Ptr("9999"))
	assert.ErrorIs(t, err, e.ErrNotFound, "wrong code should not resolve")

	// Name-only resolution when codes are disabled.
	byName, err := repo.FindCompanyByIdentity(ctx, "Acme", nil)
	assert.NoError(t, err)
	assert.Equal(t, company.ID, byName.ID)
}

func TestUpdateCompany(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	company := &models.Company{
		ID:    uuid.New(),
		Name:  "Acme",
		Phone: "111",
	}
	require.NoError(t, repo.CreateCompany(ctx, company))

	update := &models.CompanyUpdate{
		ID:    company.ID,
		Phone: utils.Ptr("222"),
	}
	assert.NoError(t, repo.UpdateCompany(ctx, update))

	updated, err := repo.GetCompany(ctx, company.ID)
	assert.NoError(t, err)
	assert.Equal(t, "222", updated.Phone, "phone should be updated")
	assert.Equal(t, "Acme", updated.Name, "name should be untouched")
}

func TestUpdateCompanyNotFound(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	err := repo.UpdateCompany(ctx, &models.CompanyUpdate{
		ID:    uuid.New(),
		Phone: utils.Ptr("222"),
	})
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestDeleteCompany(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	company := &models.Company{ID: uuid.New(), Name: "To Be Deleted"}
	require.NoError(t, repo.CreateCompany(ctx, company))

	assert.NoError(t, repo.DeleteCompany(ctx, company.ID))

	_, err := repo.GetCompany(ctx, company.ID)
	assert.ErrorIs(t, err, e.ErrNotFound, "deleted company should not be found")
}

func TestPreRegistrationLifecycle(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	pre := &models.PreRegistration{
		ID:             uuid.New(),
		RegistrantName: "Jordan",
		MobileNumber:   "555-0001",
		CompanyName:    "Acme",
		Code:           utils.Ptr("1234"),
		Status:         models.StatusPending,
	}
	require.NoError(t, repo.CreatePreRegistration(ctx, pre))

	found, err := repo.FindPreRegistrationByIdentity(ctx, "Acme", utils.Ptr("1234"))
	require.NoError(t, err)
	assert.Equal(t, pre.ID, found.ID)

	found.RegistrantName = "Casey"
	require.NoError(t, repo.UpdatePreRegistration(ctx, found))

	reloaded, err := repo.GetPreRegistration(ctx, pre.ID)
	require.NoError(t, err)
	assert.Equal(t, "Casey", reloaded.RegistrantName)

	require.NoError(t, repo.DeletePreRegistration(ctx, pre.ID))
	_, err = repo.GetPreRegistration(ctx, pre.ID)
	assert.ErrorIs(t, err, e.ErrNotFound)
}

// TestCreatePreRegistrationDuplicateIdentity verifies the reservation
// table carries the same identity gate as companies: one row per
// (company_name, code), and one per codeless name.
func TestCreatePreRegistrationDuplicateIdentity(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	coded := &models.PreRegistration{
		ID:             uuid.New(),
		RegistrantName: "Jordan",
		MobileNumber:   "555-0001",
		CompanyName:    "Acme",
		Code:           utils.Ptr("1234"),
	}
	require.NoError(t, repo.CreatePreRegistration(ctx, coded))

	err := repo.CreatePreRegistration(ctx, &models.PreRegistration{
		ID:             uuid.New(),
		RegistrantName: "Casey",
		MobileNumber:   "555-0002",
		CompanyName:    "Acme",
		Code:           utils.Ptr("1234"),
	})
	assert.ErrorIs(t, err, e.ErrConflict, "second reservation for the same coded identity must lose")

	codeless := &models.PreRegistration{
		ID:             uuid.New(),
		RegistrantName: "Jordan",
		MobileNumber:   "555-0001",
		CompanyName:    "Globex",
	}
	require.NoError(t, repo.CreatePreRegistration(ctx, codeless))

	err = repo.CreatePreRegistration(ctx, &models.PreRegistration{
		ID:             uuid.New(),
		RegistrantName: "Casey",
		MobileNumber:   "555-0002",
		CompanyName:    "Globex",
	})
	assert.ErrorIs(t, err, e.ErrConflict, "codeless reservation name must be unique among codeless rows")

	// Distinct codes under one name are distinct identities.
	assert.NoError(t, repo.CreatePreRegistration(ctx, &models.PreRegistration{
		ID:             uuid.New(),
		RegistrantName: "Casey",
		MobileNumber:   "555-0002",
		CompanyName:    "Acme",
		Code:           utils.Ptr("5678"),
	}))
}

func TestFindCompanyByPreRegistration(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	preID := uuid.New()
	company := &models.Company{
		ID:                uuid.New(),
		Name:              "Acme",
		PreRegistrationID: &preID,
	}
	require.NoError(t, repo.CreateCompany(ctx, company))

	found, err := repo.FindCompanyByPreRegistration(ctx, preID)
	assert.NoError(t, err)
	assert.Equal(t, company.ID, found.ID)

	_, err = repo.FindCompanyByPreRegistration(ctx, uuid.New())
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestCreateGroupDuplicateName(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateGroup(ctx, &models.Group{ID: uuid.New(), Name: "Morning"}))
	err := repo.CreateGroup(ctx, &models.Group{ID: uuid.New(), Name: "Morning"})
	assert.ErrorIs(t, err, e.ErrDuplicateName)
}

// TestAdmitToGroup drives a group through its whole capacity: the last
// admission closes the group and further admissions fail closed.
func TestAdmitToGroup(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	group := &models.Group{ID: uuid.New(), Name: "Morning", MaxCompanies: 2}
	require.NoError(t, repo.CreateGroup(ctx, group))

	first, err := repo.AdmitToGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RegisteredCount)
	assert.False(t, first.IsClosed, "group should stay open below capacity")

	second, err := repo.AdmitToGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, second.RegisteredCount)
	assert.True(t, second.IsClosed, "group should close when the counter reaches the limit")

	_, err = repo.AdmitToGroup(ctx, group.ID)
	assert.ErrorIs(t, err, e.ErrGroupClosed)

	reloaded, err := repo.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.RegisteredCount, "capacity must never be exceeded")
}

func TestAdmitToGroupUnlimited(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	group := &models.Group{ID: uuid.New(), Name: "Open Cohort", MaxCompanies: 0}
	require.NoError(t, repo.CreateGroup(ctx, group))

	for i := 0; i < 5; i++ {
		admitted, err := repo.AdmitToGroup(ctx, group.ID)
		require.NoError(t, err)
		assert.False(t, admitted.IsClosed, "unlimited group should never auto-close")
	}
}

func TestAdmitToGroupNotFound(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	_, err := repo.AdmitToGroup(ctx, uuid.New())
	assert.ErrorIs(t, err, e.ErrNotFound)
}

func TestAdmitToGroupManuallyClosed(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	group := &models.Group{ID: uuid.New(), Name: "Closed Cohort", MaxCompanies: 10, IsClosed: true}
	require.NoError(t, repo.CreateGroup(ctx, group))

	_, err := repo.AdmitToGroup(ctx, group.ID)
	assert.ErrorIs(t, err, e.ErrGroupClosed)
}

func TestReleaseGroupSlot(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	group := &models.Group{ID: uuid.New(), Name: "Morning", MaxCompanies: 1}
	require.NoError(t, repo.CreateGroup(ctx, group))

	admitted, err := repo.AdmitToGroup(ctx, group.ID)
	require.NoError(t, err)
	require.True(t, admitted.IsClosed)

	require.NoError(t, repo.ReleaseGroupSlot(ctx, group.ID))

	reloaded, err := repo.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.RegisteredCount)
	assert.False(t, reloaded.IsClosed, "releasing below capacity should reopen the group")

	_, err = repo.AdmitToGroup(ctx, group.ID)
	assert.NoError(t, err, "released slot should be admittable again")
}

func TestUpdateGroupFields(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	group := &models.Group{ID: uuid.New(), Name: "Morning", MaxCompanies: 5}
	require.NoError(t, repo.CreateGroup(ctx, group))

	err := repo.UpdateGroupFields(ctx, group.ID, map[string]interface{}{
		"max_companies": 3,
		"is_closed":     true,
	})
	require.NoError(t, err)

	reloaded, err := repo.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.MaxCompanies)
	assert.True(t, reloaded.IsClosed)
}

func TestCompanyNameDirectory(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	entry := &models.CompanyName{ID: uuid.New(), Name: "Acme", Code: "1234"}
	require.NoError(t, repo.CreateCompanyName(ctx, entry))

	byCode, err := repo.CompanyNameByCode(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "Acme", byCode.Name)

	byName, err := repo.CompanyNameByName(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, "1234", byName.Code)

	inUse, err := repo.CodeInUse(ctx, "1234", uuid.Nil)
	require.NoError(t, err)
	assert.True(t, inUse)

	// Uniqueness check excludes the record being updated.
	inUse, err = repo.CodeInUse(ctx, "1234", entry.ID)
	require.NoError(t, err)
	assert.False(t, inUse)

	err = repo.CreateCompanyName(ctx, &models.CompanyName{ID: uuid.New(), Name: "Other", Code: "1234"})
	assert.ErrorIs(t, err, e.ErrDuplicateCode)
}

func TestScheduleUpsertAndCAS(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	_, err := repo.GetSchedule(ctx)
	assert.ErrorIs(t, err, e.ErrNotFound, "empty store should report no schedule")

	schedule := &models.Schedule{
		IsOpen:      true,
		CodesActive: true,
		UpdatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.SaveSchedule(ctx, schedule))

	stored, err := repo.GetSchedule(ctx)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen)

	// CAS succeeds against the stored version...
	require.NoError(t, repo.SaveScheduleIf(ctx, stored.UpdatedAt, false, true))

	// ...and fails once the row has moved on.
	err = repo.SaveScheduleIf(ctx, stored.UpdatedAt, true, false)
	assert.ErrorIs(t, err, e.ErrConflict)

	reloaded, err := repo.GetSchedule(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded.IsOpen)
	assert.True(t, reloaded.AutoClosed)

	// Upsert replaces the single settings row.
	require.NoError(t, repo.SaveSchedule(ctx, &models.Schedule{IsOpen: true, UpdatedAt: time.Now().UTC()}))
	final, err := repo.GetSchedule(ctx)
	require.NoError(t, err)
	assert.True(t, final.IsOpen)
}

func TestCountGroupCompanies(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	group := &models.Group{ID: uuid.New(), Name: "Morning"}
	require.NoError(t, repo.CreateGroup(ctx, group))

	for i, name := range []string{"Acme", "Globex", "Initech"} {
		code := []string{"1111", "2222", "3333"}[i]
		require.NoError(t, repo.CreateCompany(ctx, &models.Company{
			ID:      uuid.New(),
			Name:    name,
			Code:    utils.Ptr(code),
			GroupID: &group.ID,
		}))
	}

	count, err := repo.CountGroupCompanies(ctx, group.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestWithTransaction(t *testing.T) {
	repo := SetupTestDB(t)
	ctx := context.Background()

	err := repo.WithTransaction(ctx, func(txRepo *Repository) error {
		return txRepo.CreateCompany(ctx, &models.Company{
			ID:   uuid.New(),
			Name: "Transactional Company",
		})
	})
	assert.NoError(t, err, "WithTransaction should execute successfully")

	_, err = repo.FindCompanyByIdentity(ctx, "Transactional Company", nil)
	assert.NoError(t, err, "company should exist after transaction")
}

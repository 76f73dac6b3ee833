package controller

import (
	"context"
	"sort"
	"sync"
	"time"

	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/events"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/google/uuid"
)

// mockRepository is an in-memory Repository with the same semantics as the
// database layer: identity lookups, atomic group admission, schedule CAS.
// Individual methods can be overridden through function fields to inject
// failures.
type mockRepository struct {
	mu        sync.Mutex
	companies map[uuid.UUID]*models.Company
	preregs   map[uuid.UUID]*models.PreRegistration
	groups    map[uuid.UUID]*models.Group
	schedule  *models.Schedule

	createCompanyFn func(ctx context.Context, company *models.Company) error
	createPreFn     func(ctx context.Context, pre *models.PreRegistration) error

	saveScheduleIfFn func(ctx context.Context, prev time.Time, isOpen, autoClosed bool) error
	releaseSlotFn    func(ctx context.Context, groupID uuid.UUID) error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		companies: make(map[uuid.UUID]*models.Company),
		preregs:   make(map[uuid.UUID]*models.PreRegistration),
		groups:    make(map[uuid.UUID]*models.Group),
	}
}

func (m *mockRepository) CreateCompany(ctx context.Context, company *models.Company) error {
	if m.createCompanyFn != nil {
		return m.createCompanyFn(ctx, company)
	}
	return m.insertCompany(company)
}

func (m *mockRepository) insertCompany(company *models.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.companies {
		if company.Code != nil && existing.Code != nil && *existing.Code == *company.Code {
			return e.ErrDuplicateCode
		}
		if company.Code == nil && existing.Code == nil && existing.Name == company.Name {
			return e.ErrDuplicateCode
		}
	}
	clone := *company
	m.companies[company.ID] = &clone
	return nil
}

func (m *mockRepository) GetCompany(_ context.Context, id uuid.UUID) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	company, ok := m.companies[id]
	if !ok {
		return nil, e.ErrNotFound
	}
	clone := *company
	return &clone, nil
}

func (m *mockRepository) FindCompanyByIdentity(_ context.Context, name string, code *string) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, company := range m.companies {
		if company.Name != name {
			continue
		}
		if code == nil || (company.Code != nil && *company.Code == *code) {
			clone := *company
			return &clone, nil
		}
	}
	return nil, e.ErrNotFound
}

func (m *mockRepository) FindCompanyByPreRegistration(_ context.Context, preID uuid.UUID) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, company := range m.companies {
		if company.PreRegistrationID != nil && *company.PreRegistrationID == preID {
			clone := *company
			return &clone, nil
		}
	}
	return nil, e.ErrNotFound
}

func (m *mockRepository) UpdateCompany(_ context.Context, update *models.CompanyUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	company, ok := m.companies[update.ID]
	if !ok {
		return e.ErrNotFound
	}
	if update.RegistrantName != nil {
		company.RegistrantName = *update.RegistrantName
	}
	if update.Phone != nil {
		company.Phone = *update.Phone
	}
	if update.Address != nil {
		company.Address = *update.Address
	}
	if update.Email != nil {
		company.Email = *update.Email
	}
	if update.Status != nil {
		company.Status = *update.Status
	}
	if update.Paid != nil {
		company.Paid = *update.Paid
	}
	if update.Spent != nil {
		company.Spent = *update.Spent
	}
	return nil
}

func (m *mockRepository) DeleteCompany(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.companies[id]; !ok {
		return e.ErrNotFound
	}
	delete(m.companies, id)
	return nil
}

func (m *mockRepository) ListCompanies(_ context.Context) ([]models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Company, 0, len(m.companies))
	for _, company := range m.companies {
		out = append(out, *company)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepository) CountGroupCompanies(_ context.Context, groupID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, company := range m.companies {
		if company.GroupID != nil && *company.GroupID == groupID {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) CreatePreRegistration(ctx context.Context, pre *models.PreRegistration) error {
	if m.createPreFn != nil {
		return m.createPreFn(ctx, pre)
	}
	return m.insertPreRegistration(pre)
}

func (m *mockRepository) insertPreRegistration(pre *models.PreRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.preregs {
		if existing.CompanyName != pre.CompanyName {
			continue
		}
		if pre.Code != nil && existing.Code != nil && *existing.Code == *pre.Code {
			return e.ErrConflict
		}
		if pre.Code == nil && existing.Code == nil {
			return e.ErrConflict
		}
	}
	clone := *pre
	m.preregs[pre.ID] = &clone
	return nil
}

func (m *mockRepository) GetPreRegistration(_ context.Context, id uuid.UUID) (*models.PreRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pre, ok := m.preregs[id]
	if !ok {
		return nil, e.ErrNotFound
	}
	clone := *pre
	return &clone, nil
}

func (m *mockRepository) FindPreRegistrationByIdentity(_ context.Context, companyName string, code *string) (*models.PreRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pre := range m.preregs {
		if pre.CompanyName != companyName {
			continue
		}
		if code == nil || (pre.Code != nil && *pre.Code == *code) {
			clone := *pre
			return &clone, nil
		}
	}
	return nil, e.ErrNotFound
}

func (m *mockRepository) UpdatePreRegistration(_ context.Context, pre *models.PreRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.preregs[pre.ID]; !ok {
		return e.ErrNotFound
	}
	clone := *pre
	m.preregs[pre.ID] = &clone
	return nil
}

func (m *mockRepository) DeletePreRegistration(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.preregs[id]; !ok {
		return e.ErrNotFound
	}
	delete(m.preregs, id)
	return nil
}

func (m *mockRepository) ListPreRegistrations(_ context.Context) ([]models.PreRegistration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PreRegistration, 0, len(m.preregs))
	for _, pre := range m.preregs {
		out = append(out, *pre)
	}
	return out, nil
}

func (m *mockRepository) CreateGroup(_ context.Context, group *models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.groups {
		if existing.Name == group.Name {
			return e.ErrDuplicateName
		}
	}
	clone := *group
	m.groups[group.ID] = &clone
	return nil
}

func (m *mockRepository) GetGroup(_ context.Context, id uuid.UUID) (*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[id]
	if !ok {
		return nil, e.ErrNotFound
	}
	clone := *group
	return &clone, nil
}

func (m *mockRepository) UpdateGroupFields(_ context.Context, id uuid.UUID, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[id]
	if !ok {
		return e.ErrNotFound
	}
	for field, value := range fields {
		switch field {
		case "name":
			group.Name = value.(string)
		case "max_companies":
			group.MaxCompanies = value.(int)
		case "is_closed":
			group.IsClosed = value.(bool)
		case "date":
			group.Date = value.(string)
		case "time_from":
			group.TimeFrom = value.(string)
		case "time_to":
			group.TimeTo = value.(string)
		}
	}
	return nil
}

func (m *mockRepository) DeleteGroup(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return e.ErrNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *mockRepository) ListGroups(_ context.Context) ([]models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Group, 0, len(m.groups))
	for _, group := range m.groups {
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepository) AdmitToGroup(_ context.Context, groupID uuid.UUID) (*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return nil, e.ErrNotFound
	}
	if group.IsClosed {
		return nil, e.ErrGroupClosed
	}
	if group.MaxCompanies > 0 && group.RegisteredCount >= group.MaxCompanies {
		return nil, e.ErrGroupFull
	}
	group.RegisteredCount++
	group.IsClosed = group.MaxCompanies > 0 && group.RegisteredCount >= group.MaxCompanies
	clone := *group
	return &clone, nil
}

func (m *mockRepository) ReleaseGroupSlot(ctx context.Context, groupID uuid.UUID) error {
	if m.releaseSlotFn != nil {
		return m.releaseSlotFn(ctx, groupID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	group, ok := m.groups[groupID]
	if !ok {
		return e.ErrNotFound
	}
	if group.RegisteredCount > 0 {
		group.RegisteredCount--
	}
	group.IsClosed = group.IsClosed && group.MaxCompanies > 0 && group.RegisteredCount >= group.MaxCompanies
	return nil
}

func (m *mockRepository) GetSchedule(_ context.Context) (*models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schedule == nil {
		return nil, e.ErrNotFound
	}
	clone := *m.schedule
	return &clone, nil
}

func (m *mockRepository) SaveSchedule(_ context.Context, schedule *models.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *schedule
	m.schedule = &clone
	return nil
}

func (m *mockRepository) SaveScheduleIf(ctx context.Context, prev time.Time, isOpen, autoClosed bool) error {
	if m.saveScheduleIfFn != nil {
		return m.saveScheduleIfFn(ctx, prev, isOpen, autoClosed)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schedule == nil || !m.schedule.UpdatedAt.Equal(prev) {
		return e.ErrConflict
	}
	m.schedule.IsOpen = isOpen
	m.schedule.AutoClosed = autoClosed
	m.schedule.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockRepository) Close() error { return nil }

// mockProducer records emitted events.
type mockProducer struct {
	mu     sync.Mutex
	events []events.EventType
}

func (p *mockProducer) Produce(eventType events.EventType, _ string, _ interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *mockProducer) count(eventType events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, produced := range p.events {
		if produced == eventType {
			n++
		}
	}
	return n
}

// mockDirectory is a static CodeDirectory.
type mockDirectory struct {
	byName map[string]string
	byCode map[string]string
}

func newMockDirectory(entries map[string]string) *mockDirectory {
	d := &mockDirectory{byName: make(map[string]string), byCode: make(map[string]string)}
	for name, code := range entries {
		d.byName[name] = code
		d.byCode[code] = name
	}
	return d
}

func (d *mockDirectory) LookupByName(_ context.Context, name string) (*models.CompanyName, error) {
	code, ok := d.byName[name]
	if !ok {
		return nil, e.ErrNotFound
	}
	return &models.CompanyName{ID: uuid.New(), Name: name, Code: code}, nil
}

func (d *mockDirectory) LookupByCode(_ context.Context, code string) (*models.CompanyName, error) {
	name, ok := d.byCode[code]
	if !ok {
		return nil, e.ErrNotFound
	}
	return &models.CompanyName{ID: uuid.New(), Name: name, Code: code}, nil
}

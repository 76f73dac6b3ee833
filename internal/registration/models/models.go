// Package models defines the core domain models for the registration
// system: Company, PreRegistration, Group, the CompanyName code directory
// and the global Schedule record.
package models

import (
	"time"

	"github.com/google/uuid"
)

// CompanyStatus represents the review state of a registration.
type CompanyStatus string

const (
	// StatusPending marks a record awaiting review.
	StatusPending  CompanyStatus = "PENDING"
	StatusApproved CompanyStatus = "APPROVED"
	StatusRejected CompanyStatus = "REJECTED"
)

// Company is the terminal artifact of registration. The code column is a
// pointer so NULL codes stay out of the code index; a non-empty code is
// globally unique and the (name, code) pair is unique while codes are
// active. NULL values are distinct to the composite index, so a partial
// index on name keeps codeless identities unique too, making the insert
// the authoritative gate in both modes.
type Company struct {
	// ID is the unique identifier for the company.
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// Name is the registered business name.
	Name string `gorm:"not null;uniqueIndex:idx_companies_name_code;uniqueIndex:idx_companies_name_nullcode,where:code IS NULL" json:"name"`
	// Code is the optional 4-digit registry code.
	Code *string `gorm:"uniqueIndex:idx_companies_code;uniqueIndex:idx_companies_name_code" json:"code,omitempty"`
	// RegistrantName is the contact person who submitted the registration.
	RegistrantName string `json:"registrantName"`
	// Phone is the registrant's phone number.
	Phone string `json:"phone"`
	// Address is the company's contact address.
	Address string `json:"address"`
	// Email is the registrant's e-mail address.
	Email string `json:"email"`
	// GroupID references the registration cohort, if any.
	GroupID *uuid.UUID `gorm:"type:uuid;index" json:"groupId,omitempty"`
	// Status is the review state; direct registrations are auto-approved.
	Status CompanyStatus `gorm:"not null;default:PENDING" json:"status"`
	// Paid records whether the registration fee was settled.
	Paid bool `json:"paid"`
	// Spent records whether the allotted benefit was consumed.
	Spent bool `json:"spent"`
	// PreRegistrationID links back to the pre-registration this company
	// was materialized from, if it went through that flow.
	PreRegistrationID *uuid.UUID `gorm:"type:uuid;index" json:"preRegistrationId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// CompanyUpdate represents the fields an admin or a reconciliation merge
// may change on a Company. Pointer types allow partial updates; identifiers
// and computed fields are deliberately absent.
type CompanyUpdate struct {
	// ID is the unique identifier for the company to update.
	ID             uuid.UUID
	RegistrantName *string
	Phone          *string
	Address        *string
	Email          *string
	Status         *CompanyStatus
	Paid           *bool
	Spent          *bool
}

// PreRegistration reserves a company identity before full details are
// supplied. Identity is (company_name, code) while codes are active and
// company_name alone otherwise; the indexes mirror the Company pair so at
// most one reservation per identity can ever commit.
type PreRegistration struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// RegistrantName is the person who reserved the identity.
	RegistrantName string `gorm:"not null" json:"registrantName"`
	// MobileNumber is the registrant's mobile contact.
	MobileNumber string `gorm:"not null" json:"mobileNumber"`
	// CompanyName is the business name being reserved.
	CompanyName string `gorm:"not null;uniqueIndex:idx_pre_registrations_name_code;uniqueIndex:idx_pre_registrations_name_nullcode,where:code IS NULL" json:"companyName"`
	// Code is the optional 4-digit registry code.
	Code *string `gorm:"uniqueIndex:idx_pre_registrations_name_code" json:"code,omitempty"`
	// GroupID is the requested cohort, if any.
	GroupID   *uuid.UUID    `gorm:"type:uuid" json:"groupId,omitempty"`
	Status    CompanyStatus `gorm:"not null;default:PENDING" json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Group is a capacity-bounded registration cohort tied to a date window.
type Group struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// Name is the unique cohort name.
	Name string `gorm:"not null;uniqueIndex" json:"name"`
	// RegisteredCount is the authoritative reserved-slot counter.
	RegisteredCount int `gorm:"not null;default:0" json:"registeredCount"`
	// MaxCompanies bounds the cohort size; zero means unlimited.
	MaxCompanies int `gorm:"not null;default:0" json:"maxCompanies"`
	// IsClosed gates further admissions. Set automatically when the
	// counter reaches MaxCompanies, or manually by an admin.
	IsClosed bool `gorm:"not null;default:false" json:"isClosed"`
	// Date is the cohort date in YYYY-MM-DD form.
	Date string `json:"date"`
	// TimeFrom and TimeTo bound the cohort's time window (HH:MM).
	TimeFrom string `json:"timeFrom"`
	TimeTo   string `json:"timeTo"`
	// Companies holds the admitted member records.
	Companies []Company `gorm:"foreignKey:GroupID" json:"companies,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GroupUpdate represents the editable fields of a Group. RegisteredCount
// is not among them; it only moves through admission.
type GroupUpdate struct {
	ID           uuid.UUID
	Name         *string
	MaxCompanies *int
	IsClosed     *bool
	Date         *string
	TimeFrom     *string
	TimeTo       *string
}

// CompanyName is a directory entry mapping a known business name to its
// canonical 4-digit code, used for form auto-fill and code validation.
type CompanyName struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// Name is the unique directory name.
	Name string `gorm:"not null;uniqueIndex" json:"name"`
	// Code is the unique 4-digit code assigned to the name.
	Code      string    `gorm:"not null;uniqueIndex" json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScheduleID is the well-known primary key of the single Schedule row.
const ScheduleID uint = 1

// Schedule is the single global record gating registration acceptance.
type Schedule struct {
	ID uint `gorm:"primaryKey" json:"-"`
	// IsOpen is the manual open/closed flag.
	IsOpen bool `json:"isOpen"`
	// Message is shown to registrants while the system is closed.
	Message string `json:"message"`
	// AutoSchedule enables the daily open/close window.
	AutoSchedule bool `json:"autoSchedule"`
	// OpenTime and CloseTime bound the daily window (HH:MM). A close
	// time earlier than the open time expresses an overnight window.
	OpenTime  string `json:"openTime"`
	CloseTime string `json:"closeTime"`
	// AutoClosed is true only while IsOpen is false and the closure was
	// schedule-triggered. Any manual write resets it.
	AutoClosed bool `json:"autoClosed"`
	// CodesActive makes a registry code mandatory for new registrations.
	CodesActive bool      `json:"codesActive"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DefaultSchedule is the documented state returned before any schedule
// record has been persisted: manually closed, no auto window, codes on.
func DefaultSchedule() *Schedule {
	return &Schedule{
		ID:          ScheduleID,
		IsOpen:      false,
		AutoClosed:  false,
		CodesActive: true,
	}
}

// SchedulePatch carries a manual schedule write. All fields are applied;
// AutoClosed is always cleared by such a write.
type SchedulePatch struct {
	IsOpen       bool
	Message      string
	AutoSchedule bool
	OpenTime     string
	CloseTime    string
	CodesActive  bool
}

// Package codes manages the company-name directory: assignment and
// validation of the unique 4-digit codes that disambiguate same-named
// companies, plus the lookups used for registration auto-fill.
package codes

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	e "github.com/gartstein/enroll/internal/registration/errors"
	"github.com/gartstein/enroll/internal/registration/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxGenerateAttempts bounds random code generation. Running out is a
// transient condition: the whole operation is safe to retry.
const maxGenerateAttempts = 20

var codePattern = regexp.MustCompile(`^\d{4}$`)

// ValidFormat reports whether code is exactly 4 digits.
func ValidFormat(code string) bool {
	return codePattern.MatchString(code)
}

// Store defines the directory storage operations the registry needs.
type Store interface {
	CreateCompanyName(ctx context.Context, entry *models.CompanyName) error
	CompanyNameByCode(ctx context.Context, code string) (*models.CompanyName, error)
	CompanyNameByName(ctx context.Context, name string) (*models.CompanyName, error)
	CodeInUse(ctx context.Context, code string, excludeID uuid.UUID) (bool, error)
	UpdateCompanyName(ctx context.Context, entry *models.CompanyName) error
	DeleteCompanyName(ctx context.Context, id uuid.UUID) error
	ListCompanyNames(ctx context.Context) ([]models.CompanyName, error)
}

// Registry assigns and validates directory codes.
type Registry struct {
	store  Store
	logger *zap.Logger
}

func NewRegistry(store Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.Named("code_registry"),
	}
}

// GenerateUniqueCode produces a random 4-digit code not present in the
// directory. Fails with ErrCodeExhausted after a bounded attempt count.
func (r *Registry) GenerateUniqueCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10000))
		if err != nil {
			return "", fmt.Errorf("failed to draw random code: %w", err)
		}
		code := fmt.Sprintf("%04d", n.Int64())

		inUse, err := r.store.CodeInUse(ctx, code, uuid.Nil)
		if err != nil {
			return "", fmt.Errorf("failed to check code availability: %w", err)
		}
		if !inUse {
			return code, nil
		}
	}
	r.logger.Warn("code generation exhausted attempts",
		zap.Int("attempts", maxGenerateAttempts))
	return "", e.ErrCodeExhausted
}

// ValidateCode succeeds only for a well-formed code not already in use by
// an entry other than excludeID. Pass uuid.Nil when creating.
func (r *Registry) ValidateCode(ctx context.Context, code string, excludeID uuid.UUID) error {
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: code must be exactly 4 digits", e.ErrInvalidInput)
	}
	inUse, err := r.store.CodeInUse(ctx, code, excludeID)
	if err != nil {
		return fmt.Errorf("failed to check code availability: %w", err)
	}
	if inUse {
		return e.ErrDuplicateCode
	}
	return nil
}

// LookupByCode resolves a directory entry for registration auto-fill.
func (r *Registry) LookupByCode(ctx context.Context, code string) (*models.CompanyName, error) {
	if !codePattern.MatchString(code) {
		return nil, fmt.Errorf("%w: code must be exactly 4 digits", e.ErrInvalidInput)
	}
	return r.store.CompanyNameByCode(ctx, code)
}

// LookupByName resolves a business name to its canonical code.
func (r *Registry) LookupByName(ctx context.Context, name string) (*models.CompanyName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name required", e.ErrInvalidInput)
	}
	return r.store.CompanyNameByName(ctx, name)
}

// CreateEntry adds a directory entry, generating a code when none is
// supplied.
func (r *Registry) CreateEntry(ctx context.Context, name, code string) (*models.CompanyName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name required", e.ErrInvalidInput)
	}
	if code == "" {
		generated, err := r.GenerateUniqueCode(ctx)
		if err != nil {
			return nil, err
		}
		code = generated
	} else if err := r.ValidateCode(ctx, code, uuid.Nil); err != nil {
		return nil, err
	}

	entry := &models.CompanyName{
		ID:   uuid.New(),
		Name: name,
		Code: code,
	}
	if err := r.store.CreateCompanyName(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateEntry changes an entry's name and/or code. Code uniqueness is
// scoped to exclude the entry being updated.
func (r *Registry) UpdateEntry(ctx context.Context, id uuid.UUID, name, code string) (*models.CompanyName, error) {
	if name = strings.TrimSpace(name); name == "" {
		return nil, fmt.Errorf("%w: name required", e.ErrInvalidInput)
	}
	if err := r.ValidateCode(ctx, code, id); err != nil {
		return nil, err
	}
	updated := &models.CompanyName{ID: id, Name: name, Code: code}
	if err := r.store.UpdateCompanyName(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteEntry removes a directory entry.
func (r *Registry) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	return r.store.DeleteCompanyName(ctx, id)
}

// ListEntries returns the whole directory ordered by name.
func (r *Registry) ListEntries(ctx context.Context) ([]models.CompanyName, error) {
	return r.store.ListCompanyNames(ctx)
}

// ImportLine is one line of a batch directory import.
type ImportLine struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// ImportResult reports the outcome of a single import line. A failed line
// never aborts the batch.
type ImportResult struct {
	Line  int    `json:"line"`
	Name  string `json:"name"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Import validates and inserts each line independently, reporting
// per-line failures instead of failing the batch.
func (r *Registry) Import(ctx context.Context, lines []ImportLine) []ImportResult {
	results := make([]ImportResult, 0, len(lines))
	for i, line := range lines {
		entry, err := r.CreateEntry(ctx, line.Name, line.Code)
		res := ImportResult{Line: i + 1, Name: strings.TrimSpace(line.Name)}
		if err != nil {
			res.Error = err.Error()
			r.logger.Warn("directory import line rejected",
				zap.Int("line", i+1),
				zap.String("name", res.Name),
				zap.Error(err))
		} else {
			res.Code = entry.Code
		}
		results = append(results, res)
	}
	return results
}

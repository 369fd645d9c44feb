// Package roles resolves a requester's effective permissions by combining its
// stored role assignment with roles implied by the account's privilege tier,
// fetched from the identity component. The tier fetch degrades gracefully:
// availability over completeness.
package roles

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"carousel.org/internal/access"
	"carousel.org/internal/domain"
	"carousel.org/internal/ids"
)

const defaultDirectoryTimeout = 3 * time.Second

// IdentityDirectory is the federated view of the identity component this
// package consumes. AccountLevel returns domain.ErrNotFound when no confirmed
// account exists for email.
type IdentityDirectory interface {
	AccountLevel(ctx context.Context, email string) (access.Level, error)
}

// Service is the role/authorization component.
type Service struct {
	store            Store
	directory        IdentityDirectory
	predefined       []Definition
	directoryTimeout time.Duration
	now              func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithPredefined overrides the predefined role catalog.
func WithPredefined(defs []Definition) Option {
	return func(s *Service) {
		if len(defs) > 0 {
			s.predefined = defs
		}
	}
}

// WithDirectoryTimeout bounds calls to the identity directory.
func WithDirectoryTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.directoryTimeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the role service.
func NewService(store Store, directory IdentityDirectory, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("roles: store is required")
	}
	if directory == nil {
		return nil, fmt.Errorf("roles: identity directory is required")
	}
	s := &Service{
		store:            store,
		directory:        directory,
		predefined:       Predefined(),
		directoryTimeout: defaultDirectoryTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Predefined returns the built-in role catalog.
func Predefined() []Definition {
	return []Definition{
		{Name: RoleReadOnly, Description: "View inventory and reports"},
		{Name: RoleSupport, Description: "Manage user accounts"},
		{Name: RoleInventoryManager, Description: "Create and edit inventory items"},
	}
}

// ImpliedRoles is the pure tier→roles synthesis function. Synthesized roles
// are combined with stored roles at read time and never persisted.
func ImpliedRoles(level access.Level) []string {
	if level == access.Admin {
		return []string{RoleSupport, RoleInventoryManager}
	}
	return nil
}

// ResolveEffectiveRoles computes the role set for email. A failed tier lookup
// is treated as "tier unknown", not as an error: the stored assignment (or the
// ordinary default set) still answers the call.
func (s *Service) ResolveEffectiveRoles(ctx context.Context, email string) ([]string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", domain.ErrBadRequest)
	}

	level, known := s.lookupLevel(ctx, email)
	isAdmin := known && level == access.Admin

	assignment, err := s.store.AssignmentByEmail(ctx, email)
	if err != nil && !domain.IsNotFound(err) {
		return nil, err
	}

	if assignment == nil || len(assignment.Roles) == 0 {
		if isAdmin {
			return []string{RoleReadOnly, RoleSupport, RoleInventoryManager}, nil
		}
		return []string{RoleReadOnly}, nil
	}

	resolved := append([]string(nil), assignment.Roles...)
	if isAdmin {
		for _, implied := range ImpliedRoles(level) {
			if !containsFold(resolved, implied) {
				resolved = append(resolved, implied)
			}
		}
	}
	return resolved, nil
}

// UserHasRole reports whether email's effective role set contains roleName,
// case-insensitively.
func (s *Service) UserHasRole(ctx context.Context, email, roleName string) (bool, error) {
	resolved, err := s.ResolveEffectiveRoles(ctx, email)
	if err != nil {
		return false, err
	}
	return containsFold(resolved, roleName), nil
}

// ListRoles returns predefined plus custom roles, sorted by name.
func (s *Service) ListRoles(ctx context.Context) ([]Definition, error) {
	custom, err := s.store.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	all := append(append([]Definition(nil), s.predefined...), custom...)
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// ListCustomRoles returns only roles stored in the database.
func (s *Service) ListCustomRoles(ctx context.Context) ([]Definition, error) {
	return s.store.ListDefinitions(ctx)
}

// CreateRole adds a custom role. Admin tier only.
func (s *Service) CreateRole(ctx context.Context, name, description, requesterEmail string) (*Definition, error) {
	if err := s.requireAdmin(ctx, requesterEmail); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", domain.ErrBadRequest)
	}
	if s.isPredefined(name) {
		return nil, fmt.Errorf("%w: role %q is predefined", domain.ErrConflict, name)
	}
	now := s.now().UTC()
	def := &Definition{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// UpdateRole changes a custom role's description. Admin tier only; predefined
// roles are immutable.
func (s *Service) UpdateRole(ctx context.Context, name, description, requesterEmail string) (*Definition, error) {
	if err := s.requireAdmin(ctx, requesterEmail); err != nil {
		return nil, err
	}
	if s.isPredefined(name) {
		return nil, fmt.Errorf("%w: role %q is predefined", domain.ErrBadRequest, name)
	}
	def, err := s.store.DefinitionByName(ctx, name)
	if err != nil {
		return nil, err
	}
	def.Description = strings.TrimSpace(description)
	def.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// DeleteRole removes a custom role and cascades: every assignment containing
// the role (any case) has it removed and is persisted, even when the result is
// empty.
func (s *Service) DeleteRole(ctx context.Context, name, requesterEmail string) error {
	if err := s.requireAdmin(ctx, requesterEmail); err != nil {
		return err
	}
	if s.isPredefined(name) {
		return fmt.Errorf("%w: role %q is predefined", domain.ErrBadRequest, name)
	}
	if _, err := s.store.DefinitionByName(ctx, name); err != nil {
		return err
	}
	if err := s.store.DeleteDefinition(ctx, name); err != nil {
		return err
	}

	assignments, err := s.store.ListAssignments(ctx)
	if err != nil {
		return err
	}
	for i := range assignments {
		assignment := assignments[i]
		kept := assignment.Roles[:0]
		removed := false
		for _, role := range assignment.Roles {
			if strings.EqualFold(role, name) {
				removed = true
				continue
			}
			kept = append(kept, role)
		}
		if !removed {
			continue
		}
		assignment.Roles = kept
		assignment.UpdatedAt = s.now().UTC()
		if err := s.store.SaveAssignment(ctx, &assignment); err != nil {
			return err
		}
	}
	return nil
}

// AssignRole grants a role to a user. Admin tier only.
func (s *Service) AssignRole(ctx context.Context, userEmail, roleName, requesterEmail string) error {
	if err := s.requireAdmin(ctx, requesterEmail); err != nil {
		return err
	}
	return s.AssignRoleInternal(ctx, userEmail, roleName)
}

// AssignRoleInternal grants a role without a tier gate. It is idempotent and
// is also the trusted entry point identity uses on promotion.
func (s *Service) AssignRoleInternal(ctx context.Context, userEmail, roleName string) error {
	userEmail = normalizeEmail(userEmail)
	roleName = strings.TrimSpace(roleName)
	if userEmail == "" || roleName == "" {
		return fmt.Errorf("%w: user email and role name are required", domain.ErrBadRequest)
	}
	if err := s.ensureRoleExists(ctx, roleName); err != nil {
		return err
	}
	assignment, err := s.store.AssignmentByEmail(ctx, userEmail)
	if err != nil {
		if !domain.IsNotFound(err) {
			return err
		}
		assignment = &Assignment{ID: ids.New(), UserEmail: userEmail}
	}
	if containsFold(assignment.Roles, roleName) {
		return nil
	}
	assignment.Roles = append(assignment.Roles, roleName)
	assignment.UpdatedAt = s.now().UTC()
	return s.store.SaveAssignment(ctx, assignment)
}

// AssignDefaultRole grants the baseline role, used by identity on promotion.
func (s *Service) AssignDefaultRole(ctx context.Context, userEmail string) error {
	return s.AssignRoleInternal(ctx, userEmail, RoleReadOnly)
}

// UnassignRole revokes a role from a user. Admin tier only.
func (s *Service) UnassignRole(ctx context.Context, userEmail, roleName, requesterEmail string) error {
	if err := s.requireAdmin(ctx, requesterEmail); err != nil {
		return err
	}
	userEmail = normalizeEmail(userEmail)
	assignment, err := s.store.AssignmentByEmail(ctx, userEmail)
	if err != nil {
		return err
	}
	kept := assignment.Roles[:0]
	removed := false
	for _, role := range assignment.Roles {
		if strings.EqualFold(role, roleName) {
			removed = true
			continue
		}
		kept = append(kept, role)
	}
	if !removed {
		return fmt.Errorf("%w: role %q is not assigned to %s", domain.ErrNotFound, roleName, userEmail)
	}
	assignment.Roles = kept
	assignment.UpdatedAt = s.now().UTC()
	return s.store.SaveAssignment(ctx, assignment)
}

// lookupLevel fetches the account tier with a bounded timeout. The second
// return value distinguishes "tier unknown" from a confirmed answer.
func (s *Service) lookupLevel(ctx context.Context, email string) (access.Level, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.directoryTimeout)
	defer cancel()
	level, err := s.directory.AccountLevel(ctx, email)
	if err != nil {
		return access.ReadOnly, false
	}
	return level, true
}

// requireAdmin resolves the requester's tier via the identity directory, not
// the role table, to avoid a bootstrapping cycle. A failed lookup denies.
func (s *Service) requireAdmin(ctx context.Context, requesterEmail string) error {
	requesterEmail = normalizeEmail(requesterEmail)
	if requesterEmail == "" {
		return fmt.Errorf("%w: requester email is required", domain.ErrForbidden)
	}
	level, known := s.lookupLevel(ctx, requesterEmail)
	if !known || level != access.Admin {
		return fmt.Errorf("%w: only Admin users can manage roles", domain.ErrForbidden)
	}
	return nil
}

func (s *Service) ensureRoleExists(ctx context.Context, roleName string) error {
	if s.isPredefined(roleName) {
		return nil
	}
	if _, err := s.store.DefinitionByName(ctx, roleName); err != nil {
		return err
	}
	return nil
}

func (s *Service) isPredefined(name string) bool {
	for _, def := range s.predefined {
		if strings.EqualFold(def.Name, name) {
			return true
		}
	}
	return false
}

func containsFold(roles []string, name string) bool {
	for _, role := range roles {
		if strings.EqualFold(role, name) {
			return true
		}
	}
	return false
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

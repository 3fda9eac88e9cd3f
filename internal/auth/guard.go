package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
)

// Capability is what an operation requires of its caller.
type Capability int

const (
	// CapRead is required by record reads. Under an open read policy anonymous
	// callers have it too.
	CapRead Capability = iota
	// CapAuthenticated requires a verified identity.
	CapAuthenticated
	// CapPrivileged requires a verified identity holding the admin role.
	CapPrivileged
)

func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapAuthenticated:
		return "authenticated"
	case CapPrivileged:
		return "privileged"
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// Guard applies the access policy.
type Guard struct {
	authn     Authenticator
	adminRole string
	openReads bool
	logger    *slog.Logger
}

// NewGuard creates a Guard. When openReads is true, CapRead does not require
// authentication.
func NewGuard(authn Authenticator, adminRole string, openReads bool, logger *slog.Logger) *Guard {
	return &Guard{authn: authn, adminRole: adminRole, openReads: openReads, logger: logger}
}

// Check authenticates r and verifies the caller holds c. Anonymous readers
// under an open policy get the zero Identity.
func (g *Guard) Check(r *http.Request, c Capability) (domain.Identity, error) {
	id, err := g.authn.Authenticate(r)
	if err != nil {
		if c == CapRead && g.openReads {
			return domain.Identity{}, nil
		}
		g.logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	switch c {
	case CapRead, CapAuthenticated:
		if err := g.Authenticated(id); err != nil {
			return domain.Identity{}, err
		}
	case CapPrivileged:
		if err := g.Privileged(id); err != nil {
			g.logger.Info("access denied", "user", id.UserID, "role", id.Role, "path", r.URL.Path)
			return domain.Identity{}, err
		}
	}
	return id, nil
}

// Authenticated reports whether id is a verified caller.
func (g *Guard) Authenticated(id domain.Identity) error {
	if id.IsZero() {
		return domain.ErrUnauthenticated
	}
	return nil
}

// Privileged reports whether id may mutate records.
func (g *Guard) Privileged(id domain.Identity) error {
	if err := g.Authenticated(id); err != nil {
		return err
	}
	if id.Role != g.adminRole {
		return fmt.Errorf("%w: role %q cannot modify disasters", domain.ErrForbidden, id.Role)
	}
	return nil
}

// Package roster gives the assignment service a read-only view of who can
// work on steps. The portal's user directory sits behind the Provider
// interface; the in-memory provider backs tests and single-process setups.
package roster

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/megicode/stepflow/pkg/models"
)

// Provider lists assignable team members. Role is a filter; empty returns
// everyone.
type Provider interface {
	ListMembers(ctx context.Context, role string) ([]*models.TeamMember, error)
	GetMember(ctx context.Context, userID string) (*models.TeamMember, error)
}

// ErrMemberNotFound is returned by GetMember for unknown user IDs.
var ErrMemberNotFound = errors.New("team member not found")

// MemoryProvider is a Provider over a fixed member list.
type MemoryProvider struct {
	mu      sync.RWMutex
	members map[string]*models.TeamMember
}

func NewMemoryProvider(members ...*models.TeamMember) *MemoryProvider {
	p := &MemoryProvider{members: make(map[string]*models.TeamMember, len(members))}
	for _, member := range members {
		p.members[member.UserID] = member
	}

	return p
}

// Upsert adds or replaces a member.
func (p *MemoryProvider) Upsert(member *models.TeamMember) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.members[member.UserID] = member
}

func (p *MemoryProvider) ListMembers(ctx context.Context, role string) ([]*models.TeamMember, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := make([]*models.TeamMember, 0, len(p.members))

	for _, member := range p.members {
		if role != "" && !strings.EqualFold(member.Role, role) {
			continue
		}

		copied := *member
		copied.Skills = append([]string(nil), member.Skills...)
		members = append(members, &copied)
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].UserID < members[j].UserID
	})

	return members, nil
}

func (p *MemoryProvider) GetMember(ctx context.Context, userID string) (*models.TeamMember, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	member, ok := p.members[userID]
	if !ok {
		return nil, ErrMemberNotFound
	}

	copied := *member
	copied.Skills = append([]string(nil), member.Skills...)

	return &copied, nil
}

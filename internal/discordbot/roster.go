package discordbot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/slothflix/lldap-bridge/internal/reconcile"
)

const memberPageSize = 1000

// Roster exposes live Discord role membership as a reconcile.RosterSource.
type Roster struct {
	session *discordgo.Session
}

func NewRoster(session *discordgo.Session) *Roster {
	return &Roster{session: session}
}

// RoleRoster returns discord user id → username for every guild member
// holding the named role. A role that does not exist in the guild yields
// reconcile.ErrRoleNotFound.
func (r *Roster) RoleRoster(ctx context.Context, guildID, roleName string) (map[string]string, error) {
	roleID, err := r.resolveRole(ctx, guildID, roleName)
	if err != nil {
		return nil, err
	}

	roster := make(map[string]string)
	after := ""
	for {
		members, err := r.session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list guild members: %w", err)
		}
		for _, m := range members {
			if m.User == nil {
				continue
			}
			if hasRole(m, roleID) {
				roster[m.User.ID] = m.User.Username
			}
		}
		if len(members) < memberPageSize {
			return roster, nil
		}
		after = members[len(members)-1].User.ID
	}
}

func (r *Roster) resolveRole(ctx context.Context, guildID, roleName string) (string, error) {
	if roleName == "" {
		return "", fmt.Errorf("empty role name: %w", reconcile.ErrRoleNotFound)
	}
	roles, err := r.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("list guild roles: %w", err)
	}
	for _, role := range roles {
		if role.Name == roleName {
			return role.ID, nil
		}
	}
	return "", fmt.Errorf("%q: %w", roleName, reconcile.ErrRoleNotFound)
}

func hasRole(m *discordgo.Member, roleID string) bool {
	for _, id := range m.Roles {
		if id == roleID {
			return true
		}
	}
	return false
}

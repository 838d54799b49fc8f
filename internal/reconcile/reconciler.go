package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/slothflix/lldap-bridge/internal/models"
	"github.com/slothflix/lldap-bridge/pkg/logger"
	"github.com/slothflix/lldap-bridge/pkg/metrics"
)

// ErrRoleNotFound is returned by a RosterSource when the named role does not
// exist in the guild. The pair is skipped, not failed.
var ErrRoleNotFound = errors.New("role not found")

// Pair binds one Discord role to one directory group. Pairs are processed
// independently and in order.
type Pair struct {
	RoleName string
	GroupID  int
}

// Tally reports what one sync pass did for a pair. Failed counts individual
// group mutations that errored and were skipped.
type Tally struct {
	Removed int `json:"removed"`
	Added   int `json:"added"`
	Failed  int `json:"failed"`
}

// Directory is the subset of the directory API the reconciler needs.
type Directory interface {
	GroupMembers(ctx context.Context, groupID int) ([]models.DirectoryUser, error)
	UserIDByDiscordID(ctx context.Context, discordID string) (string, error)
	AddUserToGroup(ctx context.Context, userID string, groupID int) error
	RemoveUserFromGroup(ctx context.Context, userID string, groupID int) error
}

// RosterSource provides the external system's live role membership: a map of
// Discord user id → display name for everyone holding the role. The guild id
// is explicit so the interface does not bake in a single-guild assumption.
type RosterSource interface {
	RoleRoster(ctx context.Context, guildID, roleName string) (map[string]string, error)
}

// Reconciler converges directory group membership toward Discord role
// membership. The Discord role is authoritative: holders missing from the
// group are added (when a linked account exists), group members without the
// role are removed.
//
// Sync runs are serialized by an internal mutex, since the directory offers
// no compare-and-swap on group membership: an overlapping manual trigger
// queues behind the in-flight run instead of racing it.
type Reconciler struct {
	dir     Directory
	roster  RosterSource
	guildID string
	pairs   []Pair

	mu sync.Mutex
}

func New(dir Directory, roster RosterSource, guildID string, pairs []Pair) *Reconciler {
	return &Reconciler{dir: dir, roster: roster, guildID: guildID, pairs: pairs}
}

// Sync performs one complete reconciliation pass over all configured pairs
// and returns per-role tallies. Each pass is a fresh recomputation; no state
// is carried between runs. Unresolvable roles skip their pair with a warning,
// so a pass where no role resolves is a zero-tally no-op.
func (r *Reconciler) Sync(ctx context.Context) (map[string]Tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tallies := make(map[string]Tally, len(r.pairs))
	for _, pair := range r.pairs {
		tally, err := r.syncPair(ctx, pair)
		if err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				logger.Warnf("role %q not found, skipping its group", pair.RoleName)
				continue
			}
			return tallies, err
		}
		tallies[pair.RoleName] = tally
		metrics.SyncRemoved.WithLabelValues(pair.RoleName).Add(float64(tally.Removed))
		metrics.SyncAdded.WithLabelValues(pair.RoleName).Add(float64(tally.Added))
		metrics.SyncFailures.WithLabelValues(pair.RoleName).Add(float64(tally.Failed))
		logger.Infof("sync %q: removed=%d added=%d failed=%d", pair.RoleName, tally.Removed, tally.Added, tally.Failed)
	}
	return tallies, nil
}

// syncPair reconciles one role↔group pair. Removals run before additions;
// the two id sets are disjoint, so the order only pins down iteration for
// deterministic behavior. Individual mutation failures are logged and
// counted, never fatal to the batch.
func (r *Reconciler) syncPair(ctx context.Context, pair Pair) (Tally, error) {
	var tally Tally

	external, err := r.roster.RoleRoster(ctx, r.guildID, pair.RoleName)
	if err != nil {
		return tally, err
	}

	members, err := r.dir.GroupMembers(ctx, pair.GroupID)
	if err != nil {
		return tally, err
	}

	// Members without a discordid attribute cannot be reconciled; they are
	// left untouched.
	dirRoster := make(map[string]models.DirectoryUser, len(members))
	for _, m := range members {
		if id := m.DiscordID(); id != "" {
			dirRoster[id] = m
		}
	}
	logger.Debugf("sync %q: %d linked directory members, %d role holders", pair.RoleName, len(dirRoster), len(external))

	for _, discordID := range sortedKeysNotIn(dirRoster, external) {
		user := dirRoster[discordID]
		if err := r.dir.RemoveUserFromGroup(ctx, user.ID, pair.GroupID); err != nil {
			logger.Warnf("sync %q: failed to remove %s from group %d: %v", pair.RoleName, user.ID, pair.GroupID, err)
			tally.Failed++
			continue
		}
		tally.Removed++
	}

	for _, discordID := range sortedKeysNotIn(external, dirRoster) {
		userID, err := r.dir.UserIDByDiscordID(ctx, discordID)
		if err != nil {
			logger.Warnf("sync %q: failed to resolve discord id %s: %v", pair.RoleName, discordID, err)
			tally.Failed++
			continue
		}
		if userID == "" {
			// no linked directory account; the reconciler never creates one
			continue
		}
		if err := r.dir.AddUserToGroup(ctx, userID, pair.GroupID); err != nil {
			logger.Warnf("sync %q: failed to add %s to group %d: %v", pair.RoleName, userID, pair.GroupID, err)
			tally.Failed++
			continue
		}
		tally.Added++
	}

	return tally, nil
}

// sortedKeysNotIn returns the keys of a absent from b, sorted.
func sortedKeysNotIn[A, B any](a map[string]A, b map[string]B) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		if _, ok := b[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

package discovery

import (
	"fmt"
	"strings"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
)

// Target is a computed (source -> destination) mapping for one repository.
type Target struct {
	Source sourceapi.Repo
	Owner  string
	Name   string
}

// collisionTracker remembers destination (owner,name) pairs already handed
// out during one discovery run, so duplicate-name strategies can apply their
// configured resolution deterministically within the run.
type collisionTracker struct {
	seen map[string]struct{}
}

func newCollisionTracker() *collisionTracker {
	return &collisionTracker{seen: map[string]struct{}{}}
}

func (t *collisionTracker) claim(owner, name string) (string, string) {
	key := strings.ToLower(owner + "/" + name)
	if _, taken := t.seen[key]; !taken {
		t.seen[key] = struct{}{}
		return owner, name
	}
	return owner, name
}

// ResolveDestinations computes the desired destination owner/name for every
// repo under the configured mirror strategy (spec §4.3), applying
// per-repository overrides and duplicate-name resolution. destUser is the
// authenticated destination login (where flat-user/single-org repos land);
// sourceUser is the authenticated source login, used only to tell a
// personally-owned source repo apart from an org-owned one under the mixed
// strategy — the two identities live in different forges' namespaces and
// must not be conflated.
func ResolveDestinations(policy config.MirrorPolicy, destUser, sourceUser string, repos []sourceapi.Repo, overrides map[string]string) []Target {
	tracker := newCollisionTracker()
	targets := make([]Target, 0, len(repos))
	for _, repo := range repos {
		owner, name := resolveOne(policy, destUser, sourceUser, repo, overrides[repo.FullName], tracker)
		targets = append(targets, Target{Source: repo, Owner: owner, Name: name})
	}
	return targets
}

func resolveOne(policy config.MirrorPolicy, destUser, sourceUser string, repo sourceapi.Repo, override string, tracker *collisionTracker) (string, string) {
	if strings.TrimSpace(override) != "" {
		return tracker.claim(override, repo.Name)
	}

	switch policy.Strategy {
	case config.StrategyPreserve:
		return tracker.claim(repo.Owner, repo.Name)

	case config.StrategySingleOrg:
		return resolveCollision(policy, tracker, policy.SingleOrgName, repo)

	case config.StrategyFlatUser:
		return resolveCollision(policy, tracker, destUser, repo)

	case config.StrategyMixed:
		if repo.Starred {
			if policy.StarredReposMode == config.StarredDedicatedOrg && policy.StarredReposOrg != "" {
				return resolveCollision(policy, tracker, policy.StarredReposOrg, repo)
			}
			return tracker.claim(repo.Owner, repo.Name)
		}
		if isPersonalOwner(repo, sourceUser) {
			owner := policy.PersonalReposOrg
			if owner == "" {
				owner = destUser
			}
			return resolveCollision(policy, tracker, owner, repo)
		}
		// An org-owned repo under mixed strategy is preserved at its
		// source organization.
		return tracker.claim(repo.Owner, repo.Name)

	default:
		return tracker.claim(repo.Owner, repo.Name)
	}
}

// isPersonalOwner reports whether repo is owned by the source-authenticated
// user directly, as opposed to one of their organizations. sourceUser must
// be the source forge's login (see Client.Authenticate), not a destination
// login — the two are different identity namespaces and will rarely match.
func isPersonalOwner(repo sourceapi.Repo, sourceUser string) bool {
	return strings.EqualFold(repo.Owner, sourceUser)
}

func resolveCollision(policy config.MirrorPolicy, tracker *collisionTracker, owner string, repo sourceapi.Repo) (string, string) {
	name := repo.Name
	candidateOwner, candidateName := owner, name
	key := func(o, n string) string { return strings.ToLower(o + "/" + n) }
	if _, taken := tracker.seen[key(candidateOwner, candidateName)]; !taken {
		return tracker.claim(candidateOwner, candidateName)
	}
	switch policy.DuplicateName {
	case config.DuplicateSuffix:
		candidateName = fmt.Sprintf("%s-%s", name, strings.ToLower(repo.Owner))
	case config.DuplicatePrefix:
		candidateName = fmt.Sprintf("%s-%s", strings.ToLower(repo.Owner), name)
	case config.DuplicateOwnerOrg:
		candidateOwner = repo.Owner
	default:
		candidateName = fmt.Sprintf("%s-%s", name, strings.ToLower(repo.Owner))
	}
	return tracker.claim(candidateOwner, candidateName)
}

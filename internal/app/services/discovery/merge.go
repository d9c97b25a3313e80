package discovery

import "github.com/forgemirror/mirror-layer/internal/app/sourceapi"

// MergeGitReposPreferStarred merges a basic repository listing with a
// starred-repository listing into one record per full name, preferring the
// representation with Starred=true. It is idempotent and commutative up to
// the starred tiebreak: merging (a, b) equals merging (b, a) whenever at
// most one side has any given full name marked starred (spec §8 round-trip
// law).
func MergeGitReposPreferStarred(basic, starred []sourceapi.Repo) []sourceapi.Repo {
	order := make([]string, 0, len(basic)+len(starred))
	byName := make(map[string]sourceapi.Repo, len(basic)+len(starred))

	merge := func(list []sourceapi.Repo) {
		for _, repo := range list {
			existing, ok := byName[repo.FullName]
			if !ok {
				byName[repo.FullName] = repo
				order = append(order, repo.FullName)
				continue
			}
			// Starred wins the tiebreak regardless of which side it came
			// from; an already-starred existing record is never displaced
			// by a non-starred duplicate.
			if repo.Starred && !existing.Starred {
				byName[repo.FullName] = repo
			}
		}
	}

	merge(basic)
	merge(starred)

	out := make([]sourceapi.Repo, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

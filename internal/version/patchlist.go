package version

import (
	"fmt"
	"sort"
)

// ResolveChain walks a repository's prerequisite graph from its latest
// version newest-first, skipping cycles and inactive versions, and returns
// the resolved patch chain oldest-first.
//
// Grounded on the reference implementation's thaliak provider: starting from
// latestVersionID, each step looks at the active prerequisite versions of
// the current patch; if more than one is active, the descending
// lexicographically-greatest id is taken; cycles (ids already visited) and
// inactive versions are skipped entirely rather than erroring.
func ResolveChain(patches []RemotePatch, latestVersionID string) ([]RemotePatch, error) {
	byID := make(map[string]RemotePatch, len(patches))
	for _, p := range patches {
		byID[p.VersionID] = p
	}

	var chain []RemotePatch
	visited := make(map[string]bool)
	current, ok := byID[latestVersionID]
	if !ok {
		return nil, fmt.Errorf("version: latest version id %q not found in patch list", latestVersionID)
	}

	for {
		if visited[current.VersionID] {
			break
		}
		visited[current.VersionID] = true
		if !current.Active {
			break
		}
		chain = append(chain, current)

		next, found := nextPrerequisite(byID, current.PrerequisiteVersions, visited)
		if !found {
			break
		}
		current = next
	}

	if len(chain) <= 1 {
		return nil, ErrChainTooShort
	}

	// Reverse to oldest-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// nextPrerequisite selects the next patch to walk to: of the prerequisite
// ids that are active and unvisited, the descending lexicographically
// greatest is chosen when several are active.
func nextPrerequisite(byID map[string]RemotePatch, prereqIDs []string, visited map[string]bool) (RemotePatch, bool) {
	var candidates []RemotePatch
	for _, id := range prereqIDs {
		p, ok := byID[id]
		if !ok || visited[id] || !p.Active {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return RemotePatch{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].VersionID > candidates[j].VersionID
	})
	return candidates[0], true
}

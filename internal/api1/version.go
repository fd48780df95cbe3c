package api1

import (
	"net/http"
	"sort"
)

type versionEntry struct {
	Names []string `json:"names"`
}

type versionsResponse struct {
	Versions []versionEntry `json:"versions"`
}

// listVersions handles GET /api/1/version, returning one entry per known
// version key -- ready or not -- grouped by its operator-assigned names.
func (h *handlers) listVersions(w http.ResponseWriter, r *http.Request) {
	keys := h.deps.Versions.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]versionEntry, 0, len(keys))
	for _, key := range keys {
		names := h.deps.Versions.Names(key)
		sort.Strings(names)
		out = append(out, versionEntry{Names: names})
	}
	writeJSON(w, http.StatusOK, versionsResponse{Versions: out})
}

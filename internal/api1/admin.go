package api1

import (
	"net/http"
	"sort"

	"github.com/agentic-research/mache/internal/version"
)

// adminAuth wraps next with a Basic-Auth check against the configured
// admin credential pair, matching net/http's stdlib Request.BasicAuth --
// no external auth library needed for a single static credential pair.
func (h *handlers) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.deps.Config.Admin.Username || pass != h.deps.Config.Admin.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="mache"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func stateString(s version.State) string {
	switch s {
	case version.StatePending:
		return "pending"
	case version.StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

type adminVersionSummary struct {
	Key    string   `json:"key"`
	Names  []string `json:"names"`
	State  string   `json:"state"`
	Banned bool     `json:"banned"`
}

type adminIndexResponse struct {
	Versions []adminVersionSummary `json:"versions"`
}

// adminIndex handles GET /admin/, listing every known version with its
// current state and ban status.
func (h *handlers) adminIndex(w http.ResponseWriter, r *http.Request) {
	keys := h.deps.Versions.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]adminVersionSummary, 0, len(keys))
	for _, key := range keys {
		v, state, err := h.deps.Versions.VersionOf(key)
		if err != nil {
			writeError(w, err)
			return
		}
		names := h.deps.Versions.Names(key)
		sort.Strings(names)
		out = append(out, adminVersionSummary{
			Key:    key.String(),
			Names:  names,
			State:  stateString(state),
			Banned: v.BanTime != nil,
		})
	}
	writeJSON(w, http.StatusOK, adminIndexResponse{Versions: out})
}

type adminShowResponse struct {
	Key          string                      `json:"key"`
	Names        []string                    `json:"names"`
	State        string                      `json:"state"`
	Banned       bool                        `json:"banned"`
	Repositories []version.RepositoryPatches `json:"repositories"`
}

// adminShow handles GET /admin/{versionKey}, detailing one version's
// repository patch chain alongside its names and state.
func (h *handlers) adminShow(w http.ResponseWriter, r *http.Request) {
	key, err := version.ParseKey(r.PathValue("versionKey"))
	if err != nil {
		writeError(w, invalidf("invalid version key %q", r.PathValue("versionKey")))
		return
	}
	v, state, err := h.deps.Versions.VersionOf(key)
	if err != nil {
		writeError(w, err)
		return
	}
	patches, err := h.deps.Versions.PatchList(key)
	if err != nil {
		writeError(w, err)
		return
	}
	names := h.deps.Versions.Names(key)
	sort.Strings(names)

	writeJSON(w, http.StatusOK, adminShowResponse{
		Key:          key.String(),
		Names:        names,
		State:        stateString(state),
		Banned:       v.BanTime != nil,
		Repositories: patches,
	})
}

// adminDelete handles POST /admin/{versionKey}/delete: bans the version so
// it stops resolving, and evicts its archive view, leaving its persisted
// patch files on disk for an operator to clean up separately.
func (h *handlers) adminDelete(w http.ResponseWriter, r *http.Request) {
	key, err := version.ParseKey(r.PathValue("versionKey"))
	if err != nil {
		writeError(w, invalidf("invalid version key %q", r.PathValue("versionKey")))
		return
	}
	if _, _, err := h.deps.Versions.VersionOf(key); err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Versions.SetBanned(key, true); err != nil {
		writeError(w, err)
		return
	}
	h.deps.Archives.Evict(key)
	w.WriteHeader(http.StatusNoContent)
}

package version

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// HTTPConfig configures the default PatchProvider/Patcher pair: a plain JSON
// REST transport rather than the upstream GraphQL catalog, since that
// transport's own protocol is out of scope here -- only the PatchProvider
// and Patcher contracts are.
type HTTPConfig struct {
	Endpoint  string
	Directory string
	Timeout   time.Duration
}

// HTTPProvider fetches a repository's raw patch list from a JSON endpoint at
// "<Endpoint>/<repository>".
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{endpoint: cfg.Endpoint, client: &http.Client{Timeout: timeout}}
}

type remotePatchWire struct {
	Name                 string   `json:"name"`
	VersionID            string   `json:"versionId"`
	Active               bool     `json:"active"`
	PrerequisiteVersions []string `json:"prerequisiteVersions"`
	URL                  string   `json:"url"`
	Size                 int64    `json:"size"`
}

// PatchList fetches the repository's full catalog of versions and their
// prerequisite links, ahead of chain resolution in ResolveChain
// (patchlist.go).
func (p *HTTPProvider) PatchList(repo string) ([]RemotePatch, error) {
	endpoint, err := url.JoinPath(p.endpoint, url.PathEscape(repo))
	if err != nil {
		return nil, fmt.Errorf("version: build endpoint for %s: %w", repo, err)
	}
	resp, err := p.client.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("version: fetch patch list for %s: %w", repo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("version: fetch patch list for %s: status %d", repo, resp.StatusCode)
	}

	var wire []remotePatchWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("version: decode patch list for %s: %w", repo, err)
	}

	out := make([]RemotePatch, 0, len(wire))
	for _, w := range wire {
		out = append(out, RemotePatch{
			Name:                 w.Name,
			VersionID:            w.VersionID,
			Active:               w.Active,
			PrerequisiteVersions: w.PrerequisiteVersions,
			URL:                  w.URL,
			Size:                 w.Size,
		})
	}
	return out, nil
}

// HTTPPatcher downloads a remote patch file into Directory/<repo>/<name>,
// skipping the download when a file of the expected size already exists.
type HTTPPatcher struct {
	directory string
	client    *http.Client
}

func NewHTTPPatcher(cfg HTTPConfig) *HTTPPatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPPatcher{directory: cfg.Directory, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPatcher) Localize(repo string, patch RemotePatch) (Patch, error) {
	dir := filepath.Join(p.directory, repo)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Patch{}, fmt.Errorf("version: create patch directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, patch.Name)

	if info, err := os.Stat(path); err == nil && (patch.Size == 0 || info.Size() == patch.Size) {
		return Patch{Name: patch.Name, LocalPath: path, Size: info.Size(), URL: patch.URL}, nil
	}

	resp, err := p.client.Get(patch.URL)
	if err != nil {
		return Patch{}, fmt.Errorf("version: download patch %s: %w", patch.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Patch{}, fmt.Errorf("version: download patch %s: status %d", patch.Name, resp.StatusCode)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Patch{}, fmt.Errorf("version: create patch file %s: %w", tmp, err)
	}
	written, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(tmp)
		return Patch{}, fmt.Errorf("version: write patch file %s: %w", tmp, copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return Patch{}, fmt.Errorf("version: close patch file %s: %w", tmp, closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Patch{}, fmt.Errorf("version: finalize patch file %s: %w", path, err)
	}

	return Patch{Name: patch.Name, LocalPath: path, Size: written, URL: patch.URL}, nil
}

package api1

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"strings"

	"github.com/agentic-research/mache/internal/version"
)

// Transcoder converts a raw archive asset file into the bytes and content
// type served to a caller. The real tex->PNG/JPEG/WebP codec is not
// implemented here; DefaultTranscoder is the documented passthrough that
// keeps the route wired and testable without one.
type Transcoder interface {
	Transcode(raw []byte, format string) (data []byte, contentType string, err error)
}

// DefaultTranscoder serves the raw asset bytes unmodified under a generic
// binary content type.
type DefaultTranscoder struct{}

func (DefaultTranscoder) Transcode(raw []byte, format string) ([]byte, string, error) {
	return raw, "application/octet-stream", nil
}

// ImageDecoder decodes a raw texture file into pixel data, the hook the
// composite map route uses to multiply foreground and background channels.
// A nil Decoder disables composition: the foreground file is served as-is.
type ImageDecoder interface {
	Decode(raw []byte) (image.Image, error)
}

// assetTranscoderRevision folds into the ETag so a cached asset can be
// invalidated by bumping it, independent of the version key, whenever
// Transcoder's output format changes.
const assetTranscoderRevision = 1

func assetETag(path, format string, key version.Key) string {
	sum := fnv.New64a()
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write([]byte(format))
	return fmt.Sprintf("%016x.%s.%d", sum.Sum64(), key.String(), assetTranscoderRevision)
}

func assetFilename(path, format string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	if format == "" {
		return base
	}
	return base + "." + format
}

// asset handles GET /api/1/asset?path=&format=.
func (h *handlers) asset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path := q.Get("path")
	format := q.Get("format")
	if path == "" {
		writeError(w, invalidf("path is required"))
		return
	}

	key, err := h.resolveVersion(r)
	if err != nil {
		writeError(w, err)
		return
	}

	etag := assetETag(path, format, key)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	view, _, err := h.deps.Archives.VersionData(key)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := view.ReadFile(path)
	if err != nil {
		writeError(w, err)
		return
	}

	transcoder := h.deps.Config.Asset.Transcoder
	if transcoder == nil {
		transcoder = DefaultTranscoder{}
	}
	data, contentType, err := transcoder.Transcode(raw, format)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, immutable, max-age=%d", h.deps.Config.Asset.CacheMaxAgeSeconds))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", assetFilename(path, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func mulChannel(a, b uint8) uint8 {
	return uint8((uint16(a) * uint16(b)) / 255)
}

func toNRGBA(c color.Color) color.NRGBA {
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}

// multiplyChannels composites background over foreground by multiplying
// matching channels, (a*b)/255 per channel -- the map-tile "_m_m" overlay
// convention. A size mismatch is the caller's problem to report as an
// internal error, not a client one: both paths came from the same archive.
func multiplyChannels(fg, bg image.Image) (image.Image, error) {
	fgBounds, bgBounds := fg.Bounds(), bg.Bounds()
	if fgBounds.Dx() != bgBounds.Dx() || fgBounds.Dy() != bgBounds.Dy() {
		return nil, fmt.Errorf("api1: composite map dimension mismatch: foreground %dx%d vs background %dx%d",
			fgBounds.Dx(), fgBounds.Dy(), bgBounds.Dx(), bgBounds.Dy())
	}

	out := image.NewNRGBA(fgBounds)
	for y := fgBounds.Min.Y; y < fgBounds.Max.Y; y++ {
		for x := fgBounds.Min.X; x < fgBounds.Max.X; x++ {
			a := toNRGBA(fg.At(x, y))
			b := toNRGBA(bg.At(x, y))
			out.SetNRGBA(x, y, color.NRGBA{
				R: mulChannel(a.R, b.R),
				G: mulChannel(a.G, b.G),
				B: mulChannel(a.B, b.B),
				A: mulChannel(a.A, b.A),
			})
		}
	}
	return out, nil
}

// assetMap handles GET /api/1/asset/map/{territory}/{index}, compositing
// the territory's map tile with its background overlay when one exists.
func (h *handlers) assetMap(w http.ResponseWriter, r *http.Request) {
	territory := r.PathValue("territory")
	index := r.PathValue("index")
	if territory == "" || index == "" {
		writeError(w, invalidf("territory and index are required"))
		return
	}

	key, err := h.resolveVersion(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, _, err := h.deps.Archives.VersionData(key)
	if err != nil {
		writeError(w, err)
		return
	}

	prefix := fmt.Sprintf("ui/map/%s/%s/%s%s", territory, index, territory, index)
	fgRaw, err := view.ReadFile(prefix + "_m.tex")
	if err != nil {
		writeError(w, err)
		return
	}

	decoder := h.deps.Config.Asset.Decoder
	if decoder == nil {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(fgRaw)
		return
	}

	fg, err := decoder.Decode(fgRaw)
	if err != nil {
		writeError(w, err)
		return
	}

	composite := fg
	if bgRaw, bgErr := view.ReadFile(prefix + "_m_m.tex"); bgErr == nil {
		bg, err := decoder.Decode(bgRaw)
		if err != nil {
			writeError(w, err)
			return
		}
		composite, err = multiplyChannels(fg, bg)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, composite); err != nil {
		writeError(w, fmt.Errorf("api1: encode composite map: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

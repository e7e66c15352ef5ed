package api

import (
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/conversion"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/event"
	"github.com/sydlexius/iconforge/internal/store"
)

func (r *Router) handleListConversions(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	items, total, err := r.conversions.List(req.Context(), conversion.ListParams{Limit: limit, Offset: offset})
	if err != nil {
		r.fail(w, req, err)
		return
	}
	views := make([]conversionView, 0, len(items))
	for i := range items {
		views = append(views, r.viewOf(&items[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversions": views,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

func (r *Router) handleGetConversion(w http.ResponseWriter, req *http.Request) {
	c, err := r.conversions.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, r.viewOf(c))
}

func (r *Router) handleDeleteConversion(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if err := r.conversions.Delete(req.Context(), id); err != nil {
		r.fail(w, req, err)
		return
	}
	r.publish(event.ConversionDeleted, map[string]any{"id": id, "origin": conversion.OriginAPI})
	w.WriteHeader(http.StatusNoContent)
}

// handleBundle streams every artifact of a conversion as one archive.
func (r *Router) handleBundle(w http.ResponseWriter, req *http.Request) {
	format := req.URL.Query().Get("format")
	if format == "" {
		format = bundle.FormatZip
	}
	if !bundle.Valid(format) {
		writeError(w, http.StatusBadRequest, "format must be one of "+strings.Join(bundle.Formats(), ", "))
		return
	}

	c, err := r.conversions.GetByID(req.Context(), req.PathValue("id"))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	files, err := r.conversions.Files(c)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	// the archive is built in memory so a storage error still yields a
	// clean status code instead of a truncated download
	data, err := bundle.Bytes(format, files, c.CreatedAt)
	if err != nil {
		r.fail(w, req, err)
		return
	}

	w.Header().Set("Content-Type", bundle.ContentType(format))
	w.Header().Set("Content-Disposition", attachment(c.BundleBase()+bundle.Extension(format)))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Last-Modified", c.CreatedAt.UTC().Format(http.TimeFormat))
	_, _ = w.Write(data)
}

// handleArtifact serves one stored artifact by CID. Objects are immutable,
// so the CID doubles as a strong ETag.
func (r *Router) handleArtifact(w http.ResponseWriter, req *http.Request) {
	cidStr := req.PathValue("cid")
	etag := `"` + cidStr + `"`
	if match := req.Header.Get("If-None-Match"); match != "" && match == etag {
		ok, err := r.conversions.HasArtifact(req.Context(), cidStr)
		if err != nil {
			r.fail(w, req, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, store.ErrNotFound.Error())
			return
		}
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := r.conversions.Object(req.Context(), cidStr)
	if err != nil {
		r.fail(w, req, err)
		return
	}

	name := path.Base(req.URL.Query().Get("name"))
	ct := http.DetectContentType(data)
	if name != "." && name != "/" {
		if ext := strings.TrimPrefix(path.Ext(name), "."); ext != "" {
			if mapped := convert.ContentType(ext); mapped != "application/octet-stream" {
				ct = mapped
			}
		}
		w.Header().Set("Content-Disposition", attachment(name))
	}

	w.Header().Set("Content-Type", ct)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int((365*24*time.Hour).Seconds()))+", immutable")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

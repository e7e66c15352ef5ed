package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/conversion"
	"github.com/sydlexius/iconforge/internal/convert"
	img "github.com/sydlexius/iconforge/internal/image"
	"github.com/sydlexius/iconforge/internal/version"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	status, code := "ok", http.StatusOK
	if r.db != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.db.PingContext(ctx); err != nil {
			r.logger.Warn("health check: database unreachable", "error", err)
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}

	body := map[string]any{
		"status":  status,
		"version": version.Version,
		"commit":  version.Commit,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}
	if r.eventBus != nil {
		body["events"] = r.eventBus.Stats()
	}
	writeJSON(w, code, body)
}

func (r *Router) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"presets": map[string]any{
			convert.PresetSingle:   nil,
			convert.PresetElectron: convert.ElectronSizes,
		},
		"formats":        []string{convert.FormatPNG, convert.FormatICO, convert.FormatICNS},
		"filters":        []string{img.FilterCatmullRom, img.FilterBilinear, img.FilterNearest, img.FilterLanczos3},
		"bundle_formats": bundle.Formats(),
		"silhouette": map[string]int{
			"default_threshold": convert.DefaultThreshold,
			"min_thickness":     -convert.MaxThickness,
			"max_thickness":     convert.MaxThickness,
		},
		"max_upload_bytes": r.maxUpload,
	})
}

// artifactView is an artifact with its download URL.
type artifactView struct {
	conversion.Artifact
	URL string `json:"url"`
}

// conversionView is the API representation of a stored conversion.
type conversionView struct {
	*conversion.Conversion
	Artifacts  []artifactView    `json:"artifacts"`
	TotalBytes int64             `json:"total_bytes"`
	TotalSize  string            `json:"total_size"`
	Bundles    map[string]string `json:"bundles"`
}

func (r *Router) viewOf(c *conversion.Conversion) conversionView {
	v := conversionView{
		Conversion: c,
		Artifacts:  make([]artifactView, 0, len(c.Artifacts)),
		TotalBytes: c.TotalBytes(),
		Bundles:    make(map[string]string, len(bundle.Formats())),
	}
	v.TotalSize = humanize.Bytes(uint64(max(v.TotalBytes, 0)))
	for _, a := range c.Artifacts {
		v.Artifacts = append(v.Artifacts, artifactView{Artifact: a, URL: r.artifactURL(a)})
	}
	for _, f := range bundle.Formats() {
		v.Bundles[f] = r.basePath + "/api/v1/conversions/" + url.PathEscape(c.ID) + "/bundle?format=" + url.QueryEscape(f)
	}
	return v
}

func (r *Router) artifactURL(a conversion.Artifact) string {
	return r.basePath + "/api/v1/artifacts/" + a.CID + "?name=" + url.QueryEscape(a.Name)
}

// intParam parses an optional integer form or query value.
func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode error", http.StatusInternalServerError)
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/conversion"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/event"
	img "github.com/sydlexius/iconforge/internal/image"
	"github.com/sydlexius/iconforge/internal/store"
)

const (
	defaultEdge = 512
	// multipartOverhead covers boundaries and the small text fields sent
	// alongside the image.
	multipartOverhead = 64 << 10
)

// statusError carries the HTTP status a request failure maps to.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &statusError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var se *statusError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &se):
		return se.status
	case errors.As(err, &mbe), errors.Is(err, img.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, img.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, convert.ErrUndecodable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, convert.ErrInvalidDimension),
		errors.Is(err, convert.ErrEmptySource),
		errors.Is(err, convert.ErrNoSizes),
		errors.Is(err, convert.ErrUnknownPreset),
		errors.Is(err, convert.ErrInvalidThickness),
		errors.Is(err, convert.ErrUnknownFilter),
		errors.Is(err, bundle.ErrUnknownFormat),
		errors.Is(err, store.ErrInvalidCID):
		return http.StatusBadRequest
	case errors.Is(err, conversion.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error. Internal details are logged, not returned.
func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		r.logger.Error("request failed",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		msg = "internal error"
	}
	writeError(w, status, msg)
}

// readUpload parses the multipart body and returns the "image" part.
func (r *Router) readUpload(w http.ResponseWriter, req *http.Request) ([]byte, string, error) {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload+multipartOverhead)
	if err := req.ParseMultipartForm(r.maxUpload); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, "", err
		}
		return nil, "", badRequest("invalid multipart form: %v", err)
	}

	file, header, err := req.FormFile("image")
	if err != nil {
		return nil, "", badRequest("missing image file")
	}
	defer file.Close() //nolint:errcheck

	if err := checkImageType(header); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(io.LimitReader(file, r.maxUpload+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > r.maxUpload {
		return nil, "", &statusError{
			status: http.StatusRequestEntityTooLarge,
			msg:    fmt.Sprintf("image exceeds the %d byte upload limit", r.maxUpload),
		}
	}
	if len(data) == 0 {
		return nil, "", badRequest("image file is empty")
	}
	return data, header.Filename, nil
}

// checkImageType accepts parts declared as image/* or left untyped; the
// decoder sniffs the real format either way.
func checkImageType(h *multipart.FileHeader) error {
	ct := h.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" || strings.HasPrefix(ct, "image/") {
		return nil
	}
	return &statusError{
		status: http.StatusUnsupportedMediaType,
		msg:    fmt.Sprintf("content type %q is not an image", ct),
	}
}

// silhouetteParams reads threshold and thickness form values.
func silhouetteParams(req *http.Request) (convert.SilhouetteParams, error) {
	threshold, err := intParam(req.FormValue("threshold"), convert.DefaultThreshold)
	if err != nil || threshold < 0 || threshold > 255 {
		return convert.SilhouetteParams{}, badRequest("threshold must be an integer between 0 and 255")
	}
	thickness, err := intParam(req.FormValue("thickness"), 0)
	if err != nil {
		return convert.SilhouetteParams{}, badRequest("thickness must be an integer")
	}
	p := convert.SilhouetteParams{Threshold: uint8(threshold), Thickness: thickness} //nolint:gosec // G115: bounds checked above
	return p, p.Validate()
}

// parseToggle accepts strconv booleans plus the "on"/"off" values HTML
// checkboxes send.
func parseToggle(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "off":
		return false, nil
	case "on":
		return true, nil
	}
	return strconv.ParseBool(raw)
}

// convertRequest builds a conversion request from the form fields.
func convertRequest(req *http.Request) (convert.Request, error) {
	out := convert.Request{
		Preset: strings.ToLower(strings.TrimSpace(req.FormValue("preset"))),
		Filter: strings.ToLower(strings.TrimSpace(req.FormValue("filter"))),
	}
	if out.Preset == "" {
		out.Preset = convert.PresetSingle
	}

	if out.Preset == convert.PresetSingle {
		if raw := req.FormValue("size"); raw != "" {
			s, err := convert.ParseSize(raw)
			if err != nil {
				return out, err
			}
			out.Sizes = []convert.Size{s}
		} else {
			w, err := intParam(req.FormValue("width"), defaultEdge)
			if err != nil {
				return out, badRequest("width must be an integer")
			}
			h, err := intParam(req.FormValue("height"), w)
			if err != nil {
				return out, badRequest("height must be an integer")
			}
			out.Sizes = []convert.Size{{Width: w, Height: h}}
		}
	}

	on, err := parseToggle(req.FormValue("silhouette"))
	if err != nil {
		return out, badRequest("silhouette must be a boolean")
	}
	if on {
		p, err := silhouetteParams(req)
		if err != nil {
			return out, err
		}
		out.Silhouette = &p
	}
	return out, nil
}

// handleConvert renders the uploaded image, stores the artifacts and
// returns the conversion record with download links.
func (r *Router) handleConvert(w http.ResponseWriter, req *http.Request) {
	data, name, err := r.readUpload(w, req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	defer req.MultipartForm.RemoveAll() //nolint:errcheck

	creq, err := convertRequest(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	creq.SourceName = name
	creq.Source = data

	res, err := r.converter.Convert(req.Context(), creq)
	if err != nil {
		r.publish(event.ConversionFailed, map[string]any{
			"source": name,
			"origin": conversion.OriginAPI,
			"error":  err.Error(),
		})
		r.fail(w, req, err)
		return
	}

	c, err := r.conversions.Record(req.Context(), res, data, res.Filter, conversion.OriginAPI)
	if err != nil {
		r.fail(w, req, err)
		return
	}

	r.publish(event.ConversionCompleted, map[string]any{
		"id":        c.ID,
		"source":    name,
		"origin":    conversion.OriginAPI,
		"artifacts": len(c.Artifacts),
	})
	writeJSON(w, http.StatusCreated, r.viewOf(c))
}

// handlePreview returns the silhouette of the upload as a PNG at its native
// resolution. Nothing is stored.
func (r *Router) handlePreview(w http.ResponseWriter, req *http.Request) {
	data, _, err := r.readUpload(w, req)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	defer req.MultipartForm.RemoveAll() //nolint:errcheck

	params, err := silhouetteParams(req)
	if err != nil {
		r.fail(w, req, err)
		return
	}

	out, err := r.converter.Preview(req.Context(), data, params)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	_, _ = w.Write(out)
}

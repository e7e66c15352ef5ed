package conversion

import (
	"errors"
	"time"

	"github.com/sydlexius/iconforge/internal/convert"
)

// Origins record how a conversion was requested.
const (
	OriginAPI   = "api"
	OriginWatch = "watch"
	OriginCLI   = "cli"
)

// ErrNotFound is returned when no conversion has the requested ID.
var ErrNotFound = errors.New("conversion not found")

// Conversion is a persisted conversion and its artifacts.
type Conversion struct {
	ID           string                    `json:"id"`
	SourceName   string                    `json:"source_name"`
	SourceFormat string                    `json:"source_format"`
	SourceCID    string                    `json:"source_cid"`
	BaseName     string                    `json:"base_name"`
	Preset       string                    `json:"preset"`
	Sizes        []convert.Size            `json:"sizes"`
	Silhouette   *convert.SilhouetteParams `json:"silhouette,omitempty"`
	Filter       string                    `json:"filter"`
	Origin       string                    `json:"origin"`
	Artifacts    []Artifact                `json:"artifacts"`
	CreatedAt    time.Time                 `json:"created_at"`
}

// BundleBase returns the archive name without extension.
func (c *Conversion) BundleBase() string {
	return convert.BundleBase(c.BaseName, c.Preset, c.Sizes)
}

// TotalBytes sums the artifact sizes.
func (c *Conversion) TotalBytes() int64 {
	var n int64
	for _, a := range c.Artifacts {
		n += a.SizeBytes
	}
	return n
}

// Artifact is the stored form of a generated file. Its bytes live in the
// content store under CID.
type Artifact struct {
	Name      string `json:"name"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"size_bytes"`
	CID       string `json:"cid"`
}

// ListParams pages through the history, newest first.
type ListParams struct {
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (p ListParams) normalized() ListParams {
	if p.Limit <= 0 {
		p.Limit = defaultListLimit
	}
	p.Limit = min(p.Limit, maxListLimit)
	p.Offset = max(p.Offset, 0)
	return p
}

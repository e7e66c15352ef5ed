// Package conversion persists conversion history in SQLite and the
// generated bytes in the content store.
package conversion

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/sydlexius/iconforge/internal/bundle"
	"github.com/sydlexius/iconforge/internal/convert"
	"github.com/sydlexius/iconforge/internal/database"
	"github.com/sydlexius/iconforge/internal/store"
)

// Service manages conversion records.
type Service struct {
	db     *sql.DB
	store  *store.Store
	logger *slog.Logger

	// objects is held shared by Record from its first Put until commit and
	// exclusively while an object is checked for references and removed.
	// Put is a no-op for existing content, so without it a collection
	// could delete a blob a pending Record already counted on.
	objects sync.RWMutex
}

// NewService creates a conversion service.
func NewService(db *sql.DB, st *store.Store, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		store:  st,
		logger: logger.With(slog.String("component", "conversion")),
	}
}

// Record stores source and every artifact of res, then inserts the
// conversion and its artifact rows in one transaction.
func (s *Service) Record(ctx context.Context, res *convert.Result, source []byte, filter, origin string) (*Conversion, error) {
	if res == nil {
		return nil, fmt.Errorf("result is required")
	}
	if origin == "" {
		origin = OriginAPI
	}

	s.objects.RLock()
	defer s.objects.RUnlock()

	srcID, err := s.store.Put(source)
	if err != nil {
		return nil, fmt.Errorf("storing source: %w", err)
	}

	c := &Conversion{
		ID:           uuid.New().String(),
		SourceName:   res.SourceName,
		SourceFormat: res.SourceFormat,
		SourceCID:    srcID.String(),
		BaseName:     res.BaseName,
		Preset:       res.Preset,
		Sizes:        res.Sizes,
		Silhouette:   res.Silhouette,
		Filter:       filter,
		Origin:       origin,
		CreatedAt:    time.Now().UTC(),
	}
	for _, a := range res.Artifacts {
		id, err := s.store.Put(a.Data)
		if err != nil {
			return nil, fmt.Errorf("storing %s: %w", a.Name, err)
		}
		c.Artifacts = append(c.Artifacts, Artifact{
			Name:      a.Name,
			Format:    a.Format,
			Width:     a.Width,
			Height:    a.Height,
			SizeBytes: int64(len(a.Data)),
			CID:       id.String(),
		})
	}

	sizesJSON, err := json.Marshal(c.Sizes)
	if err != nil {
		return nil, fmt.Errorf("marshaling sizes: %w", err)
	}
	var silhouette, threshold, thickness int
	if c.Silhouette != nil {
		silhouette = 1
		threshold = int(c.Silhouette.Threshold)
		thickness = c.Silhouette.Thickness
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversions (id, source_name, source_format, source_cid, base_name, preset, sizes,
			silhouette, threshold, thickness, filter, origin, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.SourceName, c.SourceFormat, c.SourceCID, c.BaseName, c.Preset, string(sizesJSON),
		silhouette, threshold, thickness, c.Filter, c.Origin, database.FormatTime(c.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting conversion: %w", err)
	}

	for i, a := range c.Artifacts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifacts (conversion_id, position, name, format, width, height, size_bytes, cid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, i, a.Name, a.Format, a.Width, a.Height, a.SizeBytes, a.CID)
		if err != nil {
			return nil, fmt.Errorf("inserting artifact %s: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing conversion: %w", err)
	}
	return c, nil
}

const selectConversion = `
	SELECT id, source_name, source_format, source_cid, base_name, preset, sizes,
		silhouette, threshold, thickness, filter, origin, created_at
	FROM conversions`

// GetByID returns a conversion with its artifacts.
func (s *Service) GetByID(ctx context.Context, id string) (*Conversion, error) {
	row := s.db.QueryRowContext(ctx, selectConversion+` WHERE id = ?`, id)
	c, err := scanConversion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.loadArtifacts(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns conversions newest first, with artifacts, and the total count.
func (s *Service) List(ctx context.Context, p ListParams) ([]Conversion, int, error) {
	p = p.normalized()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting conversions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectConversion+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing conversions: %w", err)
	}
	conversions, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}

	for i := range conversions {
		if err := s.loadArtifacts(ctx, &conversions[i]); err != nil {
			return nil, 0, err
		}
	}
	return conversions, total, nil
}

// ListOlderThan returns the IDs of conversions created before cutoff.
func (s *Service) ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversions WHERE created_at < ? ORDER BY created_at`, database.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("listing expired conversions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversion id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a conversion and then any stored objects no other
// conversion still references.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM conversions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversion: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}

	candidates := map[string]struct{}{c.SourceCID: {}}
	for _, a := range c.Artifacts {
		candidates[a.CID] = struct{}{}
	}
	for cidStr := range candidates {
		if err := s.collectObject(ctx, cidStr); err != nil {
			s.logger.Warn("removing stored object", slog.String("cid", cidStr), slog.String("error", err.Error()))
		}
	}
	return nil
}

// collectObject deletes a stored object once nothing references it.
func (s *Service) collectObject(ctx context.Context, cidStr string) error {
	s.objects.Lock()
	defer s.objects.Unlock()

	used, err := s.Referenced(ctx, cidStr)
	if err != nil || used {
		return err
	}
	id, err := store.Parse(cidStr)
	if err != nil {
		return err
	}
	return s.store.Delete(id)
}

// Referenced reports whether any conversion uses cidStr as its source or as
// one of its artifacts.
func (s *Service) Referenced(ctx context.Context, cidStr string) (bool, error) {
	var refs int
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM artifacts WHERE cid = ?) + (SELECT COUNT(*) FROM conversions WHERE source_cid = ?)
	`, cidStr, cidStr).Scan(&refs)
	if err != nil {
		return false, fmt.Errorf("counting references: %w", err)
	}
	return refs > 0, nil
}

// Object returns stored bytes by CID if some conversion references it.
func (s *Service) Object(ctx context.Context, cidStr string) ([]byte, error) {
	id, err := s.artifactID(ctx, cidStr)
	if err != nil {
		return nil, err
	}
	return s.store.Get(id)
}

// HasArtifact reports whether cidStr is an artifact of some conversion and
// still present in the store, without reading it.
func (s *Service) HasArtifact(ctx context.Context, cidStr string) (bool, error) {
	id, err := s.artifactID(ctx, cidStr)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.store.Has(id), nil
}

// artifactID parses cidStr and checks that an artifact row references it.
func (s *Service) artifactID(ctx context.Context, cidStr string) (cid.Cid, error) {
	id, err := store.Parse(cidStr)
	if err != nil {
		return cid.Undef, err
	}
	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE cid = ?`, cidStr).Scan(&refs); err != nil {
		return cid.Undef, fmt.Errorf("looking up artifact: %w", err)
	}
	if refs == 0 {
		return cid.Undef, store.ErrNotFound
	}
	return id, nil
}

// Files loads the bytes of every artifact of c for bundling.
func (s *Service) Files(c *Conversion) ([]bundle.File, error) {
	files := make([]bundle.File, 0, len(c.Artifacts))
	for _, a := range c.Artifacts {
		id, err := store.Parse(a.CID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Name, err)
		}
		data, err := s.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", a.Name, err)
		}
		files = append(files, bundle.File{Name: a.Name, Data: data})
	}
	return files, nil
}

func (s *Service) loadArtifacts(ctx context.Context, c *Conversion) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, format, width, height, size_bytes, cid
		FROM artifacts WHERE conversion_id = ? ORDER BY position
	`, c.ID)
	if err != nil {
		return fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	c.Artifacts = []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Name, &a.Format, &a.Width, &a.Height, &a.SizeBytes, &a.CID); err != nil {
			return fmt.Errorf("scanning artifact: %w", err)
		}
		c.Artifacts = append(c.Artifacts, a)
	}
	return rows.Err()
}

// scanner interface for both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanConversion(s scanner) (*Conversion, error) {
	var c Conversion
	var sizesJSON, createdAt string
	var silhouette, threshold, thickness int

	if err := s.Scan(&c.ID, &c.SourceName, &c.SourceFormat, &c.SourceCID, &c.BaseName, &c.Preset, &sizesJSON,
		&silhouette, &threshold, &thickness, &c.Filter, &c.Origin, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning conversion: %w", err)
	}

	if err := json.Unmarshal([]byte(sizesJSON), &c.Sizes); err != nil {
		c.Sizes = []convert.Size{}
	}
	if silhouette != 0 {
		c.Silhouette = &convert.SilhouetteParams{Threshold: uint8(threshold), Thickness: thickness}
	}
	if t, err := database.ParseTime(createdAt); err == nil {
		c.CreatedAt = t
	}
	return &c, nil
}

func collect(rows *sql.Rows) ([]Conversion, error) {
	defer rows.Close() //nolint:errcheck
	var out []Conversion
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

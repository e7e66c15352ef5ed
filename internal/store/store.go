// Package store keeps generated artifacts on disk keyed by content
// identifier (CIDv1, raw codec, sha2-256). Identical outputs from different
// conversions share one file.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/sydlexius/iconforge/internal/filesystem"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidCID  = errors.New("invalid content identifier")
	ErrCIDMismatch = errors.New("stored content does not match its identifier")
)

// Store is a filesystem-backed content-addressable store.
type Store struct {
	root string
}

// New opens a store rooted at root, creating the directory when needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Sum returns the identifier data would be stored under.
func Sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// Parse decodes a CID string and rejects anything that is not a raw sha2-256
// identifier.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrInvalidCID, err)
	}
	pref := id.Prefix()
	if pref.Codec != cid.Raw || pref.MhType != multihash.SHA2_256 {
		return cid.Undef, ErrInvalidCID
	}
	return id, nil
}

// Put stores data and returns its identifier. Storing existing content is
// a no-op.
func (s *Store) Put(data []byte) (cid.Cid, error) {
	id, err := Sum(data)
	if err != nil {
		return cid.Undef, err
	}
	if s.Has(id) {
		return id, nil
	}
	if err := filesystem.WriteFileAtomic(s.pathFor(id), data, 0o644); err != nil {
		return cid.Undef, fmt.Errorf("writing %s: %w", id, err)
	}
	return id, nil
}

// Get returns the content for id after verifying its hash.
func (s *Store) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidCID
	}
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	got, err := Sum(b)
	if err != nil {
		return nil, err
	}
	if !got.Equals(id) {
		return nil, ErrCIDMismatch
	}
	return b, nil
}

// Has reports whether id is present.
func (s *Store) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

// Delete removes id. Deleting a missing object is not an error.
func (s *Store) Delete(id cid.Cid) error {
	if !id.Defined() {
		return ErrInvalidCID
	}
	path := s.pathFor(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", id, err)
	}
	// Drop the shard directory once empty; failure just leaves it behind.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Object describes one stored file.
type Object struct {
	ID      cid.Cid
	Size    int64
	ModTime time.Time
}

// Walk calls fn for every stored object. Files whose names are not valid
// identifiers, such as in-flight temporary files, are skipped.
func (s *Store) Walk(fn func(Object) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		id, perr := Parse(d.Name())
		if perr != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		return fn(Object{ID: id, Size: info.Size(), ModTime: info.ModTime()})
	})
}

// pathFor shards objects by the last two characters of the identifier;
// every CIDv1 string shares its leading multibase and version characters.
func (s *Store) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[len(str)-2:], str)
}

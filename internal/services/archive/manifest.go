// Package archive reads and writes the layout of pgbatch archives.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
)

// ManifestFile is the name of the manifest at the root of a split archive.
const ManifestFile = "manifest.json"

// ManifestVersion is the only manifest version understood.
const ManifestVersion = 1

// ErrInvalidManifest is returned when a manifest cannot be used.
var ErrInvalidManifest = errors.New("invalid archive manifest")

// Entry is one sub-dump of a split archive.
type Entry struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"` // relative to the archive root
	Tables []string `json:"tables,omitempty"`
}

// Manifest describes a split archive. Targets are restored in order, in
// batches; PreData runs before and PostData after all of them.
type Manifest struct {
	Version   int       `json:"version"`
	Database  string    `json:"database"`
	CreatedAt time.Time `json:"created_at"`
	PreData   *Entry    `json:"pre_data,omitempty"`
	Targets   []Entry   `json:"targets"`
	PostData  *Entry    `json:"post_data,omitempty"`
}

// Archive is an inspected archive on disk.
type Archive struct {
	Path     string
	Layout   models.ArchiveLayout
	Manifest *Manifest // split layout only
}

// EntryPath returns the absolute location of an entry's sub-dump.
func (a *Archive) EntryPath(e Entry) string {
	return filepath.Join(a.Path, e.Path)
}

// Inspect determines the layout of the archive at path. A path that does
// not exist or is not a directory is reported as a single-file archive;
// pg_restore is left to complain about it.
func Inspect(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return &Archive{Path: path, Layout: models.LayoutFile}, nil //nolint:nilerr // pg_restore reports unreadable files
	}

	manifestPath := filepath.Join(path, ManifestFile)
	if _, err := os.Stat(manifestPath); errors.Is(err, os.ErrNotExist) {
		return &Archive{Path: path, Layout: models.LayoutDirectory}, nil
	}

	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	return &Archive{Path: path, Layout: models.LayoutSplit, Manifest: manifest}, nil
}

// ReadManifest loads and validates a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, path, err)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, path, err)
	}

	return &m, nil
}

// WriteManifest writes m to the root of the archive directory dir.
func WriteManifest(dir string, m *Manifest) error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

func (m *Manifest) validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("unsupported version %d", m.Version)
	}
	if m.PreData == nil && len(m.Targets) == 0 && m.PostData == nil {
		return errors.New("no entries to restore")
	}

	seen := make(map[string]bool)
	check := func(e Entry) error {
		if e.Name == "" || e.Path == "" {
			return fmt.Errorf("entry %q has an empty name or path", e.Name)
		}
		if filepath.IsAbs(e.Path) || !filepath.IsLocal(e.Path) {
			return fmt.Errorf("entry %q points outside the archive", e.Name)
		}
		if seen[e.Name] {
			return fmt.Errorf("duplicate entry %q", e.Name)
		}
		seen[e.Name] = true
		return nil
	}

	if m.PreData != nil {
		if err := check(*m.PreData); err != nil {
			return err
		}
	}
	for _, e := range m.Targets {
		if err := check(e); err != nil {
			return err
		}
	}
	if m.PostData != nil {
		if err := check(*m.PostData); err != nil {
			return err
		}
	}

	return nil
}

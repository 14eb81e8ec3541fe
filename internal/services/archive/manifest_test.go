package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/pgbatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManifest() *Manifest {
	return &Manifest{
		Version:   ManifestVersion,
		Database:  "app",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		PreData:   &Entry{Name: "pre-data", Path: "0000-pre-data"},
		Targets: []Entry{
			{Name: "batch-0001", Path: "0001-data", Tables: []string{"public.users"}},
			{Name: "batch-0002", Path: "0002-data", Tables: []string{"public.orders"}},
		},
		PostData: &Entry{Name: "post-data", Path: "9999-post-data"},
	}
}

func TestInspect_MissingPathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.dump")

	a, err := Inspect(path)

	require.NoError(t, err)
	assert.Equal(t, models.LayoutFile, a.Layout)
	assert.Nil(t, a.Manifest)
}

func TestInspect_RegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.dump")
	require.NoError(t, os.WriteFile(path, []byte("PGDMP"), 0o600))

	a, err := Inspect(path)

	require.NoError(t, err)
	assert.Equal(t, models.LayoutFile, a.Layout)
	assert.Equal(t, path, a.Path)
}

func TestInspect_DirectoryWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "toc.dat"), []byte("PGDMP"), 0o600))

	a, err := Inspect(dir)

	require.NoError(t, err)
	assert.Equal(t, models.LayoutDirectory, a.Layout)
	assert.Nil(t, a.Manifest)
}

func TestInspect_SplitArchive(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteManifest(dir, testManifest()))

	a, err := Inspect(dir)

	require.NoError(t, err)
	assert.Equal(t, models.LayoutSplit, a.Layout)
	require.NotNil(t, a.Manifest)
	assert.Equal(t, "app", a.Manifest.Database)
	require.Len(t, a.Manifest.Targets, 2)
	assert.Equal(t, "batch-0001", a.Manifest.Targets[0].Name)
	assert.Equal(t, []string{"public.users"}, a.Manifest.Targets[0].Tables)
	assert.Equal(t, filepath.Join(dir, "0002-data"), a.EntryPath(a.Manifest.Targets[1]))
	require.NotNil(t, a.Manifest.PreData)
	require.NotNil(t, a.Manifest.PostData)
}

func TestInspect_CorruptManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{not json"), 0o600))

	_, err := Inspect(dir)

	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestReadManifest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		message string
	}{
		{"wrong version", func(m *Manifest) { m.Version = 7 }, "unsupported version"},
		{"empty path", func(m *Manifest) { m.Targets[0].Path = "" }, "empty name or path"},
		{"escaping path", func(m *Manifest) { m.Targets[1].Path = "../elsewhere" }, "outside the archive"},
		{"absolute path", func(m *Manifest) { m.Targets[1].Path = "/etc" }, "outside the archive"},
		{"duplicate name", func(m *Manifest) { m.Targets[1].Name = "batch-0001" }, "duplicate entry"},
		{"nothing to restore", func(m *Manifest) { m.PreData, m.Targets, m.PostData = nil, nil, nil }, "no entries to restore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest()
			tt.mutate(m)

			err := WriteManifest(t.TempDir(), m)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestInspect_EmptyManifestRejected(t *testing.T) {
	dir := t.TempDir()
	content := `{"version": 1, "database": "app", "targets": []}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(content), 0o600))

	_, err := Inspect(dir)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidManifest)
	assert.Contains(t, err.Error(), "no entries to restore")
}

func TestManifest_DataOnlyIsValid(t *testing.T) {
	m := testManifest()
	m.PreData, m.PostData = nil, nil

	assert.NoError(t, WriteManifest(t.TempDir(), m))
}

func TestWriteManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := testManifest()

	require.NoError(t, WriteManifest(dir, want))
	got, err := ReadManifest(filepath.Join(dir, ManifestFile))

	require.NoError(t, err)
	assert.Equal(t, want, got)
}

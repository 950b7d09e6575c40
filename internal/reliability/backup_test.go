package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = b
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for key, b := range f.objects {
		out = append(out, ObjectInfo{Key: key, SizeBytes: int64(len(b))})
	}
	_ = prefix
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func writeDataFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCreateAndUploadArchivesDataFiles(t *testing.T) {
	dir := t.TempDir()
	writeDataFile(t, dir, "decisions.db", "sqlite bytes")
	writeDataFile(t, dir, "state.json", `{"capital":100000}`)

	store := newFakeStore()
	svc := NewBackupService(store, dir, []string{"decisions.db", "state.json", "guardian_state.msgpack"}, zerolog.Nop())
	svc.SetClock(func() time.Time { return time.Date(2026, 8, 18, 3, 0, 0, 0, time.UTC) })

	require.NoError(t, svc.CreateAndUpload(context.Background()))
	require.Len(t, store.objects, 1)

	archive, ok := store.objects["vigil-backup-2026-08-18-030000.tar.gz"]
	require.True(t, ok)

	names, manifest := readArchive(t, archive)
	// guardian state was absent and skipped; manifest plus the two files
	assert.ElementsMatch(t, []string{"backup-metadata.json", "decisions.db", "state.json"}, names)
	require.Len(t, manifest.Files, 2)
	for _, f := range manifest.Files {
		assert.Contains(t, f.Checksum, "sha256:")
		assert.Greater(t, f.SizeBytes, int64(0))
	}
}

func TestCreateAndUploadFailsWithNoDataFiles(t *testing.T) {
	svc := NewBackupService(newFakeStore(), t.TempDir(), []string{"missing.db"}, zerolog.Nop())
	assert.Error(t, svc.CreateAndUpload(context.Background()))
}

func TestListBackupsSortsNewestFirst(t *testing.T) {
	store := newFakeStore()
	store.objects["vigil-backup-2026-08-10-030000.tar.gz"] = []byte("a")
	store.objects["vigil-backup-2026-08-17-030000.tar.gz"] = []byte("bb")
	store.objects["unrelated.txt"] = []byte("x")

	svc := NewBackupService(store, t.TempDir(), nil, zerolog.Nop())
	svc.SetClock(func() time.Time { return time.Date(2026, 8, 18, 3, 0, 0, 0, time.UTC) })

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "vigil-backup-2026-08-17-030000.tar.gz", backups[0].Filename)
	assert.Equal(t, int64(24), backups[0].AgeHours)
}

func TestRotateKeepsMinimumAndRecent(t *testing.T) {
	store := newFakeStore()
	// Five dailies: the two oldest exceed a 3-day retention
	for _, day := range []string{"12", "13", "14", "16", "17"} {
		store.objects["vigil-backup-2026-08-"+day+"-030000.tar.gz"] = []byte("x")
	}

	svc := NewBackupService(store, t.TempDir(), nil, zerolog.Nop())
	svc.SetClock(func() time.Time { return time.Date(2026, 8, 18, 3, 0, 0, 0, time.UTC) })

	require.NoError(t, svc.RotateOldBackups(context.Background(), 3))
	assert.ElementsMatch(t, []string{
		"vigil-backup-2026-08-12-030000.tar.gz",
		"vigil-backup-2026-08-13-030000.tar.gz",
	}, store.deleted)
}

func TestRotateKeepsEverythingBelowMinimum(t *testing.T) {
	store := newFakeStore()
	store.objects["vigil-backup-2026-01-01-030000.tar.gz"] = []byte("x")
	store.objects["vigil-backup-2026-01-02-030000.tar.gz"] = []byte("x")

	svc := NewBackupService(store, t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, svc.RotateOldBackups(context.Background(), 1))
	assert.Empty(t, store.deleted)
}

func readArchive(t *testing.T, b []byte) ([]string, BackupMetadata) {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	var manifest BackupMetadata
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Name == "backup-metadata.json" {
			require.NoError(t, json.NewDecoder(tr).Decode(&manifest))
		}
	}
	return names, manifest
}

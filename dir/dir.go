// Package dir implements SampleFileDir, the on-disk directory that
// holds one stream's sample files. Files are named by the lowercase
// zero-padded 16-hex-digit form of their CompositeId, flat in one
// directory. It is append-only for Writers and delete-only for the
// Syncer; no directory is ever shared between two Syncers.
package dir

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/nvrstore/recstore/recfmt"
)

// SampleFileDir wraps a directory used to store one stream's recordings.
type SampleFileDir struct {
	path string
	fd   *os.File // open handle kept around so Sync can fsync the directory
}

// Open opens (and keeps open) the directory at path for Create/Sync/
// Unlink/List. The directory must already exist.
func Open(path string) (*SampleFileDir, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &SampleFileDir{path: path, fd: fd}, nil
}

// Close releases the directory handle.
func (d *SampleFileDir) Close() error {
	return d.fd.Close()
}

// Path returns the directory's filesystem path.
func (d *SampleFileDir) Path() string {
	return d.path
}

// Create creates a new sample file for id. The caller is responsible
// for retrying on transient error via clock.RetryForever, per the
// transient-I/O-error policy.
func (d *SampleFileDir) Create(id recfmt.CompositeId) (*os.File, error) {
	return os.OpenFile(d.filePath(id), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
}

// Sync fsyncs the directory itself, making prior Create/Unlink calls'
// directory-entry changes durable.
func (d *SampleFileDir) Sync() error {
	return d.fd.Sync()
}

// Unlink removes the sample file for id. ENOENT is tolerated by the
// caller (a benign I/O error per the error taxonomy), not here, so
// callers can distinguish "already gone" from other failures with
// os.IsNotExist.
func (d *SampleFileDir) Unlink(id recfmt.CompositeId) error {
	err := os.Remove(d.filePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return err
	}

	return err
}

// List returns every CompositeId found on disk whose filename parses as
// 16 hex digits. Unparseable filenames are silently ignored.
func (d *SampleFileDir) List() ([]recfmt.CompositeId, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}

	ids := make([]recfmt.CompositeId, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if id, ok := recfmt.ParseCompositeId(e.Name()); ok {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func (d *SampleFileDir) filePath(id recfmt.CompositeId) string {
	return filepath.Join(d.path, id.String())
}

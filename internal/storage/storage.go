// Package storage implements the per-account file engine: confined path
// resolution, cached directory listings, byte-range friendly opens, text
// edits, zip archive downloads, uploads, and the create/rename/delete
// mutations. Every mutation settles its byte delta against the quota ledger
// and invalidates the affected listing cache keys.
package storage

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/afero"

	"cloudcrate/internal/cache"
	"cloudcrate/internal/db"
	"cloudcrate/internal/errs"
	"cloudcrate/internal/quota"
	"cloudcrate/internal/sandbox"
)

// Entry is one listed file or folder.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Type     string    `json:"type"`
}

// Listing is a directory's contents, files and folders segregated.
type Listing struct {
	Files   []Entry `json:"files"`
	Folders []Entry `json:"folders"`
}

// Download describes content ready to be sent to the client. Temp downloads
// live in the scratch directory and must be discarded after the transfer.
type Download struct {
	Local string
	Name  string
	Size  int64
	Temp  bool
}

// Engine is the storage engine. Fs is the backing filesystem (OsFs in
// production), Scratch the directory for transient archives.
type Engine struct {
	Fs           afero.Fs
	Ledger       *quota.Ledger
	Cache        *cache.DirCache
	Scratch      string
	StreamMIME   map[string]string
	EditMaxBytes int64
	Logger       *slog.Logger
}

func counters(acc *db.Account) quota.Counters {
	return quota.Counters{Used: acc.StorageUsed, Limit: acc.StorageLimit}
}

func (e *Engine) resolve(acc *db.Account, segments []string) (sandbox.Path, error) {
	return sandbox.Resolve(acc.RootPath, segments)
}

// MediaType returns the streaming MIME type for name, when its extension is
// in the configured table.
func (e *Engine) MediaType(name string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	mime, ok := e.StreamMIME[ext]
	return mime, ok
}

// textExtensions are the file types served through the text read/write
// operations. Everything else that is not streamable media is downloaded
// as an attachment.
var textExtensions = map[string]bool{
	"txt": true, "md": true, "log": true, "json": true, "csv": true,
	"xml": true, "yml": true, "yaml": true, "conf": true, "ini": true,
}

// IsText reports whether name is treated as an editable text file.
func IsText(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	return textExtensions[ext]
}

// List returns the directory listing at the given segments, read through the
// cache. Folder sizes are the recursive byte size of the subtree.
func (e *Engine) List(ctx context.Context, acc *db.Account, segments []string) (*Listing, error) {
	p, err := e.resolve(acc, segments)
	if err != nil {
		return nil, err
	}
	if v, ok := e.Cache.Get(p.Local); ok {
		if l, ok := v.(*Listing); ok {
			return l, nil
		}
	}

	infos, err := afero.ReadDir(e.Fs, p.Local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	l := &Listing{Files: []Entry{}, Folders: []Entry{}}
	for _, info := range infos {
		ent := Entry{Name: info.Name(), Size: info.Size(), Modified: info.ModTime()}
		if info.IsDir() {
			size, err := quota.TreeSize(e.Fs, filepath.Join(p.Local, info.Name()))
			if err != nil {
				return nil, err
			}
			ent.Size = size
			ent.Type = "folder"
			l.Folders = append(l.Folders, ent)
			continue
		}
		if _, ok := e.MediaType(info.Name()); ok {
			ent.Type = strings.TrimPrefix(strings.ToLower(filepath.Ext(info.Name())), ".")
		} else {
			ent.Type = "file"
		}
		l.Files = append(l.Files, ent)
	}
	sort.Slice(l.Files, func(i, j int) bool { return l.Files[i].Name < l.Files[j].Name })
	sort.Slice(l.Folders, func(i, j int) bool { return l.Folders[i].Name < l.Folders[j].Name })

	e.Cache.Put(p.Local, l)
	return l, nil
}

// Open opens a file for reading, for range-capable streaming at the HTTP
// layer. Directories are refused.
func (e *Engine) Open(acc *db.Account, segments []string) (afero.File, os.FileInfo, error) {
	p, err := e.resolve(acc, segments)
	if err != nil {
		return nil, nil, err
	}
	info, err := e.Fs.Stat(p.Local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, errs.ErrNotFound
		}
		return nil, nil, err
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: not a file", errs.ErrValidation)
	}
	f, err := e.Fs.Open(p.Local)
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}

// ReadText returns the full contents of a text file under the edit ceiling.
func (e *Engine) ReadText(acc *db.Account, segments []string) (string, error) {
	p, err := e.resolve(acc, segments)
	if err != nil {
		return "", err
	}
	info, err := e.Fs.Stat(p.Local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	if info.IsDir() || info.Size() > e.EditMaxBytes {
		return "", fmt.Errorf("%w: not an editable file", errs.ErrValidation)
	}
	b, err := afero.ReadFile(e.Fs, p.Local)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteText overwrites an existing text file with content. The size delta
// against the previous contents is admitted and committed.
func (e *Engine) WriteText(ctx context.Context, acc *db.Account, segments []string, content string) error {
	p, err := e.resolve(acc, segments)
	if err != nil {
		return err
	}
	info, err := e.Fs.Stat(p.Local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.ErrNotFound
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: not a file", errs.ErrValidation)
	}
	if int64(len(content)) > e.EditMaxBytes {
		return fmt.Errorf("%w: content exceeds edit ceiling", errs.ErrValidation)
	}
	delta := int64(len(content)) - info.Size()
	if delta > 0 {
		if err := e.Ledger.Admit(counters(acc), delta); err != nil {
			return err
		}
	}
	if err := afero.WriteFile(e.Fs, p.Local, []byte(content), 0o644); err != nil {
		return err
	}
	if err := e.Ledger.Commit(ctx, acc.ID, delta); err != nil {
		return err
	}
	e.Cache.Invalidate(p.Dir())
	return nil
}

// Archive prepares a download. A plain file is served in place; a directory
// is zipped into the scratch dir under a request-unique name. Temp archives
// must be discarded with Discard once the transfer finishes, success or not.
func (e *Engine) Archive(acc *db.Account, segments []string) (*Download, error) {
	p, err := e.resolve(acc, segments)
	if err != nil {
		return nil, err
	}
	info, err := e.Fs.Stat(p.Local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return &Download{Local: p.Local, Name: p.Base(), Size: info.Size()}, nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s.zip", p.Base(), id)
	local := filepath.Join(e.Scratch, name)
	if err := e.zipTree(p.Local, local); err != nil {
		_ = e.Fs.Remove(local)
		return nil, err
	}
	st, err := e.Fs.Stat(local)
	if err != nil {
		_ = e.Fs.Remove(local)
		return nil, err
	}
	return &Download{Local: local, Name: p.Base() + ".zip", Size: st.Size(), Temp: true}, nil
}

// Discard removes a temporary archive. Safe to call on non-temp downloads.
func (e *Engine) Discard(d *Download) {
	if d == nil || !d.Temp {
		return
	}
	if err := e.Fs.Remove(d.Local); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.Logger.Warn("failed to remove scratch archive", "path", d.Local, "error", err)
	}
}

func (e *Engine) zipTree(dir, dest string) error {
	out, err := e.Fs.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = afero.Walk(e.Fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if info.IsDir() {
			_, err := zw.Create(rel + "/")
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = rel
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := e.Fs.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

// Upload stores an incoming file under the target directory. The declared
// size is admitted against the quota up front; the realized on-disk size is
// what gets committed.
func (e *Engine) Upload(ctx context.Context, acc *db.Account, dirSegments []string, name string, declared int64, r io.Reader) error {
	dir, err := e.resolve(acc, dirSegments)
	if err != nil {
		return err
	}
	target, err := sandbox.ResolveName(dir, name)
	if err != nil {
		return err
	}
	if _, err := e.Fs.Stat(target.Local); err == nil {
		return errs.ErrConflict
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := e.Ledger.Admit(counters(acc), declared); err != nil {
		return err
	}

	f, err := e.Fs.Create(target.Local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = e.Fs.Remove(target.Local)
		return err
	}
	if err := f.Close(); err != nil {
		_ = e.Fs.Remove(target.Local)
		return err
	}

	info, err := e.Fs.Stat(target.Local)
	if err != nil {
		return err
	}
	if err := e.Ledger.Commit(ctx, acc.ID, info.Size()); err != nil {
		return err
	}
	e.Cache.Invalidate(dir.Local)
	return nil
}

// Create makes an empty file or directory. Creation of anything is refused
// once the account is at or over its limit, regardless of entry size.
func (e *Engine) Create(ctx context.Context, acc *db.Account, dirSegments []string, name string, isDir bool) error {
	dir, err := e.resolve(acc, dirSegments)
	if err != nil {
		return err
	}
	target, err := sandbox.ResolveName(dir, name)
	if err != nil {
		return err
	}
	if _, err := e.Fs.Stat(target.Local); err == nil {
		return errs.ErrConflict
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if e.Ledger.Full(counters(acc)) {
		return &errs.QuotaError{Used: acc.StorageUsed, Limit: acc.StorageLimit}
	}

	if isDir {
		if err := e.Fs.Mkdir(target.Local, 0o755); err != nil {
			return err
		}
	} else {
		f, err := e.Fs.Create(target.Local)
		if err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	info, err := e.Fs.Stat(target.Local)
	if err != nil {
		return err
	}
	if err := e.Ledger.Commit(ctx, acc.ID, info.Size()); err != nil {
		return err
	}
	e.Cache.Invalidate(dir.Local)
	return nil
}

// Rename changes an entry's name within its directory. The root itself and
// occupied destinations are refused. No counter change.
func (e *Engine) Rename(ctx context.Context, acc *db.Account, segments []string, newName string) error {
	p, err := e.resolve(acc, segments)
	if err != nil {
		return err
	}
	if p.IsRoot {
		return fmt.Errorf("%w: cannot rename the account root", errs.ErrForbidden)
	}
	info, err := e.Fs.Stat(p.Local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.ErrNotFound
		}
		return err
	}
	dest, err := sandbox.ResolveName(sandbox.Path{Local: p.Dir()}, newName)
	if err != nil {
		return err
	}
	if _, err := e.Fs.Stat(dest.Local); err == nil {
		return errs.ErrConflict
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := e.Fs.Rename(p.Local, dest.Local); err != nil {
		return err
	}

	e.Cache.Invalidate(p.Dir())
	if info.IsDir() {
		e.Cache.InvalidatePrefix(p.Local)
	}
	return nil
}

// Delete removes an entry recursively and decrements the counter by the
// subtree's pre-computed size. The root itself is refused.
func (e *Engine) Delete(ctx context.Context, acc *db.Account, segments []string) error {
	p, err := e.resolve(acc, segments)
	if err != nil {
		return err
	}
	if p.IsRoot {
		return fmt.Errorf("%w: cannot delete the account root", errs.ErrForbidden)
	}
	info, err := e.Fs.Stat(p.Local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errs.ErrNotFound
		}
		return err
	}
	size, err := quota.TreeSize(e.Fs, p.Local)
	if err != nil {
		return err
	}
	if err := e.Fs.RemoveAll(p.Local); err != nil {
		return err
	}
	if err := e.Ledger.Commit(ctx, acc.ID, -size); err != nil {
		return err
	}

	e.Cache.Invalidate(p.Dir())
	if info.IsDir() {
		e.Cache.InvalidatePrefix(p.Local)
	}
	return nil
}

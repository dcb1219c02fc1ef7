package webdavserver

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/net/webdav"

	"cloudcrate/internal/sandbox"
)

// jailFS exposes one account root as a read-only webdav.FileSystem. Every
// mutation fails with a permission error so the quota counter, which only
// the HTTP API maintains, cannot drift.
type jailFS struct {
	root string
	fs   afero.Fs
}

func newJailFS(fsys afero.Fs, root string) *jailFS {
	return &jailFS{root: root, fs: fsys}
}

func (j *jailFS) local(name string) (string, error) {
	var segs []string
	for _, s := range strings.Split(name, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	p, err := sandbox.Resolve(j.root, segs)
	if err != nil {
		return "", os.ErrNotExist
	}
	return p.Local, nil
}

func (j *jailFS) Mkdir(context.Context, string, os.FileMode) error { return os.ErrPermission }

func (j *jailFS) RemoveAll(context.Context, string) error { return os.ErrPermission }

func (j *jailFS) Rename(context.Context, string, string) error { return os.ErrPermission }

func (j *jailFS) OpenFile(_ context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	p, err := j.local(name)
	if err != nil {
		return nil, err
	}
	return j.fs.OpenFile(p, flag, 0)
}

func (j *jailFS) Stat(_ context.Context, name string) (os.FileInfo, error) {
	p, err := j.local(name)
	if err != nil {
		return nil, err
	}
	return j.fs.Stat(p)
}

var _ webdav.FileSystem = (*jailFS)(nil)

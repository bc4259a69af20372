package remote

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
)

// fileSystem is the slice of filesystem behaviour the transfer engine needs.
// Paths are in the filesystem's own syntax.
type fileSystem interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Stat(name string) (os.FileInfo, error)
	ReadDir(name string) ([]os.FileInfo, error)
	MkdirAll(name string) error
	Join(elem ...string) string
	Base(name string) string
}

// aferoFS adapts an afero.Fs using host path syntax.
type aferoFS struct {
	fs afero.Fs
}

func (a aferoFS) Open(name string) (io.ReadCloser, error)    { return a.fs.Open(name) }
func (a aferoFS) Create(name string) (io.WriteCloser, error) { return a.fs.Create(name) }
func (a aferoFS) Stat(name string) (os.FileInfo, error)      { return a.fs.Stat(name) }
func (a aferoFS) ReadDir(name string) ([]os.FileInfo, error) { return afero.ReadDir(a.fs, name) }
func (a aferoFS) MkdirAll(name string) error                 { return a.fs.MkdirAll(name, 0755) }
func (a aferoFS) Join(elem ...string) string                 { return filepath.Join(elem...) }
func (a aferoFS) Base(name string) string                    { return filepath.Base(name) }

// sftpFS adapts an SFTP client using POSIX path syntax.
type sftpFS struct {
	c *sftp.Client
}

func (s sftpFS) Open(name string) (io.ReadCloser, error)    { return s.c.Open(name) }
func (s sftpFS) Create(name string) (io.WriteCloser, error) { return s.c.Create(name) }
func (s sftpFS) Stat(name string) (os.FileInfo, error)      { return s.c.Stat(name) }
func (s sftpFS) MkdirAll(name string) error                 { return s.c.MkdirAll(name) }
func (s sftpFS) Join(elem ...string) string                 { return path.Join(elem...) }
func (s sftpFS) Base(name string) string                    { return path.Base(name) }

func (s sftpFS) ReadDir(name string) ([]os.FileInfo, error) {
	infos, err := s.c.ReadDir(name)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

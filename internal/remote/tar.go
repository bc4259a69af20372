package remote

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// writeTar archives src into w. Entry names start with root, so a file
// becomes a single entry named root and a directory becomes root/...
func writeTar(fsys afero.Fs, w io.Writer, src, root string) error {
	tw := tar.NewWriter(w)
	err := afero.Walk(fsys, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path.Join(root, filepath.ToSlash(rel))
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	return tw.Close()
}

// extractTar unpacks r into localDir. remoteDir is the directory the archive
// was taken from and is used only for progress lines. When rename is set the
// first path element of every entry is replaced with it.
func extractTar(ctx context.Context, fsys afero.Fs, r io.Reader, remoteDir, localDir, rename string, progress func(local, remote string) *Progress) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		name, err := entryName(hdr.Name)
		if err != nil {
			return err
		}
		remote := path.Join(remoteDir, name)
		if rename != "" {
			if i := strings.IndexByte(name, '/'); i >= 0 {
				name = rename + name[i:]
			} else {
				name = rename
			}
		}
		local := filepath.Join(localDir, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(local, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := extractFile(fsys, tr, local, hdr, progress(local, remote)); err != nil {
				return err
			}
		}
	}
}

func extractFile(fsys afero.Fs, r io.Reader, local string, hdr *tar.Header, p *Progress) error {
	if err := fsys.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}
	f, err := fsys.OpenFile(local, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode().Perm())
	if err != nil {
		return err
	}
	p.Update(0, hdr.Size)
	if _, err := io.Copy(&progressWriter{w: f, p: p, total: hdr.Size}, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	p.Update(hdr.Size, hdr.Size)
	return nil
}

// entryName cleans an archive entry name and rejects names that escape the
// destination directory.
func entryName(name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", fmt.Errorf("unsafe archive entry %q", name)
	}
	return clean, nil
}

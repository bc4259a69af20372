package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/Iron-Ham/xflow/internal/errors"
)

// transferEngine copies files and trees between a local and a remote
// fileSystem. Directories are created lazily on the destination and files
// are copied one at a time in lexical traversal order.
type transferEngine struct {
	b      *base
	local  fileSystem
	remote fileSystem
}

func (e *transferEngine) putFile(ctx context.Context, local, remoteDir string, cfg *transferConfig) error {
	name := cfg.name
	if name == "" {
		name = e.local.Base(local)
	}
	remote := e.remote.Join(remoteDir, name)
	if err := e.copyFile(ctx, e.local, local, e.remote, remote, e.b.progress(OpPut, local, remote, cfg)); err != nil {
		return errors.NewTransferError(errors.TransferPut, local, remote, err)
	}
	return nil
}

func (e *transferEngine) getFile(ctx context.Context, remote, localDir string, cfg *transferConfig) error {
	name := cfg.name
	if name == "" {
		name = e.remote.Base(remote)
	}
	local := e.local.Join(localDir, name)
	if err := e.copyFile(ctx, e.remote, remote, e.local, local, e.b.progress(OpGet, local, remote, cfg)); err != nil {
		return errors.NewTransferError(errors.TransferGet, local, remote, err)
	}
	return nil
}

func (e *transferEngine) putDir(ctx context.Context, localDir, remoteDir string, cfg *transferConfig) error {
	dst := e.remote.Join(remoteDir, e.local.Base(localDir))
	err := e.copyTree(ctx, e.local, localDir, e.remote, dst, func(src, dst string) *Progress {
		return e.b.progress(OpPut, src, dst, cfg)
	})
	if err != nil {
		return errors.NewTransferError(errors.TransferPut, localDir, dst, err)
	}
	return nil
}

func (e *transferEngine) getDir(ctx context.Context, remoteDir, localDir string, cfg *transferConfig) error {
	dst := e.local.Join(localDir, e.remote.Base(remoteDir))
	err := e.copyTree(ctx, e.remote, remoteDir, e.local, dst, func(src, dst string) *Progress {
		return e.b.progress(OpGet, dst, src, cfg)
	})
	if err != nil {
		return errors.NewTransferError(errors.TransferGet, dst, remoteDir, err)
	}
	return nil
}

func (e *transferEngine) exists(name string) (bool, error) {
	return exists(e.remote, name)
}

func exists(fs fileSystem, name string) (bool, error) {
	_, err := fs.Stat(name)
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, err
}

// copyTree mirrors the tree at src to dst. dst itself is created if missing.
func (e *transferEngine) copyTree(ctx context.Context, srcFS fileSystem, src string, dstFS fileSystem, dst string, progress func(src, dst string) *Progress) error {
	info, err := srcFS.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}
	if err := mkdirLazy(dstFS, dst); err != nil {
		return err
	}
	entries, err := srcFS.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := srcFS.Join(src, entry.Name())
		d := dstFS.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := e.copyTree(ctx, srcFS, s, dstFS, d, progress); err != nil {
				return err
			}
			continue
		}
		if !entry.Mode().IsRegular() {
			e.b.logger.Debug("skipping non-regular file", "path", s, "mode", entry.Mode().String())
			continue
		}
		if err := e.copyFile(ctx, srcFS, s, dstFS, d, progress(s, d)); err != nil {
			return err
		}
	}
	return nil
}

func mkdirLazy(fs fileSystem, dir string) error {
	ok, err := exists(fs, dir)
	if err != nil || ok {
		return err
	}
	return fs.MkdirAll(dir)
}

// copyFile overwrites dst with the contents of src, reporting progress.
func (e *transferEngine) copyFile(ctx context.Context, srcFS fileSystem, src string, dstFS fileSystem, dst string, p *Progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := srcFS.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}
	in, err := srcFS.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := dstFS.Create(dst)
	if err != nil {
		return err
	}
	total := info.Size()
	p.Update(0, total)
	if _, err := io.Copy(&progressWriter{w: out, p: p, total: total}, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	p.Update(total, total)
	return nil
}

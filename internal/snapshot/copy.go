package snapshot

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// copyTree recursively copies src into dst, creating dst if needed. Regular
// files, directories, and symlinks are copied; other entries (sockets,
// devices) are skipped. Returns the number of regular-file bytes copied.
func copyTree(src, dst string) (int64, error) {
	var total int64

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			// Replace a stale link from a previous restore, if any.
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			n, err := copyFile(path, target, info.Mode().Perm())
			total += n
			return err
		default:
			return nil
		}
	})

	return total, err
}

// replaceTree removes dst entirely before copying src into it.
func replaceTree(src, dst string) (int64, error) {
	if err := os.RemoveAll(dst); err != nil {
		return 0, err
	}
	return copyTree(src, dst)
}

func copyFile(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	closeErr := out.Close()

	if err != nil {
		os.Remove(dst)
		return n, err
	}
	if closeErr != nil {
		os.Remove(dst)
		return n, closeErr
	}
	return n, nil
}

// chownTree sets ownership of every entry under root to uid:gid. Symlinks
// are changed, not followed.
func chownTree(root string, uid, gid int) error {
	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}

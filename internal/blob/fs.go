package blob

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FS stores objects as files under root. Keys map to relative paths
type FS struct {
	root string
}

// NewFS creates filesystem store, creating root when needed
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "can't create root directory")
	}
	return &FS{root: root}, nil
}

// Driver returns DriverFilesystem
func (s *FS) Driver() Driver {
	return DriverFilesystem
}

// Root returns root directory
func (s *FS) Root() string {
	return s.root
}

// sanitizeKey forbids absolute keys and path traversal
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty key")
	}
	if strings.Contains(key, "..") {
		return "", errors.Errorf("invalid key %q contains '..'", key)
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.Errorf("invalid absolute key %q", key)
	}
	return filepath.ToSlash(filepath.Clean(key)), nil
}

func (s *FS) pathFor(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes object to a temp file in the target directory, syncs it and renames it into place
func (s *FS) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Info{}, errors.Wrapf(err, "can't create directory for %s", key)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return Info{}, errors.Wrap(err, "can't create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	size, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return Info{}, errors.Wrapf(err, "can't write %s", key)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Info{}, errors.Wrapf(err, "can't sync %s", key)
	}
	if err := tmp.Close(); err != nil {
		return Info{}, errors.Wrapf(err, "can't close %s", key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Info{}, errors.Wrapf(err, "can't move %s into place", key)
	}
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, errors.Wrapf(err, "can't stat %s", key)
	}
	return Info{Key: key, Size: size, LastModified: stat.ModTime().UTC()}, nil
}

// Get opens object
func (s *FS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", key)
	}
	return f, nil
}

// Delete removes object. Returns false when it did not exist
func (s *FS) Delete(ctx context.Context, key string) (bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "can't remove %s", key)
	}
	return true, nil
}

// List returns objects whose keys start with prefix, sorted by key. Temp files are skipped
func (s *FS) List(ctx context.Context, prefix string) ([]Info, error) {
	infos := make([]Info, 0)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		stat, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, Info{Key: key, Size: stat.Size(), LastModified: stat.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "can't walk root directory")
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

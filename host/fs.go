package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/spf13/afero"

	"github.com/chenyanchen/apporch"
)

// DefaultDirMode is the permission used for created directories.
const DefaultDirMode os.FileMode = 0o755

// Filesystem implements apporch.DirectoryService and apporch.BindingService
// on top of an afero filesystem. Binding needs a filesystem with symlink
// support (afero.OsFs, afero.BasePathFs over OsFs).
type Filesystem struct {
	Fs      afero.Fs
	DirMode os.FileMode
}

var (
	_ apporch.DirectoryService = (*Filesystem)(nil)
	_ apporch.BindingService   = (*Filesystem)(nil)
)

// NewOSFilesystem returns a Filesystem over the real OS filesystem.
func NewOSFilesystem() *Filesystem {
	return &Filesystem{Fs: afero.NewOsFs(), DirMode: DefaultDirMode}
}

func (f *Filesystem) Ensure(_ context.Context, path string, recursive bool) error {
	if path == "" {
		return fmt.Errorf("ensure directory: %w: path is empty", apporch.ErrInvalidArgument)
	}
	mode := f.DirMode
	if mode == 0 {
		mode = DefaultDirMode
	}

	info, err := f.Fs.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf("ensure directory %s: exists and is not a directory", path)
	case !os.IsNotExist(err):
		return fmt.Errorf("ensure directory %s: %w", path, err)
	}

	if recursive {
		err = f.Fs.MkdirAll(path, mode)
	} else {
		err = f.Fs.Mkdir(path, mode)
	}
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("ensure directory %s: %w", path, err)
	}
	glog.V(4).Infof("created directory %s", path)
	return nil
}

func (f *Filesystem) Bind(_ context.Context, linkPath string, targetPath string) error {
	if linkPath == "" || targetPath == "" {
		return fmt.Errorf("bind %q to %q: %w: empty path", linkPath, targetPath, apporch.ErrInvalidArgument)
	}
	linker, ok := f.Fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("bind %s: filesystem %s does not support symlinks", linkPath, f.Fs.Name())
	}
	reader, ok := f.Fs.(afero.LinkReader)
	if !ok {
		return fmt.Errorf("bind %s: filesystem %s cannot read symlinks", linkPath, f.Fs.Name())
	}

	current, err := reader.ReadlinkIfPossible(linkPath)
	switch {
	case err == nil && filepath.Clean(current) == filepath.Clean(targetPath):
		return nil
	case err == nil:
		// Stale link: repoint it.
		if err := f.Fs.Remove(linkPath); err != nil {
			return fmt.Errorf("bind %s: remove stale link to %s: %w", linkPath, current, err)
		}
		glog.V(4).Infof("replacing link %s -> %s", linkPath, current)
	case errors.Is(err, os.ErrNotExist):
	default:
		// Something other than a symlink occupies the path.
		if _, statErr := f.Fs.Stat(linkPath); statErr == nil {
			return fmt.Errorf("bind %s: path exists and is not a symlink", linkPath)
		} else if !os.IsNotExist(statErr) {
			return fmt.Errorf("bind %s: %w", linkPath, statErr)
		}
	}

	if err := linker.SymlinkIfPossible(targetPath, linkPath); err != nil {
		return fmt.Errorf("bind %s to %s: %w", linkPath, targetPath, err)
	}
	glog.V(4).Infof("linked %s -> %s", linkPath, targetPath)
	return nil
}

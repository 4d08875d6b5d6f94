package seedmap

import (
	"archive/zip"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// AssetLoader reads game resources from a client JAR or an unpacked
// resource directory.
type AssetLoader struct {
	fsys fs.FS

	closer io.Closer
}

// NewAssetLoader wraps fsys.
func NewAssetLoader(fsys fs.FS) *AssetLoader {
	return &AssetLoader{fsys: fsys}
}

// NewAssetLoaderFromClientJAR opens a client JAR for reading.
func NewAssetLoaderFromClientJAR(path string) (*AssetLoader, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &AssetLoader{fsys: r, closer: r}, nil
}

// OpenAssets picks a loader for path: a directory is read in place, any
// other file is treated as a client JAR.
func OpenAssets(path string) (*AssetLoader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return NewAssetLoader(os.DirFS(path)), nil
	}
	return NewAssetLoaderFromClientJAR(path)
}

// Exists reports whether name is present.
func (a *AssetLoader) Exists(name string) bool {
	_, err := fs.Stat(a.fsys, name)
	return err == nil
}

func (a *AssetLoader) Open(name string) (fs.File, error) {
	f, err := a.fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("file %s does not exist", name)
	}
	return f, nil
}

func (a *AssetLoader) LoadPNG(name string) (image.Image, error) {
	fd, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	img, err := png.Decode(fd)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return img, nil
}

func (a *AssetLoader) LoadRaw(name string) ([]byte, error) {
	fd, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return io.ReadAll(fd)
}

// List returns the sorted base names of the files in dir with the given
// suffix, suffix removed.
func (a *AssetLoader) List(dir, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(a.fsys, dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(path.Base(e.Name()), suffix))
	}
	sort.Strings(names)
	return names, nil
}

func (a *AssetLoader) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

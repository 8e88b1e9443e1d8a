package responder

import (
	"errors"
	"io/fs"
	"net/url"
	"path"
	"time"

	"github.com/freekieb7/cinder/filesystem"
	"github.com/freekieb7/cinder/http"
)

var indexFiles = []string{"index.html", "index.htm"}

// ResolvedFile is what FileResponder.Validate hands to BuildResponse.
type ResolvedFile struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// FileResponder serves files below a mount root. The relative path comes
// from the route parameter named Param.
type FileResponder struct {
	Mount    *filesystem.Mount
	Param    string
	UseIndex bool
}

func NewFileResponder(root, param string, useIndex bool) (*FileResponder, error) {
	mount, err := filesystem.NewMount(root)
	if err != nil {
		return nil, err
	}
	return &FileResponder{Mount: mount, Param: param, UseIndex: useIndex}, nil
}

func (f *FileResponder) Validate(_ *http.Request, params http.Params, _ http.Validation) (http.Validation, error) {
	raw, found := params.Get(f.Param)
	if !found {
		return nil, http.ErrMissingParameter
	}
	rel, err := url.PathUnescape(raw)
	if err != nil {
		return nil, http.Error(http.StatusNotFound)
	}
	return f.resolve(rel)
}

func (f *FileResponder) resolve(rel string) (ResolvedFile, error) {
	resolved, info, err := f.Mount.Resolve(rel)
	if err != nil {
		return ResolvedFile{}, notFound(err)
	}

	if info.IsDir() {
		if !f.UseIndex {
			return ResolvedFile{}, http.Error(http.StatusNotFound)
		}
		resolved, info, err = f.index(rel)
		if err != nil {
			return ResolvedFile{}, notFound(err)
		}
	}

	if !info.Mode().IsRegular() {
		return ResolvedFile{}, http.Error(http.StatusNotFound)
	}
	return ResolvedFile{Path: resolved, Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (f *FileResponder) index(dir string) (string, fs.FileInfo, error) {
	for _, name := range indexFiles {
		resolved, info, err := f.Mount.Resolve(path.Join(dir, name))
		if err == nil && info.Mode().IsRegular() {
			return resolved, info, nil
		}
	}
	return "", nil, filesystem.ErrFileNotFound
}

func (f *FileResponder) BuildResponse(_ *http.Request, _ http.Params, v http.Validation) (*http.Response, error) {
	file, err := http.ValidationAs[ResolvedFile](v)
	if err != nil {
		return nil, err
	}
	return serveFile(file)
}

// notFound keeps filesystem failures other than a miss or an escape
// visible as 500.
func notFound(err error) error {
	switch {
	case errors.Is(err, filesystem.ErrFileNotFound),
		errors.Is(err, filesystem.ErrOutsideRoot),
		errors.Is(err, filesystem.ErrInvalidPath):
		return http.Error(http.StatusNotFound)
	}
	return err
}

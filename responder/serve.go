package responder

import (
	"errors"
	"io/fs"
	"os"

	"github.com/freekieb7/cinder/http"
)

// serveFile opens a file resolved during validation. The size is taken from
// the open handle since the file may have changed in between.
func serveFile(file ResolvedFile) (*http.Response, error) {
	handle, err := os.Open(file.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, http.Error(http.StatusNotFound)
		}
		return nil, err
	}

	info, err := handle.Stat()
	if err != nil {
		handle.Close()
		return nil, err
	}

	return http.NewResponse(http.StatusOK).
		WithHeader("Content-Type", http.GetMimeType(file.Name)).
		WithHeader("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat)).
		WithBody(handle, info.Size()), nil
}

package responder

import (
	"github.com/freekieb7/cinder/http"
)

// SPAResponder answers every path with the application shell, so a client
// side router can take over after a reload on a deep link.
type SPAResponder struct {
	files   *FileResponder
	AppFile string
}

func NewSPAResponder(root, appFile string) (*SPAResponder, error) {
	files, err := NewFileResponder(root, "", false)
	if err != nil {
		return nil, err
	}
	return &SPAResponder{files: files, AppFile: appFile}, nil
}

func (s *SPAResponder) Validate(_ *http.Request, _ http.Params, _ http.Validation) (http.Validation, error) {
	return s.files.resolve(s.AppFile)
}

func (s *SPAResponder) BuildResponse(req *http.Request, params http.Params, v http.Validation) (*http.Response, error) {
	return s.files.BuildResponse(req, params, v)
}

package pipeline

import (
	"errors"
	"net/http"

	"detectserver/internal/model"
)

var descriptions = map[model.ErrorKind]struct {
	status  int
	message string
}{
	model.KindMissingFile:         {http.StatusBadRequest, "No image was uploaded"},
	model.KindEmptyFilename:       {http.StatusBadRequest, "The uploaded file has no name"},
	model.KindPayloadTooLarge:     {http.StatusRequestEntityTooLarge, "The uploaded file is too large"},
	model.KindUnreadableImage:     {http.StatusBadRequest, "The uploaded file is not a readable image"},
	model.KindOversizedDimensions: {http.StatusBadRequest, "The image dimensions are too large"},
	model.KindInferenceFailure:    {http.StatusInternalServerError, "Object detection failed"},
	model.KindStorageFailure:      {http.StatusInternalServerError, "The result could not be saved"},
	model.KindBusy:                {http.StatusServiceUnavailable, "The server is busy, please try again later"},
}

// Describe maps a request error to its HTTP status and user-visible message. Input
// errors include their cause; processing errors only carry a generic message.
func Describe(err error) (int, string) {
	kind, ok := model.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, "Internal server error"
	}
	d, ok := descriptions[kind]
	if !ok {
		return http.StatusInternalServerError, "Internal server error"
	}
	if kind.IsInput() {
		var e *model.Error
		if errors.As(err, &e) && e.Err != nil {
			return d.status, d.message + ": " + e.Err.Error()
		}
	}
	return d.status, d.message
}

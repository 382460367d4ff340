package notify

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nestorgt/go-settlement/core"
)

func notifyError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func notifyBadInput(message string, metadata map[string]any) error {
	return notifyError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ErrorPermanentRequest,
		metadata,
	)
}

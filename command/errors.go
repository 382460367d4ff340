package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/nestorgt/go-settlement/core"
)

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

func commandValidationError(field string, message string) error {
	return goerrors.NewValidation("command: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorPermanentRequest).
		WithSeverity(goerrors.SeverityError)
}

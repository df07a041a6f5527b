package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"codeberg.org/mutker/vitalsd/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	f := errors.New()

	assert.Equal(t, "Invalid log level", f.New(errors.ErrInvalidLogLevel).Error())
	assert.Equal(t, "custom", f.WithMessage(errors.ErrInternal, "custom").Error())
	assert.Equal(t, "Invalid snapshot: cls", f.WithData(errors.ErrInvalidSnapshot, "cls").Error())

	cause := stderrors.New("disk full")
	assert.Equal(t, "Operation failed: disk full", f.Wrap(errors.ErrOperationFailed, cause).Error())
}

func TestHasCode(t *testing.T) {
	f := errors.New()
	inner := f.New(errors.ErrTimeout)
	outer := f.Wrap(errors.ErrSinkFailed, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrSinkFailed))
	assert.True(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(outer, errors.ErrInvalidConfig))
	assert.False(t, errors.HasCode(stderrors.New("plain"), errors.ErrInternal))

	wrapped := fmt.Errorf("context: %w", outer)
	assert.Equal(t, errors.ErrSinkFailed, errors.CodeOf(wrapped))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(stderrors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	f := errors.New()

	assert.Equal(t, http.StatusNotFound, f.New(errors.ErrResourceNotFound).Status())
	assert.Equal(t, http.StatusInternalServerError, f.New(errors.ErrSinkFailed).Status())

	// The outer code has no mapping, so the wrapped one decides.
	nested := f.Wrap(errors.ErrOperationFailed, f.New(errors.ErrUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, errors.HTTPStatus(nested))

	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatus(fmt.Errorf("bind: %w", f.New(errors.ErrInvalidSnapshot))))
	assert.Equal(t, http.StatusInternalServerError, errors.HTTPStatus(stderrors.New("plain")))
}

func TestUnknownCodeMessage(t *testing.T) {
	assert.Equal(t, "mystery_code", errors.GetErrorMessage("mystery_code"))
}

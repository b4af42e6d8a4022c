package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsThroughWrapping(t *testing.T) {
	base := NewEntityNotFound("task", "t1")
	wrapped := fmt.Errorf("loading task: %w", base)

	assert.True(t, Is(wrapped, EntityNotFound))
	assert.False(t, Is(wrapped, StorageUnavailable))
	assert.False(t, Is(errors.New("plain"), EntityNotFound))
	assert.Equal(t, EntityNotFound, CodeOf(wrapped))
}

func TestStorageUnavailableUnwraps(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := NewStorageUnavailable("inserting task", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
	assert.Equal(t, UnavailableMessage, UserMessage(err))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "task not found: t1", UserMessage(NewEntityNotFound("task", "t1")))
	assert.Equal(t, UnavailableMessage, UserMessage(errors.New("stack trace like junk")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(NewInvalidInput("title is required")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}

package errs

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := NotFound("chat %s not found", "c1")
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsKind(err, KindNotFound))
	assert.False(t, IsKind(err, KindValidation))

	assert.Equal(t, Kind(0), KindOf(fmt.Errorf("plain")))
	assert.Equal(t, Kind(0), KindOf(nil))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := Capacity("session is full")
	wrapped := errors.Wrap(inner, "joining session")
	assert.True(t, IsKind(wrapped, KindCapacity))
	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))
	assert.Equal(t, "session is full", Message(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(cause, KindValidation, "could not save")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(Authentication("no token")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Authorization("not yours")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("gone")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("bad input")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(Capacity("full")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("boom")))
}

func TestMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "internal error", Message(fmt.Errorf("dsn=postgres://secret")))
	assert.Equal(t, "no access", Message(Authorization("no access")))
}

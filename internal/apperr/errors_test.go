package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatusCodes(t *testing.T) {
	assert.Equal(t, 400, BadRequest.StatusCode())
	assert.Equal(t, 401, NotAuthenticated.StatusCode())
	assert.Equal(t, 404, NotFound.StatusCode())
	assert.Equal(t, 422, Unprocessable.StatusCode())
	assert.Equal(t, 503, Unavailable.StatusCode())
}

func TestWithDataErrorsSource(t *testing.T) {
	cause := errors.New("boom")
	e := NewUnprocessable("invalid payload").
		WithErrors(map[string]string{"name": "is required"}).
		WithSource(cause)

	require.Equal(t, cause, errors.Unwrap(e))
	assert.Equal(t, 422, e.Code())
	assert.Equal(t, "Unprocessable", e.ClassName())
}

func TestNormalizePassthrough(t *testing.T) {
	orig := NewForbidden("nope")
	got := Normalize(orig)
	assert.Same(t, orig, got)
}

func TestNormalizeWrapsPlainError(t *testing.T) {
	cause := errors.New("db exploded")
	got := Normalize(cause)
	assert.Equal(t, GeneralError, got.Kind)
	assert.Equal(t, cause, got.Source)
}

func TestSanitizeDropsSource(t *testing.T) {
	e := NewGeneralError("x").WithSource(errors.New("secret"))
	clean := e.Sanitize()
	assert.Nil(t, clean.Source)
	assert.NotNil(t, e.Source)
}

func TestToJSON(t *testing.T) {
	e := NewNotFound("job missing")
	b, err := e.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"className":"not-found"`)
	assert.Contains(t, string(b), `"code":404`)
}

func TestAs(t *testing.T) {
	var target *Error
	assert.True(t, As(NewConflict("dup"), &target))
	assert.False(t, As(errors.New("plain"), &target))
}

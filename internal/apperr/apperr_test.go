package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("accept request: %w", Conflict("request already decided"))

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, Is(err, KindConflict))
	assert.Equal(t, "request already decided", ReasonOf(err))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestPlainErrorsAreInternal(t *testing.T) {
	err := fmt.Errorf("boom")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal error", ReasonOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.False(t, Is(nil, KindInternal))
}

func TestStatusMapping(t *testing.T) {
	cases := map[error]int{
		Unauthenticated("no session"): http.StatusUnauthorized,
		Forbidden("not lobby host"):   http.StatusForbidden,
		NotFound("lobby not found"):   http.StatusNotFound,
		Invalid("empty payload"):      http.StatusBadRequest,
		RateLimited("slow down"):      http.StatusTooManyRequests,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

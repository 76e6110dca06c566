package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/evdispatch/internal/logging"
)

func TestErrorMessage(t *testing.T) {
	err := New(KindData, "unknown stop 7").
		WithOperation("simulate").
		WithComponent("dispatch")

	assert.Equal(t, "dispatch: simulate: unknown stop 7", err.Error())
	assert.NotEmpty(t, err.StackTrace())
}

func TestKindOfWalksChain(t *testing.T) {
	base := New(KindData, "unknown stop 7")
	wrapped := Wrap(base, KindEvaluation, "evaluate individual 3")
	outer := fmt.Errorf("optimize: %w", wrapped)

	assert.Equal(t, KindEvaluation, KindOf(outer))
	assert.True(t, HasKind(outer, KindData))
	assert.True(t, HasKind(outer, KindEvaluation))
	assert.False(t, HasKind(outer, KindConfiguration))
	assert.Equal(t, KindUnknown, KindOf(stderrors.New("plain")))

	var target *Error
	require.True(t, As(outer, &target))
	assert.Equal(t, KindEvaluation, target.Kind)
	assert.True(t, Is(outer, base))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindData, "x"))
	assert.Nil(t, Wrapf(nil, KindData, "x %d", 1))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindConfiguration, http.StatusBadRequest},
		{KindData, http.StatusUnprocessableEntity},
		{KindNotFound, http.StatusNotFound},
		{KindEvaluation, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(New(tt.kind, "boom")))
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
}

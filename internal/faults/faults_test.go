package faults

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassOf(t *testing.T) {
	t.Run("Direct Fault", func(t *testing.T) {
		err := Configf("target url is required")
		assert.Equal(t, ClassConfig, ClassOf(err))
	})

	t.Run("Wrapped Fault", func(t *testing.T) {
		inner := Navigationf("page load failed: %s", "net::ERR_NAME_NOT_RESOLVED")
		outer := fmt.Errorf("capture run aborted: %w", inner)
		assert.Equal(t, ClassNavigation, ClassOf(outer))
	})

	t.Run("Plain Error", func(t *testing.T) {
		assert.Equal(t, Class(""), ClassOf(errors.New("not classified")))
	})

	t.Run("Nil", func(t *testing.T) {
		assert.Equal(t, Class(""), ClassOf(nil))
	})
}

func TestNew(t *testing.T) {
	t.Run("Wraps Underlying Error", func(t *testing.T) {
		err := New(ClassCapture, fs.ErrPermission)
		require.Error(t, err)
		assert.Equal(t, ClassCapture, ClassOf(err))
		assert.True(t, errors.Is(err, fs.ErrPermission), "wrapped error should survive the chain")
	})

	t.Run("Nil Passthrough", func(t *testing.T) {
		assert.NoError(t, New(ClassCapture, nil))
	})
}

func TestErrorMessage(t *testing.T) {
	err := Injectionf("script threw: %s", "ReferenceError: foo is not defined")
	assert.Equal(t, "injection fault: script threw: ReferenceError: foo is not defined", err.Error())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(Usagef("expected 2 arguments, got %d", 3)))
	assert.Equal(t, 1, ExitCode(errors.New("unclassified")))
}

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfThroughWrapping(t *testing.T) {
	base := errors.New("bad magic")
	err := fmt.Errorf("cohort weekday: %w", NewStructural("routes.bin", base))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, Structural, kind)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "fatal_structural: routes.bin: bad magic")
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("boom"))
	assert.False(t, ok)
}

func TestErrorWithoutEntity(t *testing.T) {
	err := NewCodec("", errors.New("disk full"))
	assert.Equal(t, "fatal_codec: disk full", err.Error())
}

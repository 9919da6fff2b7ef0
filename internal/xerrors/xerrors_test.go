package xerrors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	base := errors.New("boom")

	assert.True(t, IsPermanent(Permanent("probe", base)))
	assert.False(t, IsPermanent(Transient("download", base)))
	assert.False(t, IsPermanent(base), "unclassified errors default to transient")
	assert.False(t, IsPermanent(nil))

	assert.Equal(t, ClassPermanent, GetClass(Permanent("probe", base)))
	assert.Equal(t, ClassTransient, GetClass(base))
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := Permanent("probe", ErrNoVideoStream)
	wrapped := fmt.Errorf("variant 480p: %w", inner)

	assert.True(t, IsPermanent(wrapped))
	assert.True(t, errors.Is(wrapped, ErrNoVideoStream))
	assert.Equal(t, "probe", GetOp(wrapped))
}

func TestNilErrorsYieldNil(t *testing.T) {
	assert.NoError(t, Permanent("op", nil))
	assert.NoError(t, Transient("op", nil))
}

func TestErrorText(t *testing.T) {
	err := Permanentf("probe", "missing video dimensions (%dx%d)", 0, 0)
	assert.Equal(t, "probe: missing video dimensions (0x0)", err.Error())
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 600)
	assert.Len(t, Truncate(long, 500), 500)
	assert.Equal(t, "short", Truncate("short", 500))
	assert.Equal(t, long, Truncate(long, 0), "zero max disables truncation")
}

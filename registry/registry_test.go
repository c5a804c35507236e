package registry_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cderrors "github.com/embeddedkit/configdrive/errors"
	"github.com/embeddedkit/configdrive/registry"
)

func TestRegisterFillsAllEightSlots(t *testing.T) {
	reg := registry.New()
	for i := 0; i < registry.Capacity; i++ {
		require.NoError(t, reg.Register("entry", "0", "#c", nil, nil, nil))
	}
	assert.Equal(t, registry.Capacity, reg.Len())
}

func TestRegisterNinthEntryFailsAndLeavesRegistryUnchanged(t *testing.T) {
	reg := registry.New()
	for i := 0; i < registry.Capacity; i++ {
		require.NoError(t, reg.Register("entry", "0", "#c", nil, nil, nil))
	}

	err := reg.Register("one-too-many", "0", "#c", nil, nil, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, cderrors.ErrRegistryFull))
	assert.Equal(t, registry.Capacity, reg.Len(), "a failed registration must not alter the registry")

	_, idx := reg.Find("one-too-many")
	assert.Equal(t, -1, idx, "the rejected entry must not have been stored")
}

func TestRegisterRejectsNameLongerThanMaxNameLen(t *testing.T) {
	reg := registry.New()
	name := strings.Repeat("n", registry.MaxNameLen+1)

	err := reg.Register(name, "0", "#c", nil, nil, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, cderrors.ErrInvalidGeometry))
	assert.Equal(t, 0, reg.Len())
}

func TestRegisterAcceptsNameAtMaxNameLen(t *testing.T) {
	reg := registry.New()
	name := strings.Repeat("n", registry.MaxNameLen)

	require.NoError(t, reg.Register(name, "0", "#c", nil, nil, nil))
	assert.Equal(t, 1, reg.Len())
}

func TestRegisterRejectsCommentLongerThanMaxCommentLen(t *testing.T) {
	reg := registry.New()
	comment := strings.Repeat("c", registry.MaxCommentLen+1)

	err := reg.Register("entry", "0", comment, nil, nil, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, cderrors.ErrInvalidGeometry))
	assert.Equal(t, 0, reg.Len())
}

func TestRegisterAcceptsCommentAtMaxCommentLen(t *testing.T) {
	reg := registry.New()
	comment := strings.Repeat("c", registry.MaxCommentLen)

	require.NoError(t, reg.Register("entry", "0", comment, nil, nil, nil))
	assert.Equal(t, 1, reg.Len())
}

func TestRegisterAfterFreezeFailsAndLeavesRegistryUnchanged(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("brightness", "50", "#(0~100)", nil, nil, nil))
	reg.Freeze()

	err := reg.Register("contrast", "50", "#(0~100)", nil, nil, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, cderrors.ErrAlreadyInitialized))
	assert.Equal(t, 1, reg.Len())
}

func TestCommentIsStoredTabPrefixedAndCRLFTerminated(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("brightness", "50", "#(0~100)", nil, nil, nil))

	e, idx := reg.Find("brightness")
	require.NotEqual(t, -1, idx)
	assert.Equal(t, "\t#(0~100)\r\n", e.Comment())
}

func TestFindReturnsNegativeOneForUnknownName(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("brightness", "50", "#(0~100)", nil, nil, nil))

	e, idx := reg.Find("contrast")
	assert.Nil(t, e)
	assert.Equal(t, -1, idx)
}

func TestEachVisitsSlotsInRegistrationOrder(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register("first", "1", "#a", nil, nil, nil))
	require.NoError(t, reg.Register("second", "2", "#b", nil, nil, nil))
	require.NoError(t, reg.Register("third", "3", "#c", nil, nil, nil))

	var names []string
	reg.Each(func(_ int, e *registry.Entry) {
		names = append(names, e.Name)
	})
	assert.Equal(t, []string{"first", "second", "third"}, names)
}

package discovery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func annotated(pkg, class string) []byte {
	return []byte(fmt.Sprintf(`package %s

import "github.com/alloyhq/alloy"

type %s struct{}

func init() {
	alloy.Injectable[*%s]()
}
`, pkg, class, class))
}

func TestUpdateReturnsPriorState(t *testing.T) {
	s := New()

	newSvcs, _, priorSvcs, _, err := s.Update("app/a.go", annotated("app", "Alpha"))
	require.NoError(t, err)
	require.Len(t, newSvcs, 1)
	assert.Empty(t, priorSvcs)

	newSvcs, _, priorSvcs, _, err = s.Update("app/a.go", annotated("app", "Beta"))
	require.NoError(t, err)
	require.Len(t, newSvcs, 1)
	assert.Equal(t, "Beta", newSvcs[0].ClassName)
	require.Len(t, priorSvcs, 1)
	assert.Equal(t, "Alpha", priorSvcs[0].ClassName)
}

func TestUpdateScanErrorLeavesEntryIntact(t *testing.T) {
	s := New()
	_, _, _, _, err := s.Update("app/a.go", annotated("app", "Alpha"))
	require.NoError(t, err)

	_, _, _, _, err = s.Update("app/a.go", []byte("package app\nfunc {"))
	require.Error(t, err)

	svcs := s.Services()
	require.Len(t, svcs, 1)
	assert.Equal(t, "Alpha", svcs[0].ClassName)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := New()
	_, _, _, _, err := s.Update("app/a.go", annotated("app", "Alpha"))
	require.NoError(t, err)

	prior, _ := s.Remove("app/a.go")
	require.Len(t, prior, 1)

	prior, priorDeferred := s.Remove("app/a.go")
	assert.Empty(t, prior)
	assert.Empty(t, priorDeferred)
	assert.Empty(t, s.Services())
}

func TestServicesSortedIndependentOfInsertionOrder(t *testing.T) {
	forward := New()
	_, _, _, _, err := forward.Update("app/a.go", annotated("app", "Alpha"))
	require.NoError(t, err)
	_, _, _, _, err = forward.Update("app/b.go", annotated("app", "Beta"))
	require.NoError(t, err)

	reverse := New()
	_, _, _, _, err = reverse.Update("app/b.go", annotated("app", "Beta"))
	require.NoError(t, err)
	_, _, _, _, err = reverse.Update("app/a.go", annotated("app", "Alpha"))
	require.NoError(t, err)

	assert.Equal(t, forward.Services(), reverse.Services())
}

func TestRescanSameContentIsStable(t *testing.T) {
	s := New()
	src := annotated("app", "Alpha")
	first, _, _, _, err := s.Update("app/a.go", src)
	require.NoError(t, err)
	second, _, prior, _, err := s.Update("app/a.go", src)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, prior)
}

func TestSnapshotReturnsSource(t *testing.T) {
	s := New()
	src := annotated("app", "Alpha")
	_, _, _, _, err := s.Update("app/a.go", src)
	require.NoError(t, err)

	got, ok := s.Snapshot("app/a.go")
	require.True(t, ok)
	assert.Equal(t, src, got)

	_, ok = s.Snapshot("app/missing.go")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	s := New()
	_, _, _, _, err := s.Update("app/a.go", annotated("app", "Alpha"))
	require.NoError(t, err)
	s.Clear()
	assert.Empty(t, s.Services())
	assert.Empty(t, s.DeferredKeys())
}

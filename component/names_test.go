package component

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type generic[T any] struct {
	Base
	v T
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "Foo", TypeName[*Foo]())
	assert.Equal(t, "Foo", TypeName[Foo]())
	assert.Equal(t, "Component", TypeName[Component]())
	assert.Equal(t, "generic", TypeName[*generic[int]]())
	assert.Equal(t, "int", TypeName[int]())
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, validateName("camera0"))
	assert.NoError(t, validateName("cam#"))
	assert.ErrorIs(t, validateName("mgr:cam"), ErrInvalidName)
	assert.ErrorIs(t, validateName("cam 0"), ErrInvalidName)
	assert.ErrorIs(t, validateName("cams/0"), ErrInvalidName)
}

func TestComputeInstanceNameFillsGaps(t *testing.T) {
	m, _ := newTestManager()
	for _, name := range []string{"x0", "x1", "x3"} {
		f := &Foo{}
		f.link(m, name, "Foo")
		m.subComponents = append(m.subComponents, f)
	}

	name, err := m.computeInstanceName("x#", "Foo")
	assert.NoError(t, err)
	assert.Equal(t, "x2", name)

	name, err = m.computeInstanceName("a#b#", "Foo")
	assert.NoError(t, err)
	assert.Equal(t, "a0b0", name)

	_, err = m.computeInstanceName("x1", "Foo")
	assert.ErrorIs(t, err, ErrNameCollision)
}

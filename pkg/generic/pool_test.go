package generic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolResetsOnPut(t *testing.T) {
	p := NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }, (*bytes.Buffer).Reset)

	b := p.Get()
	b.WriteString("dirty")
	p.Put(b)
	assert.Zero(t, b.Len())

	var seen int
	p.With(func(b *bytes.Buffer) {
		seen = b.Len()
		b.WriteString("x")
	})
	assert.Zero(t, seen)
}

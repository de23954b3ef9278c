package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariants(t *testing.T) {
	assert.Equal(t, "b", FromBool(true).Signature().String())
	assert.Equal(t, "y", FromByte(2).Signature().String())
	assert.Equal(t, "s", FromString("x").Signature().String())
	assert.Equal(t, byte(2), FromByte(2).Value())
}

package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyCache_SeparatesValueTypes(t *testing.T) {
	c := keyCache{}
	c.put("code", 1, "int-id")

	id, ok := c.get("code", 1)
	assert.True(t, ok)
	assert.Equal(t, "int-id", id)

	_, ok = c.get("code", "1")
	assert.False(t, ok, "a string key does not hit the integer entry")
	_, ok = c.get("other", 1)
	assert.False(t, ok)

	c.put("code", "1", "string-id")
	id, _ = c.get("code", 1)
	assert.Equal(t, "int-id", id)
	id, _ = c.get("code", "1")
	assert.Equal(t, "string-id", id)
}

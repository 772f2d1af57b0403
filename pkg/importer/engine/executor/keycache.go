package executor

import (
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
)

// keyCache remembers the entity ids resolved for natural keys during one job run,
// so a key written earlier in the job does not cost a second lookup.
// It is used only from the sequential write loop.
type keyCache map[xxh3.Uint128]string

// hashKey covers the value's dynamic type, so 1 and "1" are different keys.
func hashKey(field string, value interface{}) xxh3.Uint128 {
	return xxh3.HashString128(field + "\x00" + fmt.Sprintf("%T", value) + "\x00" + transform.Stringify(value))
}

func (c keyCache) get(field string, value interface{}) (string, bool) {
	id, ok := c[hashKey(field, value)]
	return id, ok
}

func (c keyCache) put(field string, value interface{}, id string) {
	c[hashKey(field, value)] = id
}

package exec

import (
	"fmt"
	"strings"

	"github.com/minio/highwayhash"

	"github.com/c-sungho/clojask/catalog"
	"github.com/c-sungho/clojask/planner"
)

// partitionKey is the fixed 32-byte highwayhash key. Partitioning only
// needs determinism within a process, not secrecy.
var partitionKey [32]byte

func init() {
	copy(partitionKey[:], "clojask.group.partition.highway.")
}

// keySeparator keeps composite keys unambiguous in their string form
const keySeparator = '\x1f'

// groupKeyValues extracts a row's group-by key values, applying each
// key's collation function where one is declared.
func groupKeyValues(row []interface{}, gp *planner.GroupPlan) ([]interface{}, error) {
	vals := make([]interface{}, len(gp.Keys))
	for i, key := range gp.Keys {
		v := row[key.Slot]
		if fn, ok := gp.KeyFuncs[i]; ok {
			var err error
			if v, err = fn(v); err != nil {
				return nil, catalog.Operationf(err, "group key %s", key.Tag)
			}
		}
		vals[i] = v
	}
	return vals, nil
}

// compositeKey renders key values into the string the partitioner and
// the bucket map share.
func compositeKey(vals []interface{}) string {
	var sb strings.Builder
	for i, v := range vals {
		if i > 0 {
			sb.WriteByte(keySeparator)
		}
		fmt.Fprint(&sb, v)
	}
	return sb.String()
}

// joinKeyString renders a row's join key values the same way
func joinKeyString(row []interface{}, slots []int) string {
	var sb strings.Builder
	for i, slot := range slots {
		if i > 0 {
			sb.WriteByte(keySeparator)
		}
		fmt.Fprint(&sb, row[slot])
	}
	return sb.String()
}

// partitionOf maps a key string onto one of parts partitions
func partitionOf(key string, parts int) int {
	if parts <= 1 {
		return 0
	}
	return int(highwayhash.Sum64([]byte(key), partitionKey[:]) % uint64(parts))
}

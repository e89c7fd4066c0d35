package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string. Used for credential IDs.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID returns a time-ordered ID from the process-wide node selected by
// SNOWFLAKE_NODE (default 1). Falls back to a KSUID if the node cannot be created.
func NewSnowflakeID() string {
	nodeOnce.Do(func() {
		node = newNode(os.Getenv("SNOWFLAKE_NODE"))
	})
	return generate(node)
}

// newNode parses a node number, using node 1 when it is empty, malformed or
// out of range.
func newNode(v string) *snowflake.Node {
	nodeID := int64(1)
	if v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			nodeID = parsed
		}
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		n, _ = snowflake.NewNode(1)
	}
	return n
}

func generate(n *snowflake.Node) string {
	if n == nil {
		return NewKSUID()
	}
	return n.Generate().String()
}

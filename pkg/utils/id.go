package utils

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode   *snowflake.Node
	idNodeMu sync.Mutex
)

// InitIDNode configures the snowflake node used for message IDs.
func InitIDNode(nodeID int64) error {
	idNodeMu.Lock()
	defer idNodeMu.Unlock()

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	idNode = node
	return nil
}

// NextID returns a time-ordered unique ID. IDs generated later on the same
// node compare greater, so they double as an insertion-order tie-breaker.
func NextID() snowflake.ID {
	idNodeMu.Lock()
	if idNode == nil {
		// Node 0 is reserved for processes that never called InitIDNode (tests, tools).
		idNode, _ = snowflake.NewNode(0)
	}
	node := idNode
	idNodeMu.Unlock()

	return node.Generate()
}

/*
Monitor identity shared by the cluster, message, and paxos packages
 */
package node

import (
	"fmt"
)

// identifies a monitor within the cluster. Ids must be small
// (0-99) so the proposal number allocator can embed them in
// the low two decimal digits of a proposal number
type NodeId int

const MAX_NODE_ID = NodeId(99)

func (n NodeId) String() string {
	return fmt.Sprintf("mon%d", int(n))
}

// validates that the given id can be embedded
// in a proposal number
func ValidId(n NodeId) bool {
	return n >= 0 && n <= MAX_NODE_ID
}

package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator issues time-ordered 64-bit identifiers.
type Generator struct {
	node *snowflake.Node
}

// NewSnowflake returns a generator bound to the given node number (0-1023).
func NewSnowflake(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", node, err)
	}
	return &Generator{node: n}, nil
}

// NextID returns the next identifier. IDs from one node are strictly increasing.
func (g *Generator) NextID() int64 {
	return g.node.Generate().Int64()
}

package graph

import (
	"fmt"
	"slices"
	"sort"
)

// Graph is an immutable point-in-time copy of the store. Methods never
// mutate it, so a Graph can be shared freely between goroutines.
type Graph struct {
	version   uint64
	nodes     map[NodeID]Node
	nodeOrder []NodeID
	edges     []Edge

	// inbound and outbound index edges by endpoint, ordered by Seq.
	inbound  map[NodeID][]Edge
	outbound map[NodeID][]Edge
}

func newGraph(version uint64, nodes map[NodeID]Node, nodeOrder []NodeID, edges []Edge) *Graph {
	sort.SliceStable(edges, func(indexA, indexB int) bool {
		return edges[indexA].Seq < edges[indexB].Seq
	})

	snapshot := &Graph{
		version:   version,
		nodes:     nodes,
		nodeOrder: nodeOrder,
		edges:     edges,
		inbound:   make(map[NodeID][]Edge),
		outbound:  make(map[NodeID][]Edge),
	}
	for _, edge := range edges {
		snapshot.inbound[edge.Target] = append(snapshot.inbound[edge.Target], edge)
		snapshot.outbound[edge.Source] = append(snapshot.outbound[edge.Source], edge)
	}
	return snapshot
}

// Version returns the store version the snapshot was taken at.
func (snapshot *Graph) Version() uint64 {
	return snapshot.version
}

// Len returns the number of nodes.
func (snapshot *Graph) Len() int {
	return len(snapshot.nodeOrder)
}

// Node returns a copy of the node with the given id.
func (snapshot *Graph) Node(nodeID NodeID) (Node, bool) {
	node, exists := snapshot.nodes[nodeID]
	if !exists {
		return Node{}, false
	}
	return node.Clone(), true
}

// Nodes returns copies of all nodes in insertion order.
func (snapshot *Graph) Nodes() []Node {
	nodes := make([]Node, 0, len(snapshot.nodeOrder))
	for _, nodeID := range snapshot.nodeOrder {
		nodes = append(nodes, snapshot.nodes[nodeID].Clone())
	}
	return nodes
}

// NodeIDs returns all node ids in insertion order.
func (snapshot *Graph) NodeIDs() []NodeID {
	return slices.Clone(snapshot.nodeOrder)
}

// Edges returns all edges in insertion order.
func (snapshot *Graph) Edges() []Edge {
	return slices.Clone(snapshot.edges)
}

// Inbound returns the edges targeting nodeID in insertion order.
func (snapshot *Graph) Inbound(nodeID NodeID) []Edge {
	return slices.Clone(snapshot.inbound[nodeID])
}

// Outbound returns the edges leaving nodeID in insertion order.
func (snapshot *Graph) Outbound(nodeID NodeID) []Edge {
	return slices.Clone(snapshot.outbound[nodeID])
}

// Upstream returns the distinct source nodes feeding nodeID, in the order of
// their first inbound edge.
func (snapshot *Graph) Upstream(nodeID NodeID) []NodeID {
	return distinctEndpoints(snapshot.inbound[nodeID], func(edge Edge) NodeID { return edge.Source })
}

// Downstream returns the distinct nodes fed by nodeID.
func (snapshot *Graph) Downstream(nodeID NodeID) []NodeID {
	return distinctEndpoints(snapshot.outbound[nodeID], func(edge Edge) NodeID { return edge.Target })
}

// Ancestors returns every node that can reach nodeID, excluding nodeID.
func (snapshot *Graph) Ancestors(nodeID NodeID) map[NodeID]bool {
	return snapshot.walk(nodeID, snapshot.Upstream)
}

// Descendants returns every node reachable from nodeID, excluding nodeID.
func (snapshot *Graph) Descendants(nodeID NodeID) map[NodeID]bool {
	return snapshot.walk(nodeID, snapshot.Downstream)
}

// Reachable reports whether to can be reached from from. A node reaches itself.
func (snapshot *Graph) Reachable(from, to NodeID) bool {
	return reachable(snapshot.edges, from, to)
}

func (snapshot *Graph) walk(start NodeID, next func(NodeID) []NodeID) map[NodeID]bool {
	visited := make(map[NodeID]bool)
	stack := next(start)
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[current] {
			continue
		}
		visited[current] = true
		stack = append(stack, next(current)...)
	}
	return visited
}

// TopologicalOrder returns the ids of the nodes in subset (all nodes when
// subset is nil) ordered so that every node follows its upstream nodes, along
// with the topological levels. Ties are broken by insertion order.
func (snapshot *Graph) TopologicalOrder(subset map[NodeID]bool) ([]NodeID, [][]NodeID, error) {
	included := func(nodeID NodeID) bool {
		return subset == nil || subset[nodeID]
	}

	inDegree := make(map[NodeID]int)
	adjacency := make(map[NodeID][]NodeID)
	order := make([]NodeID, 0, len(snapshot.nodeOrder))
	for _, nodeID := range snapshot.nodeOrder {
		if !included(nodeID) {
			continue
		}
		order = append(order, nodeID)
		inDegree[nodeID] = 0
	}
	for _, nodeID := range order {
		for _, upstreamID := range snapshot.Upstream(nodeID) {
			if !included(upstreamID) {
				continue
			}
			inDegree[nodeID]++
			adjacency[upstreamID] = append(adjacency[upstreamID], nodeID)
		}
	}

	return kahnTopologicalSort(inDegree, adjacency, order)
}

// kahnTopologicalSort performs Kahn's algorithm level by level. Within each
// level nodes keep their insertion order.
func kahnTopologicalSort(inDegree map[NodeID]int, adjacency map[NodeID][]NodeID, nodeOrder []NodeID) ([]NodeID, [][]NodeID, error) {
	nodePosition := make(map[NodeID]int, len(nodeOrder))
	for index, nodeID := range nodeOrder {
		nodePosition[nodeID] = index
	}
	byPosition := func(level []NodeID) {
		sort.Slice(level, func(indexA, indexB int) bool {
			return nodePosition[level[indexA]] < nodePosition[level[indexB]]
		})
	}

	currentLevel := make([]NodeID, 0)
	for _, nodeID := range nodeOrder {
		if inDegree[nodeID] == 0 {
			currentLevel = append(currentLevel, nodeID)
		}
	}

	topologicalOrder := make([]NodeID, 0, len(nodeOrder))
	levels := make([][]NodeID, 0)
	for len(currentLevel) > 0 {
		levels = append(levels, currentLevel)
		topologicalOrder = append(topologicalOrder, currentLevel...)

		nextLevel := make([]NodeID, 0)
		for _, nodeID := range currentLevel {
			for _, neighbor := range adjacency[nodeID] {
				inDegree[neighbor]--
				if inDegree[neighbor] == 0 {
					nextLevel = append(nextLevel, neighbor)
				}
			}
		}
		byPosition(nextLevel)
		currentLevel = nextLevel
	}

	if len(topologicalOrder) != len(nodeOrder) {
		cycleNodes := make([]NodeID, 0)
		for _, nodeID := range nodeOrder {
			if inDegree[nodeID] > 0 {
				cycleNodes = append(cycleNodes, nodeID)
			}
		}
		return nil, nil, fmt.Errorf("nodes %v: %w", cycleNodes, ErrCycleDetected)
	}

	return topologicalOrder, levels, nil
}

func distinctEndpoints(edges []Edge, endpoint func(Edge) NodeID) []NodeID {
	seen := make(map[NodeID]bool, len(edges))
	result := make([]NodeID, 0, len(edges))
	for _, edge := range edges {
		nodeID := endpoint(edge)
		if seen[nodeID] {
			continue
		}
		seen[nodeID] = true
		result = append(result, nodeID)
	}
	return result
}

package fusion

import "fmt"

// NodeMap assigns every pixel of every included image a global node id.
// Images own contiguous ranges in the order they were added.
type NodeMap struct {
	ids     []string
	offsets map[string]int
	counts  map[string]int
	total   int
}

// NewNodeMap returns an empty map.
func NewNodeMap() *NodeMap {
	return &NodeMap{
		offsets: make(map[string]int),
		counts:  make(map[string]int),
	}
}

// Add appends a range of count nodes for image id.
func (m *NodeMap) Add(id string, count int) error {
	if _, ok := m.offsets[id]; ok {
		return fmt.Errorf("node range for %s already assigned", id)
	}
	if count < 0 {
		return fmt.Errorf("negative pixel count %d for %s", count, id)
	}
	m.ids = append(m.ids, id)
	m.offsets[id] = m.total
	m.counts[id] = count
	m.total += count
	return nil
}

// GlobalID returns the node of pixel local of image id. The second result
// is false when the image has no nodes or local is out of range.
func (m *NodeMap) GlobalID(id string, local int) (int, bool) {
	off, ok := m.offsets[id]
	if !ok || local < 0 || local >= m.counts[id] {
		return 0, false
	}
	return off + local, true
}

// Offset returns the first node of image id, or -1 if it has none.
func (m *NodeMap) Offset(id string) int {
	if off, ok := m.offsets[id]; ok {
		return off
	}
	return -1
}

// Count returns the number of nodes of image id.
func (m *NodeMap) Count(id string) int { return m.counts[id] }

// Contains reports whether image id has nodes.
func (m *NodeMap) Contains(id string) bool {
	_, ok := m.offsets[id]
	return ok
}

// Total returns the number of nodes.
func (m *NodeMap) Total() int { return m.total }

// Images returns the included image ids in range order.
func (m *NodeMap) Images() []string { return append([]string(nil), m.ids...) }

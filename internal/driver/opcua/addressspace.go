package opcua

// Node is one entry of a simulated OPC UA address space.
type Node struct {
	NodeID      string
	BrowseName  string
	DisplayName string
	NodeClass   string // "Object" or "Variable"
	DataType    string // populated for Variable nodes
	Value       any
	Children    []string // child node IDs, for browse
}

// AddressSpace is an in-memory OPC UA server model rooted at "Objects".
// Real OPC UA binary/secure-channel transport is out of scope (§1); this is
// the simulated device the driver polls and browses against.
type AddressSpace struct {
	nodes map[string]*Node
	root  string
}

const ObjectsNodeID = "i=85"

// NewAddressSpace returns an address space containing only the well-known
// Objects root, with no children.
func NewAddressSpace() *AddressSpace {
	root := &Node{
		NodeID:      ObjectsNodeID,
		BrowseName:  "Objects",
		DisplayName: "Objects",
		NodeClass:   "Object",
	}
	return &AddressSpace{
		nodes: map[string]*Node{ObjectsNodeID: root},
		root:  ObjectsNodeID,
	}
}

// AddObject inserts an Object node with ID nodeID under parent.
func (a *AddressSpace) AddObject(parent, nodeID, browseName, displayName string) {
	a.nodes[nodeID] = &Node{
		NodeID:      nodeID,
		BrowseName:  browseName,
		DisplayName: displayName,
		NodeClass:   "Object",
	}
	a.linkChild(parent, nodeID)
}

// AddVariable inserts a Variable node under parent with an initial value.
func (a *AddressSpace) AddVariable(parent, nodeID, browseName, displayName, dataType string, value any) {
	a.nodes[nodeID] = &Node{
		NodeID:      nodeID,
		BrowseName:  browseName,
		DisplayName: displayName,
		NodeClass:   "Variable",
		DataType:    dataType,
		Value:       value,
	}
	a.linkChild(parent, nodeID)
}

func (a *AddressSpace) linkChild(parent, child string) {
	p, ok := a.nodes[parent]
	if !ok {
		return
	}
	p.Children = append(p.Children, child)
}

// Node looks up a node by ID.
func (a *AddressSpace) Node(nodeID string) (*Node, bool) {
	n, ok := a.nodes[nodeID]
	return n, ok
}

// SetValue updates a Variable node's current value, as if a device tag changed.
func (a *AddressSpace) SetValue(nodeID string, v any) {
	if n, ok := a.nodes[nodeID]; ok {
		n.Value = v
	}
}

// Root returns the Objects root node ID.
func (a *AddressSpace) Root() string { return a.root }

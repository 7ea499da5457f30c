package cloud

import "time"

// An Instance is the provider-agnostic view of a Node.
type Instance struct {
	ID      string
	Name    string
	Status  string
	Task    string
	Power   string
	IP      string
	Created time.Time

	node *Node
}

// Node returns the raw node this instance was converted from.
func (i *Instance) Node() *Node {
	if i == nil {
		return nil
	}
	return i.node
}

// Extra returns the provider-specific fields of the underlying node.
func (i *Instance) Extra() map[string]interface{} {
	if i.Node() == nil {
		return nil
	}
	return i.node.Extra
}

// A Machine is the provider-agnostic view of a NodeImage. Alias is the
// provider's image identifier (e.g. "ami-…" on EC2).
type Machine struct {
	ID         string
	Name       string
	Alias      string
	OwnerID    string
	OwnerAlias string

	image *NodeImage
}

// Image returns the raw image this machine was converted from.
func (m *Machine) Image() *NodeImage {
	if m == nil {
		return nil
	}
	return m.image
}

// A Size is the provider-agnostic view of a NodeSize.
type Size struct {
	ID    string
	Name  string
	CPU   int
	RAM   int
	Disk  int
	Price float64

	// Occupancy is only filled in by cloudbrain.Meta.Occupancy.
	Occupancy *Occupancy

	size *NodeSize
}

// Occupancy is how many instances of a size fit into a cloud.
type Occupancy struct {
	Total     int
	Remaining int
}

// NodeSize returns the raw size this size was converted from.
func (s *Size) NodeSize() *NodeSize {
	if s == nil {
		return nil
	}
	return s.size
}

// A Volume is the provider-agnostic view of a StorageVolume.
type Volume struct {
	ID         string
	Name       string
	Size       int
	Status     string
	AttachedTo string

	volume *StorageVolume
}

// StorageVolume returns the raw volume this volume was converted from.
func (v *Volume) StorageVolume() *StorageVolume {
	if v == nil {
		return nil
	}
	return v.volume
}

// Converters turn raw provider records into domain objects. A nil function
// falls back to the matching default converter.
type Converters struct {
	Instance func(*Node) *Instance
	Machine  func(*NodeImage) *Machine
	Size     func(*NodeSize) *Size
	Volume   func(*StorageVolume) *Volume
}

func (c Converters) instance(node *Node) *Instance {
	if c.Instance != nil {
		return c.Instance(node)
	}
	return NewInstance(node)
}

func (c Converters) machine(image *NodeImage) *Machine {
	if c.Machine != nil {
		return c.Machine(image)
	}
	return NewMachine(image)
}

func (c Converters) size(size *NodeSize) *Size {
	if c.Size != nil {
		return c.Size(size)
	}
	return NewSize(size)
}

func (c Converters) volume(volume *StorageVolume) *Volume {
	if c.Volume != nil {
		return c.Volume(volume)
	}
	return NewVolume(volume)
}

// NewInstance is the default Node converter. It reads status, task and power
// from the node's Extra fields and picks the first public IP, falling back to
// the first private one.
func NewInstance(node *Node) *Instance {
	if node == nil {
		return nil
	}

	inst := &Instance{
		ID:     node.ID,
		Name:   node.Name,
		Status: extraString(node.Extra, ExtraStatus),
		Task:   extraString(node.Extra, ExtraTask),
		Power:  extraString(node.Extra, ExtraPower),
		node:   node,
	}
	if inst.Status == "" {
		inst.Status = string(node.State)
	}

	switch {
	case len(node.PublicIPs) > 0:
		inst.IP = node.PublicIPs[0]
	case len(node.PrivateIPs) > 0:
		inst.IP = node.PrivateIPs[0]
	}

	return inst
}

// NewMachine is the default NodeImage converter.
func NewMachine(image *NodeImage) *Machine {
	if image == nil {
		return nil
	}

	return &Machine{
		ID:         image.ID,
		Name:       image.Name,
		Alias:      image.ID,
		OwnerID:    extraString(image.Extra, ExtraOwnerID),
		OwnerAlias: extraString(image.Extra, ExtraOwnerAlias),
		image:      image,
	}
}

// NewSize is the default NodeSize converter.
func NewSize(size *NodeSize) *Size {
	if size == nil {
		return nil
	}

	return &Size{
		ID:    size.ID,
		Name:  size.Name,
		CPU:   size.CPU,
		RAM:   size.RAM,
		Disk:  size.Disk,
		Price: size.Price,
		size:  size,
	}
}

// NewVolume is the default StorageVolume converter.
func NewVolume(volume *StorageVolume) *Volume {
	if volume == nil {
		return nil
	}

	return &Volume{
		ID:         volume.ID,
		Name:       volume.Name,
		Size:       volume.Size,
		Status:     volume.State,
		AttachedTo: extraString(volume.Extra, ExtraAttachedTo),
		volume:     volume,
	}
}

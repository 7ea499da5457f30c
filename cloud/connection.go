package cloud

// A Connection is a live session to a provider's API. It exposes the
// provider-shaped primitives the drivers are built on. A Connection is opened
// once when a driver is constructed and is never reopened by the driver.
//
// Errors returned from a Connection are passed through the drivers unchanged,
// except for *DeploymentError returned from DeployNode, see
// OpenStackDriver.DeployInstance and AWSDriver.DeployInstance.
type Connection interface {
	ListNodes() ([]*Node, error)
	ListImages() ([]*NodeImage, error)
	ListSizes() ([]*NodeSize, error)
	ListLocations() ([]*NodeLocation, error)

	CreateNode(opts CreateOptions) (*Node, error)
	// DeployNode creates a node, waits for it to boot and runs opts.Plan on
	// it. It blocks until the plan finished or opts.Timeout expired.
	DeployNode(opts DeployOptions) (*Node, error)
	RebootNode(node *Node) (bool, error)
	DestroyNode(node *Node) (bool, error)

	ListVolumes() ([]*StorageVolume, error)
	CreateVolume(opts VolumeOptions) (*StorageVolume, error)
	DestroyVolume(volume *StorageVolume) (bool, error)
	AttachVolume(node *Node, volume *StorageVolume, device string) (bool, error)
	DetachVolume(volume *StorageVolume) (bool, error)
}

// An OpenStackConnection is a Connection with the OpenStack extension
// primitives.
type OpenStackConnection interface {
	Connection

	// The OpenStack client tracks its region in two places, both of which
	// must be pinned.
	ForceServiceRegion(region string)
	SetServiceRegion(region string)

	// ExDeployToNode runs opts.Plan on an existing node, blocking until it
	// finished or opts.Timeout expired.
	ExDeployToNode(node *Node, opts DeployOptions) error

	ExStartNode(node *Node) (bool, error)
	ExStopNode(node *Node) (bool, error)
	ExSuspendNode(node *Node) (bool, error)
	ExResumeNode(node *Node) (bool, error)
	ExResize(node *Node, size *NodeSize) (bool, error)
	ExConfirmResize(node *Node) (bool, error)
	ExRevertResize(node *Node) (bool, error)

	// ExAddFloatingIP allocates a floating IP and associates it with the node,
	// returning the address.
	ExAddFloatingIP(node *Node) (string, error)
	// ExCleanFloatingIPs releases every floating IP not associated with a
	// node.
	ExCleanFloatingIPs() (bool, error)

	ExListAllInstances() ([]*Node, error)
	ExHypervisorStatistics() (HypervisorStatistics, error)

	// Image metadata is the image's free-form string properties.
	ExGetImageMetadata(image *NodeImage) (map[string]string, error)
	// ExSetImageMetadata adds or replaces the given keys, leaving the others
	// alone.
	ExSetImageMetadata(image *NodeImage, metadata map[string]string) error
	ExDeleteImageMetadata(image *NodeImage, key string) error
}

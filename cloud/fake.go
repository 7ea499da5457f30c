package cloud

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pborman/uuid"
)

// FakeConnection is an in-memory OpenStackConnection suitable for tests and
// for trying out the tooling without a cloud.
type FakeConnection struct {
	// DeployErr, when set, makes every deployment fail with it. DeployNode
	// still creates the node.
	DeployErr error

	mutex         sync.Mutex
	nodes         []*Node
	images        []*NodeImage
	sizes         []*NodeSize
	locations     []*NodeLocation
	volumes       []*StorageVolume
	floatingIPs   map[string]string
	stats         HypervisorStatistics
	computeRegion string
	serviceRegion string
	deployments   []FakeDeployment
}

// A FakeDeployment records a plan that was run against a fake node.
type FakeDeployment struct {
	NodeID string
	Opts   DeployOptions
}

var _ OpenStackConnection = &FakeConnection{}

// NewFakeConnection returns a fake seeded with one image, three sizes, one
// location and the hypervisor totals of a small cloud.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		images: []*NodeImage{
			{ID: "standard-image", Name: "Ubuntu 14.04", Extra: map[string]interface{}{}},
		},
		sizes: []*NodeSize{
			{ID: "1", Name: "m1.tiny", CPU: 1, RAM: 512, Disk: 1},
			{ID: "2", Name: "m1.small", CPU: 1, RAM: 2048, Disk: 20},
			{ID: "3", Name: "m1.medium", CPU: 2, RAM: 4096, Disk: 40},
		},
		locations: []*NodeLocation{
			{ID: "nova", Name: "nova"},
		},
		floatingIPs: map[string]string{},
		stats:       HypervisorStatistics{VCPUs: 16, MemoryMB: 32768, LocalGB: 400},
	}
}

// AddImage makes an image available to ListImages.
func (c *FakeConnection) AddImage(image *NodeImage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.images = append(c.images, image)
}

// Regions returns the compute and block storage regions last set.
func (c *FakeConnection) Regions() (compute, service string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.computeRegion, c.serviceRegion
}

// Deployments returns the deployments run so far, oldest first.
func (c *FakeConnection) Deployments() []FakeDeployment {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]FakeDeployment(nil), c.deployments...)
}

// SetStatus changes the status and task of a node, as OpenStack would while
// it moves between states.
func (c *FakeConnection) SetStatus(id, status, task string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	node, err := c.node(id)
	if err != nil {
		return err
	}
	node.Extra[ExtraStatus] = status
	node.Extra[ExtraTask] = task
	return nil
}

func (c *FakeConnection) ForceServiceRegion(region string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.computeRegion = region
}

func (c *FakeConnection) SetServiceRegion(region string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.serviceRegion = region
}

func (c *FakeConnection) ListNodes() ([]*Node, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]*Node(nil), c.nodes...), nil
}

func (c *FakeConnection) ListImages() ([]*NodeImage, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]*NodeImage(nil), c.images...), nil
}

func (c *FakeConnection) ListSizes() ([]*NodeSize, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]*NodeSize(nil), c.sizes...), nil
}

func (c *FakeConnection) ListLocations() ([]*NodeLocation, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]*NodeLocation(nil), c.locations...), nil
}

func (c *FakeConnection) CreateNode(opts CreateOptions) (*Node, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.createNode(opts)
}

func (c *FakeConnection) createNode(opts CreateOptions) (*Node, error) {
	if opts.ImageID == "" {
		return nil, fmt.Errorf("image is required")
	}
	if !c.hasImage(opts.ImageID) {
		return nil, fmt.Errorf("unknown image %s", opts.ImageID)
	}

	sizeID := opts.SizeID
	if sizeID == "" {
		sizeID = c.sizes[0].ID
	}

	ipAddress := make([]byte, 2)
	rand.Read(ipAddress)

	node := &Node{
		ID:         uuid.New(),
		Name:       opts.Name,
		State:      NodeStateRunning,
		PrivateIPs: []string{fmt.Sprintf("10.0.%d.%d", ipAddress[0], ipAddress[1])},
		Extra: map[string]interface{}{
			ExtraStatus:   "active",
			ExtraTask:     "",
			ExtraPower:    "running",
			ExtraCreated:  time.Now().UTC().Format(CreatedLayout),
			ExtraFlavorID: sizeID,
			ExtraImageID:  opts.ImageID,
		},
	}
	c.nodes = append(c.nodes, node)

	return node, nil
}

func (c *FakeConnection) hasImage(id string) bool {
	for _, image := range c.images {
		if image.ID == id {
			return true
		}
	}
	return false
}

func (c *FakeConnection) node(id string) (*Node, error) {
	for _, node := range c.nodes {
		if node.ID == id {
			return node, nil
		}
	}
	return nil, fmt.Errorf("node %s not found", id)
}

func (c *FakeConnection) nodeFor(node *Node) (*Node, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node", ErrMissingArgument)
	}
	return c.node(node.ID)
}

func (c *FakeConnection) DeployNode(opts DeployOptions) (*Node, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	node, err := c.createNode(opts.CreateOptions)
	if err != nil {
		return nil, err
	}
	if err := c.deploy(node, opts); err != nil {
		return nil, err
	}
	return node, nil
}

func (c *FakeConnection) ExDeployToNode(node *Node, opts DeployOptions) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return err
	}
	return c.deploy(n, opts)
}

func (c *FakeConnection) deploy(node *Node, opts DeployOptions) error {
	c.deployments = append(c.deployments, FakeDeployment{NodeID: node.ID, Opts: opts})
	if c.DeployErr == nil {
		return nil
	}

	step := ""
	if opts.Plan != nil && len(opts.Plan.Steps) > 0 {
		step = opts.Plan.Steps[0].Name
	}
	return &DeploymentError{NodeID: node.ID, Step: step, Err: c.DeployErr}
}

func (c *FakeConnection) setState(node *Node, state NodeState, status, power string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return false, err
	}
	n.State = state
	n.Extra[ExtraStatus] = status
	n.Extra[ExtraTask] = ""
	n.Extra[ExtraPower] = power
	return true, nil
}

func (c *FakeConnection) RebootNode(node *Node) (bool, error) {
	return c.setState(node, NodeStateRunning, "active", "running")
}

func (c *FakeConnection) ExStartNode(node *Node) (bool, error) {
	return c.setState(node, NodeStateRunning, "active", "running")
}

func (c *FakeConnection) ExStopNode(node *Node) (bool, error) {
	return c.setState(node, NodeStateStopped, "shutoff", "shutdown")
}

func (c *FakeConnection) ExSuspendNode(node *Node) (bool, error) {
	return c.setState(node, NodeStateSuspended, "suspended", "shutdown")
}

func (c *FakeConnection) ExResumeNode(node *Node) (bool, error) {
	return c.setState(node, NodeStateRunning, "active", "running")
}

func (c *FakeConnection) DestroyNode(node *Node) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return false, err
	}

	for i := range c.nodes {
		if c.nodes[i] == n {
			c.nodes = append(c.nodes[:i], c.nodes[i+1:]...)
			break
		}
	}
	for ip, nodeID := range c.floatingIPs {
		if nodeID == n.ID {
			c.floatingIPs[ip] = ""
		}
	}
	return true, nil
}

func (c *FakeConnection) ExResize(node *Node, size *NodeSize) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return false, err
	}
	if size == nil {
		return false, fmt.Errorf("%w: size", ErrMissingArgument)
	}

	n.Extra["previous_flavorId"] = n.Extra[ExtraFlavorID]
	n.Extra[ExtraFlavorID] = size.ID
	n.Extra[ExtraStatus] = "verify_resize"
	return true, nil
}

func (c *FakeConnection) ExConfirmResize(node *Node) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return false, err
	}
	if n.Extra[ExtraStatus] != "verify_resize" {
		return false, fmt.Errorf("node %s has no pending resize", n.ID)
	}

	delete(n.Extra, "previous_flavorId")
	n.Extra[ExtraStatus] = "active"
	return true, nil
}

func (c *FakeConnection) ExRevertResize(node *Node) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return false, err
	}
	if n.Extra[ExtraStatus] != "verify_resize" {
		return false, fmt.Errorf("node %s has no pending resize", n.ID)
	}

	n.Extra[ExtraFlavorID] = n.Extra["previous_flavorId"]
	delete(n.Extra, "previous_flavorId")
	n.Extra[ExtraStatus] = "active"
	return true, nil
}

func (c *FakeConnection) ExAddFloatingIP(node *Node) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return "", err
	}

	ipAddress := make([]byte, 2)
	rand.Read(ipAddress)
	ip := fmt.Sprintf("172.16.%d.%d", ipAddress[0], ipAddress[1])

	c.floatingIPs[ip] = n.ID
	n.PublicIPs = append(n.PublicIPs, ip)
	return ip, nil
}

func (c *FakeConnection) ExCleanFloatingIPs() (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for ip, nodeID := range c.floatingIPs {
		if nodeID == "" {
			delete(c.floatingIPs, ip)
		}
	}
	return true, nil
}

// FloatingIPs returns the number of allocated floating IPs.
func (c *FakeConnection) FloatingIPs() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.floatingIPs)
}

func (c *FakeConnection) ExListAllInstances() ([]*Node, error) {
	return c.ListNodes()
}

func (c *FakeConnection) ExHypervisorStatistics() (HypervisorStatistics, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.stats, nil
}

func (c *FakeConnection) image(image *NodeImage) (*NodeImage, error) {
	if image == nil {
		return nil, fmt.Errorf("%w: image", ErrMissingArgument)
	}
	for _, i := range c.images {
		if i.ID == image.ID {
			return i, nil
		}
	}
	return nil, fmt.Errorf("unknown image %s", image.ID)
}

func imageMetadata(image *NodeImage) map[string]string {
	metadata, _ := image.Extra[ExtraMetadata].(map[string]string)
	if metadata == nil {
		metadata = map[string]string{}
		if image.Extra == nil {
			image.Extra = map[string]interface{}{}
		}
		image.Extra[ExtraMetadata] = metadata
	}
	return metadata
}

func (c *FakeConnection) ExGetImageMetadata(image *NodeImage) (map[string]string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	image, err := c.image(image)
	if err != nil {
		return nil, err
	}

	result := map[string]string{}
	for k, v := range imageMetadata(image) {
		result[k] = v
	}
	return result, nil
}

func (c *FakeConnection) ExSetImageMetadata(image *NodeImage, metadata map[string]string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	image, err := c.image(image)
	if err != nil {
		return err
	}

	current := imageMetadata(image)
	for k, v := range metadata {
		current[k] = v
	}
	return nil
}

func (c *FakeConnection) ExDeleteImageMetadata(image *NodeImage, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	image, err := c.image(image)
	if err != nil {
		return err
	}

	current := imageMetadata(image)
	if _, ok := current[key]; !ok {
		return fmt.Errorf("image %s has no metadata key %q", image.ID, key)
	}
	delete(current, key)
	return nil
}

func (c *FakeConnection) ListVolumes() ([]*StorageVolume, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]*StorageVolume(nil), c.volumes...), nil
}

func (c *FakeConnection) CreateVolume(opts VolumeOptions) (*StorageVolume, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if opts.Size <= 0 {
		return nil, fmt.Errorf("volume size must be positive, was %d", opts.Size)
	}

	volume := &StorageVolume{
		ID:    uuid.New(),
		Name:  opts.Name,
		Size:  opts.Size,
		State: "available",
		Extra: map[string]interface{}{
			"description": opts.Description,
		},
	}
	c.volumes = append(c.volumes, volume)
	return volume, nil
}

func (c *FakeConnection) volume(volume *StorageVolume) (*StorageVolume, error) {
	if volume == nil {
		return nil, fmt.Errorf("%w: volume", ErrMissingArgument)
	}
	for _, v := range c.volumes {
		if v.ID == volume.ID {
			return v, nil
		}
	}
	return nil, fmt.Errorf("volume %s not found", volume.ID)
}

func (c *FakeConnection) DestroyVolume(volume *StorageVolume) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	v, err := c.volume(volume)
	if err != nil {
		return false, err
	}
	if v.State == "in-use" {
		return false, fmt.Errorf("volume %s is attached", v.ID)
	}

	for i := range c.volumes {
		if c.volumes[i] == v {
			c.volumes = append(c.volumes[:i], c.volumes[i+1:]...)
			break
		}
	}
	return true, nil
}

func (c *FakeConnection) AttachVolume(node *Node, volume *StorageVolume, device string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	n, err := c.nodeFor(node)
	if err != nil {
		return false, err
	}
	v, err := c.volume(volume)
	if err != nil {
		return false, err
	}

	v.State = "in-use"
	v.Extra[ExtraAttachedTo] = n.ID
	v.Extra["device"] = device
	return true, nil
}

func (c *FakeConnection) DetachVolume(volume *StorageVolume) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	v, err := c.volume(volume)
	if err != nil {
		return false, err
	}

	v.State = "available"
	delete(v.Extra, ExtraAttachedTo)
	delete(v.Extra, "device")
	return true, nil
}

type fakeConfig struct {
	DeployConfig `yaml:",inline"`

	Username string `json:"username" yaml:"username"`
}

func init() {
	RegisterProvider("fake", "Fake", func(decode ConfigDecoder) (Driver, error) {
		var cfg fakeConfig
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		return NewFakeDriver(cfg.Username, cfg.DeployConfig)
	})
}

// NewFakeDriver returns an OpenStack driver backed by a new FakeConnection.
func NewFakeDriver(username string, cfg DeployConfig, opts ...DriverOption) (*OpenStackDriver, error) {
	conn := NewFakeConnection()
	provider := &OpenStackProvider{
		Dialer: func(*OpenStackIdentity) (OpenStackConnection, error) {
			return conn, nil
		},
	}
	identity := &OpenStackIdentity{Owner: Username(username)}

	return NewOpenStackDriver(provider, identity, cfg, opts...)
}

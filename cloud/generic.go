package cloud

import "fmt"

// GenericDriver is a thin pass-through to a provider Connection. It returns
// raw provider records without converting them; EshDriver builds on it to
// produce domain objects.
type GenericDriver struct {
	provider Provider
	identity Identity
	conn     Connection
}

// NewGenericDriver opens a Connection for the given provider and identity.
// Both are required.
func NewGenericDriver(provider Provider, identity Identity) (*GenericDriver, error) {
	if provider == nil || identity == nil {
		return nil, fmt.Errorf("%w: driver needs both a provider and an identity", ErrMissingArgument)
	}

	conn, err := provider.Connect(identity)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("provider %s returned no connection", provider.Name())
	}

	return &GenericDriver{
		provider: provider,
		identity: identity,
		conn:     conn,
	}, nil
}

// Provider returns the provider the driver was constructed with.
func (d *GenericDriver) Provider() Provider { return d.provider }

// Identity returns the identity the driver was constructed with.
func (d *GenericDriver) Identity() Identity { return d.identity }

// Connection returns the connection opened at construction.
func (d *GenericDriver) Connection() Connection { return d.conn }

func (d *GenericDriver) observe(operation string, err error) {
	observeCall(d.provider.Name(), operation, err)
}

func (d *GenericDriver) ListInstances() ([]*Node, error) {
	nodes, err := d.conn.ListNodes()
	d.observe("list_nodes", err)
	return nodes, err
}

func (d *GenericDriver) ListMachines() ([]*NodeImage, error) {
	images, err := d.conn.ListImages()
	d.observe("list_images", err)
	return images, err
}

func (d *GenericDriver) ListSizes() ([]*NodeSize, error) {
	sizes, err := d.conn.ListSizes()
	d.observe("list_sizes", err)
	return sizes, err
}

func (d *GenericDriver) ListLocations() ([]*NodeLocation, error) {
	locations, err := d.conn.ListLocations()
	d.observe("list_locations", err)
	return locations, err
}

func (d *GenericDriver) CreateInstance(opts CreateOptions) (*Node, error) {
	node, err := d.conn.CreateNode(opts)
	d.observe("create_node", err)
	return node, err
}

func (d *GenericDriver) DeployInstance(opts DeployOptions) (*Node, error) {
	node, err := d.conn.DeployNode(opts)
	d.observe("deploy_node", err)
	return node, err
}

func (d *GenericDriver) RebootInstance(node *Node) (bool, error) {
	ok, err := d.conn.RebootNode(node)
	d.observe("reboot_node", err)
	return ok, err
}

func (d *GenericDriver) DestroyInstance(node *Node) (bool, error) {
	ok, err := d.conn.DestroyNode(node)
	d.observe("destroy_node", err)
	return ok, err
}

func (d *GenericDriver) ListVolumes() ([]*StorageVolume, error) {
	volumes, err := d.conn.ListVolumes()
	d.observe("list_volumes", err)
	return volumes, err
}

func (d *GenericDriver) CreateVolume(opts VolumeOptions) (*StorageVolume, error) {
	volume, err := d.conn.CreateVolume(opts)
	d.observe("create_volume", err)
	return volume, err
}

func (d *GenericDriver) DestroyVolume(volume *StorageVolume) (bool, error) {
	ok, err := d.conn.DestroyVolume(volume)
	d.observe("destroy_volume", err)
	return ok, err
}

func (d *GenericDriver) AttachVolume(node *Node, volume *StorageVolume, device string) (bool, error) {
	ok, err := d.conn.AttachVolume(node, volume, device)
	d.observe("attach_volume", err)
	return ok, err
}

func (d *GenericDriver) DetachVolume(volume *StorageVolume) (bool, error) {
	ok, err := d.conn.DetachVolume(volume)
	d.observe("detach_volume", err)
	return ok, err
}

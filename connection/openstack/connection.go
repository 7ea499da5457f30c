// Package openstack implements cloud.OpenStackConnection on top of
// gophercloud.
package openstack

import (
	"context"
	"sort"
	"sync"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/availabilityzones"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/floatingips"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/hypervisors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/startstop"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/suspendresume"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/volumeattach"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/images"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	imageservice "github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloud"
)

// A Deployer runs a deployment plan on a host. *sshdeploy.Runner is one.
type Deployer interface {
	Run(ctx context.Context, nodeID, host string, opts cloud.DeployOptions) error
}

// Options configure connections beyond what's in the identity.
type Options struct {
	// FloatingIPPool is the pool ExAddFloatingIP allocates from.
	FloatingIPPool string
	Deployer       Deployer
	Context        context.Context
}

// Connection is a cloud.OpenStackConnection. It keeps one compute client and
// one block storage client, each bound to its own region. The image client
// follows the compute region.
type Connection struct {
	provider *gophercloud.ProviderClient
	opts     Options

	mutex   sync.Mutex
	region  string
	compute *gophercloud.ServiceClient
	volume  *gophercloud.ServiceClient
	image   *gophercloud.ServiceClient
	err     error
}

var _ cloud.OpenStackConnection = &Connection{}

// Dialer returns a cloud.OpenStackProvider dialer authenticating against the
// identity's auth URL.
func Dialer(opts Options) func(*cloud.OpenStackIdentity) (cloud.OpenStackConnection, error) {
	return func(identity *cloud.OpenStackIdentity) (cloud.OpenStackConnection, error) {
		provider, err := openstack.AuthenticatedClient(gophercloud.AuthOptions{
			IdentityEndpoint: identity.AuthURL,
			Username:         identity.Key,
			Password:         identity.Secret,
			TenantName:       identity.TenantName,
			DomainName:       identity.DomainName,
		})
		if err != nil {
			return nil, errors.Wrap(err, "authenticating")
		}

		return &Connection{provider: provider, opts: opts}, nil
	}
}

func newConnection(compute, volume, image *gophercloud.ServiceClient, opts Options) *Connection {
	return &Connection{compute: compute, volume: volume, image: image, opts: opts}
}

func (c *Connection) ctx() context.Context {
	if c.opts.Context == nil {
		return context.Background()
	}
	return c.opts.Context
}

// ForceServiceRegion binds the compute client to region.
func (c *Connection) ForceServiceRegion(region string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	compute, err := openstack.NewComputeV2(c.provider, gophercloud.EndpointOpts{Region: region})
	if err != nil {
		c.err = errors.Wrapf(err, "finding compute endpoint in region %q", region)
		return
	}
	c.compute = compute
	c.region = region
	c.image = nil
}

// SetServiceRegion binds the block storage client to region.
func (c *Connection) SetServiceRegion(region string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	volume, err := openstack.NewBlockStorageV3(c.provider, gophercloud.EndpointOpts{Region: region})
	if err != nil {
		c.err = errors.Wrapf(err, "finding block storage endpoint in region %q", region)
		return
	}
	c.volume = volume
}

func (c *Connection) computeClient() (*gophercloud.ServiceClient, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if c.compute == nil {
		compute, err := openstack.NewComputeV2(c.provider, gophercloud.EndpointOpts{})
		if err != nil {
			return nil, errors.Wrap(err, "finding compute endpoint")
		}
		c.compute = compute
	}
	return c.compute, nil
}

func (c *Connection) volumeClient() (*gophercloud.ServiceClient, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if c.volume == nil {
		volume, err := openstack.NewBlockStorageV3(c.provider, gophercloud.EndpointOpts{})
		if err != nil {
			return nil, errors.Wrap(err, "finding block storage endpoint")
		}
		c.volume = volume
	}
	return c.volume, nil
}

func (c *Connection) imageClient() (*gophercloud.ServiceClient, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if c.image == nil {
		image, err := openstack.NewImageServiceV2(c.provider, gophercloud.EndpointOpts{Region: c.region})
		if err != nil {
			return nil, errors.Wrap(err, "finding image endpoint")
		}
		c.image = image
	}
	return c.image, nil
}

func (c *Connection) listServers(opts servers.ListOpts) ([]*cloud.Node, error) {
	client, err := c.computeClient()
	if err != nil {
		return nil, err
	}

	pages, err := servers.List(client, opts).AllPages()
	if err != nil {
		return nil, errors.Wrap(err, "listing servers")
	}
	var list []server
	if err := servers.ExtractServersInto(pages, &list); err != nil {
		return nil, errors.Wrap(err, "decoding servers")
	}

	nodes := make([]*cloud.Node, 0, len(list))
	for i := range list {
		nodes = append(nodes, serverToNode(&list[i]))
	}
	return nodes, nil
}

func (c *Connection) getServer(id string) (*cloud.Node, error) {
	client, err := c.computeClient()
	if err != nil {
		return nil, err
	}

	var s server
	if err := servers.Get(client, id).ExtractInto(&s); err != nil {
		return nil, errors.Wrapf(err, "getting server %s", id)
	}
	return serverToNode(&s), nil
}

func (c *Connection) ListNodes() ([]*cloud.Node, error) {
	return c.listServers(servers.ListOpts{})
}

// ExListAllInstances lists the servers of all tenants.
func (c *Connection) ExListAllInstances() ([]*cloud.Node, error) {
	return c.listServers(servers.ListOpts{AllTenants: true})
}

func (c *Connection) ListImages() ([]*cloud.NodeImage, error) {
	client, err := c.computeClient()
	if err != nil {
		return nil, err
	}

	pages, err := images.ListDetail(client, images.ListOpts{}).AllPages()
	if err != nil {
		return nil, errors.Wrap(err, "listing images")
	}
	list, err := images.ExtractImages(pages)
	if err != nil {
		return nil, errors.Wrap(err, "decoding images")
	}

	result := make([]*cloud.NodeImage, 0, len(list))
	for i := range list {
		result = append(result, imageToNodeImage(&list[i]))
	}
	return result, nil
}

func (c *Connection) ListSizes() ([]*cloud.NodeSize, error) {
	client, err := c.computeClient()
	if err != nil {
		return nil, err
	}

	pages, err := flavors.ListDetail(client, flavors.ListOpts{}).AllPages()
	if err != nil {
		return nil, errors.Wrap(err, "listing flavors")
	}
	list, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return nil, errors.Wrap(err, "decoding flavors")
	}

	result := make([]*cloud.NodeSize, 0, len(list))
	for i := range list {
		result = append(result, flavorToNodeSize(&list[i]))
	}
	return result, nil
}

func (c *Connection) ListLocations() ([]*cloud.NodeLocation, error) {
	client, err := c.computeClient()
	if err != nil {
		return nil, err
	}

	pages, err := availabilityzones.List(client).AllPages()
	if err != nil {
		return nil, errors.Wrap(err, "listing availability zones")
	}
	zones, err := availabilityzones.ExtractAvailabilityZones(pages)
	if err != nil {
		return nil, errors.Wrap(err, "decoding availability zones")
	}

	var result []*cloud.NodeLocation
	for _, zone := range zones {
		if !zone.ZoneState.Available {
			continue
		}
		result = append(result, &cloud.NodeLocation{ID: zone.ZoneName, Name: zone.ZoneName})
	}
	return result, nil
}

func (c *Connection) CreateNode(opts cloud.CreateOptions) (*cloud.Node, error) {
	client, err := c.computeClient()
	if err != nil {
		return nil, err
	}

	serverOpts := servers.CreateOpts{
		Name:             opts.Name,
		ImageRef:         opts.ImageID,
		FlavorRef:        opts.SizeID,
		AvailabilityZone: opts.LocationID,
		Metadata:         opts.Metadata,
	}
	if opts.UserData != "" {
		serverOpts.UserData = []byte(opts.UserData)
	}
	if len(opts.Networks) > 0 {
		var networks []servers.Network
		for _, id := range opts.Networks {
			networks = append(networks, servers.Network{UUID: id})
		}
		serverOpts.Networks = networks
	}

	var createOpts servers.CreateOptsBuilder = serverOpts
	if opts.KeyName != "" {
		createOpts = keypairs.CreateOptsExt{CreateOptsBuilder: createOpts, KeyName: opts.KeyName}
	}

	var s server
	if err := servers.Create(client, createOpts).ExtractInto(&s); err != nil {
		return nil, errors.Wrap(err, "creating server")
	}

	cbcontext.LoggerFromContext(c.ctx()).WithFields(logrus.Fields{
		"node_id":  s.ID,
		"image_id": opts.ImageID,
	}).Info("created server")

	return serverToNode(&s), nil
}

// DeployNode creates a server, waits for it to become active and deploys
// opts.Plan to it. Failing to become active within opts.Timeout is a
// deployment failure.
func (c *Connection) DeployNode(opts cloud.DeployOptions) (*cloud.Node, error) {
	node, err := c.CreateNode(opts.CreateOptions)
	if err != nil {
		return nil, err
	}

	client, err := c.computeClient()
	if err != nil {
		return nil, err
	}
	secs := int(opts.Timeout.Seconds())
	if secs <= 0 {
		secs = int(cloud.DefaultOpenStackTimeout.Seconds())
	}
	if err := servers.WaitForStatus(client, node.ID, "ACTIVE", secs); err != nil {
		return nil, &cloud.DeploymentError{NodeID: node.ID, Step: "wait_until_running", Err: err}
	}

	node, err = c.getServer(node.ID)
	if err != nil {
		return nil, err
	}
	if err := c.ExDeployToNode(node, opts); err != nil {
		return nil, err
	}
	return node, nil
}

// ExDeployToNode runs opts.Plan on the node's first public address, falling
// back to its first private one.
func (c *Connection) ExDeployToNode(node *cloud.Node, opts cloud.DeployOptions) error {
	if node == nil {
		return errors.Wrap(cloud.ErrMissingArgument, "node")
	}
	if c.opts.Deployer == nil {
		return errors.New("connection has no deployer")
	}

	var host string
	switch {
	case len(node.PublicIPs) > 0:
		host = node.PublicIPs[0]
	case len(node.PrivateIPs) > 0:
		host = node.PrivateIPs[0]
	default:
		return &cloud.DeploymentError{NodeID: node.ID, Err: errors.New("node has no IP address")}
	}

	return c.opts.Deployer.Run(c.ctx(), node.ID, host, opts)
}

func (c *Connection) RebootNode(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "rebooting server", func(client *gophercloud.ServiceClient) error {
		return servers.Reboot(client, node.ID, servers.RebootOpts{Type: servers.SoftReboot}).ExtractErr()
	})
}

func (c *Connection) DestroyNode(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "deleting server", func(client *gophercloud.ServiceClient) error {
		return servers.Delete(client, node.ID).ExtractErr()
	})
}

func (c *Connection) ExStartNode(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "starting server", func(client *gophercloud.ServiceClient) error {
		return startstop.Start(client, node.ID).ExtractErr()
	})
}

func (c *Connection) ExStopNode(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "stopping server", func(client *gophercloud.ServiceClient) error {
		return startstop.Stop(client, node.ID).ExtractErr()
	})
}

func (c *Connection) ExSuspendNode(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "suspending server", func(client *gophercloud.ServiceClient) error {
		return suspendresume.Suspend(client, node.ID).ExtractErr()
	})
}

func (c *Connection) ExResumeNode(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "resuming server", func(client *gophercloud.ServiceClient) error {
		return suspendresume.Resume(client, node.ID).ExtractErr()
	})
}

func (c *Connection) ExResize(node *cloud.Node, size *cloud.NodeSize) (bool, error) {
	if size == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "size")
	}
	return c.serverAction(node, "resizing server", func(client *gophercloud.ServiceClient) error {
		return servers.Resize(client, node.ID, servers.ResizeOpts{FlavorRef: size.ID}).ExtractErr()
	})
}

func (c *Connection) ExConfirmResize(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "confirming resize", func(client *gophercloud.ServiceClient) error {
		return servers.ConfirmResize(client, node.ID).ExtractErr()
	})
}

func (c *Connection) ExRevertResize(node *cloud.Node) (bool, error) {
	return c.serverAction(node, "reverting resize", func(client *gophercloud.ServiceClient) error {
		return servers.RevertResize(client, node.ID).ExtractErr()
	})
}

func (c *Connection) serverAction(node *cloud.Node, what string, action func(*gophercloud.ServiceClient) error) (bool, error) {
	if node == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "node")
	}
	client, err := c.computeClient()
	if err != nil {
		return false, err
	}

	if err := action(client); err != nil {
		return false, errors.Wrapf(err, "%s %s", what, node.ID)
	}
	return true, nil
}

// ExAddFloatingIP allocates an address from the configured pool and
// associates it with the node.
func (c *Connection) ExAddFloatingIP(node *cloud.Node) (string, error) {
	if node == nil {
		return "", errors.Wrap(cloud.ErrMissingArgument, "node")
	}
	client, err := c.computeClient()
	if err != nil {
		return "", err
	}

	fip, err := floatingips.Create(client, floatingips.CreateOpts{Pool: c.opts.FloatingIPPool}).Extract()
	if err != nil {
		return "", errors.Wrap(err, "allocating floating ip")
	}

	err = floatingips.AssociateInstance(client, node.ID, floatingips.AssociateOpts{FloatingIP: fip.IP}).ExtractErr()
	if err != nil {
		return "", errors.Wrapf(err, "associating floating ip %s with %s", fip.IP, node.ID)
	}

	return fip.IP, nil
}

// ExCleanFloatingIPs releases every floating IP that isn't associated with
// a server.
func (c *Connection) ExCleanFloatingIPs() (bool, error) {
	client, err := c.computeClient()
	if err != nil {
		return false, err
	}

	pages, err := floatingips.List(client).AllPages()
	if err != nil {
		return false, errors.Wrap(err, "listing floating ips")
	}
	fips, err := floatingips.ExtractFloatingIPs(pages)
	if err != nil {
		return false, errors.Wrap(err, "decoding floating ips")
	}

	for _, fip := range fips {
		if fip.InstanceID != "" {
			continue
		}
		if err := floatingips.Delete(client, fip.ID).ExtractErr(); err != nil {
			return false, errors.Wrapf(err, "releasing floating ip %s", fip.IP)
		}
		cbcontext.LoggerFromContext(c.ctx()).WithField("ip", fip.IP).Info("released floating ip")
	}
	return true, nil
}

func (c *Connection) ExHypervisorStatistics() (cloud.HypervisorStatistics, error) {
	client, err := c.computeClient()
	if err != nil {
		return cloud.HypervisorStatistics{}, err
	}

	stats, err := hypervisors.GetStatistics(client).Extract()
	if err != nil {
		return cloud.HypervisorStatistics{}, errors.Wrap(err, "getting hypervisor statistics")
	}

	return cloud.HypervisorStatistics{
		VCPUs:    stats.VCPUs,
		MemoryMB: stats.MemoryMB,
		LocalGB:  stats.LocalGB,
	}, nil
}

func (c *Connection) getImage(image *cloud.NodeImage) (*gophercloud.ServiceClient, *imageservice.Image, error) {
	if image == nil {
		return nil, nil, errors.Wrap(cloud.ErrMissingArgument, "image")
	}
	client, err := c.imageClient()
	if err != nil {
		return nil, nil, err
	}

	result, err := imageservice.Get(client, image.ID).Extract()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "getting image %s", image.ID)
	}
	return client, result, nil
}

// ExGetImageMetadata returns the string properties of the image.
func (c *Connection) ExGetImageMetadata(image *cloud.NodeImage) (map[string]string, error) {
	_, result, err := c.getImage(image)
	if err != nil {
		return nil, err
	}

	metadata := map[string]string{}
	for key, value := range result.Properties {
		if s, ok := value.(string); ok {
			metadata[key] = s
		}
	}
	return metadata, nil
}

func (c *Connection) ExSetImageMetadata(image *cloud.NodeImage, metadata map[string]string) error {
	client, result, err := c.getImage(image)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var patch imageservice.UpdateOpts
	for _, key := range keys {
		op := imageservice.AddOp
		if _, ok := result.Properties[key]; ok {
			op = imageservice.ReplaceOp
		}
		patch = append(patch, imageservice.UpdateImageProperty{Op: op, Name: key, Value: metadata[key]})
	}
	if len(patch) == 0 {
		return nil
	}

	if _, err := imageservice.Update(client, image.ID, patch).Extract(); err != nil {
		return errors.Wrapf(err, "updating metadata of image %s", image.ID)
	}
	return nil
}

func (c *Connection) ExDeleteImageMetadata(image *cloud.NodeImage, key string) error {
	if image == nil {
		return errors.Wrap(cloud.ErrMissingArgument, "image")
	}
	client, err := c.imageClient()
	if err != nil {
		return err
	}

	patch := imageservice.UpdateOpts{imageservice.UpdateImageProperty{Op: imageservice.RemoveOp, Name: key}}
	if _, err := imageservice.Update(client, image.ID, patch).Extract(); err != nil {
		return errors.Wrapf(err, "removing %q from metadata of image %s", key, image.ID)
	}
	return nil
}

func (c *Connection) ListVolumes() ([]*cloud.StorageVolume, error) {
	client, err := c.volumeClient()
	if err != nil {
		return nil, err
	}

	pages, err := volumes.List(client, volumes.ListOpts{}).AllPages()
	if err != nil {
		return nil, errors.Wrap(err, "listing volumes")
	}
	list, err := volumes.ExtractVolumes(pages)
	if err != nil {
		return nil, errors.Wrap(err, "decoding volumes")
	}

	result := make([]*cloud.StorageVolume, 0, len(list))
	for i := range list {
		result = append(result, volumeToStorageVolume(&list[i]))
	}
	return result, nil
}

func (c *Connection) CreateVolume(opts cloud.VolumeOptions) (*cloud.StorageVolume, error) {
	client, err := c.volumeClient()
	if err != nil {
		return nil, err
	}

	v, err := volumes.Create(client, volumes.CreateOpts{
		Name:             opts.Name,
		Size:             opts.Size,
		AvailabilityZone: opts.LocationID,
		SnapshotID:       opts.SnapshotID,
		Description:      opts.Description,
	}).Extract()
	if err != nil {
		return nil, errors.Wrap(err, "creating volume")
	}
	return volumeToStorageVolume(v), nil
}

func (c *Connection) DestroyVolume(volume *cloud.StorageVolume) (bool, error) {
	if volume == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "volume")
	}
	client, err := c.volumeClient()
	if err != nil {
		return false, err
	}

	if err := volumes.Delete(client, volume.ID, volumes.DeleteOpts{}).ExtractErr(); err != nil {
		return false, errors.Wrapf(err, "deleting volume %s", volume.ID)
	}
	return true, nil
}

func (c *Connection) AttachVolume(node *cloud.Node, volume *cloud.StorageVolume, device string) (bool, error) {
	if volume == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "volume")
	}
	return c.serverAction(node, "attaching volume to", func(client *gophercloud.ServiceClient) error {
		_, err := volumeattach.Create(client, node.ID, volumeattach.CreateOpts{
			Device:   device,
			VolumeID: volume.ID,
		}).Extract()
		return err
	})
}

// DetachVolume detaches the volume from the server recorded in its
// ExtraAttachedTo field.
func (c *Connection) DetachVolume(volume *cloud.StorageVolume) (bool, error) {
	if volume == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "volume")
	}
	serverID, _ := volume.Extra[cloud.ExtraAttachedTo].(string)
	if serverID == "" {
		return false, errors.Errorf("volume %s is not attached", volume.ID)
	}

	return c.serverAction(&cloud.Node{ID: serverID}, "detaching volume from", func(client *gophercloud.ServiceClient) error {
		return volumeattach.Delete(client, serverID, volume.ID).ExtractErr()
	})
}

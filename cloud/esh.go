package cloud

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
)

// EshDriver converts the raw results of a GenericDriver into domain objects
// using the provider's Converters. It is the base the OpenStack, AWS and
// Eucalyptus drivers are built on.
type EshDriver struct {
	Unsupported

	generic  *GenericDriver
	convert  Converters
	ctx      context.Context
	username UsernameResolver
}

var _ Driver = &EshDriver{}

// variantCheck reports whether a provider and identity belong to the cloud a
// driver is written for.
type variantCheck func(Provider, Identity) bool

func newEshDriver(provider Provider, identity Identity, accepts variantCheck, opts []DriverOption) (*EshDriver, error) {
	if provider == nil || identity == nil {
		return nil, fmt.Errorf("%w: driver needs both a provider and an identity", ErrMissingArgument)
	}
	if !accepts(provider, identity) {
		return nil, fmt.Errorf("%w: got %T and %T", ErrWrongVariant, provider, identity)
	}

	generic, err := NewGenericDriver(provider, identity)
	if err != nil {
		return nil, err
	}

	o := buildDriverOptions(opts)
	return &EshDriver{
		generic:  generic,
		convert:  provider.Converters(),
		ctx:      o.ctx,
		username: o.username,
	}, nil
}

// Provider returns the provider the driver was constructed with.
func (d *EshDriver) Provider() Provider { return d.generic.Provider() }

// Identity returns the identity the driver was constructed with.
func (d *EshDriver) Identity() Identity { return d.generic.Identity() }

// Connection returns the connection opened at construction.
func (d *EshDriver) Connection() Connection { return d.generic.Connection() }

// Generic returns the underlying pass-through driver.
func (d *EshDriver) Generic() *GenericDriver { return d.generic }

func (d *EshDriver) logger() *logrus.Entry {
	return cbcontext.LoggerFromContext(d.ctx).WithField("provider", d.Provider().Name())
}

// ListInstances returns the provider's nodes as Instances.
func (d *EshDriver) ListInstances() ([]*Instance, error) {
	nodes, err := d.generic.ListInstances()
	if err != nil {
		return nil, err
	}
	return d.instances(nodes), nil
}

func (d *EshDriver) instances(nodes []*Node) []*Instance {
	instances := make([]*Instance, 0, len(nodes))
	for _, node := range nodes {
		instances = append(instances, d.convert.instance(node))
	}
	return instances
}

// ListMachines returns the provider's images as Machines.
func (d *EshDriver) ListMachines() ([]*Machine, error) {
	images, err := d.generic.ListMachines()
	if err != nil {
		return nil, err
	}

	machines := make([]*Machine, 0, len(images))
	for _, image := range images {
		machines = append(machines, d.convert.machine(image))
	}
	return machines, nil
}

// ListSizes returns the provider's flavors as Sizes.
func (d *EshDriver) ListSizes() ([]*Size, error) {
	nodeSizes, err := d.generic.ListSizes()
	if err != nil {
		return nil, err
	}

	sizes := make([]*Size, 0, len(nodeSizes))
	for _, size := range nodeSizes {
		sizes = append(sizes, d.convert.size(size))
	}
	return sizes, nil
}

func (d *EshDriver) ListLocations() ([]*NodeLocation, error) {
	return d.generic.ListLocations()
}

// CreateInstance creates a node and returns it as an Instance.
func (d *EshDriver) CreateInstance(opts CreateOptions) (*Instance, error) {
	d.logger().WithFields(logrus.Fields{
		"name":     opts.Name,
		"image_id": opts.ImageID,
		"size_id":  opts.SizeID,
	}).Debug("creating instance")

	node, err := d.generic.CreateInstance(opts)
	if err != nil {
		return nil, err
	}
	return d.convert.instance(node), nil
}

// DeployInstance creates a node, runs the deployment plan on it and returns
// it as an Instance. Deployment errors are returned as-is.
func (d *EshDriver) DeployInstance(opts DeployOptions) (*Instance, bool, error) {
	node, err := d.generic.DeployInstance(opts)
	if err != nil {
		return nil, false, err
	}
	return d.convert.instance(node), true, nil
}

func (d *EshDriver) RebootInstance(inst *Instance) (bool, error) {
	return d.generic.RebootInstance(inst.Node())
}

func (d *EshDriver) DestroyInstance(inst *Instance) (bool, error) {
	return d.generic.DestroyInstance(inst.Node())
}

// ListVolumes returns the provider's volumes as Volumes.
func (d *EshDriver) ListVolumes() ([]*Volume, error) {
	storageVolumes, err := d.generic.ListVolumes()
	if err != nil {
		return nil, err
	}

	volumes := make([]*Volume, 0, len(storageVolumes))
	for _, volume := range storageVolumes {
		volumes = append(volumes, d.convert.volume(volume))
	}
	return volumes, nil
}

func (d *EshDriver) CreateVolume(opts VolumeOptions) (*Volume, error) {
	volume, err := d.generic.CreateVolume(opts)
	if err != nil {
		return nil, err
	}
	return d.convert.volume(volume), nil
}

func (d *EshDriver) DestroyVolume(volume *Volume) (bool, error) {
	return d.generic.DestroyVolume(volume.StorageVolume())
}

func (d *EshDriver) AttachVolume(inst *Instance, volume *Volume, device string) (bool, error) {
	return d.generic.AttachVolume(inst.Node(), volume.StorageVolume(), device)
}

func (d *EshDriver) DetachVolume(volume *Volume) (bool, error) {
	return d.generic.DetachVolume(volume.StorageVolume())
}

// FilterMachines keeps the machines that don't match any word in blackList.
// See MatchesAny for what is matched.
func (d *EshDriver) FilterMachines(machines []*Machine, blackList ...string) []*Machine {
	return keepMachines(machines, func(m *Machine) bool {
		return !MatchesAny(m, blackList)
	})
}

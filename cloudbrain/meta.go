package cloudbrain

import (
	"context"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloud"
)

type allInstancesLister interface {
	ListAllInstances() ([]*cloud.Instance, error)
}

type hypervisorStatistician interface {
	HypervisorStatistics() (cloud.HypervisorStatistics, error)
}

type activeChecker interface {
	IsActiveInstance(inst *cloud.Instance) bool
}

type imageMetadataEditor interface {
	ImageMetadata(m *cloud.Machine) (map[string]string, error)
	SetImageMetadata(m *cloud.Machine, metadata map[string]string) error
	DeleteImageMetadata(m *cloud.Machine, key string) error
}

// deployedKey marks images the init agent has been deployed with.
const deployedKey = "deployed"

// Meta runs administrative operations over everything a driver can see. The
// driver is expected to hold admin credentials.
type Meta struct {
	ctx    context.Context
	driver cloud.Driver
}

func NewMeta(ctx context.Context, driver cloud.Driver) *Meta {
	return &Meta{ctx: ctx, driver: driver}
}

// Driver returns the driver the meta operations run on.
func (m *Meta) Driver() cloud.Driver {
	return m.driver
}

// AllInstances returns the instances of every tenant when the driver can
// list them, and the driver's own instances otherwise.
func (m *Meta) AllInstances() ([]*cloud.Instance, error) {
	if lister, ok := m.driver.(allInstancesLister); ok {
		return lister.ListAllInstances()
	}
	return m.driver.ListInstances()
}

// Occupancy returns the driver's sizes with Occupancy filled in: how many
// instances of the size the cloud's hypervisors fit in total, and how many
// more fit given the instances of that size already running. Eucalyptus
// sizes are returned without occupancy. Other clouds return
// cloud.ErrNotImplemented.
func (m *Meta) Occupancy() ([]*cloud.Size, error) {
	if _, ok := m.driver.(*cloud.EucaDriver); ok {
		return m.driver.ListSizes()
	}

	statistician, ok := m.driver.(hypervisorStatistician)
	if !ok {
		return nil, cloud.ErrNotImplemented
	}

	stats, err := statistician.HypervisorStatistics()
	if err != nil {
		return nil, err
	}
	instances, err := m.AllInstances()
	if err != nil {
		return nil, err
	}
	sizes, err := m.driver.ListSizes()
	if err != nil {
		return nil, err
	}

	running := make(map[string]int)
	for _, inst := range instances {
		if flavorID, ok := inst.Extra()[cloud.ExtraFlavorID].(string); ok {
			running[flavorID]++
		}
	}

	for _, size := range sizes {
		total := smallest(
			fits(stats.VCPUs, size.CPU),
			fits(stats.MemoryMB, size.RAM),
			fits(stats.LocalGB, size.Disk),
		)
		size.Occupancy = &cloud.Occupancy{
			Total:     total,
			Remaining: total - running[size.ID],
		}
	}

	return sizes, nil
}

func fits(capacity, need int) int {
	if need <= 0 {
		return math.MaxInt32
	}
	return capacity / need
}

func smallest(values ...int) int {
	result := values[0]
	for _, v := range values[1:] {
		if v < result {
			result = v
		}
	}
	return result
}

// StopAllInstances stops every active instance, or destroys every instance
// when destroy is true. It carries on past failures and returns them all
// together.
func (m *Meta) StopAllInstances(destroy bool) error {
	instances, err := m.AllInstances()
	if err != nil {
		return err
	}

	var result error
	for _, inst := range instances {
		logger := cbcontext.LoggerFromContext(m.ctx).WithFields(logrus.Fields{
			"instance_id": inst.ID,
			"status":      inst.Status,
		})

		if destroy {
			if _, err := m.driver.DestroyInstance(inst); err != nil {
				logger.WithField("err", err).Error("couldn't destroy instance")
				result = multierror.Append(result, err)
				continue
			}
			logger.Debug("destroyed instance")
			continue
		}

		if inst.Status != "active" {
			continue
		}
		if _, err := m.driver.StopInstance(inst); err != nil {
			logger.WithField("err", err).Error("couldn't stop instance")
			result = multierror.Append(result, err)
			continue
		}
		logger.Debug("stopped instance")
	}

	return result
}

// DestroyAllInstances destroys every instance.
func (m *Meta) DestroyAllInstances() error {
	return m.StopAllInstances(true)
}

// TestLinks returns the driver's instances that are active or on their way
// to becoming active.
func (m *Meta) TestLinks() ([]*cloud.Instance, error) {
	instances, err := m.driver.ListInstances()
	if err != nil {
		return nil, err
	}

	isActive := cloud.IsActiveInstance
	if checker, ok := m.driver.(activeChecker); ok {
		isActive = checker.IsActiveInstance
	}

	active := make([]*cloud.Instance, 0, len(instances))
	for _, inst := range instances {
		if isActive(inst) {
			active = append(active, inst)
		}
	}
	return active, nil
}

func (m *Meta) imageMetadataEditor() (imageMetadataEditor, error) {
	editor, ok := m.driver.(imageMetadataEditor)
	if !ok {
		return nil, fmt.Errorf("%w: %T can't edit image metadata", cloud.ErrNotImplemented, m.driver)
	}
	return editor, nil
}

// AddMetadataDeployed sets "deployed" to "True" in the metadata of the
// machine's image.
func (m *Meta) AddMetadataDeployed(machine *cloud.Machine) error {
	editor, err := m.imageMetadataEditor()
	if err != nil {
		return err
	}

	metadata, err := editor.ImageMetadata(machine)
	if err != nil {
		return err
	}
	metadata[deployedKey] = "True"
	return editor.SetImageMetadata(machine, metadata)
}

// RemoveMetadataDeployed removes "deployed" from the metadata of the
// machine's image. Images without the key are left alone.
func (m *Meta) RemoveMetadataDeployed(machine *cloud.Machine) error {
	editor, err := m.imageMetadataEditor()
	if err != nil {
		return err
	}

	metadata, err := editor.ImageMetadata(machine)
	if err != nil {
		return err
	}
	if metadata[deployedKey] == "" {
		return nil
	}

	cbcontext.LoggerFromContext(m.ctx).WithField("machine_id", machine.ID).Info("removing deployed metadata")
	return editor.DeleteImageMetadata(machine, deployedKey)
}

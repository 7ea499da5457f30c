package cloud

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
)

// OpenStackDriver is the driver for OpenStack clouds. Unlike the other
// drivers it supports start, stop, suspend, resume and resize, and it can
// deploy to instances that already exist.
type OpenStackDriver struct {
	*EshDriver

	conn OpenStackConnection
	cfg  DeployConfig
}

var _ Driver = &OpenStackDriver{}

// NewOpenStackDriver returns a driver for an *OpenStackProvider and
// *OpenStackIdentity. The connection's region is pinned to cfg.Region.
func NewOpenStackDriver(provider Provider, identity Identity, cfg DeployConfig, opts ...DriverOption) (*OpenStackDriver, error) {
	esh, err := newEshDriver(provider, identity, func(p Provider, i Identity) bool {
		_, providerOK := p.(*OpenStackProvider)
		_, identityOK := i.(*OpenStackIdentity)
		return providerOK && identityOK
	}, opts)
	if err != nil {
		return nil, err
	}

	conn, ok := esh.Connection().(OpenStackConnection)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not an OpenStack connection", ErrWrongVariant, esh.Connection())
	}

	cfg = cfg.withDefaults()
	conn.ForceServiceRegion(cfg.Region)
	conn.SetServiceRegion(cfg.Region)

	return &OpenStackDriver{
		EshDriver: esh,
		conn:      conn,
		cfg:       cfg,
	}, nil
}

func (d *OpenStackDriver) observe(operation string, err error) {
	observeCall(d.Provider().Name(), operation, err)
}

// DeployInitTo prepares an existing instance and calls the init agent on it.
// The token passed to the agent defaults to the instance ID.
func (d *OpenStackDriver) DeployInitTo(inst *Instance, opts DeployOptions) (bool, error) {
	if inst == nil || inst.Node() == nil {
		return false, fmt.Errorf("%w: instance", ErrMissingArgument)
	}

	token := opts.Token
	if token == "" {
		token = inst.ID
	}
	opts.Plan = d.cfg.InitPlan(d.username(d.Identity()), token)

	if opts.SSHKey == "" {
		opts.SSHKey = d.cfg.SSHKeyPath
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Duration(d.cfg.OpenStackTimeout)
	}

	return d.DeployTo(inst, opts)
}

// DeployTo runs opts.Plan on an existing instance, blocking until it's done.
// Deployment errors are returned to the caller.
func (d *OpenStackDriver) DeployTo(inst *Instance, opts DeployOptions) (bool, error) {
	if inst == nil || inst.Node() == nil {
		return false, fmt.Errorf("%w: instance", ErrMissingArgument)
	}
	if opts.Plan == nil {
		return false, fmt.Errorf("%w: deployment plan", ErrMissingArgument)
	}
	if err := opts.Plan.Validate(); err != nil {
		return false, err
	}
	if opts.SSHKey == "" {
		opts.SSHKey = d.cfg.SSHKeyPath
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Duration(d.cfg.OpenStackTimeout)
	}

	d.logger().WithFields(logrus.Fields{
		"instance_id": inst.ID,
		"steps":       len(opts.Plan.Steps),
	}).Info("attempting deployment to node")

	err := d.conn.ExDeployToNode(inst.Node(), opts)
	d.observe("ex_deploy_to_node", err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeployInstance creates an instance and runs opts.Plan on it, blocking until
// done. A failing deployment is logged and reported as ok == false with a
// nil error; other errors are returned.
func (d *OpenStackDriver) DeployInstance(opts DeployOptions) (*Instance, bool, error) {
	if opts.Plan == nil {
		return nil, false, fmt.Errorf("%w: deployment plan", ErrMissingArgument)
	}
	opts.SSHKey = d.cfg.SSHKeyPath
	opts.Timeout = time.Duration(d.cfg.OpenStackTimeout)

	inst, _, err := d.EshDriver.DeployInstance(opts)
	return recoverDeployment(d.EshDriver, inst, err)
}

// recoverDeployment turns a *DeploymentError into a logged ok == false.
func recoverDeployment(d *EshDriver, inst *Instance, err error) (*Instance, bool, error) {
	provider := d.Provider().Name()

	var deployErr *DeploymentError
	if errors.As(err, &deployErr) {
		d.logger().WithFields(logrus.Fields{
			"err":     err,
			"node_id": deployErr.NodeID,
			"step":    deployErr.Step,
		}).Error("deployment failed")
		cbcontext.CaptureError(d.ctx, err)
		deployments.WithLabelValues(provider, "failed").Inc()
		return nil, false, nil
	}
	if err != nil {
		deployments.WithLabelValues(provider, "error").Inc()
		return nil, false, err
	}

	deployments.WithLabelValues(provider, "ok").Inc()
	return inst, true, nil
}

func (d *OpenStackDriver) RebootInstance(inst *Instance) (bool, error) {
	ok, err := d.conn.RebootNode(inst.Node())
	d.observe("reboot_node", err)
	return ok, err
}

func (d *OpenStackDriver) StartInstance(inst *Instance) (bool, error) {
	ok, err := d.conn.ExStartNode(inst.Node())
	d.observe("ex_start_node", err)
	return ok, err
}

func (d *OpenStackDriver) StopInstance(inst *Instance) (bool, error) {
	ok, err := d.conn.ExStopNode(inst.Node())
	d.observe("ex_stop_node", err)
	return ok, err
}

func (d *OpenStackDriver) SuspendInstance(inst *Instance) (bool, error) {
	ok, err := d.conn.ExSuspendNode(inst.Node())
	d.observe("ex_suspend_node", err)
	return ok, err
}

func (d *OpenStackDriver) ResumeInstance(inst *Instance) (bool, error) {
	ok, err := d.conn.ExResumeNode(inst.Node())
	d.observe("ex_resume_node", err)
	return ok, err
}

func (d *OpenStackDriver) ResizeInstance(inst *Instance, size *Size) (bool, error) {
	ok, err := d.conn.ExResize(inst.Node(), size.NodeSize())
	d.observe("ex_resize", err)
	return ok, err
}

// ConfirmResizeInstance makes a pending resize permanent.
func (d *OpenStackDriver) ConfirmResizeInstance(inst *Instance) (bool, error) {
	ok, err := d.conn.ExConfirmResize(inst.Node())
	d.observe("ex_confirm_resize", err)
	return ok, err
}

// RevertResizeInstance rolls a pending resize back.
func (d *OpenStackDriver) RevertResizeInstance(inst *Instance) (bool, error) {
	ok, err := d.conn.ExRevertResize(inst.Node())
	d.observe("ex_revert_resize", err)
	return ok, err
}

// AddFloatingIP associates a new floating IP with the instance and returns it.
func (d *OpenStackDriver) AddFloatingIP(inst *Instance) (string, error) {
	ip, err := d.conn.ExAddFloatingIP(inst.Node())
	d.observe("ex_add_floating_ip", err)
	return ip, err
}

// CleanFloatingIPs releases the floating IPs no instance uses.
func (d *OpenStackDriver) CleanFloatingIPs() (bool, error) {
	ok, err := d.conn.ExCleanFloatingIPs()
	d.observe("ex_clean_floating_ip", err)
	return ok, err
}

// ListAllInstances returns the instances of every tenant. It needs admin
// credentials.
func (d *OpenStackDriver) ListAllInstances() ([]*Instance, error) {
	nodes, err := d.conn.ExListAllInstances()
	d.observe("ex_list_all_instances", err)
	if err != nil {
		return nil, err
	}
	return d.instances(nodes), nil
}

// HypervisorStatistics returns the totals of all hypervisors. It needs admin
// credentials.
func (d *OpenStackDriver) HypervisorStatistics() (HypervisorStatistics, error) {
	stats, err := d.conn.ExHypervisorStatistics()
	d.observe("ex_hypervisor_statistics", err)
	return stats, err
}

// ImageMetadata returns the metadata of the machine's image.
func (d *OpenStackDriver) ImageMetadata(m *Machine) (map[string]string, error) {
	if m.Image() == nil {
		return nil, fmt.Errorf("%w: machine", ErrMissingArgument)
	}
	metadata, err := d.conn.ExGetImageMetadata(m.Image())
	d.observe("ex_get_image_metadata", err)
	return metadata, err
}

// SetImageMetadata adds or replaces keys in the metadata of the machine's
// image.
func (d *OpenStackDriver) SetImageMetadata(m *Machine, metadata map[string]string) error {
	if m.Image() == nil {
		return fmt.Errorf("%w: machine", ErrMissingArgument)
	}
	err := d.conn.ExSetImageMetadata(m.Image(), metadata)
	d.observe("ex_set_image_metadata", err)
	return err
}

// DeleteImageMetadata removes key from the metadata of the machine's image.
func (d *OpenStackDriver) DeleteImageMetadata(m *Machine, key string) error {
	if m.Image() == nil {
		return fmt.Errorf("%w: machine", ErrMissingArgument)
	}
	err := d.conn.ExDeleteImageMetadata(m.Image(), key)
	d.observe("ex_delete_image_metadata", err)
	return err
}

// IsActiveInstance reports whether the instance is active or on its way to
// becoming active.
func (d *OpenStackDriver) IsActiveInstance(inst *Instance) bool {
	return IsActiveInstance(inst)
}

// IsActiveInstance reports whether an OpenStack instance is active and not
// being deleted or suspended, or is being built or resized and not being
// deleted.
func IsActiveInstance(inst *Instance) bool {
	if inst == nil {
		return false
	}

	switch inst.Status {
	case "active":
		return inst.Task != "deleting" && inst.Task != "suspending"
	case "build", "resize":
		return inst.Task != "deleting"
	}
	return false
}

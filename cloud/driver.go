package cloud

import (
	"context"
)

// InstanceLifecycle is the uniform set of instance operations every driver
// offers. StartInstance, StopInstance, ResumeInstance, SuspendInstance and
// ResizeInstance are optional: drivers for providers that lack them return
// ErrNotImplemented, usually by embedding Unsupported.
type InstanceLifecycle interface {
	ListInstances() ([]*Instance, error)
	ListMachines() ([]*Machine, error)
	ListSizes() ([]*Size, error)
	ListLocations() ([]*NodeLocation, error)

	CreateInstance(opts CreateOptions) (*Instance, error)
	// DeployInstance creates an instance and runs opts.Plan on it, blocking
	// until done. ok is false when the deployment failed in a way the driver
	// recovered from; see the individual drivers.
	DeployInstance(opts DeployOptions) (inst *Instance, ok bool, err error)
	RebootInstance(inst *Instance) (bool, error)
	DestroyInstance(inst *Instance) (bool, error)

	StartInstance(inst *Instance) (bool, error)
	StopInstance(inst *Instance) (bool, error)
	ResumeInstance(inst *Instance) (bool, error)
	SuspendInstance(inst *Instance) (bool, error)
	ResizeInstance(inst *Instance, size *Size) (bool, error)
}

// VolumeLifecycle is the set of block storage operations. It is separate
// from InstanceLifecycle so a driver can offer one without the other.
type VolumeLifecycle interface {
	ListVolumes() ([]*Volume, error)
	CreateVolume(opts VolumeOptions) (*Volume, error)
	DestroyVolume(volume *Volume) (bool, error)
	AttachVolume(inst *Instance, volume *Volume, device string) (bool, error)
	DetachVolume(volume *Volume) (bool, error)
}

// A Driver implements the uniform lifecycle interface for one provider.
type Driver interface {
	InstanceLifecycle
	VolumeLifecycle
}

// Unsupported implements the optional InstanceLifecycle operations by
// returning ErrNotImplemented.
type Unsupported struct{}

func (Unsupported) StartInstance(*Instance) (bool, error)         { return false, ErrNotImplemented }
func (Unsupported) StopInstance(*Instance) (bool, error)          { return false, ErrNotImplemented }
func (Unsupported) ResumeInstance(*Instance) (bool, error)        { return false, ErrNotImplemented }
func (Unsupported) SuspendInstance(*Instance) (bool, error)       { return false, ErrNotImplemented }
func (Unsupported) ResizeInstance(*Instance, *Size) (bool, error) { return false, ErrNotImplemented }

// A UsernameResolver picks the remote username passed to deployment scripts
// for an identity.
type UsernameResolver func(identity Identity) string

// IdentityUsername is the default UsernameResolver. It asks the identity's
// User for its name.
func IdentityUsername(identity Identity) string {
	if identity == nil || identity.User() == nil {
		return ""
	}
	return identity.User().Username()
}

// A DriverOption configures optional behaviour of a driver.
type DriverOption func(*driverOptions)

type driverOptions struct {
	ctx      context.Context
	username UsernameResolver
}

// WithContext sets the context used for the driver's logging and error
// reporting.
func WithContext(ctx context.Context) DriverOption {
	return func(o *driverOptions) {
		o.ctx = ctx
	}
}

// WithUsernameResolver overrides IdentityUsername.
func WithUsernameResolver(r UsernameResolver) DriverOption {
	return func(o *driverOptions) {
		o.username = r
	}
}

func buildDriverOptions(opts []DriverOption) driverOptions {
	o := driverOptions{
		ctx:      context.Background(),
		username: IdentityUsername,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

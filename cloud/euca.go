package cloud

// EucaDriver is the driver for Eucalyptus clouds. Eucalyptus can't deploy,
// start, stop, suspend or resume instances; those operations return
// ErrNotImplemented.
type EucaDriver struct {
	*EshDriver
}

var _ Driver = &EucaDriver{}

// NewEucaDriver returns a driver for an *EucaProvider and *EucaIdentity.
func NewEucaDriver(provider Provider, identity Identity, opts ...DriverOption) (*EucaDriver, error) {
	esh, err := newEshDriver(provider, identity, func(p Provider, i Identity) bool {
		_, providerOK := p.(*EucaProvider)
		_, identityOK := i.(*EucaIdentity)
		return providerOK && identityOK
	}, opts)
	if err != nil {
		return nil, err
	}

	return &EucaDriver{EshDriver: esh}, nil
}

func (d *EucaDriver) DeployInstance(DeployOptions) (*Instance, bool, error) {
	return nil, false, ErrNotImplemented
}

func (d *EucaDriver) StartInstance(*Instance) (bool, error)   { return false, ErrNotImplemented }
func (d *EucaDriver) StopInstance(*Instance) (bool, error)    { return false, ErrNotImplemented }
func (d *EucaDriver) ResumeInstance(*Instance) (bool, error)  { return false, ErrNotImplemented }
func (d *EucaDriver) SuspendInstance(*Instance) (bool, error) { return false, ErrNotImplemented }

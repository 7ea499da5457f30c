package cloud

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const ubuntuOwnerID = "099720109477"

var (
	awsBlackList    = []string{"bitnami", "kernel", "microsoft", "Windows"}
	awsAliasPrefix  = []string{"aki-", "ari-"}
	awsOwnerAliases = []string{"amazon", "aws-marketplace"}
)

// AWSDriver is the driver for Amazon EC2.
type AWSDriver struct {
	*EshDriver

	cfg DeployConfig
}

var _ Driver = &AWSDriver{}

// NewAWSDriver returns a driver for an *AWSProvider and *AWSIdentity.
func NewAWSDriver(provider Provider, identity Identity, cfg DeployConfig, opts ...DriverOption) (*AWSDriver, error) {
	esh, err := newEshDriver(provider, identity, func(p Provider, i Identity) bool {
		_, providerOK := p.(*AWSProvider)
		_, identityOK := i.(*AWSIdentity)
		return providerOK && identityOK
	}, opts)
	if err != nil {
		return nil, err
	}

	return &AWSDriver{
		EshDriver: esh,
		cfg:       cfg.withDefaults(),
	}, nil
}

// DeployInstance boots an Ubuntu instance and installs and calls the init
// agent on it, blocking until done. opts.Plan must be set but is replaced by
// the agent plan. A failing deployment is logged and reported as
// ok == false with a nil error. If the instance's creation time can't be
// parsed the instance is returned together with the error.
func (d *AWSDriver) DeployInstance(opts DeployOptions) (*Instance, bool, error) {
	if opts.Plan == nil {
		return nil, false, fmt.Errorf("%w: deployment plan", ErrMissingArgument)
	}

	opts.Plan = d.cfg.AWSPlan(d.username(d.Identity()), opts.Token)
	for _, step := range opts.Plan.Steps {
		d.logger().WithField("step", step.Name).Debug("composed deployment step")
	}
	opts.KeyName = d.cfg.AWSKeyName
	opts.SSHUsername = awsSSHUsername
	opts.SSHKey = d.cfg.SSHKeyPath
	opts.Timeout = time.Duration(d.cfg.AWSTimeout)

	inst, _, err := d.EshDriver.DeployInstance(opts)
	inst, ok, err := recoverDeployment(d.EshDriver, inst, err)
	if !ok || err != nil {
		return inst, ok, err
	}

	created, err := time.Parse(CreatedLayout, extraString(inst.Extra(), ExtraCreated))
	if err != nil {
		d.logger().WithFields(logrus.Fields{
			"err":         err,
			"instance_id": inst.ID,
		}).Error("couldn't parse instance creation time")
		return inst, false, fmt.Errorf("parsing creation time of instance %s: %w", inst.ID, err)
	}
	inst.Created = created

	return inst, true, nil
}

// FilterMachines narrows machines down to the Ubuntu and Amazon kernel and
// ramdisk images that don't match blackList or the built-in block list.
// Images owned by Ubuntu's account come first, followed by those owned by
// Amazon or the AWS Marketplace.
func (d *AWSDriver) FilterMachines(machines []*Machine, blackList ...string) []*Machine {
	words := make([]string, 0, len(blackList)+len(awsBlackList))
	words = append(words, blackList...)
	words = append(words, awsBlackList...)

	filtered := d.EshDriver.FilterMachines(machines, words...)
	filtered = keepMachines(filtered, func(m *Machine) bool {
		for _, prefix := range awsAliasPrefix {
			if strings.Contains(m.Alias, prefix) {
				return true
			}
		}
		return false
	})

	ubuntu := keepMachines(filtered, func(m *Machine) bool {
		return m.OwnerID == ubuntuOwnerID
	})
	amazon := keepMachines(filtered, func(m *Machine) bool {
		for _, alias := range awsOwnerAliases {
			if m.OwnerAlias == alias {
				return true
			}
		}
		return false
	})

	return append(ubuntu, amazon...)
}

// CreateVolume creates a volume. EC2 volumes have no description, so
// opts.Description is dropped.
func (d *AWSDriver) CreateVolume(opts VolumeOptions) (*Volume, error) {
	opts.Description = ""
	return d.EshDriver.CreateVolume(opts)
}

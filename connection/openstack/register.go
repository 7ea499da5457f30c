package openstack

import (
	"github.com/travis-ci/cloud-driver/cloud"
	"github.com/travis-ci/cloud-driver/sshdeploy"
)

// Config is the configuration read by the "openstack" registry alias.
type Config struct {
	cloud.DeployConfig `yaml:",inline"`

	AuthURL        string `json:"auth_url" yaml:"auth_url"`
	Username       string `json:"username" yaml:"username"`
	Password       string `json:"password" yaml:"password"`
	TenantName     string `json:"tenant_name" yaml:"tenant_name"`
	DomainName     string `json:"domain_name" yaml:"domain_name"`
	FloatingIPPool string `json:"floating_ip_pool" yaml:"floating_ip_pool"`

	// Owner is the user deployments are made for. It defaults to Username.
	Owner string `json:"owner" yaml:"owner"`
}

func init() {
	cloud.RegisterProvider("openstack", "OpenStack", func(decode cloud.ConfigDecoder) (cloud.Driver, error) {
		var cfg Config
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		return NewDriver(cfg)
	})
}

// NewDriver connects to the cloud described by cfg, deploying over SSH.
func NewDriver(cfg Config, opts ...cloud.DriverOption) (*cloud.OpenStackDriver, error) {
	owner := cfg.Owner
	if owner == "" {
		owner = cfg.Username
	}

	provider := &cloud.OpenStackProvider{
		Dialer: Dialer(Options{
			FloatingIPPool: cfg.FloatingIPPool,
			Deployer:       &sshdeploy.Runner{},
		}),
	}
	identity := &cloud.OpenStackIdentity{
		Owner:      cloud.Username(owner),
		Key:        cfg.Username,
		Secret:     cfg.Password,
		TenantName: cfg.TenantName,
		DomainName: cfg.DomainName,
		AuthURL:    cfg.AuthURL,
	}

	return cloud.NewOpenStackDriver(provider, identity, cfg.DeployConfig, opts...)
}

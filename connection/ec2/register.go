package ec2

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/pkg/errors"
	"github.com/travis-ci/cloud-driver/cloud"
	"github.com/travis-ci/cloud-driver/sshdeploy"
)

const defaultRegion = "us-east-1"

// Config is the configuration read by the "aws" and "eucalyptus" registry
// aliases.
type Config struct {
	cloud.DeployConfig `yaml:",inline"`

	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	// AWSRegion is the EC2 region. DeployConfig.Region is only used by
	// OpenStack.
	AWSRegion string `json:"aws_region" yaml:"aws_region"`
	// Endpoint is the EC2-compatible API of a Eucalyptus cloud.
	Endpoint    string   `json:"endpoint" yaml:"endpoint"`
	ImageOwners []string `json:"image_owners" yaml:"image_owners"`

	// Owner is the user deployments are made for.
	Owner string `json:"owner" yaml:"owner"`
}

func init() {
	cloud.RegisterProvider("aws", "Amazon EC2", func(decode cloud.ConfigDecoder) (cloud.Driver, error) {
		var cfg Config
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		return NewAWSDriver(cfg)
	})
	cloud.RegisterProvider("eucalyptus", "Eucalyptus", func(decode cloud.ConfigDecoder) (cloud.Driver, error) {
		var cfg Config
		if err := decode(&cfg); err != nil {
			return nil, err
		}
		return NewEucaDriver(cfg)
	})
}

func newSession(key, secret, region, endpoint string) (*session.Session, error) {
	if region == "" {
		region = defaultRegion
	}

	config := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(key, secret, ""),
	}
	if endpoint != "" {
		config.Endpoint = aws.String(endpoint)
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	return sess, nil
}

// AWSDialer returns a cloud.AWSProvider dialer.
func AWSDialer(opts Options) func(*cloud.AWSIdentity) (cloud.Connection, error) {
	return func(identity *cloud.AWSIdentity) (cloud.Connection, error) {
		sess, err := newSession(identity.Key, identity.Secret, identity.Region, "")
		if err != nil {
			return nil, err
		}
		return NewConnection(ec2.New(sess), opts), nil
	}
}

// EucaDialer returns a cloud.EucaProvider dialer talking to the identity's
// endpoint.
func EucaDialer(opts Options) func(*cloud.EucaIdentity) (cloud.Connection, error) {
	return func(identity *cloud.EucaIdentity) (cloud.Connection, error) {
		if identity.Endpoint == "" {
			return nil, errors.Wrap(cloud.ErrMissingArgument, "eucalyptus endpoint")
		}
		sess, err := newSession(identity.Key, identity.Secret, identity.Region, identity.Endpoint)
		if err != nil {
			return nil, err
		}
		return NewConnection(ec2.New(sess), opts), nil
	}
}

// NewAWSDriver connects to EC2 as described by cfg, deploying over SSH.
func NewAWSDriver(cfg Config, opts ...cloud.DriverOption) (*cloud.AWSDriver, error) {
	provider := &cloud.AWSProvider{
		Dialer: AWSDialer(Options{ImageOwners: cfg.ImageOwners, Deployer: &sshdeploy.Runner{}}),
	}
	identity := &cloud.AWSIdentity{
		Owner:  cloud.Username(cfg.Owner),
		Key:    cfg.AccessKey,
		Secret: cfg.SecretKey,
		Region: cfg.AWSRegion,
	}
	return cloud.NewAWSDriver(provider, identity, cfg.DeployConfig, opts...)
}

// NewEucaDriver connects to the Eucalyptus cloud at cfg.Endpoint.
func NewEucaDriver(cfg Config, opts ...cloud.DriverOption) (*cloud.EucaDriver, error) {
	provider := &cloud.EucaProvider{
		Dialer: EucaDialer(Options{ImageOwners: cfg.ImageOwners}),
	}
	identity := &cloud.EucaIdentity{
		Owner:    cloud.Username(cfg.Owner),
		Key:      cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Endpoint: cfg.Endpoint,
		Region:   cfg.AWSRegion,
	}
	return cloud.NewEucaDriver(provider, identity, opts...)
}

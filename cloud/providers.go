package cloud

import (
	"errors"
	"fmt"
)

// OpenStackIdentity is an OpenStack account: Key and Secret are the username
// and password used against AuthURL.
type OpenStackIdentity struct {
	Owner      User
	Key        string
	Secret     string
	TenantName string
	DomainName string
	AuthURL    string
}

func (i *OpenStackIdentity) User() User { return i.Owner }

// AWSIdentity is an AWS account.
type AWSIdentity struct {
	Owner  User
	Key    string
	Secret string
	Region string
}

func (i *AWSIdentity) User() User { return i.Owner }

// EucaIdentity is a Eucalyptus account. Endpoint is the URL of the cloud's
// EC2-compatible API.
type EucaIdentity struct {
	Owner    User
	Key      string
	Secret   string
	Endpoint string
	Region   string
}

func (i *EucaIdentity) User() User { return i.Owner }

// OpenStackProvider opens OpenStack connections through Dialer.
type OpenStackProvider struct {
	Dialer     func(identity *OpenStackIdentity) (OpenStackConnection, error)
	Conversion Converters
}

func (p *OpenStackProvider) Name() string { return "openstack" }

func (p *OpenStackProvider) Converters() Converters { return p.Conversion }

func (p *OpenStackProvider) Connect(identity Identity) (Connection, error) {
	id, ok := identity.(*OpenStackIdentity)
	if !ok {
		return nil, fmt.Errorf("%w: openstack provider can't connect with %T", ErrWrongVariant, identity)
	}
	if p.Dialer == nil {
		return nil, errors.New("openstack provider has no dialer")
	}

	conn, err := p.Dialer(id)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// AWSProvider opens EC2 connections through Dialer.
type AWSProvider struct {
	Dialer     func(identity *AWSIdentity) (Connection, error)
	Conversion Converters
}

func (p *AWSProvider) Name() string { return "aws" }

func (p *AWSProvider) Converters() Converters { return p.Conversion }

func (p *AWSProvider) Connect(identity Identity) (Connection, error) {
	id, ok := identity.(*AWSIdentity)
	if !ok {
		return nil, fmt.Errorf("%w: aws provider can't connect with %T", ErrWrongVariant, identity)
	}
	if p.Dialer == nil {
		return nil, errors.New("aws provider has no dialer")
	}
	return p.Dialer(id)
}

// EucaProvider opens Eucalyptus connections through Dialer.
type EucaProvider struct {
	Dialer     func(identity *EucaIdentity) (Connection, error)
	Conversion Converters
}

func (p *EucaProvider) Name() string { return "eucalyptus" }

func (p *EucaProvider) Converters() Converters { return p.Conversion }

func (p *EucaProvider) Connect(identity Identity) (Connection, error) {
	id, ok := identity.(*EucaIdentity)
	if !ok {
		return nil, fmt.Errorf("%w: eucalyptus provider can't connect with %T", ErrWrongVariant, identity)
	}
	if p.Dialer == nil {
		return nil, errors.New("eucalyptus provider has no dialer")
	}
	return p.Dialer(id)
}

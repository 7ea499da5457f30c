// Package cloud provides a uniform instance and volume lifecycle interface on
// top of OpenStack, AWS and Eucalyptus compute providers.
package cloud

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMissingArgument is returned when a required argument (a provider, an
	// identity, an instance or a deployment plan) wasn't given. Calls that
	// return it never reach the provider connection.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrWrongVariant is returned when a driver is constructed with a Provider
	// or Identity that belongs to another cloud.
	ErrWrongVariant = errors.New("wrong provider or identity")

	// ErrNotImplemented is returned from lifecycle operations that the
	// provider doesn't offer. It never signals a runtime failure.
	ErrNotImplemented = errors.New("operation not implemented for this provider")
)

// A DeploymentError is returned when a remote deployment script fails on an
// instance.
type DeploymentError struct {
	NodeID string
	Step   string
	Err    error
}

func (e *DeploymentError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("deployment to node %s failed: %v", e.NodeID, e.Err)
	}
	return fmt.Sprintf("deployment to node %s failed in %s: %v", e.NodeID, e.Step, e.Err)
}

func (e *DeploymentError) Unwrap() error {
	return e.Err
}

// A User is the account an Identity acts on behalf of.
type User interface {
	Username() string
}

// Username is a User that is nothing but its name.
type Username string

// Username returns the name itself.
func (u Username) Username() string {
	return string(u)
}

// An Identity holds the credentials for one provider account. Identities are
// immutable once handed to a driver.
type Identity interface {
	User() User
}

// A Provider describes a target cloud, knows how to open a Connection to it
// for an Identity, and which conversions turn its raw records into domain
// objects.
type Provider interface {
	Name() string
	Connect(identity Identity) (Connection, error)
	Converters() Converters
}

// CreateOptions contains the attributes needed to create a node.
type CreateOptions struct {
	Name       string
	ImageID    string
	SizeID     string
	LocationID string
	KeyName    string
	UserData   string
	Networks   []string
	Metadata   map[string]string
}

// DeployOptions contains everything needed to run a deployment Plan against a
// node, or to create a node and deploy to it in one blocking call.
type DeployOptions struct {
	CreateOptions

	Plan        *Plan
	SSHKey      string
	SSHUsername string
	Timeout     time.Duration
	Token       string
}

// VolumeOptions contains the attributes needed to create a volume.
type VolumeOptions struct {
	Name        string
	Size        int
	LocationID  string
	SnapshotID  string
	Description string
}

// A NodeState is the state a raw node can be in. Valid values are the
// NodeState… constants defined in this package.
type NodeState string

const (
	// NodeStatePending is the state of a node that is being built.
	NodeStatePending NodeState = "pending"

	// NodeStateRunning is the state of a node that has booted.
	NodeStateRunning NodeState = "running"

	// NodeStateRebooting is the state of a node that is rebooting.
	NodeStateRebooting NodeState = "rebooting"

	// NodeStateStopped is the state of a node that was shut down but still
	// exists.
	NodeStateStopped NodeState = "stopped"

	// NodeStateSuspended is the state of a suspended node.
	NodeStateSuspended NodeState = "suspended"

	// NodeStateTerminated is the state of a node that is done terminating.
	NodeStateTerminated NodeState = "terminated"

	// NodeStateUnknown is used when the provider reports something else.
	NodeStateUnknown NodeState = "unknown"
)

// Keys into the Extra maps of raw records that adapters fill in and the
// default converters read.
const (
	ExtraStatus     = "status"
	ExtraTask       = "task"
	ExtraPower      = "power"
	ExtraCreated    = "created"
	ExtraFlavorID   = "flavorId"
	ExtraImageID    = "imageId"
	ExtraOwnerID    = "ownerid"
	ExtraOwnerAlias = "owneralias"
	ExtraAttachedTo = "attached_to"
	ExtraMetadata   = "metadata"
)

// CreatedLayout is the wire format of ExtraCreated.
const CreatedLayout = "2006-01-02T15:04:05Z"

// A Node is a compute instance as the provider reports it.
type Node struct {
	ID         string
	Name       string
	State      NodeState
	PublicIPs  []string
	PrivateIPs []string
	Extra      map[string]interface{}
}

// A NodeImage is a machine image as the provider reports it.
type NodeImage struct {
	ID    string
	Name  string
	Extra map[string]interface{}
}

// A NodeSize is an instance flavor as the provider reports it. RAM is in MB,
// Disk in GB.
type NodeSize struct {
	ID    string
	Name  string
	CPU   int
	RAM   int
	Disk  int
	Price float64
	Extra map[string]interface{}
}

// A NodeLocation is an availability zone or region.
type NodeLocation struct {
	ID      string
	Name    string
	Country string
}

// A StorageVolume is a block storage volume as the provider reports it. Size
// is in GB.
type StorageVolume struct {
	ID    string
	Name  string
	Size  int
	State string
	Extra map[string]interface{}
}

// HypervisorStatistics are the totals of all hypervisors in a cloud.
type HypervisorStatistics struct {
	VCPUs    int
	MemoryMB int
	LocalGB  int
}

func extraString(extra map[string]interface{}, key string) string {
	if extra == nil {
		return ""
	}
	switch v := extra[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

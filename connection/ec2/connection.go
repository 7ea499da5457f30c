// Package ec2 implements cloud.Connection for AWS and Eucalyptus on top of
// the EC2 API.
package ec2

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloud"
)

const waiterDelay = 5 * time.Second

// A Deployer runs a deployment plan on a host. *sshdeploy.Runner is one.
type Deployer interface {
	Run(ctx context.Context, nodeID, host string, opts cloud.DeployOptions) error
}

// Options configure connections beyond what's in the identity.
type Options struct {
	// ImageOwners restricts ListImages to images owned by these accounts or
	// aliases. Empty means every image the account can launch.
	ImageOwners []string
	Deployer    Deployer
	Context     context.Context
}

// Connection is a cloud.Connection backed by the EC2 API.
type Connection struct {
	api  ec2iface.EC2API
	opts Options
}

var _ cloud.Connection = &Connection{}

// NewConnection returns a Connection using api.
func NewConnection(api ec2iface.EC2API, opts Options) *Connection {
	return &Connection{api: api, opts: opts}
}

func (c *Connection) ctx() context.Context {
	if c.opts.Context == nil {
		return context.Background()
	}
	return c.opts.Context
}

func nodeState(state string) cloud.NodeState {
	switch state {
	case ec2.InstanceStateNamePending:
		return cloud.NodeStatePending
	case ec2.InstanceStateNameRunning:
		return cloud.NodeStateRunning
	case ec2.InstanceStateNameStopping, ec2.InstanceStateNameStopped:
		return cloud.NodeStateStopped
	case ec2.InstanceStateNameShuttingDown, ec2.InstanceStateNameTerminated:
		return cloud.NodeStateTerminated
	default:
		return cloud.NodeStateUnknown
	}
}

func tagValue(tags []*ec2.Tag, key string) string {
	for _, tag := range tags {
		if aws.StringValue(tag.Key) == key {
			return aws.StringValue(tag.Value)
		}
	}
	return ""
}

func nameTag(resource, name string) []*ec2.TagSpecification {
	if name == "" {
		return nil
	}
	return []*ec2.TagSpecification{{
		ResourceType: aws.String(resource),
		Tags:         []*ec2.Tag{{Key: aws.String("Name"), Value: aws.String(name)}},
	}}
}

func instanceToNode(inst *ec2.Instance) *cloud.Node {
	state := ""
	if inst.State != nil {
		state = aws.StringValue(inst.State.Name)
	}

	node := &cloud.Node{
		ID:    aws.StringValue(inst.InstanceId),
		Name:  tagValue(inst.Tags, "Name"),
		State: nodeState(state),
		Extra: map[string]interface{}{
			cloud.ExtraStatus:   state,
			cloud.ExtraFlavorID: aws.StringValue(inst.InstanceType),
			cloud.ExtraImageID:  aws.StringValue(inst.ImageId),
			"keyname":           aws.StringValue(inst.KeyName),
			"dns_name":          aws.StringValue(inst.PublicDnsName),
		},
	}
	if inst.LaunchTime != nil {
		node.Extra[cloud.ExtraCreated] = inst.LaunchTime.UTC().Format(cloud.CreatedLayout)
	}
	if inst.Placement != nil {
		node.Extra["availability"] = aws.StringValue(inst.Placement.AvailabilityZone)
	}
	if ip := aws.StringValue(inst.PublicIpAddress); ip != "" {
		node.PublicIPs = []string{ip}
	}
	if ip := aws.StringValue(inst.PrivateIpAddress); ip != "" {
		node.PrivateIPs = []string{ip}
	}
	return node
}

func (c *Connection) describeInstances(input *ec2.DescribeInstancesInput) ([]*cloud.Node, error) {
	var nodes []*cloud.Node
	for {
		out, err := c.api.DescribeInstances(input)
		if err != nil {
			return nil, errors.Wrap(err, "describing instances")
		}
		for _, reservation := range out.Reservations {
			for _, inst := range reservation.Instances {
				nodes = append(nodes, instanceToNode(inst))
			}
		}
		if aws.StringValue(out.NextToken) == "" {
			return nodes, nil
		}
		input.NextToken = out.NextToken
	}
}

func (c *Connection) ListNodes() ([]*cloud.Node, error) {
	return c.describeInstances(&ec2.DescribeInstancesInput{})
}

func (c *Connection) ListImages() ([]*cloud.NodeImage, error) {
	input := &ec2.DescribeImagesInput{
		Filters: []*ec2.Filter{{Name: aws.String("state"), Values: aws.StringSlice([]string{"available"})}},
	}
	if len(c.opts.ImageOwners) > 0 {
		input.Owners = aws.StringSlice(c.opts.ImageOwners)
	} else {
		input.ExecutableUsers = aws.StringSlice([]string{"self", "all"})
	}

	out, err := c.api.DescribeImages(input)
	if err != nil {
		return nil, errors.Wrap(err, "describing images")
	}

	images := make([]*cloud.NodeImage, 0, len(out.Images))
	for _, image := range out.Images {
		name := aws.StringValue(image.Name)
		if name == "" {
			name = aws.StringValue(image.ImageLocation)
		}
		images = append(images, &cloud.NodeImage{
			ID:   aws.StringValue(image.ImageId),
			Name: name,
			Extra: map[string]interface{}{
				cloud.ExtraOwnerID:    aws.StringValue(image.OwnerId),
				cloud.ExtraOwnerAlias: aws.StringValue(image.ImageOwnerAlias),
				"imagelocation":       aws.StringValue(image.ImageLocation),
				"imagetype":           aws.StringValue(image.ImageType),
				"architecture":        aws.StringValue(image.Architecture),
				"ispublic":            aws.BoolValue(image.Public),
			},
		})
	}
	return images, nil
}

func (c *Connection) ListSizes() ([]*cloud.NodeSize, error) {
	input := &ec2.DescribeInstanceTypesInput{}

	var sizes []*cloud.NodeSize
	for {
		out, err := c.api.DescribeInstanceTypes(input)
		if err != nil {
			return nil, errors.Wrap(err, "describing instance types")
		}
		for _, it := range out.InstanceTypes {
			size := &cloud.NodeSize{
				ID:    aws.StringValue(it.InstanceType),
				Name:  aws.StringValue(it.InstanceType),
				Extra: map[string]interface{}{},
			}
			if it.VCpuInfo != nil {
				size.CPU = int(aws.Int64Value(it.VCpuInfo.DefaultVCpus))
			}
			if it.MemoryInfo != nil {
				size.RAM = int(aws.Int64Value(it.MemoryInfo.SizeInMiB))
			}
			if it.InstanceStorageInfo != nil {
				size.Disk = int(aws.Int64Value(it.InstanceStorageInfo.TotalSizeInGB))
			}
			sizes = append(sizes, size)
		}
		if aws.StringValue(out.NextToken) == "" {
			return sizes, nil
		}
		input.NextToken = out.NextToken
	}
}

func (c *Connection) ListLocations() ([]*cloud.NodeLocation, error) {
	out, err := c.api.DescribeAvailabilityZones(&ec2.DescribeAvailabilityZonesInput{})
	if err != nil {
		return nil, errors.Wrap(err, "describing availability zones")
	}

	var locations []*cloud.NodeLocation
	for _, zone := range out.AvailabilityZones {
		if aws.StringValue(zone.State) != ec2.AvailabilityZoneStateAvailable {
			continue
		}
		name := aws.StringValue(zone.ZoneName)
		locations = append(locations, &cloud.NodeLocation{ID: name, Name: name})
	}
	return locations, nil
}

func (c *Connection) CreateNode(opts cloud.CreateOptions) (*cloud.Node, error) {
	input := &ec2.RunInstancesInput{
		ImageId:           aws.String(opts.ImageID),
		MinCount:          aws.Int64(1),
		MaxCount:          aws.Int64(1),
		TagSpecifications: nameTag(ec2.ResourceTypeInstance, opts.Name),
	}
	if opts.SizeID != "" {
		input.InstanceType = aws.String(opts.SizeID)
	}
	if opts.KeyName != "" {
		input.KeyName = aws.String(opts.KeyName)
	}
	if opts.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(opts.UserData)))
	}
	if opts.LocationID != "" {
		input.Placement = &ec2.Placement{AvailabilityZone: aws.String(opts.LocationID)}
	}
	if len(opts.Networks) > 0 {
		input.SubnetId = aws.String(opts.Networks[0])
	}

	out, err := c.api.RunInstances(input)
	if err != nil {
		return nil, errors.Wrap(err, "running instance")
	}
	if len(out.Instances) == 0 {
		return nil, errors.New("no instance was started")
	}

	node := instanceToNode(out.Instances[0])
	cbcontext.LoggerFromContext(c.ctx()).WithFields(logrus.Fields{
		"node_id":  node.ID,
		"image_id": opts.ImageID,
	}).Info("started instance")

	return node, nil
}

// DeployNode starts an instance, waits for it to be running and deploys
// opts.Plan to it. Failing to come up within opts.Timeout is a deployment
// failure.
func (c *Connection) DeployNode(opts cloud.DeployOptions) (*cloud.Node, error) {
	if c.opts.Deployer == nil {
		return nil, errors.New("connection has no deployer")
	}

	node, err := c.CreateNode(opts.CreateOptions)
	if err != nil {
		return nil, err
	}

	ctx := c.ctx()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	input := &ec2.DescribeInstancesInput{InstanceIds: aws.StringSlice([]string{node.ID})}
	if err := c.api.WaitUntilInstanceRunningWithContext(ctx, input, request.WithWaiterDelay(request.ConstantWaiterDelay(waiterDelay))); err != nil {
		return nil, &cloud.DeploymentError{NodeID: node.ID, Step: "wait_until_running", Err: err}
	}

	nodes, err := c.describeInstances(input)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errors.Errorf("instance %s disappeared", node.ID)
	}
	node = nodes[0]

	var host string
	switch {
	case len(node.PublicIPs) > 0:
		host = node.PublicIPs[0]
	case len(node.PrivateIPs) > 0:
		host = node.PrivateIPs[0]
	default:
		return nil, &cloud.DeploymentError{NodeID: node.ID, Err: errors.New("instance has no IP address")}
	}

	if err := c.opts.Deployer.Run(ctx, node.ID, host, opts); err != nil {
		return nil, err
	}
	return node, nil
}

func (c *Connection) RebootNode(node *cloud.Node) (bool, error) {
	if node == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "node")
	}

	_, err := c.api.RebootInstances(&ec2.RebootInstancesInput{InstanceIds: aws.StringSlice([]string{node.ID})})
	if err != nil {
		return false, errors.Wrapf(err, "rebooting instance %s", node.ID)
	}
	return true, nil
}

func (c *Connection) DestroyNode(node *cloud.Node) (bool, error) {
	if node == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "node")
	}

	_, err := c.api.TerminateInstances(&ec2.TerminateInstancesInput{InstanceIds: aws.StringSlice([]string{node.ID})})
	if err != nil {
		return false, errors.Wrapf(err, "terminating instance %s", node.ID)
	}
	return true, nil
}

func volumeToStorageVolume(v *ec2.Volume) *cloud.StorageVolume {
	volume := &cloud.StorageVolume{
		ID:    aws.StringValue(v.VolumeId),
		Name:  tagValue(v.Tags, "Name"),
		Size:  int(aws.Int64Value(v.Size)),
		State: aws.StringValue(v.State),
		Extra: map[string]interface{}{
			"availability_zone": aws.StringValue(v.AvailabilityZone),
			"snapshot_id":       aws.StringValue(v.SnapshotId),
		},
	}
	if v.CreateTime != nil {
		volume.Extra["create_time"] = v.CreateTime.UTC().Format(cloud.CreatedLayout)
	}
	if len(v.Attachments) > 0 {
		volume.Extra[cloud.ExtraAttachedTo] = aws.StringValue(v.Attachments[0].InstanceId)
		volume.Extra["device"] = aws.StringValue(v.Attachments[0].Device)
	}
	return volume
}

func (c *Connection) ListVolumes() ([]*cloud.StorageVolume, error) {
	out, err := c.api.DescribeVolumes(&ec2.DescribeVolumesInput{})
	if err != nil {
		return nil, errors.Wrap(err, "describing volumes")
	}

	volumes := make([]*cloud.StorageVolume, 0, len(out.Volumes))
	for _, v := range out.Volumes {
		volumes = append(volumes, volumeToStorageVolume(v))
	}
	return volumes, nil
}

// CreateVolume creates an EBS volume. EC2 has no volume descriptions, so
// one being set is an error.
func (c *Connection) CreateVolume(opts cloud.VolumeOptions) (*cloud.StorageVolume, error) {
	if opts.Description != "" {
		return nil, errors.New("ec2 volumes can't have a description")
	}
	if opts.LocationID == "" {
		return nil, errors.Wrap(cloud.ErrMissingArgument, "availability zone")
	}

	input := &ec2.CreateVolumeInput{
		AvailabilityZone:  aws.String(opts.LocationID),
		Size:              aws.Int64(int64(opts.Size)),
		TagSpecifications: nameTag(ec2.ResourceTypeVolume, opts.Name),
	}
	if opts.SnapshotID != "" {
		input.SnapshotId = aws.String(opts.SnapshotID)
	}

	v, err := c.api.CreateVolume(input)
	if err != nil {
		return nil, errors.Wrap(err, "creating volume")
	}
	return volumeToStorageVolume(v), nil
}

func (c *Connection) DestroyVolume(volume *cloud.StorageVolume) (bool, error) {
	if volume == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "volume")
	}

	_, err := c.api.DeleteVolume(&ec2.DeleteVolumeInput{VolumeId: aws.String(volume.ID)})
	if err != nil {
		return false, errors.Wrapf(err, "deleting volume %s", volume.ID)
	}
	return true, nil
}

func (c *Connection) AttachVolume(node *cloud.Node, volume *cloud.StorageVolume, device string) (bool, error) {
	if node == nil || volume == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "node and volume")
	}
	if device == "" {
		device = "/dev/sdh"
	}

	_, err := c.api.AttachVolume(&ec2.AttachVolumeInput{
		Device:     aws.String(device),
		InstanceId: aws.String(node.ID),
		VolumeId:   aws.String(volume.ID),
	})
	if err != nil {
		return false, errors.Wrapf(err, "attaching volume %s to %s", volume.ID, node.ID)
	}
	return true, nil
}

func (c *Connection) DetachVolume(volume *cloud.StorageVolume) (bool, error) {
	if volume == nil {
		return false, errors.Wrap(cloud.ErrMissingArgument, "volume")
	}

	_, err := c.api.DetachVolume(&ec2.DetachVolumeInput{VolumeId: aws.String(volume.ID)})
	if err != nil {
		return false, errors.Wrapf(err, "detaching volume %s", volume.ID)
	}
	return true, nil
}

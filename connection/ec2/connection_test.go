package ec2

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travis-ci/cloud-driver/cloud"
)

type fakeEC2 struct {
	ec2iface.EC2API

	instances  map[string]*ec2.Instance
	images     []*ec2.Image
	volumes    []*ec2.Volume
	runInputs  []*ec2.RunInstancesInput
	terminated []string
	waitErr    error
}

func (f *fakeEC2) DescribeInstances(input *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
	var instances []*ec2.Instance
	if len(input.InstanceIds) > 0 {
		for _, id := range input.InstanceIds {
			if inst, ok := f.instances[*id]; ok {
				instances = append(instances, inst)
			}
		}
	} else {
		for _, inst := range f.instances {
			instances = append(instances, inst)
		}
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{Instances: instances}},
	}, nil
}

func (f *fakeEC2) DescribeImages(input *ec2.DescribeImagesInput) (*ec2.DescribeImagesOutput, error) {
	return &ec2.DescribeImagesOutput{Images: f.images}, nil
}

func (f *fakeEC2) RunInstances(input *ec2.RunInstancesInput) (*ec2.Reservation, error) {
	f.runInputs = append(f.runInputs, input)
	inst := &ec2.Instance{
		InstanceId:   aws.String("i-0001"),
		ImageId:      input.ImageId,
		InstanceType: input.InstanceType,
		State:        &ec2.InstanceState{Name: aws.String(ec2.InstanceStateNamePending)},
		LaunchTime:   aws.Time(time.Date(2014, 3, 4, 5, 6, 7, 0, time.UTC)),
	}
	if f.instances == nil {
		f.instances = map[string]*ec2.Instance{}
	}
	f.instances[*inst.InstanceId] = inst
	return &ec2.Reservation{Instances: []*ec2.Instance{inst}}, nil
}

func (f *fakeEC2) WaitUntilInstanceRunningWithContext(ctx aws.Context, input *ec2.DescribeInstancesInput, opts ...request.WaiterOption) error {
	if f.waitErr != nil {
		return f.waitErr
	}
	for _, id := range input.InstanceIds {
		inst := f.instances[*id]
		inst.State.Name = aws.String(ec2.InstanceStateNameRunning)
		inst.PublicIpAddress = aws.String("54.1.2.3")
	}
	return nil
}

func (f *fakeEC2) TerminateInstances(input *ec2.TerminateInstancesInput) (*ec2.TerminateInstancesOutput, error) {
	for _, id := range input.InstanceIds {
		if _, ok := f.instances[*id]; !ok {
			return nil, errors.New("InvalidInstanceID.NotFound")
		}
		f.terminated = append(f.terminated, *id)
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) DescribeVolumes(input *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
	return &ec2.DescribeVolumesOutput{Volumes: f.volumes}, nil
}

func (f *fakeEC2) CreateVolume(input *ec2.CreateVolumeInput) (*ec2.Volume, error) {
	v := &ec2.Volume{
		VolumeId:         aws.String("vol-1"),
		Size:             input.Size,
		AvailabilityZone: input.AvailabilityZone,
		State:            aws.String(ec2.VolumeStateCreating),
	}
	if len(input.TagSpecifications) > 0 {
		v.Tags = input.TagSpecifications[0].Tags
	}
	f.volumes = append(f.volumes, v)
	return v, nil
}

type recordingDeployer struct {
	hosts []string
	err   error
}

func (d *recordingDeployer) Run(ctx context.Context, nodeID, host string, opts cloud.DeployOptions) error {
	d.hosts = append(d.hosts, nodeID+"@"+host)
	return d.err
}

func TestListImages(t *testing.T) {
	api := &fakeEC2{images: []*ec2.Image{
		{ImageId: aws.String("aki-1"), Name: aws.String("ubuntu"), OwnerId: aws.String("099720109477")},
		{ImageId: aws.String("ari-2"), ImageLocation: aws.String("amazon/ramdisk"), OwnerId: aws.String("137112412989"), ImageOwnerAlias: aws.String("amazon")},
	}}
	conn := NewConnection(api, Options{})

	images, err := conn.ListImages()
	require.NoError(t, err)
	require.Len(t, images, 2)

	machine := cloud.NewMachine(images[0])
	assert.Equal(t, "aki-1", machine.Alias)
	assert.Equal(t, "099720109477", machine.OwnerID)

	machine = cloud.NewMachine(images[1])
	assert.Equal(t, "amazon/ramdisk", machine.Name)
	assert.Equal(t, "amazon", machine.OwnerAlias)
}

func TestCreateNode(t *testing.T) {
	api := &fakeEC2{}
	conn := NewConnection(api, Options{})

	node, err := conn.CreateNode(cloud.CreateOptions{
		Name:     "vm",
		ImageID:  "ami-1",
		SizeID:   "m1.small",
		KeyName:  "dalloway-key",
		UserData: "#!/bin/sh",
	})
	require.NoError(t, err)
	assert.Equal(t, "i-0001", node.ID)
	assert.Equal(t, cloud.NodeStatePending, node.State)
	assert.Equal(t, "2014-03-04T05:06:07Z", node.Extra[cloud.ExtraCreated])

	require.Len(t, api.runInputs, 1)
	input := api.runInputs[0]
	assert.Equal(t, "dalloway-key", aws.StringValue(input.KeyName))
	assert.Equal(t, "IyEvYmluL3No", aws.StringValue(input.UserData))
	assert.Equal(t, "vm", aws.StringValue(input.TagSpecifications[0].Tags[0].Value))
}

func TestDeployNode(t *testing.T) {
	api := &fakeEC2{}
	deployer := &recordingDeployer{}
	conn := NewConnection(api, Options{Deployer: deployer})

	node, err := conn.DeployNode(cloud.DeployOptions{
		CreateOptions: cloud.CreateOptions{ImageID: "ami-1"},
		Plan:          cloud.NewPlan(cloud.NewScriptStep("true")),
		Timeout:       time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, cloud.NodeStateRunning, node.State)
	assert.Equal(t, []string{"i-0001@54.1.2.3"}, deployer.hosts)
}

func TestDeployNodeNeverRunning(t *testing.T) {
	api := &fakeEC2{waitErr: errors.New("ResourceNotReady: exceeded wait attempts")}
	deployer := &recordingDeployer{}
	conn := NewConnection(api, Options{Deployer: deployer})

	_, err := conn.DeployNode(cloud.DeployOptions{
		CreateOptions: cloud.CreateOptions{ImageID: "ami-1"},
		Plan:          cloud.NewPlan(cloud.NewScriptStep("true")),
	})

	var deployErr *cloud.DeploymentError
	require.True(t, errors.As(err, &deployErr), "got %v", err)
	assert.Equal(t, "i-0001", deployErr.NodeID)
	assert.Empty(t, deployer.hosts)
}

func TestDestroyNodeWrapsErrors(t *testing.T) {
	conn := NewConnection(&fakeEC2{}, Options{})

	ok, err := conn.DestroyNode(&cloud.Node{ID: "i-missing"})
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminating instance i-missing")

	_, err = conn.DestroyNode(nil)
	assert.True(t, errors.Is(err, cloud.ErrMissingArgument))
}

func TestCreateVolume(t *testing.T) {
	api := &fakeEC2{}
	conn := NewConnection(api, Options{})

	_, err := conn.CreateVolume(cloud.VolumeOptions{Name: "data", Size: 5, LocationID: "us-east-1a", Description: "nope"})
	assert.Error(t, err)

	_, err = conn.CreateVolume(cloud.VolumeOptions{Name: "data", Size: 5})
	assert.True(t, errors.Is(err, cloud.ErrMissingArgument))

	volume, err := conn.CreateVolume(cloud.VolumeOptions{Name: "data", Size: 5, LocationID: "us-east-1a"})
	require.NoError(t, err)
	assert.Equal(t, "vol-1", volume.ID)
	assert.Equal(t, "data", volume.Name)
	assert.Equal(t, 5, volume.Size)
}

func TestAWSDriverOverFakeAPI(t *testing.T) {
	api := &fakeEC2{}
	deployer := &recordingDeployer{}
	provider := &cloud.AWSProvider{
		Dialer: func(*cloud.AWSIdentity) (cloud.Connection, error) {
			return NewConnection(api, Options{Deployer: deployer}), nil
		},
	}

	driver, err := cloud.NewAWSDriver(provider, &cloud.AWSIdentity{Owner: cloud.Username("alice")}, cloud.DeployConfig{})
	require.NoError(t, err)

	inst, ok, err := driver.DeployInstance(cloud.DeployOptions{
		CreateOptions: cloud.CreateOptions{ImageID: "ami-1"},
		Plan:          cloud.NewPlan(cloud.NewScriptStep("true")),
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2014, inst.Created.Year())
	assert.Equal(t, "54.1.2.3", inst.IP)
	assert.Equal(t, cloud.DefaultAWSKeyName, aws.StringValue(api.runInputs[0].KeyName))

	vol, err := driver.CreateVolume(cloud.VolumeOptions{Name: "data", Size: 1, LocationID: "us-east-1a", Description: "dropped"})
	require.NoError(t, err)
	assert.Equal(t, "vol-1", vol.ID)
}

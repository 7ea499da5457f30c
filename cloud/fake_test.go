package cloud

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeDriver(t *testing.T) (*OpenStackDriver, *FakeConnection) {
	driver, err := NewFakeDriver("alice", DeployConfig{Region: "RegionOne"})
	require.NoError(t, err)

	conn, ok := driver.Connection().(*FakeConnection)
	require.True(t, ok)
	return driver, conn
}

func TestFakeConnectionCreate(t *testing.T) {
	driver, conn := newFakeDriver(t)

	compute, service := conn.Regions()
	assert.Equal(t, "RegionOne", compute)
	assert.Equal(t, "RegionOne", service)

	_, err := driver.CreateInstance(CreateOptions{Name: "no-image"})
	if err == nil {
		t.Errorf("expected error, got nil")
	}

	_, err = driver.CreateInstance(CreateOptions{Name: "invalid-image", ImageID: "nonexistant-image"})
	if err == nil {
		t.Errorf("expected error, got nil")
	}

	inst, err := driver.CreateInstance(CreateOptions{Name: "valid", ImageID: "standard-image"})
	if err != nil {
		t.Fatalf("driver.CreateInstance returned error: %v", err)
	}
	if inst.Status != "active" {
		t.Errorf("expected status to be active, was %v", inst.Status)
	}
	if inst.IP == "" {
		t.Errorf("expected instance to have an IP")
	}
	if !driver.IsActiveInstance(inst) {
		t.Errorf("expected new instance to be active")
	}

	instances, err := driver.ListInstances()
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst.ID, instances[0].ID)
}

func TestFakeConnectionLifecycle(t *testing.T) {
	driver, _ := newFakeDriver(t)

	inst, err := driver.CreateInstance(CreateOptions{Name: "vm", ImageID: "standard-image"})
	require.NoError(t, err)

	for _, tc := range []struct {
		op     func(*Instance) (bool, error)
		status string
	}{
		{driver.StopInstance, "shutoff"},
		{driver.StartInstance, "active"},
		{driver.SuspendInstance, "suspended"},
		{driver.ResumeInstance, "active"},
		{driver.RebootInstance, "active"},
	} {
		ok, err := tc.op(inst)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, tc.status, extraString(inst.Extra(), ExtraStatus))
	}

	ok, err := driver.DestroyInstance(inst)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = driver.DestroyInstance(inst)
	assert.Error(t, err)

	instances, err := driver.ListInstances()
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestFakeConnectionResize(t *testing.T) {
	driver, _ := newFakeDriver(t)

	inst, err := driver.CreateInstance(CreateOptions{Name: "vm", ImageID: "standard-image", SizeID: "1"})
	require.NoError(t, err)
	sizes, err := driver.ListSizes()
	require.NoError(t, err)

	_, err = driver.ConfirmResizeInstance(inst)
	assert.Error(t, err, "confirming without a pending resize")

	_, err = driver.ResizeInstance(inst, sizes[2])
	require.NoError(t, err)
	assert.Equal(t, "verify_resize", extraString(inst.Extra(), ExtraStatus))
	assert.Equal(t, "3", extraString(inst.Extra(), ExtraFlavorID))

	_, err = driver.RevertResizeInstance(inst)
	require.NoError(t, err)
	assert.Equal(t, "1", extraString(inst.Extra(), ExtraFlavorID))

	_, err = driver.ResizeInstance(inst, sizes[1])
	require.NoError(t, err)
	_, err = driver.ConfirmResizeInstance(inst)
	require.NoError(t, err)
	assert.Equal(t, "2", extraString(inst.Extra(), ExtraFlavorID))
	assert.Equal(t, "active", extraString(inst.Extra(), ExtraStatus))
}

func TestFakeConnectionFloatingIPs(t *testing.T) {
	driver, conn := newFakeDriver(t)

	inst, err := driver.CreateInstance(CreateOptions{Name: "vm", ImageID: "standard-image"})
	require.NoError(t, err)

	ip, err := driver.AddFloatingIP(inst)
	require.NoError(t, err)
	assert.Contains(t, inst.Node().PublicIPs, ip)

	_, err = driver.CleanFloatingIPs()
	require.NoError(t, err)
	assert.Equal(t, 1, conn.FloatingIPs(), "associated IPs are kept")

	_, err = driver.DestroyInstance(inst)
	require.NoError(t, err)
	_, err = driver.CleanFloatingIPs()
	require.NoError(t, err)
	assert.Equal(t, 0, conn.FloatingIPs())
}

func TestFakeConnectionVolumes(t *testing.T) {
	driver, _ := newFakeDriver(t)

	inst, err := driver.CreateInstance(CreateOptions{Name: "vm", ImageID: "standard-image"})
	require.NoError(t, err)

	_, err = driver.CreateVolume(VolumeOptions{Name: "empty"})
	assert.Error(t, err)

	vol, err := driver.CreateVolume(VolumeOptions{Name: "data", Size: 5})
	require.NoError(t, err)
	assert.Equal(t, "available", vol.Status)

	_, err = driver.AttachVolume(inst, vol, "/dev/vdb")
	require.NoError(t, err)

	volumes, err := driver.ListVolumes()
	require.NoError(t, err)
	require.Len(t, volumes, 1)
	assert.Equal(t, inst.ID, volumes[0].AttachedTo)

	_, err = driver.DestroyVolume(vol)
	assert.Error(t, err, "attached volumes can't be destroyed")

	_, err = driver.DetachVolume(vol)
	require.NoError(t, err)
	_, err = driver.DestroyVolume(vol)
	require.NoError(t, err)

	volumes, err = driver.ListVolumes()
	require.NoError(t, err)
	assert.Empty(t, volumes)
}

func TestFakeConnectionDeploy(t *testing.T) {
	driver, conn := newFakeDriver(t)

	inst, ok, err := driver.DeployInstance(DeployOptions{
		CreateOptions: CreateOptions{Name: "vm", ImageID: "standard-image"},
		Plan:          NewPlan(NewScriptStep("true")),
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = driver.DeployInitTo(inst, DeployOptions{})
	require.NoError(t, err)
	assert.True(t, ok)

	deployments := conn.Deployments()
	require.Len(t, deployments, 2)
	assert.Equal(t, inst.ID, deployments[1].NodeID)
	assert.Len(t, deployments[1].Opts.Plan.Steps, 5)

	conn.DeployErr = errors.New("exit status 1")

	ok, err = driver.DeployInitTo(inst, DeployOptions{})
	assert.False(t, ok)
	var deployErr *DeploymentError
	require.True(t, errors.As(err, &deployErr))
	assert.Equal(t, "deploy_init_log.sh", deployErr.Step)

	inst, ok, err = driver.DeployInstance(DeployOptions{
		CreateOptions: CreateOptions{Name: "vm2", ImageID: "standard-image"},
		Plan:          NewPlan(NewScriptStep("false")),
	})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, inst)
}

func TestFakeConnectionStatistics(t *testing.T) {
	driver, conn := newFakeDriver(t)

	_, err := driver.CreateInstance(CreateOptions{Name: "vm", ImageID: "standard-image"})
	require.NoError(t, err)
	require.NoError(t, conn.SetStatus(mustFirstInstance(t, driver).ID, "build", "spawning"))

	all, err := driver.ListAllInstances()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "build", all[0].Status)
	assert.True(t, IsActiveInstance(all[0]))

	stats, err := driver.HypervisorStatistics()
	require.NoError(t, err)
	assert.Equal(t, 16, stats.VCPUs)
}

func mustFirstInstance(t *testing.T, driver Driver) *Instance {
	instances, err := driver.ListInstances()
	require.NoError(t, err)
	require.NotEmpty(t, instances)
	return instances[0]
}

func TestFakeConnectionImageMetadata(t *testing.T) {
	driver, conn := newFakeDriver(t)

	machines, err := driver.ListMachines()
	require.NoError(t, err)
	require.Len(t, machines, 1)

	metadata, err := driver.ImageMetadata(machines[0])
	require.NoError(t, err)
	assert.Empty(t, metadata)

	require.NoError(t, driver.SetImageMetadata(machines[0], map[string]string{"deployed": "True"}))
	metadata, err = driver.ImageMetadata(machines[0])
	require.NoError(t, err)
	assert.Equal(t, "True", metadata["deployed"])

	require.NoError(t, driver.DeleteImageMetadata(machines[0], "deployed"))
	assert.Error(t, driver.DeleteImageMetadata(machines[0], "deployed"))

	_, err = driver.ImageMetadata(&Machine{ID: "i-1"})
	assert.True(t, errors.Is(err, ErrMissingArgument), "got %v", err)

	_, err = conn.ExGetImageMetadata(&NodeImage{ID: "missing"})
	assert.Error(t, err)
}

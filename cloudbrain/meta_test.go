package cloudbrain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travis-ci/cloud-driver/cloud"
)

func createInstances(t *testing.T, driver cloud.Driver, sizeIDs ...string) []*cloud.Instance {
	t.Helper()

	var instances []*cloud.Instance
	for _, sizeID := range sizeIDs {
		inst, err := driver.CreateInstance(cloud.CreateOptions{ImageID: "standard-image", SizeID: sizeID})
		require.NoError(t, err)
		instances = append(instances, inst)
	}
	return instances
}

func TestMetaOccupancy(t *testing.T) {
	driver, _ := newFakeDriver(t)
	createInstances(t, driver, "3", "3", "1")

	sizes, err := NewMeta(context.Background(), driver).Occupancy()
	require.NoError(t, err)
	require.Len(t, sizes, 3)

	expected := map[string]cloud.Occupancy{
		// 16 vcpus, 32768 MB, 400 GB
		"1": {Total: 16, Remaining: 15},
		"2": {Total: 16, Remaining: 16},
		"3": {Total: 8, Remaining: 6},
	}
	for _, size := range sizes {
		if size.Occupancy == nil {
			t.Errorf("size %s has no occupancy", size.ID)
			continue
		}
		if *size.Occupancy != expected[size.ID] {
			t.Errorf("size %s: expected occupancy %+v, got %+v", size.ID, expected[size.ID], *size.Occupancy)
		}
	}
}

func TestMetaOccupancyWithoutHypervisorStatistics(t *testing.T) {
	meta := NewMeta(context.Background(), brokenDriver{})

	_, err := meta.Occupancy()
	if !errors.Is(err, cloud.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
}

func TestFits(t *testing.T) {
	assert.Equal(t, 4, fits(8, 2))
	assert.Equal(t, 2, fits(5, 2))
	assert.Equal(t, 8, smallest(fits(8, 1), fits(100, 0)))
}

func TestMetaStopAllInstances(t *testing.T) {
	driver, conn := newFakeDriver(t)
	instances := createInstances(t, driver, "1", "1", "2")
	require.NoError(t, conn.SetStatus(instances[2].ID, "suspended", ""))

	err := NewMeta(context.Background(), driver).StopAllInstances(false)
	require.NoError(t, err)

	after, err := driver.ListInstances()
	require.NoError(t, err)
	require.Len(t, after, 3)

	statuses := map[string]string{}
	for _, inst := range after {
		statuses[inst.ID] = inst.Status
	}
	assert.Equal(t, "shutoff", statuses[instances[0].ID])
	assert.Equal(t, "shutoff", statuses[instances[1].ID])
	assert.Equal(t, "suspended", statuses[instances[2].ID])
}

func TestMetaDestroyAllInstances(t *testing.T) {
	driver, _ := newFakeDriver(t)
	createInstances(t, driver, "1", "2")

	err := NewMeta(context.Background(), driver).DestroyAllInstances()
	require.NoError(t, err)

	after, err := driver.ListInstances()
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestMetaTestLinks(t *testing.T) {
	driver, conn := newFakeDriver(t)
	instances := createInstances(t, driver, "1", "1", "1", "1")
	require.NoError(t, conn.SetStatus(instances[1].ID, "active", "deleting"))
	require.NoError(t, conn.SetStatus(instances[2].ID, "build", ""))
	require.NoError(t, conn.SetStatus(instances[3].ID, "error", ""))

	active, err := NewMeta(context.Background(), driver).TestLinks()
	require.NoError(t, err)

	var ids []string
	for _, inst := range active {
		ids = append(ids, inst.ID)
	}
	assert.ElementsMatch(t, []string{instances[0].ID, instances[2].ID}, ids)
}

func TestMetaDeployedMetadata(t *testing.T) {
	driver, conn := newFakeDriver(t)
	meta := NewMeta(context.Background(), driver)

	machines, err := driver.ListMachines()
	require.NoError(t, err)
	require.Len(t, machines, 1)
	machine := machines[0]

	require.NoError(t, conn.ExSetImageMetadata(machine.Image(), map[string]string{"os": "ubuntu"}))

	// removing a key that isn't there is a no-op
	require.NoError(t, meta.RemoveMetadataDeployed(machine))

	require.NoError(t, meta.AddMetadataDeployed(machine))
	metadata, err := conn.ExGetImageMetadata(machine.Image())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"os": "ubuntu", "deployed": "True"}, metadata)

	require.NoError(t, meta.RemoveMetadataDeployed(machine))
	metadata, err = conn.ExGetImageMetadata(machine.Image())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"os": "ubuntu"}, metadata)
}

func TestMetaDeployedMetadataUnsupported(t *testing.T) {
	meta := NewMeta(context.Background(), brokenDriver{})

	err := meta.AddMetadataDeployed(&cloud.Machine{ID: "standard-image"})
	if !errors.Is(err, cloud.ErrNotImplemented) {
		t.Errorf("expected ErrNotImplemented, got %v", err)
	}
}

package cloudbrain

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travis-ci/cloud-driver/cloud"
)

type brokenDriver struct {
	cloud.Driver
}

func (brokenDriver) ListInstances() ([]*cloud.Instance, error) {
	return nil, errors.New("connection refused")
}

func newFakeDriver(t *testing.T) (*cloud.OpenStackDriver, *cloud.FakeConnection) {
	t.Helper()

	driver, err := cloud.NewFakeDriver("alice", cloud.DeployConfig{})
	require.NoError(t, err)
	return driver, driver.Connection().(*cloud.FakeConnection)
}

func TestCoreLoadDriver(t *testing.T) {
	core := NewCore()

	err := core.LoadDriver(context.Background(), "dev", "fake", cloud.JSONConfig([]byte(`{"username": "alice"}`)))
	require.NoError(t, err)

	driver, err := core.Driver("dev")
	require.NoError(t, err)
	if _, ok := driver.(*cloud.OpenStackDriver); !ok {
		t.Errorf("expected an *cloud.OpenStackDriver, got %T", driver)
	}

	err = core.LoadDriver(context.Background(), "prod", "nonexistent", cloud.JSONConfig([]byte(`{}`)))
	if err == nil {
		t.Error("expected an error loading an unknown provider")
	}

	if _, err := core.Driver("prod"); err == nil {
		t.Error("expected no driver to be stored after a failed load")
	}
	assert.Equal(t, []string{"dev"}, core.DriverNames())
}

func TestCoreRefreshInstances(t *testing.T) {
	core := NewCore()
	driver, _ := newFakeDriver(t)
	core.AddDriver("dev", driver)
	core.AddDriver("broken", brokenDriver{})

	_, err := driver.CreateInstance(cloud.CreateOptions{Name: "one", ImageID: "standard-image"})
	require.NoError(t, err)
	_, err = driver.CreateInstance(cloud.CreateOptions{Name: "two", ImageID: "standard-image"})
	require.NoError(t, err)

	instances, err := core.RefreshInstances(context.Background())

	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "expected a *multierror.Error, got %T", err)
	assert.Len(t, merr.Errors, 1)
	assert.Contains(t, err.Error(), "broken: connection refused")

	assert.Len(t, instances["dev"], 2)
	_, hasBroken := instances["broken"]
	assert.False(t, hasBroken)
}

func TestCoreMeta(t *testing.T) {
	core := NewCore()
	driver, _ := newFakeDriver(t)
	core.AddDriver("dev", driver)

	meta, err := core.Meta(context.Background(), "dev")
	require.NoError(t, err)
	assert.Same(t, driver, meta.Driver())

	_, err = core.Meta(context.Background(), "missing")
	assert.Error(t, err)
}

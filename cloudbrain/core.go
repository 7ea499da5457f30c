package cloudbrain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloud"
)

// Core keeps a set of drivers by name, typically one per configured cloud
// account.
type Core struct {
	driversMutex sync.Mutex
	drivers      map[string]cloud.Driver
}

func NewCore() *Core {
	return &Core{
		drivers: make(map[string]cloud.Driver),
	}
}

// AddDriver stores d under name, replacing any driver already stored there.
func (c *Core) AddDriver(name string, d cloud.Driver) {
	c.driversMutex.Lock()
	defer c.driversMutex.Unlock()
	c.drivers[name] = d
}

// LoadDriver builds a driver for the registered provider alias from the
// decoded configuration and stores it under name.
func (c *Core) LoadDriver(ctx context.Context, name, alias string, decode cloud.ConfigDecoder) error {
	d, err := cloud.NewDriverFromConfig(alias, decode)
	if err != nil {
		cbcontext.LoggerFromContext(ctx).WithFields(logrus.Fields{
			"err":      err,
			"name":     name,
			"provider": alias,
		}).Error("couldn't load driver")
		return err
	}

	c.AddDriver(name, d)

	cbcontext.LoggerFromContext(ctx).WithFields(logrus.Fields{
		"name":     name,
		"provider": alias,
	}).Info("loaded driver")

	return nil
}

// Driver returns the driver stored under name.
func (c *Core) Driver(name string) (cloud.Driver, error) {
	c.driversMutex.Lock()
	defer c.driversMutex.Unlock()

	d, ok := c.drivers[name]
	if !ok {
		return nil, fmt.Errorf("couldn't find a driver named %q", name)
	}
	return d, nil
}

// DriverNames returns the names of all stored drivers, sorted.
func (c *Core) DriverNames() []string {
	c.driversMutex.Lock()
	defer c.driversMutex.Unlock()

	names := make([]string, 0, len(c.drivers))
	for name := range c.drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Meta returns the admin operations for the driver stored under name. The
// returned Meta logs with ctx, tagged with the driver's name.
func (c *Core) Meta(ctx context.Context, name string) (*Meta, error) {
	d, err := c.Driver(name)
	if err != nil {
		return nil, err
	}
	return NewMeta(cbcontext.FromDriverName(ctx, name), d), nil
}

// RefreshInstances lists the instances of every driver. Drivers that fail
// are left out of the result and their errors are returned together.
func (c *Core) RefreshInstances(ctx context.Context) (map[string][]*cloud.Instance, error) {
	var result error
	instances := make(map[string][]*cloud.Instance)

	for _, name := range c.DriverNames() {
		d, err := c.Driver(name)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		logger := cbcontext.LoggerFromContext(cbcontext.FromDriverName(ctx, name))

		list, err := d.ListInstances()
		if err != nil {
			logger.WithField("err", err).Error("failed listing instances")
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			continue
		}
		instances[name] = list

		logger.WithField("instance_count", len(list)).Info("refreshed instances")
	}

	return instances, result
}

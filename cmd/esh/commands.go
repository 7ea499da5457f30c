package main

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloud"
	"github.com/travis-ci/cloud-driver/cloudbrain"
	cbhttp "github.com/travis-ci/cloud-driver/http"
	"github.com/travis-ci/cloud-driver/worker"
	"github.com/urfave/cli/v2"
)

var instanceFlag = &cli.StringFlag{
	Name:     "instance",
	Aliases:  []string{"i"},
	Usage:    "The ID of the instance",
	Required: true,
}

var volumeFlag = &cli.StringFlag{
	Name:     "volume",
	Usage:    "The ID of the volume",
	Required: true,
}

var machineFlag = &cli.StringFlag{
	Name:     "machine",
	Aliases:  []string{"m"},
	Usage:    "The ID of the machine",
	Required: true,
}

var createFlags = []cli.Flag{
	&cli.StringFlag{Name: "name", Usage: "The name of the new instance"},
	&cli.StringFlag{Name: "image", Usage: "The machine to boot", Required: true},
	&cli.StringFlag{Name: "size", Usage: "The size (flavor or instance type) to boot"},
	&cli.StringFlag{Name: "location", Usage: "The availability zone to boot in"},
	&cli.StringFlag{Name: "key-name", Usage: "The key pair to boot with"},
	&cli.StringSliceFlag{Name: "network", Usage: "A network (OpenStack) or subnet (EC2) to attach"},
}

var commands = []*cli.Command{
	{
		Name:   "providers",
		Usage:  "List the provider types drivers can be configured for",
		Action: providersAction,
	},
	{
		Name:  "list-instances",
		Usage: "List instances",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "List the instances of every tenant (needs admin credentials)"},
		},
		Action: listInstancesAction,
	},
	{
		Name:  "list-machines",
		Usage: "List machine images",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "black-list", Usage: "Leave out machines matching this word"},
		},
		Action: listMachinesAction,
	},
	{
		Name:   "list-sizes",
		Usage:  "List instance sizes",
		Action: listSizesAction,
	},
	{
		Name:   "list-locations",
		Usage:  "List availability zones",
		Action: listLocationsAction,
	},
	{
		Name:   "list-volumes",
		Usage:  "List volumes",
		Action: listVolumesAction,
	},
	{
		Name:   "create-instance",
		Usage:  "Boot an instance",
		Flags:  createFlags,
		Action: createInstanceAction,
	},
	{
		Name:  "deploy-instance",
		Usage: "Boot an instance and run deployment scripts on it",
		Flags: append([]cli.Flag{
			&cli.StringSliceFlag{Name: "script", Usage: "A script file to run on the instance, in order"},
			&cli.StringFlag{Name: "token", Usage: "The token passed to the init agent"},
		}, createFlags...),
		Action: deployInstanceAction,
	},
	{
		Name:  "deploy-init",
		Usage: "Install and run the init agent on an existing OpenStack instance",
		Flags: []cli.Flag{
			instanceFlag,
			&cli.StringFlag{Name: "token", Usage: "The token passed to the init agent, defaults to the instance ID"},
		},
		Action: deployInitAction,
	},
	instanceCommand("reboot", "Reboot an instance", cloud.Driver.RebootInstance),
	instanceCommand("destroy", "Destroy an instance", cloud.Driver.DestroyInstance),
	instanceCommand("start", "Start a stopped instance", cloud.Driver.StartInstance),
	instanceCommand("stop", "Stop an instance", cloud.Driver.StopInstance),
	instanceCommand("suspend", "Suspend an instance", cloud.Driver.SuspendInstance),
	instanceCommand("resume", "Resume a suspended instance", cloud.Driver.ResumeInstance),
	{
		Name:  "resize",
		Usage: "Resize an instance",
		Flags: []cli.Flag{
			instanceFlag,
			&cli.StringFlag{Name: "size", Usage: "The size to resize to", Required: true},
		},
		Action: resizeAction,
	},
	openStackCommand("confirm-resize", "Make a pending resize permanent", func(d *cloud.OpenStackDriver, inst *cloud.Instance) (bool, error) {
		return d.ConfirmResizeInstance(inst)
	}),
	openStackCommand("revert-resize", "Roll a pending resize back", func(d *cloud.OpenStackDriver, inst *cloud.Instance) (bool, error) {
		return d.RevertResizeInstance(inst)
	}),
	{
		Name:   "add-floating-ip",
		Usage:  "Associate a new floating IP with an OpenStack instance",
		Flags:  []cli.Flag{instanceFlag},
		Action: addFloatingIPAction,
	},
	{
		Name:   "clean-floating-ips",
		Usage:  "Release the floating IPs no OpenStack instance uses",
		Action: cleanFloatingIPsAction,
	},
	{
		Name:  "create-volume",
		Usage: "Create a volume",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "The name of the volume"},
			&cli.IntFlag{Name: "size", Usage: "The size of the volume in GB", Required: true},
			&cli.StringFlag{Name: "location", Usage: "The availability zone of the volume"},
			&cli.StringFlag{Name: "snapshot", Usage: "The snapshot to create the volume from"},
			&cli.StringFlag{Name: "description", Usage: "A description, ignored on AWS"},
		},
		Action: createVolumeAction,
	},
	{
		Name:   "destroy-volume",
		Usage:  "Destroy a volume",
		Flags:  []cli.Flag{volumeFlag},
		Action: destroyVolumeAction,
	},
	{
		Name:  "attach-volume",
		Usage: "Attach a volume to an instance",
		Flags: []cli.Flag{
			volumeFlag,
			instanceFlag,
			&cli.StringFlag{Name: "device", Usage: "The device to attach the volume as"},
		},
		Action: attachVolumeAction,
	},
	{
		Name:   "detach-volume",
		Usage:  "Detach a volume",
		Flags:  []cli.Flag{volumeFlag},
		Action: detachVolumeAction,
	},
	{
		Name:   "occupancy",
		Usage:  "Show how many more instances of each size fit into the cloud",
		Action: occupancyAction,
	},
	{
		Name:  "stop-all",
		Usage: "Stop every active instance of every tenant",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "destroy", Usage: "Destroy the instances instead"},
		},
		Action: stopAllAction,
	},
	{
		Name:   "mark-deployed",
		Usage:  "Set deployed=True in a machine's image metadata",
		Flags:  []cli.Flag{machineFlag},
		Action: deployedMetadataAction(true),
	},
	{
		Name:   "unmark-deployed",
		Usage:  "Remove deployed from a machine's image metadata",
		Flags:  []cli.Flag{machineFlag},
		Action: deployedMetadataAction(false),
	},
	{
		Name:   "test-links",
		Usage:  "List the instances that are active or becoming active",
		Action: testLinksAction,
	},
	{
		Name:  "refresh",
		Usage: "List the instances of every configured driver, optionally over and over",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "Refresh at this interval instead of once",
				EnvVars: []string{"ESH_REFRESH_INTERVAL"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Serve Prometheus metrics on this address while refreshing",
				EnvVars: []string{"ESH_METRICS_ADDR"},
			},
		},
		Action: refreshAction,
	},
	{
		Name:  "serve",
		Usage: "Serve a read-only JSON view of the configured drivers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "host:port to listen to",
				Value: func() string {
					v := ":" + os.Getenv("PORT")
					if v == ":" {
						v = ":42191"
					}
					return v
				}(),
				EnvVars: []string{"ESH_ADDR"},
			},
			&cli.StringSliceFlag{
				Name:    "auth-token",
				Usage:   "authentication token(s) to accept",
				EnvVars: []string{"ESH_AUTH_TOKEN"},
			},
		},
		Action: serveAction,
	},
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func (e *env) driver() (cloud.Driver, error) {
	names := e.core.DriverNames()
	if len(names) != 1 {
		return nil, fmt.Errorf("error: expected one driver, have %d", len(names))
	}
	return e.core.Driver(names[0])
}

func (e *env) meta() (*cloudbrain.Meta, error) {
	names := e.core.DriverNames()
	if len(names) != 1 {
		return nil, fmt.Errorf("error: expected one driver, have %d", len(names))
	}
	return e.core.Meta(e.ctx, names[0])
}

func (e *env) openStackDriver() (*cloud.OpenStackDriver, error) {
	d, err := e.driver()
	if err != nil {
		return nil, err
	}
	osd, ok := d.(*cloud.OpenStackDriver)
	if !ok {
		return nil, fmt.Errorf("error: this command needs an OpenStack driver")
	}
	return osd, nil
}

func findInstance(d cloud.Driver, id string) (*cloud.Instance, error) {
	instances, err := d.ListInstances()
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if inst.ID == id {
			return inst, nil
		}
	}
	return nil, fmt.Errorf("error: no instance with ID %s", id)
}

func findVolume(d cloud.Driver, id string) (*cloud.Volume, error) {
	volumes, err := d.ListVolumes()
	if err != nil {
		return nil, err
	}
	for _, volume := range volumes {
		if volume.ID == id {
			return volume, nil
		}
	}
	return nil, fmt.Errorf("error: no volume with ID %s", id)
}

func findMachine(d cloud.Driver, id string) (*cloud.Machine, error) {
	machines, err := d.ListMachines()
	if err != nil {
		return nil, err
	}
	for _, machine := range machines {
		if machine.ID == id {
			return machine, nil
		}
	}
	return nil, fmt.Errorf("error: no machine with ID %s", id)
}

func findSize(d cloud.Driver, id string) (*cloud.Size, error) {
	sizes, err := d.ListSizes()
	if err != nil {
		return nil, err
	}
	for _, size := range sizes {
		if size.ID == id || size.Name == id {
			return size, nil
		}
	}
	return nil, fmt.Errorf("error: no size %s", id)
}

func printInstances(instances []*cloud.Instance) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTASK\tIP")
	for _, inst := range instances {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", inst.ID, inst.Name, inst.Status, inst.Task, inst.IP)
	}
	w.Flush()
}

func printOK(what string, ok bool) {
	if ok {
		fmt.Printf("%s: ok\n", what)
	} else {
		fmt.Printf("%s: failed\n", what)
	}
}

func providersAction(c *cli.Context) error {
	w := newTable()
	for _, provider := range cloud.RegisteredProviders() {
		fmt.Fprintf(w, "%s\t%s\n", provider[0], provider[1])
	}
	return w.Flush()
}

func listInstancesAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}

	var instances []*cloud.Instance
	if c.Bool("all") {
		meta, err := e.meta()
		if err != nil {
			return err
		}
		instances, err = meta.AllInstances()
		if err != nil {
			return err
		}
	} else {
		d, err := e.driver()
		if err != nil {
			return err
		}
		instances, err = d.ListInstances()
		if err != nil {
			return err
		}
	}

	printInstances(instances)
	return nil
}

type machineFilter interface {
	FilterMachines(machines []*cloud.Machine, blackList ...string) []*cloud.Machine
}

func listMachinesAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}

	machines, err := d.ListMachines()
	if err != nil {
		return err
	}
	if filter, ok := d.(machineFilter); ok {
		machines = filter.FilterMachines(machines, c.StringSlice("black-list")...)
	}

	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tOWNER")
	for _, m := range machines {
		owner := m.OwnerAlias
		if owner == "" {
			owner = m.OwnerID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.ID, m.Name, owner)
	}
	return w.Flush()
}

func listSizesAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}

	sizes, err := d.ListSizes()
	if err != nil {
		return err
	}

	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tCPU\tRAM\tDISK")
	for _, s := range sizes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", s.ID, s.Name, s.CPU, s.RAM, s.Disk)
	}
	return w.Flush()
}

func listLocationsAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}

	locations, err := d.ListLocations()
	if err != nil {
		return err
	}
	for _, l := range locations {
		fmt.Println(l.Name)
	}
	return nil
}

func listVolumesAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}

	volumes, err := d.ListVolumes()
	if err != nil {
		return err
	}

	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tSTATUS\tATTACHED TO")
	for _, v := range volumes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", v.ID, v.Name, v.Size, v.Status, v.AttachedTo)
	}
	return w.Flush()
}

func createOptions(c *cli.Context) cloud.CreateOptions {
	return cloud.CreateOptions{
		Name:       c.String("name"),
		ImageID:    c.String("image"),
		SizeID:     c.String("size"),
		LocationID: c.String("location"),
		KeyName:    c.String("key-name"),
		Networks:   c.StringSlice("network"),
	}
}

func createInstanceAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}

	inst, err := d.CreateInstance(createOptions(c))
	if err != nil {
		return err
	}
	printInstances([]*cloud.Instance{inst})
	return nil
}

func deployInstanceAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}

	var steps []cloud.ScriptStep
	for _, path := range c.StringSlice("script") {
		script, err := ioutil.ReadFile(path)
		if err != nil {
			return fmt.Errorf("error: couldn't read script: %v", err)
		}
		steps = append(steps, cloud.NewScriptStep(string(script)))
	}

	inst, ok, err := d.DeployInstance(cloud.DeployOptions{
		CreateOptions: createOptions(c),
		Plan:          cloud.NewPlan(steps...),
		Token:         c.String("token"),
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("error: deployment failed, see the log for details")
	}
	printInstances([]*cloud.Instance{inst})
	return nil
}

func deployInitAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.openStackDriver()
	if err != nil {
		return err
	}
	inst, err := findInstance(d, c.String("instance"))
	if err != nil {
		return err
	}

	ok, err := d.DeployInitTo(inst, cloud.DeployOptions{Token: c.String("token")})
	if err != nil {
		return err
	}
	printOK("deploy-init "+inst.ID, ok)
	return nil
}

func instanceCommand(name, usage string, op func(cloud.Driver, *cloud.Instance) (bool, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{instanceFlag},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c, true)
			if err != nil {
				return err
			}
			d, err := e.driver()
			if err != nil {
				return err
			}
			inst, err := findInstance(d, c.String("instance"))
			if err != nil {
				return err
			}

			ok, err := op(d, inst)
			if err != nil {
				return err
			}
			printOK(name+" "+inst.ID, ok)
			return nil
		},
	}
}

func openStackCommand(name, usage string, op func(*cloud.OpenStackDriver, *cloud.Instance) (bool, error)) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{instanceFlag},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c, true)
			if err != nil {
				return err
			}
			d, err := e.openStackDriver()
			if err != nil {
				return err
			}
			inst, err := findInstance(d, c.String("instance"))
			if err != nil {
				return err
			}

			ok, err := op(d, inst)
			if err != nil {
				return err
			}
			printOK(name+" "+inst.ID, ok)
			return nil
		},
	}
}

func resizeAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}
	inst, err := findInstance(d, c.String("instance"))
	if err != nil {
		return err
	}
	size, err := findSize(d, c.String("size"))
	if err != nil {
		return err
	}

	ok, err := d.ResizeInstance(inst, size)
	if err != nil {
		return err
	}
	printOK("resize "+inst.ID, ok)
	return nil
}

func addFloatingIPAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.openStackDriver()
	if err != nil {
		return err
	}
	inst, err := findInstance(d, c.String("instance"))
	if err != nil {
		return err
	}

	ip, err := d.AddFloatingIP(inst)
	if err != nil {
		return err
	}
	fmt.Println(ip)
	return nil
}

func cleanFloatingIPsAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.openStackDriver()
	if err != nil {
		return err
	}

	ok, err := d.CleanFloatingIPs()
	if err != nil {
		return err
	}
	printOK("clean-floating-ips", ok)
	return nil
}

func createVolumeAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}

	volume, err := d.CreateVolume(cloud.VolumeOptions{
		Name:        c.String("name"),
		Size:        c.Int("size"),
		LocationID:  c.String("location"),
		SnapshotID:  c.String("snapshot"),
		Description: c.String("description"),
	})
	if err != nil {
		return err
	}
	fmt.Println(volume.ID)
	return nil
}

func destroyVolumeAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}
	volume, err := findVolume(d, c.String("volume"))
	if err != nil {
		return err
	}

	ok, err := d.DestroyVolume(volume)
	if err != nil {
		return err
	}
	printOK("destroy-volume "+volume.ID, ok)
	return nil
}

func attachVolumeAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}
	volume, err := findVolume(d, c.String("volume"))
	if err != nil {
		return err
	}
	inst, err := findInstance(d, c.String("instance"))
	if err != nil {
		return err
	}

	ok, err := d.AttachVolume(inst, volume, c.String("device"))
	if err != nil {
		return err
	}
	printOK("attach-volume "+volume.ID, ok)
	return nil
}

func detachVolumeAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	d, err := e.driver()
	if err != nil {
		return err
	}
	volume, err := findVolume(d, c.String("volume"))
	if err != nil {
		return err
	}

	ok, err := d.DetachVolume(volume)
	if err != nil {
		return err
	}
	printOK("detach-volume "+volume.ID, ok)
	return nil
}

func occupancyAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	meta, err := e.meta()
	if err != nil {
		return err
	}

	sizes, err := meta.Occupancy()
	if err != nil {
		return err
	}

	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tTOTAL\tREMAINING")
	for _, s := range sizes {
		if s.Occupancy == nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\n", s.ID, s.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.ID, s.Name, s.Occupancy.Total, s.Occupancy.Remaining)
	}
	return w.Flush()
}

func stopAllAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	meta, err := e.meta()
	if err != nil {
		return err
	}

	if c.Bool("destroy") {
		return meta.DestroyAllInstances()
	}
	return meta.StopAllInstances(false)
}

func deployedMetadataAction(deployed bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := newEnv(c, true)
		if err != nil {
			return err
		}
		meta, err := e.meta()
		if err != nil {
			return err
		}

		machine, err := findMachine(meta.Driver(), c.String("machine"))
		if err != nil {
			return err
		}
		if deployed {
			return meta.AddMetadataDeployed(machine)
		}
		return meta.RemoveMetadataDeployed(machine)
	}
}

func testLinksAction(c *cli.Context) error {
	e, err := newEnv(c, true)
	if err != nil {
		return err
	}
	meta, err := e.meta()
	if err != nil {
		return err
	}

	active, err := meta.TestLinks()
	if err != nil {
		return err
	}
	printInstances(active)
	return nil
}

func refreshAction(c *cli.Context) error {
	e, err := newEnv(c, false)
	if err != nil {
		return err
	}

	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			err := http.ListenAndServe(addr, mux)
			cbcontext.LoggerFromContext(e.ctx).WithField("err", err).Error("metrics server stopped")
		}()
	}

	rw := &worker.RefreshWorker{
		Core:     e.core,
		Interval: c.Duration("interval"),
		OnRefresh: func(instances map[string][]*cloud.Instance) {
			for _, name := range e.core.DriverNames() {
				if list, ok := instances[name]; ok {
					fmt.Printf("%s: %d instances\n", name, len(list))
				}
			}
		},
	}

	if rw.Interval <= 0 {
		return rw.RunOnce(e.ctx)
	}
	return rw.Run(e.ctx)
}

func serveAction(c *cli.Context) error {
	e, err := newEnv(c, false)
	if err != nil {
		return err
	}

	tokens := c.StringSlice("auth-token")
	if len(tokens) == 0 {
		return fmt.Errorf("error: at least one --auth-token is required")
	}

	cbcontext.LoggerFromContext(e.ctx).WithFields(logrus.Fields{
		"addr":    c.String("addr"),
		"drivers": e.core.DriverNames(),
	}).Info("serving")

	return http.ListenAndServe(c.String("addr"), cbhttp.Handler(e.ctx, e.core, tokens))
}

package cloud

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pborman/uuid"
)

const (
	// DefaultSSHKeyPath is the private key used for deployments when none is
	// configured.
	DefaultSSHKeyPath = "/opt/dev/atmosphere/extras/ssh/id_rsa"

	// DefaultOpenStackTimeout bounds OpenStack deployments.
	DefaultOpenStackTimeout = 120 * time.Second

	// DefaultAWSTimeout bounds AWS deployments.
	DefaultAWSTimeout = 400 * time.Second

	// DefaultAWSKeyName is the EC2 key pair new AWS instances are booted with.
	DefaultAWSKeyName = "dalloway-key"

	initAgentPath       = "/usr/sbin/atmo_init_full.py"
	initAgentServerPath = "/init_files/30/atmo-init-full.py"
	initServiceType     = "instance_service_v1"
	initLogDir          = "/var/log/atmo"
	initLogFile         = "/var/log/atmo/deploy.log"
	awsAgentErrorLog    = "/var/log/atmo_init_full.err"
	awsSSHUsername      = "ubuntu"
)

var (
	initPackages = []string{
		"emacs", "vim", "wget", "language-pack-en", "make", "gcc", "g++",
		"gettext", "texinfo", "autoconf", "automake",
	}
	awsPackages = []string{"emacs", "vim", "wget"}
)

// DeployConfig holds the settings the OpenStack and AWS drivers need to
// deploy the instance agent. Zero values are replaced by the Default…
// constants.
type DeployConfig struct {
	ServerURL          string        `json:"server_url" yaml:"server_url"`
	InstanceServiceURL string        `json:"instance_service_url" yaml:"instance_service_url"`
	SSHKeyPath         string        `json:"ssh_key_path" yaml:"ssh_key_path"`
	Region             string        `json:"region" yaml:"region"`
	VNCLicense         string        `json:"vnc_license" yaml:"vnc_license"`
	AWSKeyName         string        `json:"aws_key_name" yaml:"aws_key_name"`
	OpenStackTimeout   Duration `json:"openstack_timeout" yaml:"openstack_timeout"`
	AWSTimeout         Duration `json:"aws_timeout" yaml:"aws_timeout"`
}

// Duration is a time.Duration read from either a string such as "120s" or
// an integer number of nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v interface{}) error {
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(value)
	case int:
		*d = Duration(value)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

func (c DeployConfig) withDefaults() DeployConfig {
	if c.SSHKeyPath == "" {
		c.SSHKeyPath = DefaultSSHKeyPath
	}
	if c.OpenStackTimeout == 0 {
		c.OpenStackTimeout = Duration(DefaultOpenStackTimeout)
	}
	if c.AWSTimeout == 0 {
		c.AWSTimeout = Duration(DefaultAWSTimeout)
	}
	if c.AWSKeyName == "" {
		c.AWSKeyName = DefaultAWSKeyName
	}
	return c
}

// A ScriptStep is one script of a deployment Plan. Name is the path the
// script is stored under on the remote host. When LogFile is set the
// script's output is appended to it.
type ScriptStep struct {
	Name    string
	Script  string
	LogFile string
}

// Command returns the shell command that runs the step, including the log
// redirect. Relative names resolve against the directory the script was
// uploaded to, not PATH.
func (s ScriptStep) Command() string {
	path := s.Name
	if !strings.HasPrefix(path, "/") {
		path = "./" + path
	}
	if s.LogFile == "" {
		return path
	}
	return fmt.Sprintf("%s >> %s 2>&1", path, s.LogFile)
}

// NewScriptStep returns a step with a generated name under /root.
func NewScriptStep(script string) ScriptStep {
	id := strings.Replace(uuid.New(), "-", "", -1)
	return ScriptStep{
		Name:   fmt.Sprintf("/root/deployment_%s.sh", id[:8]),
		Script: script,
	}
}

// A Plan is an ordered list of script steps that is run on an instance as one
// unit. The first failing step fails the whole plan.
type Plan struct {
	Steps []ScriptStep
}

// NewPlan returns a plan running the steps in the given order.
func NewPlan(steps ...ScriptStep) *Plan {
	return &Plan{Steps: steps}
}

// Validate checks that the plan has at least one step and that every step
// has a name and a script.
func (p *Plan) Validate() error {
	if p == nil || len(p.Steps) == 0 {
		return fmt.Errorf("%w: empty deployment plan", ErrMissingArgument)
	}
	for i, step := range p.Steps {
		if step.Name == "" || step.Script == "" {
			return fmt.Errorf("step %d of deployment plan has no name or script", i)
		}
	}
	return nil
}

// InitPlan composes the five-step plan that prepares an OpenStack instance
// and calls the init agent on it.
func (c DeployConfig) InitPlan(username, token string) *Plan {
	return NewPlan(
		ScriptStep{
			Name: "deploy_init_log.sh",
			Script: fmt.Sprintf("if [ ! -d %q ];then\n"+
				"mkdir -p %s\n"+
				"fi\n"+
				"if [ ! -f %q ]; then\n"+
				"touch %s\n"+
				"fi", initLogDir, initLogDir, initLogFile, initLogFile),
		},
		ScriptStep{
			Name:    "deploy_aptget_update.sh",
			Script:  "apt-get update;apt-get install -y " + strings.Join(initPackages, " "),
			LogFile: initLogFile,
		},
		ScriptStep{
			Name:    "deploy_wget_atmoinit.sh",
			Script:  fmt.Sprintf("wget -O %s %s%s", initAgentPath, c.ServerURL, initAgentServerPath),
			LogFile: initLogFile,
		},
		ScriptStep{
			Name:    "deploy_chmod_atmoinit.sh",
			Script:  fmt.Sprintf("chmod a+x %s", initAgentPath),
			LogFile: initLogFile,
		},
		ScriptStep{
			Name: "deploy_call_atmoinit.sh",
			Script: fmt.Sprintf("%s --service_type=%s --service_url=%s --server=%s --user_id=%s --token=%s --vnc_license=%s",
				initAgentPath, initServiceType, c.InstanceServiceURL, c.ServerURL,
				username, token, c.VNCLicense),
			LogFile: initLogFile,
		},
	)
}

// AWSPlan composes the four-step plan that installs and calls the init agent
// on an Ubuntu EC2 instance. Steps are stored in the ubuntu user's home
// since root logins are disabled there.
func (c DeployConfig) AWSPlan(username, token string) *Plan {
	steps := []ScriptStep{
		NewScriptStep("sudo apt-get install -y " + strings.Join(awsPackages, " ")),
		NewScriptStep(fmt.Sprintf("sudo wget -O %s %s%s", initAgentPath, c.ServerURL, initAgentServerPath)),
		NewScriptStep(fmt.Sprintf("sudo chmod a+x %s", initAgentPath)),
		NewScriptStep(fmt.Sprintf("sudo %s --service_type=%s --service_url=%s --server=%s --user_id=%s --token=%s &> %s",
			initAgentPath, initServiceType, c.InstanceServiceURL, c.ServerURL,
			username, token, awsAgentErrorLog)),
	}
	for i := range steps {
		steps[i].Name = strings.Replace(steps[i].Name, "/root", "/home/"+awsSSHUsername, 1)
	}
	return NewPlan(steps...)
}

// Package sshdeploy runs deployment plans on instances over SSH.
package sshdeploy

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mitchellh/multistep"
	"github.com/sirupsen/logrus"
	"github.com/travis-ci/cloud-driver/cbcontext"
	"github.com/travis-ci/cloud-driver/cloud"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort          = 22
	defaultUsername      = "root"
	defaultDialTimeout   = 10 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// Runner runs deployment plans. The zero value dials real SSH servers.
type Runner struct {
	Port          int
	DialTimeout   time.Duration
	RetryInterval time.Duration

	// Dial defaults to DialSSH.
	Dial func(ctx context.Context, addr string, config *ssh.ClientConfig) (Executor, error)
	// LoadKey defaults to reading and parsing a PEM private key file.
	LoadKey func(path string) (ssh.Signer, error)
}

type deployContext struct {
	ctx    context.Context
	nodeID string
	addr   string
	opts   cloud.DeployOptions

	signer ssh.Signer
	exec   Executor
	err    error
}

// Run runs opts.Plan on the host, blocking until every step has run, a step
// failed or opts.Timeout expired. Waiting for the host to accept SSH
// connections counts against the timeout. Failures are returned as a
// *cloud.DeploymentError.
func (r *Runner) Run(ctx context.Context, nodeID, host string, opts cloud.DeployOptions) error {
	if err := opts.Plan.Validate(); err != nil {
		return err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	port := r.Port
	if port == 0 {
		port = defaultPort
	}

	c := &deployContext{
		ctx:    ctx,
		nodeID: nodeID,
		addr:   net.JoinHostPort(host, strconv.Itoa(port)),
		opts:   opts,
	}

	steps := []multistep.Step{
		&deployMultistepWrapper{c: c, f: r.stepLoadKey},
		&deployMultistepWrapper{c: c, f: r.stepDial, cleanup: r.cleanupDial},
	}
	for _, step := range opts.Plan.Steps {
		steps = append(steps,
			&deployMultistepWrapper{c: c, f: r.stepUpload(step)},
			&deployMultistepWrapper{c: c, f: r.stepRunScript(step)},
		)
	}

	runner := &multistep.BasicRunner{Steps: steps}
	runner.Run(&multistep.BasicStateBag{})

	return c.err
}

func (c *deployContext) fail(step string, err error) multistep.StepAction {
	cbcontext.LoggerFromContext(c.ctx).WithFields(logrus.Fields{
		"err":     err,
		"node_id": c.nodeID,
		"step":    step,
	}).Error("deployment step failed")

	c.err = &cloud.DeploymentError{NodeID: c.nodeID, Step: step, Err: err}
	return multistep.ActionHalt
}

func (r *Runner) stepLoadKey(c *deployContext) multistep.StepAction {
	loadKey := r.LoadKey
	if loadKey == nil {
		loadKey = LoadPrivateKey
	}

	signer, err := loadKey(c.opts.SSHKey)
	if err != nil {
		return c.fail("load_key", err)
	}

	c.signer = signer
	return multistep.ActionContinue
}

func (r *Runner) stepDial(c *deployContext) multistep.StepAction {
	dial := r.Dial
	if dial == nil {
		dial = DialSSH
	}

	username := c.opts.SSHUsername
	if username == "" {
		username = defaultUsername
	}
	dialTimeout := r.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = defaultDialTimeout
	}

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		exec, err := dial(c.ctx, c.addr, config)
		if err != nil {
			cbcontext.LoggerFromContext(c.ctx).WithFields(logrus.Fields{
				"err":     err,
				"addr":    c.addr,
				"attempt": attempt,
			}).Debug("waiting for ssh")
			return err
		}
		c.exec = exec
		return nil
	}, backoff.WithContext(r.backOff(c.opts.Timeout), c.ctx))
	if err != nil {
		return c.fail("ssh", err)
	}

	return multistep.ActionContinue
}

func (r *Runner) cleanupDial(c *deployContext) {
	if c.exec != nil {
		c.exec.Close()
	}
}

func (r *Runner) backOff(timeout time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.RetryInterval
	if b.InitialInterval == 0 {
		b.InitialInterval = defaultRetryInterval
	}
	if timeout > 0 {
		b.MaxElapsedTime = timeout
	}
	b.Reset()
	return b
}

func (r *Runner) stepUpload(step cloud.ScriptStep) func(*deployContext) multistep.StepAction {
	return func(c *deployContext) multistep.StepAction {
		cmd := fmt.Sprintf("cat > %s && chmod +x %s", step.Name, step.Name)
		if _, err := c.exec.Run(c.ctx, cmd, strings.NewReader(step.Script)); err != nil {
			return c.fail(step.Name, fmt.Errorf("uploading script: %w", err))
		}
		return multistep.ActionContinue
	}
}

func (r *Runner) stepRunScript(step cloud.ScriptStep) func(*deployContext) multistep.StepAction {
	return func(c *deployContext) multistep.StepAction {
		output, err := c.exec.Run(c.ctx, step.Command(), nil)
		if err != nil {
			if len(output) > 0 {
				err = fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
			}
			return c.fail(step.Name, err)
		}

		cbcontext.LoggerFromContext(c.ctx).WithFields(logrus.Fields{
			"node_id": c.nodeID,
			"step":    step.Name,
		}).Info("ran deployment step")
		return multistep.ActionContinue
	}
}

// LoadPrivateKey reads and parses an unencrypted PEM private key.
func LoadPrivateKey(path string) (ssh.Signer, error) {
	pem, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(pem)
}

type deployMultistepWrapper struct {
	f       func(*deployContext) multistep.StepAction
	cleanup func(*deployContext)
	c       *deployContext
}

func (w *deployMultistepWrapper) Run(multistep.StateBag) multistep.StepAction {
	if err := w.c.ctx.Err(); err != nil && w.c.err == nil {
		return w.c.fail("timeout", err)
	}
	return w.f(w.c)
}

func (w *deployMultistepWrapper) Cleanup(multistep.StateBag) {
	if w.cleanup != nil {
		w.cleanup(w.c)
	}
}

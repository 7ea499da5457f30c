package sshdeploy

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"io/ioutil"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travis-ci/cloud-driver/cloud"
	"golang.org/x/crypto/ssh"
)

type fakeExecutor struct {
	mu       sync.Mutex
	commands []string
	uploads  map[string]string
	failOn   string
	closed   bool
}

func (e *fakeExecutor) Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.commands = append(e.commands, cmd)
	if stdin != nil {
		script, err := ioutil.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		if e.uploads == nil {
			e.uploads = map[string]string{}
		}
		e.uploads[strings.Fields(cmd)[2]] = string(script)
		return nil, nil
	}

	if e.failOn != "" && strings.HasPrefix(cmd, e.failOn) {
		return []byte("E: Unable to locate package\n"), errors.New("Process exited with status 100")
	}
	return nil, nil
}

func (e *fakeExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	return nil
}

func testSigner(t *testing.T) ssh.Signer {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return signer
}

func newTestRunner(t *testing.T, exec Executor, failDials int) (*Runner, *[]string) {
	var addrs []string
	signer := testSigner(t)
	return &Runner{
		RetryInterval: time.Millisecond,
		LoadKey: func(path string) (ssh.Signer, error) {
			if path != "/keys/id_rsa" {
				return nil, errors.New("no such key")
			}
			return signer, nil
		},
		Dial: func(ctx context.Context, addr string, config *ssh.ClientConfig) (Executor, error) {
			addrs = append(addrs, addr+"@"+config.User)
			if len(addrs) <= failDials {
				return nil, errors.New("connection refused")
			}
			return exec, nil
		},
	}, &addrs
}

func testPlan() *cloud.Plan {
	return cloud.NewPlan(
		cloud.ScriptStep{Name: "deploy_init_log.sh", Script: "mkdir -p /var/log/atmo"},
		cloud.ScriptStep{Name: "deploy_aptget_update.sh", Script: "apt-get update", LogFile: "/var/log/atmo/deploy.log"},
	)
}

func TestRunnerRunsStepsInOrder(t *testing.T) {
	exec := &fakeExecutor{}
	runner, addrs := newTestRunner(t, exec, 2)

	err := runner.Run(context.Background(), "n-1", "10.0.0.5", cloud.DeployOptions{
		Plan:        testPlan(),
		SSHKey:      "/keys/id_rsa",
		SSHUsername: "ubuntu",
		Timeout:     time.Minute,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"10.0.0.5:22@ubuntu", "10.0.0.5:22@ubuntu", "10.0.0.5:22@ubuntu"}, *addrs)
	assert.Equal(t, []string{
		"cat > deploy_init_log.sh && chmod +x deploy_init_log.sh",
		"./deploy_init_log.sh",
		"cat > deploy_aptget_update.sh && chmod +x deploy_aptget_update.sh",
		"./deploy_aptget_update.sh >> /var/log/atmo/deploy.log 2>&1",
	}, exec.commands)
	assert.Equal(t, "apt-get update", exec.uploads["deploy_aptget_update.sh"])
	assert.True(t, exec.closed)
}

func TestRunnerStopsAtFailingStep(t *testing.T) {
	exec := &fakeExecutor{failOn: "./deploy_aptget_update.sh"}
	runner, _ := newTestRunner(t, exec, 0)

	plan := testPlan()
	plan.Steps = append(plan.Steps, cloud.ScriptStep{Name: "never.sh", Script: "true"})

	err := runner.Run(context.Background(), "n-1", "10.0.0.5", cloud.DeployOptions{
		Plan:    plan,
		SSHKey:  "/keys/id_rsa",
		Timeout: time.Minute,
	})

	var deployErr *cloud.DeploymentError
	require.True(t, errors.As(err, &deployErr), "got %v", err)
	assert.Equal(t, "n-1", deployErr.NodeID)
	assert.Equal(t, "deploy_aptget_update.sh", deployErr.Step)
	assert.Contains(t, err.Error(), "Unable to locate package")

	for _, cmd := range exec.commands {
		assert.NotContains(t, cmd, "never.sh")
	}
	assert.True(t, exec.closed)
}

func TestRunnerGivesUpDialing(t *testing.T) {
	exec := &fakeExecutor{}
	runner, addrs := newTestRunner(t, exec, 1<<20)
	runner.Port = 2222

	err := runner.Run(context.Background(), "n-1", "10.0.0.5", cloud.DeployOptions{
		Plan:    testPlan(),
		SSHKey:  "/keys/id_rsa",
		Timeout: 50 * time.Millisecond,
	})

	var deployErr *cloud.DeploymentError
	require.True(t, errors.As(err, &deployErr), "got %v", err)
	assert.Equal(t, "ssh", deployErr.Step)
	assert.NotEmpty(t, *addrs)
	assert.Equal(t, "10.0.0.5:2222@root", (*addrs)[0])
	assert.Empty(t, exec.commands)
}

func TestRunnerBadKey(t *testing.T) {
	runner, addrs := newTestRunner(t, &fakeExecutor{}, 0)

	err := runner.Run(context.Background(), "n-1", "10.0.0.5", cloud.DeployOptions{
		Plan:   testPlan(),
		SSHKey: "/keys/missing",
	})

	var deployErr *cloud.DeploymentError
	require.True(t, errors.As(err, &deployErr), "got %v", err)
	assert.Equal(t, "load_key", deployErr.Step)
	assert.Empty(t, *addrs)
}

func TestRunnerRejectsEmptyPlan(t *testing.T) {
	runner, addrs := newTestRunner(t, &fakeExecutor{}, 0)

	err := runner.Run(context.Background(), "n-1", "10.0.0.5", cloud.DeployOptions{SSHKey: "/keys/id_rsa"})
	assert.True(t, errors.Is(err, cloud.ErrMissingArgument))
	assert.Empty(t, *addrs)
}

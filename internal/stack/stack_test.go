//go:build !windows

package stack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackctl/internal/config"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/image"
	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/process"
	"github.com/loykin/stackctl/internal/readiness"
)

type fakeImages struct {
	calls int
	err   error
}

func (f *fakeImages) EnsureImages(_ context.Context, refs []image.Ref) ([]image.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]image.Result, 0, len(refs))
	for _, r := range refs {
		out = append(out, image.Result{Image: r.String()})
	}
	return out, nil
}

type fakeInfra struct {
	mu         sync.Mutex
	upCalls    int
	downCalls  int
	volumes    bool
	upErr      error
	downErr    error
	running    []string
	runningErr error
	ready      func() error
}

func (f *fakeInfra) Up(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upCalls++
	return f.upErr
}

func (f *fakeInfra) Down(_ context.Context, removeVolumes bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCalls++
	f.volumes = removeVolumes
	if f.downErr == nil {
		f.running = nil
	}
	return f.downErr
}

func (f *fakeInfra) Running(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.runningErr
}

func (f *fakeInfra) ExecProbe(service string, cmd []string, _ time.Duration) readiness.Probe {
	return readiness.ProbeFunc{
		Name: "exec:" + service + ":" + strings.Join(cmd, " "),
		Fn: func(context.Context) error {
			if f.ready == nil {
				return nil
			}
			return f.ready()
		},
	}
}

type memorySink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memorySink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) outcomes(component string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.Component == component {
			out = append(out, e.Outcome)
		}
	}
	return out
}

type fakeService struct {
	srv         *httptest.Server
	healthCalls atomic.Int32
	stops       atomic.Int32
	readyAfter  int32
}

// newFakeService answers /health with 503 until readyAfter requests were
// made. readyAfter < 0 never becomes healthy.
func newFakeService(t *testing.T, readyAfter int32) *fakeService {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fs := &fakeService{readyAfter: readyAfter}
	r := gin.New()
	r.GET("/health", func(c *gin.Context) {
		n := fs.healthCalls.Add(1)
		if fs.readyAfter < 0 || n < fs.readyAfter {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/stop", func(c *gin.Context) {
		fs.stops.Add(1)
		c.JSON(http.StatusOK, gin.H{"status": "stopping"})
	})
	fs.srv = httptest.NewServer(r)
	t.Cleanup(fs.srv.Close)
	return fs
}

var sleepSeq atomic.Int32

// uniqueSleep returns a sleep command line no other test uses, so sweeps
// only ever match the test's own processes.
func uniqueSleep() string {
	return fmt.Sprintf("sleep 3%d.%d", sleepSeq.Add(1), os.Getpid()%1000)
}

type harness struct {
	cfg     *config.Config
	images  *fakeImages
	infra   *fakeInfra
	sink    *memorySink
	service *fakeService
	deps    Deps
}

func newHarness(t *testing.T, readyAfter int32) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("", false)
	require.NoError(t, err)

	cfg.PIDDir = filepath.Join(dir, "run")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Images.Refs = []string{"postgres:15-alpine", "redis:7-alpine"}
	cfg.Infra.Poll = readiness.PollPolicy{MaxIterations: 3, Interval: 10 * time.Millisecond}
	cfg.Infra.Probes = []config.ProbeConfig{{Type: "exec", Service: "postgres", Command: "pg_isready -U postgres"}}

	svc := newFakeService(t, readyAfter)
	cfg.Backend.Command = uniqueSleep()
	cfg.Backend.Signature = cfg.Backend.Command
	cfg.Backend.BaseURL = svc.srv.URL
	cfg.Backend.StopTimeout = time.Second
	cfg.Backend.GracePeriod = 2 * time.Second
	cfg.Backend.Poll = readiness.PollPolicy{MaxIterations: 5, Interval: 20 * time.Millisecond}

	cfg.Dashboard.Command = uniqueSleep()
	cfg.Dashboard.Signature = cfg.Dashboard.Command
	cfg.Dashboard.HealthURL = ""
	cfg.Dashboard.GracePeriod = 2 * time.Second

	cfg.Verify.Command = "sh -c 'echo checked'"
	cfg.Verify.Timeout = 5 * time.Second

	h := &harness{
		cfg:     cfg,
		images:  &fakeImages{},
		infra:   &fakeInfra{running: []string{"postgres", "redis"}},
		sink:    &memorySink{},
		service: svc,
	}
	sup := process.NewSupervisor(logger.Discard(),
		process.WithPollInterval(20*time.Millisecond),
		process.WithKillWait(2*time.Second))
	h.deps = Deps{
		Config:     cfg,
		Images:     h.images,
		Infra:      h.infra,
		Supervisor: sup,
		Endpoint:   cfg.Endpoint(),
		Sink:       h.sink,
		Logger:     logger.Discard(),
	}
	t.Cleanup(func() {
		NewCoordinator(h.deps).Shutdown(context.Background(), ShutdownOptions{})
	})
	return h
}

func (h *harness) backendPIDFile() string { return h.cfg.BackendSpec().PIDFile }

func TestUpStartsBackendOnceAndReusesIt(t *testing.T) {
	h := newHarness(t, 2)

	rep, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{})
	require.NoError(t, err)
	require.NotNil(t, rep.Backend)
	assert.True(t, rep.Backend.Ready)
	assert.False(t, rep.Backend.Reused)
	assert.Len(t, rep.Images, 2)
	assert.Equal(t, 1, h.infra.upCalls)
	assert.Equal(t, int32(2), h.service.healthCalls.Load())
	assert.Nil(t, rep.Dashboard)
	assert.Nil(t, rep.Verification)

	pid, err := process.ReadPIDFile(h.backendPIDFile())
	require.NoError(t, err)
	assert.Equal(t, rep.Backend.PID, pid)
	entries, err := os.ReadDir(h.cfg.PIDDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	again, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{})
	require.NoError(t, err)
	assert.True(t, again.Backend.Reused)
	assert.Equal(t, pid, again.Backend.PID)

	assert.Equal(t, []string{"started", "ready", "reused", "ready"}, h.sink.outcomes(h.cfg.Backend.Name))
}

func TestUpBackendNeverReadyLeavesProcessRunning(t *testing.T) {
	h := newHarness(t, -1)

	rep, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{WithDashboard: true, RunVerification: true})
	var nre *NotReadyError
	require.ErrorAs(t, err, &nre)
	var te *readiness.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 5, te.Iterations)
	assert.Equal(t, h.cfg.Backend.Name, nre.Component)
	assert.Contains(t, strings.Join(nre.Hints(), "\n"), nre.LogFile)

	rec, err := h.deps.Supervisor.Inspect(h.backendPIDFile())
	require.NoError(t, err)
	assert.True(t, rec.Alive)
	assert.Equal(t, rep.Backend.PID, rec.PID)
	assert.Nil(t, rep.Dashboard, "later steps must not run after a fatal failure")
	assert.Nil(t, rep.Verification)
}

func TestUpReplacesStalePIDFile(t *testing.T) {
	h := newHarness(t, 1)
	dead := exec.Command("true")
	require.NoError(t, dead.Run())
	require.NoError(t, os.MkdirAll(h.cfg.PIDDir, 0o750))
	require.NoError(t, process.WritePIDFile(h.backendPIDFile(), dead.Process.Pid))

	rep, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{})
	require.NoError(t, err)
	assert.False(t, rep.Backend.Reused)
	assert.NotEqual(t, dead.Process.Pid, rep.Backend.PID)
}

func TestUpImageFailureAbortsBeforeInfra(t *testing.T) {
	h := newHarness(t, 1)
	h.images.err = &image.ProvisionError{Image: "postgres:15-alpine", Attempts: 3, Err: errors.New("registry down")}

	_, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{})
	var pe *image.ProvisionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, h.infra.upCalls)
	_, statErr := os.Stat(h.backendPIDFile())
	assert.True(t, os.IsNotExist(statErr))
}

func TestUpInfraNotReady(t *testing.T) {
	h := newHarness(t, 1)
	var polls atomic.Int32
	h.infra.ready = func() error {
		polls.Add(1)
		return errors.New("no response")
	}

	_, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{})
	var ie *InfraNotReadyError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, int32(3), polls.Load())
	assert.NotEmpty(t, ie.Hints())
	_, statErr := os.Stat(h.backendPIDFile())
	assert.True(t, os.IsNotExist(statErr), "backend must not start before the stores are ready")
}

func TestUpOptionalStepsAreNotFatal(t *testing.T) {
	h := newHarness(t, 1)
	h.cfg.Dashboard.Command = "/nonexistent/stackctl-dashboard"
	h.cfg.Dashboard.Signature = ""
	h.cfg.Verify.Command = "sh -c 'echo checked; exit 3'"

	rep, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{WithDashboard: true, RunVerification: true})
	require.NoError(t, err)
	require.NotNil(t, rep.Dashboard)
	assert.NotEmpty(t, rep.Dashboard.Error)
	require.NotNil(t, rep.Verification)
	assert.False(t, rep.Verification.OK)
	assert.Contains(t, rep.Verification.Detail, "exit 3")

	out, err := os.ReadFile(rep.Verification.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(out), "checked")
}

func TestUpWithDashboardAndVerification(t *testing.T) {
	h := newHarness(t, 1)

	rep, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{WithDashboard: true, RunVerification: true})
	require.NoError(t, err)
	require.NotNil(t, rep.Dashboard)
	assert.Empty(t, rep.Dashboard.Error)
	assert.Positive(t, rep.Dashboard.PID)
	require.NotNil(t, rep.Verification)
	assert.True(t, rep.Verification.OK)

	sr := NewCoordinator(h.deps).Shutdown(context.Background(), ShutdownOptions{})
	dash, ok := sr.Entry(h.cfg.Dashboard.Name)
	require.True(t, ok)
	assert.Equal(t, process.OutcomeStopped, dash.Outcome)
	assert.Equal(t, rep.Dashboard.PID, dash.PID)
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := newHarness(t, 1)
	rep, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{})
	require.NoError(t, err)

	first := NewCoordinator(h.deps).Shutdown(context.Background(), ShutdownOptions{TeardownInfra: true})
	require.False(t, first.Failed(), "%+v", first.Entries)
	assert.Equal(t, []string{ComponentStopEndpoint, h.cfg.Backend.Name, h.cfg.Dashboard.Name, ComponentInfra}, components(first))

	backend, _ := first.Entry(h.cfg.Backend.Name)
	assert.Equal(t, process.OutcomeStopped, backend.Outcome)
	assert.Equal(t, rep.Backend.PID, backend.PID)
	ep, _ := first.Entry(ComponentStopEndpoint)
	assert.Equal(t, process.OutcomeStopped, ep.Outcome)
	assert.Equal(t, int32(1), h.service.stops.Load())
	inf, _ := first.Entry(ComponentInfra)
	assert.Equal(t, process.OutcomeStopped, inf.Outcome)
	_, statErr := os.Stat(h.backendPIDFile())
	assert.True(t, os.IsNotExist(statErr))

	h.service.srv.Close()
	second := NewCoordinator(h.deps).Shutdown(context.Background(), ShutdownOptions{TeardownInfra: true})
	for _, e := range second.Entries {
		assert.Equal(t, process.OutcomeAlreadyStopped, e.Outcome, e.Component)
	}
	assert.Equal(t, 1, h.infra.downCalls)
}

func TestShutdownEndpointOutcomes(t *testing.T) {
	h := newHarness(t, 1)
	c := NewCoordinator(h.deps)

	e := c.stopEndpoint(context.Background())
	assert.Equal(t, process.OutcomeStopped, e.Outcome)

	h.deps.Endpoint.StopPath = "/missing"
	c = NewCoordinator(h.deps)
	e = c.stopEndpoint(context.Background())
	assert.Equal(t, process.OutcomeNotFound, e.Outcome)
	assert.Contains(t, e.Detail, "404")

	h.service.srv.Close()
	e = c.stopEndpoint(context.Background())
	assert.Equal(t, process.OutcomeAlreadyStopped, e.Outcome)
	assert.Equal(t, "service may not be running", e.Detail)
}

func TestShutdownSweepsUntrackedBackend(t *testing.T) {
	h := newHarness(t, 1)
	args := strings.Fields(h.cfg.Backend.Command)
	orphan := exec.Command(args[0], args[1:]...)
	require.NoError(t, orphan.Start())
	done := make(chan struct{})
	go func() { _ = orphan.Wait(); close(done) }()

	rep := NewCoordinator(h.deps).Shutdown(context.Background(), ShutdownOptions{Grace: time.Second})
	backend, ok := rep.Entry(h.cfg.Backend.Name)
	require.True(t, ok)
	assert.Equal(t, process.OutcomeStopped, backend.Outcome)
	assert.Contains(t, backend.Detail, "swept 1")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orphan still running")
	}
}

func TestShutdownInfraFailureIsReported(t *testing.T) {
	h := newHarness(t, 1)
	h.infra.downErr = errors.New("compose exploded")

	rep := NewCoordinator(h.deps).Shutdown(context.Background(), ShutdownOptions{TeardownInfra: true, RemoveVolumes: true})
	assert.True(t, rep.Failed())
	require.Error(t, rep.Err())
	assert.Contains(t, rep.Err().Error(), "compose exploded")
	assert.True(t, h.infra.volumes)

	inf, _ := rep.Entry(ComponentInfra)
	assert.Equal(t, process.OutcomeFailed, inf.Outcome)
	assert.Equal(t, "compose exploded", inf.Error)
	assert.Equal(t, []string{"failed"}, h.sink.outcomes(ComponentInfra))
}

func TestShutdownSkipsInfraWithoutFlag(t *testing.T) {
	h := newHarness(t, 1)
	rep := NewCoordinator(h.deps).Shutdown(context.Background(), ShutdownOptions{})
	_, ok := rep.Entry(ComponentInfra)
	assert.False(t, ok)
	assert.Equal(t, 0, h.infra.downCalls)
}

func TestStatus(t *testing.T) {
	h := newHarness(t, 1)
	rep, err := NewLauncher(h.deps).Up(context.Background(), LaunchOptions{})
	require.NoError(t, err)

	st := Status(context.Background(), h.deps)
	require.NotEmpty(t, st.Processes)
	backend := st.Processes[0]
	assert.Equal(t, h.cfg.Backend.Name, backend.Name)
	assert.True(t, backend.Alive)
	assert.Equal(t, rep.Backend.PID, backend.PID)
	assert.Equal(t, rep.Backend.LogFile, backend.LogFile)
	assert.True(t, st.Backend.Healthy)
	assert.Equal(t, []string{"postgres", "redis"}, st.Infra)
	if len(st.Processes) > 1 {
		assert.False(t, st.Processes[1].Alive)
	}
}

func components(r *ShutdownReport) []string {
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Component)
	}
	return out
}

func TestMissingCollaboratorsAreErrors(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load("", false)
	require.NoError(t, err)
	cfg.PIDDir = filepath.Join(dir, "run")
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.Backend.BaseURL = "http://127.0.0.1:1"
	cfg.Backend.Signature = ""
	cfg.Dashboard.Signature = ""
	d := Deps{Config: cfg, Logger: logger.Discard()}

	_, err = NewLauncher(d).Up(context.Background(), LaunchOptions{})
	require.ErrorIs(t, err, ErrMissingCollaborator)
	assert.Contains(t, err.Error(), "Images")
	assert.Contains(t, err.Error(), "Infra")

	rep := NewCoordinator(d).Shutdown(context.Background(), ShutdownOptions{TeardownInfra: true})
	inf, ok := rep.Entry(ComponentInfra)
	require.True(t, ok)
	assert.Equal(t, process.OutcomeFailed, inf.Outcome)
	assert.ErrorIs(t, inf.Err, ErrMissingCollaborator)
	backend, _ := rep.Entry(cfg.Backend.Name)
	assert.Equal(t, process.OutcomeAlreadyStopped, backend.Outcome, "other steps still run")
}

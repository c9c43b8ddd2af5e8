package apporch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"weak"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeDirs struct{ log *eventLog }

func (f fakeDirs) Ensure(_ context.Context, path string, recursive bool) error {
	f.log.add("ensure(%s,%t)", path, recursive)
	return nil
}

type fakeLinks struct{ log *eventLog }

func (f fakeLinks) Bind(_ context.Context, link string, target string) error {
	f.log.add("bind(%s->%s)", link, target)
	return nil
}

type fakeCommands struct {
	log *eventLog
	err error
}

func (f fakeCommands) Run(_ context.Context, command string) error {
	f.log.add("run(%s)", command)
	return f.err
}

type hookOpt struct {
	Label  string `json:"label"`
	FailOn Phase  `json:"fail_on"`
}

var phaseLabels = map[Phase]string{
	PhasePreCompile: "precompile",
	PhasePreMigrate: "premigrate",
	PhasePreDeploy:  "predeploy",
	PhasePreRestart: "prerestart",
}

type recordingResource struct {
	label  string
	failOn Phase
	log    *eventLog
	closed *int32
}

func (r *recordingResource) RunPhase(_ context.Context, phase Phase, app Application) error {
	if app == nil {
		return errors.New("missing application back-reference")
	}
	r.log.add("%s(%s)", phaseLabels[phase], r.label)
	if phase == r.failOn {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingResource) Close() error {
	r.log.add("close(%s)", r.label)
	if r.closed != nil {
		atomic.AddInt32(r.closed, 1)
	}
	return nil
}

func newRecordingRegistry(t *testing.T, log *eventLog) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, Register(reg, "application_hook", Definition[hookOpt]{
		Build: func(_ context.Context, opt hookOpt) (Resource, error) {
			return &recordingResource{label: opt.Label, failOn: opt.FailOn, log: log}, nil
		},
	}))
	return reg
}

func newTestExecutor(t *testing.T, log *eventLog, opts ...ExecutorOption) *Executor {
	t.Helper()
	coord, err := NewCoordinator(fakeDirs{log: log}, fakeLinks{log: log}, fakeCommands{log: log})
	require.NoError(t, err)
	exec, err := NewExecutor(coord, opts...)
	require.NoError(t, err)
	return exec
}

func mustRawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestCandidatesOrder(t *testing.T) {
	got := Candidates("db", []string{"application_foo", "application_bar"})
	assert.Equal(t, []string{"application_db", "application_foo_db", "application_bar_db", "db"}, got)

	got = Candidates("rails", []string{"apache2", "application_ruby", "database"})
	assert.Equal(t, []string{"application_rails", "application_ruby_rails", "rails"}, got)

	assert.Equal(t, []string{"application_db", "db"}, Candidates("db", nil))
}

func TestRegistryResolvePrecedence(t *testing.T) {
	type opt struct{}
	named := func(name string) Definition[opt] {
		return Definition[opt]{
			Build: func(_ context.Context, _ opt) (Resource, error) {
				return ResourceFunc(func(context.Context, Phase, Application) error { return nil }), nil
			},
		}
	}

	reg := NewRegistry()
	reg.AddNamespace("application_foo")
	reg.AddNamespace("application_bar")
	reg.AddNamespace("application_foo")
	assert.Equal(t, []string{"application_foo", "application_bar"}, reg.Namespaces())

	require.NoError(t, Register(reg, "db", named("db")))
	_, resolved, err := reg.Resolve(context.Background(), "db", nil)
	require.NoError(t, err)
	assert.Equal(t, "db", resolved)

	require.NoError(t, Register(reg, "application_bar_db", named("application_bar_db")))
	_, resolved, err = reg.Resolve(context.Background(), "db", nil)
	require.NoError(t, err)
	assert.Equal(t, "application_bar_db", resolved)

	require.NoError(t, Register(reg, "application_foo_db", named("application_foo_db")))
	_, resolved, err = reg.Resolve(context.Background(), "db", nil)
	require.NoError(t, err)
	assert.Equal(t, "application_foo_db", resolved)

	require.NoError(t, Register(reg, "application_db", named("application_db")))
	_, resolved, err = reg.Resolve(context.Background(), "db", nil)
	require.NoError(t, err)
	assert.Equal(t, "application_db", resolved)
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(WithNamespaceSource(Namespaces{"application_foo", "other", "application_bar"}))

	_, _, err := reg.Resolve(context.Background(), "db", nil)
	require.Error(t, err)
	var notFound ResourceNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "db", notFound.Name)
	assert.Equal(t, []string{"application_db", "application_foo_db", "application_bar_db", "db"}, notFound.Candidates)
	assert.Contains(t, err.Error(), "application_foo_db, application_bar_db")
}

func TestRegistryResolveDoesNotMaskBuildFailure(t *testing.T) {
	type opt struct{}
	buildErr := errors.New("connection refused")

	reg := NewRegistry()
	var fallbackBuilt int32
	require.NoError(t, Register(reg, "application_db", Definition[opt]{
		Build: func(_ context.Context, _ opt) (Resource, error) {
			return nil, buildErr
		},
	}))
	require.NoError(t, Register(reg, "db", Definition[opt]{
		Build: func(_ context.Context, _ opt) (Resource, error) {
			atomic.AddInt32(&fallbackBuilt, 1)
			return ResourceFunc(func(context.Context, Phase, Application) error { return nil }), nil
		},
	}))

	_, _, err := reg.Resolve(context.Background(), "db", nil)
	require.Error(t, err)
	var instErr InstantiationError
	require.True(t, errors.As(err, &instErr))
	assert.Equal(t, "application_db", instErr.Candidate)
	assert.ErrorIs(t, err, buildErr)
	assert.False(t, errors.As(err, new(ResourceNotFoundError)))
	assert.Equal(t, int32(0), atomic.LoadInt32(&fallbackBuilt))
}

func TestRegistryResolveDecodeFailure(t *testing.T) {
	type opt struct {
		Port int `json:"port"`
	}
	reg := NewRegistry()
	require.NoError(t, Register(reg, "web", Definition[opt]{
		Build: func(_ context.Context, _ opt) (Resource, error) {
			return ResourceFunc(func(context.Context, Phase, Application) error { return nil }), nil
		},
	}))

	_, _, err := reg.Resolve(context.Background(), "web", json.RawMessage(`{"port":"eighty"}`))
	require.Error(t, err)
	var instErr InstantiationError
	require.True(t, errors.As(err, &instErr))
	assert.Equal(t, "web", instErr.Candidate)
}

func TestRegisterValidation(t *testing.T) {
	type opt struct{}
	def := Definition[opt]{
		Build: func(_ context.Context, _ opt) (Resource, error) { return nil, nil },
	}

	require.Error(t, Register[opt](nil, "x", def))
	require.Error(t, Register(NewRegistry(), "", def))
	require.Error(t, Register(NewRegistry(), "x", Definition[opt]{}))

	reg := NewRegistry()
	require.NoError(t, Register(reg, "x", def))
	require.Error(t, Register(reg, "x", def))
	assert.True(t, reg.Registered("x"))
	assert.Panics(t, func() { MustRegister(reg, "x", def) })

	_, _, err := reg.Resolve(context.Background(), "x", nil)
	var instErr InstantiationError
	assert.True(t, errors.As(err, &instErr), "nil resource is an instantiation failure")
}

func TestDeploymentUseBindsSubResources(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/www/shop"}, EnvironmentName("staging"))
	require.NoError(t, err)
	assert.Equal(t, ActionDeploy, d.Action())
	assert.Equal(t, "/vagrant/shop", d.Source())
	assert.Equal(t, "/vagrant", d.SharedFolder())
	assert.Equal(t, d.Path(), d.ReleasePath())
	assert.Equal(t, d.Path(), d.SharedPath())

	first, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "a"}))
	require.NoError(t, err)
	second, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "b"}))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, ActionNothing, first.Action())
	assert.Equal(t, "hook", first.Type())
	assert.Equal(t, "application_hook", first.ResolvedType())
	assert.Equal(t, "hook[0]", first.ID())
	assert.Equal(t, "hook[1]", second.ID())
	assert.Same(t, d, first.Application())

	_, ok := first.RestartCommand()
	assert.False(t, ok)
	first.SetRestartCommand(Shell("true"))
	cmd, ok := first.RestartCommand()
	require.True(t, ok)
	assert.Equal(t, "true", cmd.Command)
	first.SetRestartCommand(RestartCommand{})
	_, ok = first.RestartCommand()
	assert.False(t, ok)

	subs := d.SubResources()
	require.Len(t, subs, 2)
	assert.Same(t, first, subs[0])
	assert.Same(t, second, subs[1])

	_, err = d.Use(context.Background(), "nope", nil)
	var notFound ResourceNotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.Len(t, d.SubResources(), 2)
}

func TestNewDeploymentValidation(t *testing.T) {
	reg := NewRegistry()
	_, err := NewDeployment(nil, Spec{Name: "a"}, nil)
	require.Error(t, err)
	_, err = NewDeployment(reg, Spec{}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewDeployment(reg, Spec{Name: "a", Action: "destroy"}, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	d, err := NewDeployment(reg, Spec{Name: "a", Source: "/src/a", SharedFolder: "/shared", Action: ActionRestart}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/src/a", d.Source())
	assert.Equal(t, ActionRestart, d.Action())
	assert.Equal(t, ProductionEnvironment, d.EnvironmentName())
}

func TestDefaultEnvironmentName(t *testing.T) {
	assert.Equal(t, "production", DefaultEnvironmentName("foo_default"))
	assert.Equal(t, "production", DefaultEnvironmentName("_default"))
	assert.Equal(t, "production", DefaultEnvironmentName(""))
	assert.Equal(t, "staging", DefaultEnvironmentName("staging"))

	reg := NewRegistry()
	d, err := NewDeployment(reg, Spec{Name: "a"}, EnvironmentName("foo_default"))
	require.NoError(t, err)
	assert.Equal(t, "production", d.EnvironmentName())

	d, err = NewDeployment(reg, Spec{Name: "a"}, EnvironmentName("staging"))
	require.NoError(t, err)
	assert.Equal(t, "staging", d.EnvironmentName())

	d, err = NewDeployment(reg, Spec{Name: "a", EnvironmentName: "qa"}, EnvironmentName("staging"))
	require.NoError(t, err)
	assert.Equal(t, "qa", d.EnvironmentName())
}

func TestSubResourceBackReferenceDoesNotKeepDeploymentAlive(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)

	var ref weak.Pointer[Deployment]
	func() {
		d, err := NewDeployment(reg, Spec{Name: "short-lived", Path: "/srv/a"}, nil)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "x"}))
			require.NoError(t, err)
		}
		ref = weak.Make(d)
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return ref.Value() == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDeployPhaseOrder(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	exec := newTestExecutor(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/www/shop", Source: "/src/shop"}, nil)
	require.NoError(t, err)
	child1, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "child1"}))
	require.NoError(t, err)
	child2, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "child2"}))
	require.NoError(t, err)
	child1.SetRestartCommand(Callback(func() error {
		log.add("restart(child1)")
		return nil
	}))
	child2.SetRestartCommand(Callback(func() error {
		log.add("restart(child2)")
		return nil
	}))

	report, err := exec.Deploy(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, []string{
		"ensure(/srv/www,true)",
		"bind(/srv/www/shop->/src/shop)",
		"precompile(child1)", "precompile(child2)",
		"premigrate(child1)", "premigrate(child2)",
		"predeploy(child1)", "predeploy(child2)",
		"prerestart(child1)", "prerestart(child2)",
		"restart(child1)", "restart(child2)",
		"close(child2)", "close(child1)",
	}, log.list())

	require.Len(t, report.Steps, 12)
	assert.Equal(t, Step{Phase: PhaseEnsureDirectory, Resource: SelfResource}, report.Steps[0])
	assert.Equal(t, Step{Phase: PhaseRestart, Resource: "hook[1]"}, report.Steps[11])
	assert.Equal(t, "shop", report.Deployment)
	assert.Equal(t, ActionDeploy, report.Action)
	assert.True(t, d.Sealed())

	_, err = d.Use(context.Background(), "hook", nil)
	assert.ErrorIs(t, err, ErrSealed)
}

func TestRestartCommandVariants(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	exec := newTestExecutor(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop", Action: ActionRestart}, nil)
	require.NoError(t, err)
	_, err = d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "plain"}))
	require.NoError(t, err)
	literal, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "literal"}))
	require.NoError(t, err)
	literal.SetRestartCommand(Shell("touch tmp/restart.txt"))
	callback, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "callback"}))
	require.NoError(t, err)
	var calls int32
	callback.SetRestartCommand(Callback(func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	report, err := exec.Execute(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, ActionRestart, report.Action)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{
		"prerestart(plain)", "prerestart(literal)", "prerestart(callback)",
		"run(touch tmp/restart.txt)",
		"close(callback)", "close(literal)", "close(plain)",
	}, log.list())
	assert.Equal(t, []Step{
		{Phase: PhasePreRestart, Resource: "hook[0]"},
		{Phase: PhasePreRestart, Resource: "hook[1]"},
		{Phase: PhasePreRestart, Resource: "hook[2]"},
		{Phase: PhaseRestart, Resource: "hook[0]", Skipped: true},
		{Phase: PhaseRestart, Resource: "hook[1]"},
		{Phase: PhaseRestart, Resource: "hook[2]"},
	}, report.Steps)
}

type pathCommands struct {
	paths []string
}

func (p *pathCommands) Run(ctx context.Context, _ string) error {
	app, ok := ApplicationFrom(ctx)
	if !ok {
		return errors.New("no application in context")
	}
	p.paths = append(p.paths, app.Path())
	return nil
}

func TestRestartCommandReceivesApplication(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	runner := &pathCommands{}
	coord, err := NewCoordinator(fakeDirs{log: log}, fakeLinks{log: log}, runner)
	require.NoError(t, err)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, nil)
	require.NoError(t, err)
	sub, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "web"}))
	require.NoError(t, err)
	sub.SetRestartCommand(Shell("touch tmp/restart.txt"))

	require.NoError(t, coord.Run(context.Background(), d, DeployPhases, nil))
	assert.Equal(t, []string{"/srv/shop"}, runner.paths)

	_, ok := ApplicationFrom(context.Background())
	assert.False(t, ok)
}

func TestDeployFailFastWithoutRollback(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	exec := newTestExecutor(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, nil)
	require.NoError(t, err)
	child1, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "child1"}))
	require.NoError(t, err)
	child1.SetRestartCommand(Shell("never"))
	_, err = d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "child2", FailOn: PhasePreMigrate}))
	require.NoError(t, err)

	report, err := exec.Deploy(context.Background(), d)
	require.Error(t, err)
	var phaseErr PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhasePreMigrate, phaseErr.Phase)
	assert.Equal(t, "hook[1]", phaseErr.Resource)
	assert.Equal(t, "shop", phaseErr.Deployment)
	assert.Equal(t, err, report.Err)

	assert.Equal(t, []string{
		"ensure(/srv,true)",
		"bind(/srv/shop->/vagrant/shop)",
		"precompile(child1)", "precompile(child2)",
		"premigrate(child1)", "premigrate(child2)",
		"close(child2)", "close(child1)",
	}, log.list())
	assert.Len(t, report.Steps, 5)
}

type failingDirs struct{}

func (failingDirs) Ensure(context.Context, string, bool) error { return errors.New("read-only file system") }

func TestDeployDirectoryFailureIsSelfPhaseError(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	coord, err := NewCoordinator(failingDirs{}, fakeLinks{log: log}, fakeCommands{log: log})
	require.NoError(t, err)
	exec, err := NewExecutor(coord)
	require.NoError(t, err)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, nil)
	require.NoError(t, err)
	_, err = d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "child1"}))
	require.NoError(t, err)

	_, err = exec.Deploy(context.Background(), d)
	var phaseErr PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseEnsureDirectory, phaseErr.Phase)
	assert.Equal(t, SelfResource, phaseErr.Resource)
	assert.Equal(t, []string{"close(child1)"}, log.list())
}

func TestRestartCommandFailurePropagates(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	coord, err := NewCoordinator(fakeDirs{log: log}, fakeLinks{log: log}, fakeCommands{log: log, err: errors.New("exit status 1")})
	require.NoError(t, err)
	exec, err := NewExecutor(coord)
	require.NoError(t, err)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, nil)
	require.NoError(t, err)
	first, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "first"}))
	require.NoError(t, err)
	first.SetRestartCommand(Shell("service shop restart"))
	second, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "second"}))
	require.NoError(t, err)
	var secondCalls int32
	second.SetRestartCommand(Callback(func() error {
		atomic.AddInt32(&secondCalls, 1)
		return nil
	}))

	_, err = exec.Restart(context.Background(), d)
	var phaseErr PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseRestart, phaseErr.Phase)
	assert.Equal(t, "hook[0]", phaseErr.Resource)
	assert.Equal(t, int32(0), atomic.LoadInt32(&secondCalls))
}

func TestDeployRequiresPath(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	exec := newTestExecutor(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop"}, nil)
	require.NoError(t, err)
	_, err = exec.Deploy(context.Background(), d)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, log.list())
	assert.False(t, d.Sealed())

	_, err = exec.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewCoordinatorValidation(t *testing.T) {
	log := &eventLog{}
	_, err := NewCoordinator(nil, fakeLinks{log: log}, fakeCommands{log: log})
	require.Error(t, err)
	_, err = NewCoordinator(fakeDirs{log: log}, nil, fakeCommands{log: log})
	require.Error(t, err)
	_, err = NewCoordinator(fakeDirs{log: log}, fakeLinks{log: log}, nil)
	require.Error(t, err)
	_, err = NewExecutor(nil)
	require.Error(t, err)

	coord, err := NewCoordinator(fakeDirs{log: log}, fakeLinks{log: log}, fakeCommands{log: log})
	require.NoError(t, err)
	err = coord.Run(context.Background(), nil, DeployPhases, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, log.list())
}

type reportRecorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *reportRecorder) Record(_ context.Context, report Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func TestExecutorRecordsReports(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)
	rec := &reportRecorder{}
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var ticks int64
	exec := newTestExecutor(t, log, WithRecorder(rec), WithClock(func() time.Time {
		n := atomic.AddInt64(&ticks, 1)
		return start.Add(time.Duration(n) * time.Second)
	}))

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, EnvironmentName("staging"))
	require.NoError(t, err)
	_, err = d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "a", FailOn: PhasePreDeploy}))
	require.NoError(t, err)

	_, err = exec.Deploy(context.Background(), d)
	require.Error(t, err)

	require.Len(t, rec.reports, 1)
	got := rec.reports[0]
	assert.Equal(t, "shop", got.Deployment)
	assert.Equal(t, "staging", got.Environment)
	assert.False(t, got.Succeeded())
	assert.Equal(t, start.Add(time.Second), got.StartedAt)
	assert.Equal(t, start.Add(2*time.Second), got.FinishedAt)
}

func TestExecutorCoalescesConcurrentRuns(t *testing.T) {
	type opt struct{}
	reg := NewRegistry()
	var runs int32
	require.NoError(t, Register(reg, "slow", Definition[opt]{
		Build: func(_ context.Context, _ opt) (Resource, error) {
			return ResourceFunc(func(_ context.Context, phase Phase, _ Application) error {
				if phase == PhasePreCompile {
					atomic.AddInt32(&runs, 1)
					time.Sleep(50 * time.Millisecond)
				}
				return nil
			}), nil
		},
	}))
	log := &eventLog{}
	exec := newTestExecutor(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, nil)
	require.NoError(t, err)
	_, err = d.Use(context.Background(), "slow", nil)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := exec.Deploy(context.Background(), d); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

type slowDirs struct {
	mu      sync.Mutex
	ensured []string
}

func (s *slowDirs) Ensure(_ context.Context, path string, _ bool) error {
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = append(s.ensured, path)
	return nil
}

func TestExecutorRunsSameNamedDeploymentsIndependently(t *testing.T) {
	log := &eventLog{}
	dirs := &slowDirs{}
	coord, err := NewCoordinator(dirs, fakeLinks{log: log}, fakeCommands{log: log})
	require.NoError(t, err)
	exec, err := NewExecutor(coord)
	require.NoError(t, err)

	reg := NewRegistry()
	a, err := NewDeployment(reg, Spec{Name: "web", Path: "/srv/a/web"}, nil)
	require.NoError(t, err)
	b, err := NewDeployment(reg, Spec{Name: "web", Path: "/srv/b/web"}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, d := range []*Deployment{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = exec.Deploy(context.Background(), d)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.ElementsMatch(t, []string{"/srv/a", "/srv/b"}, dirs.ensured)
	assert.True(t, a.Sealed())
	assert.True(t, b.Sealed())
}

type ctxCloser struct {
	closed bool
	err    error
}

func (c *ctxCloser) RunPhase(context.Context, Phase, Application) error { return nil }

func (c *ctxCloser) Close(context.Context) error {
	c.closed = true
	return c.err
}

func TestExecutorReportsCloseFailure(t *testing.T) {
	type opt struct{}
	closer := &ctxCloser{err: errors.New("pool busy")}
	reg := NewRegistry()
	require.NoError(t, Register(reg, "pool", Definition[opt]{
		Build: func(_ context.Context, _ opt) (Resource, error) { return closer, nil },
	}))
	log := &eventLog{}
	exec := newTestExecutor(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, nil)
	require.NoError(t, err)
	_, err = d.Use(context.Background(), "pool", nil)
	require.NoError(t, err)

	_, err = exec.Deploy(context.Background(), d)
	require.Error(t, err)
	assert.True(t, closer.closed)
	assert.Contains(t, err.Error(), "pool busy")
}

func TestPlanExport(t *testing.T) {
	log := &eventLog{}
	reg := newRecordingRegistry(t, log)

	d, err := NewDeployment(reg, Spec{Name: "shop", Path: "/srv/shop"}, nil)
	require.NoError(t, err)
	web, err := d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "web"}))
	require.NoError(t, err)
	web.SetRestartCommand(Shell("true"))
	_, err = d.Use(context.Background(), "hook", mustRawJSON(t, hookOpt{Label: "db"}))
	require.NoError(t, err)

	plan := d.Plan()
	require.Len(t, plan.Nodes, 3)
	require.Len(t, plan.Edges, 2)
	assert.Equal(t, PlanEdge{From: "shop", To: "hook[1]"}, plan.Edges[1])
	require.Len(t, plan.Steps, 12)
	assert.Equal(t, Step{Phase: PhaseRestart, Resource: "hook[0]"}, plan.Steps[10])
	assert.Equal(t, Step{Phase: PhaseRestart, Resource: "hook[1]", Skipped: true}, plan.Steps[11])

	assert.Contains(t, plan.DOT(), "digraph apporch")
	assert.Contains(t, plan.DOT(), "application_hook")
	assert.Contains(t, plan.Mermaid(), "graph TD")
	assert.Contains(t, plan.Text(), "(skipped)")
	assert.Empty(t, log.list(), "planning must not run hooks")
	assert.False(t, d.Sealed())
}

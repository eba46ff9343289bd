package opspilot_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-opspilot"
	"github.com/goliatone/go-opspilot/slot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFactory struct {
	mu    sync.Mutex
	creds map[string]*fakeCredentials
	gates map[string]chan struct{}
	count int
	err   error
}

func (f *fakeFactory) build(id string, _ slot.Store) (opspilot.CredentialStore, error) {
	f.mu.Lock()
	gate := f.gates[id]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.err != nil {
		return nil, f.err
	}
	if f.creds == nil {
		f.creds = make(map[string]*fakeCredentials)
	}
	creds := newFakeCredentials()
	f.creds[id] = creds
	return creds, nil
}

// hold blocks builds of id until the returned channel is closed
func (f *fakeFactory) hold(id string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gates == nil {
		f.gates = make(map[string]chan struct{})
	}
	gate := make(chan struct{})
	f.gates[id] = gate
	return gate
}

func (f *fakeFactory) builds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeFactory) get(id string) *fakeCredentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[id]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestInstanceConfig(dir opspilot.DirectoryStore, factory *fakeFactory) opspilot.InstanceConfig {
	return opspilot.InstanceConfig{
		Directory:   dir,
		Slots:       slot.NewMemory(),
		Credentials: factory.build,
		Logger:      quietLogger{},
	}
}

func TestInstanceConfigRequired(t *testing.T) {
	factory := &fakeFactory{}

	tests := []struct {
		name   string
		mutate func(*opspilot.InstanceConfig)
	}{
		{name: "directory", mutate: func(c *opspilot.InstanceConfig) { c.Directory = nil }},
		{name: "slots", mutate: func(c *opspilot.InstanceConfig) { c.Slots = nil }},
		{name: "credentials", mutate: func(c *opspilot.InstanceConfig) { c.Credentials = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestInstanceConfig(newMemDirectory(), factory)
			tt.mutate(&cfg)

			_, err := opspilot.NewInstanceRegistry(context.Background(), cfg)
			require.Error(t, err)
			assert.True(t, goerrors.IsCategory(err, goerrors.CategoryBadInput))
		})
	}
}

func TestNewInstanceRequiresID(t *testing.T) {
	cfg := newTestInstanceConfig(newMemDirectory(), &fakeFactory{})

	_, err := opspilot.NewInstance(context.Background(), "  ", cfg)
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryBadInput))
}

func TestNewInstanceFactoryFailure(t *testing.T) {
	factory := &fakeFactory{err: errors.New("no backend")}
	cfg := newTestInstanceConfig(newMemDirectory(), factory)

	_, err := opspilot.NewInstance(context.Background(), "a", cfg)
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryInternal))
}

func TestInstanceRegistryGet(t *testing.T) {
	factory := &fakeFactory{}
	registry, err := opspilot.NewInstanceRegistry(context.Background(), newTestInstanceConfig(newMemDirectory(), factory))
	require.NoError(t, err)
	defer registry.Close()

	a, err := registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", a.ID)
	assert.False(t, a.State.IsLoading(), "bootstrap ran on creation")

	again, err := registry.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	b, err := registry.Get("b")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, registry.Len())

	registry.Close()
	assert.Equal(t, 0, registry.Len())

	_, err = registry.Get("c")
	require.Error(t, err)
}

func TestInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	dir := newMemDirectory()
	registry, err := opspilot.NewInstanceRegistry(ctx, newTestInstanceConfig(dir, factory))
	require.NoError(t, err)
	defer registry.Close()

	a, err := registry.Get("a")
	require.NoError(t, err)
	b, err := registry.Get("b")
	require.NoError(t, err)

	res := a.Accounts.Register(ctx, opspilot.RegisterRequest{
		Email:     "lead@example.com",
		Password:  "supersecret",
		IsManager: true,
		TeamName:  "Eng",
	})
	require.True(t, res.OK, res.Message)

	require.NotNil(t, a.State.User())
	assert.True(t, a.State.IsManager())
	assert.Nil(t, b.State.User())

	intent, err := b.Pending.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestInstanceEventsAfterClose(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	dir := newMemDirectory()
	team := dir.addTeam("Eng", "lead@example.com")
	dir.addMember(identityFor("lead@example.com"), team.ID)

	instance, err := opspilot.NewInstance(ctx, "a", newTestInstanceConfig(dir, factory))
	require.NoError(t, err)

	instance.Close()
	instance.Close()

	_, err = factory.get("a").VerifyOTP(ctx, "lead@example.com", "123456")
	require.NoError(t, err)
	assert.Nil(t, instance.State.User())
}

func TestInstanceRegistrySweepEvictsIdle(t *testing.T) {
	factory := &fakeFactory{}
	clock := newFakeClock()
	registry, err := opspilot.NewInstanceRegistry(context.Background(),
		newTestInstanceConfig(newMemDirectory(), factory),
		opspilot.WithInstanceIdleTTL(time.Minute),
		opspilot.WithRegistryClock(clock.Now),
	)
	require.NoError(t, err)
	defer registry.Close()

	a, err := registry.Get("a")
	require.NoError(t, err)
	_, err = registry.Get("b")
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	_, err = registry.Get("b")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, registry.Sweep())
	assert.Equal(t, 1, registry.Len())

	// an evicted instance is rebuilt on its next request
	again, err := registry.Get("a")
	require.NoError(t, err)
	assert.NotSame(t, a, again)
	assert.Equal(t, 3, factory.builds())
}

func TestInstanceRegistryCapEvictsLeastRecentlyUsed(t *testing.T) {
	factory := &fakeFactory{}
	clock := newFakeClock()
	registry, err := opspilot.NewInstanceRegistry(context.Background(),
		newTestInstanceConfig(newMemDirectory(), factory),
		opspilot.WithMaxInstances(2),
		opspilot.WithRegistryClock(clock.Now),
	)
	require.NoError(t, err)
	defer registry.Close()

	a, err := registry.Get("a")
	require.NoError(t, err)
	clock.Advance(time.Second)
	b, err := registry.Get("b")
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = registry.Get("a")
	require.NoError(t, err)
	clock.Advance(time.Second)

	_, err = registry.Get("c")
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Len())

	kept, err := registry.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, kept)
	assert.Equal(t, 3, factory.builds())

	rebuilt, err := registry.Get("b")
	require.NoError(t, err)
	assert.NotSame(t, b, rebuilt)
	assert.Equal(t, 2, registry.Len())
}

func TestInstanceRegistryConcurrentGetBuildsOnce(t *testing.T) {
	factory := &fakeFactory{}
	registry, err := opspilot.NewInstanceRegistry(context.Background(), newTestInstanceConfig(newMemDirectory(), factory))
	require.NoError(t, err)
	defer registry.Close()

	gate := factory.hold("shared")

	var wg sync.WaitGroup
	results := make([]*opspilot.Instance, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			instance, err := registry.Get("shared")
			assert.NoError(t, err)
			results[i] = instance
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	require.NotNil(t, results[0])
	for _, instance := range results[1:] {
		assert.Same(t, results[0], instance)
	}
	assert.Equal(t, 1, factory.builds())
}

func TestInstanceRegistrySlowBuildDoesNotBlockOthers(t *testing.T) {
	factory := &fakeFactory{}
	registry, err := opspilot.NewInstanceRegistry(context.Background(), newTestInstanceConfig(newMemDirectory(), factory))
	require.NoError(t, err)
	defer registry.Close()

	ready, err := registry.Get("ready")
	require.NoError(t, err)

	gate := factory.hold("slow")
	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		_, err := registry.Get("slow")
		assert.NoError(t, err)
	}()

	got := make(chan *opspilot.Instance, 1)
	go func() {
		instance, _ := registry.Get("ready")
		got <- instance
	}()

	select {
	case instance := <-got:
		assert.Same(t, ready, instance)
	case <-time.After(time.Second):
		t.Fatal("lookup blocked behind a slow build")
	}

	fresh, err := registry.Get("other")
	require.NoError(t, err)
	assert.Equal(t, "other", fresh.ID)

	close(gate)
	<-slowDone
	assert.Equal(t, 3, registry.Len())
}

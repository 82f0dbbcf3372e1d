package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/usecase"
)

type manualDriver struct {
	mu      sync.Mutex
	job     func(context.Context)
	stopped bool
}

func (d *manualDriver) Start(_ context.Context, job func(context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.job = job
	return nil
}

func (d *manualDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *manualDriver) tick() {
	d.mu.Lock()
	job := d.job
	d.mu.Unlock()
	job(context.Background())
}

func TestRetentionPrunesOnTick(t *testing.T) {
	ctx := context.Background()
	reg := usecase.NewRegistry(usecase.RegistryDeps{})
	done := reg.Create(ctx, domain.JobInput{Company: "Acme"})
	_, err := reg.Fail(ctx, done.ID, "boom")
	require.NoError(t, err)
	reg.Create(ctx, domain.JobInput{Company: "Globex"})

	var forgotten []string
	driver := &manualDriver{}
	retention := usecase.NewRetention(usecase.RetentionDeps{
		Driver:   driver,
		Registry: reg,
		MaxAge:   time.Millisecond,
		Forget:   func(id string) { forgotten = append(forgotten, id) },
	})
	require.NoError(t, retention.Start(ctx))

	time.Sleep(5 * time.Millisecond)
	driver.tick()

	require.Equal(t, []string{done.ID}, forgotten)
	require.Len(t, reg.List(), 1)

	require.NoError(t, retention.Stop(ctx))
	require.True(t, driver.stopped)
}

func TestRetentionWithoutMaxAgeNeverStarts(t *testing.T) {
	driver := &manualDriver{}
	retention := usecase.NewRetention(usecase.RetentionDeps{Driver: driver, Registry: usecase.NewRegistry(usecase.RegistryDeps{})})
	require.NoError(t, retention.Start(context.Background()))
	require.Nil(t, driver.job)
}

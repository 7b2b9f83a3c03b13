package jobmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobdh/eventmq/internal/job"
)

func TestRegistryRegisterResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register("eventmq.scheduler", "test_job", TestJob)

	h, err := reg.Resolve("eventmq.scheduler.test_job")
	require.NoError(t, err)
	require.NotNil(t, h)

	result, err := h(context.Background(), job.NewRequest("eventmq.scheduler", "test_job"))
	require.NoError(t, err)
	assert.Equal(t, "hello!", result)
}

func TestRegistryResolveUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Resolve("nowhere.nothing")
	assert.Error(t, err)
}

func TestRegistryTargetsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("pkg.b", "run", TestJob)
	reg.Register("pkg.a", "run", TestJob)

	assert.Equal(t, []string{"pkg.a.run", "pkg.b.run"}, reg.Targets())
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestDefaultJob(t *testing.T) {
	req, addr, err := buildRequest([]string{"127.0.0.1:47291"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:47291", addr)
	assert.Equal(t, "eventmq.scheduler", req.Path)
	assert.Equal(t, "test_job", req.Callable)
	assert.Empty(t, req.Args)
	assert.Empty(t, req.Kwargs)
	assert.Empty(t, req.ClassArgs)
	assert.Empty(t, req.ClassKwargs)
}

func TestBuildRequestExplicitTarget(t *testing.T) {
	req, addr, err := buildRequest([]string{"127.0.0.1:47291", "reports.daily", "generate", "2024-01-01", "full"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:47291", addr)
	assert.Equal(t, "reports.daily.generate", req.Target())
	assert.Equal(t, []interface{}{"2024-01-01", "full"}, req.Args)
}

func TestBuildRequestMissingAddress(t *testing.T) {
	_, _, err := buildRequest(nil)
	assert.Error(t, err)
}

func TestBuildRequestMissingCallable(t *testing.T) {
	_, _, err := buildRequest([]string{"127.0.0.1:47291", "reports.daily"})
	assert.Error(t, err)
}

package tenantcmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	provisioningservice "github.com/zenGate-Global/palmyra-owner/domains/provisioning/be/service"
	tenantsservice "github.com/zenGate-Global/palmyra-owner/domains/tenants/be/service"
)

type scriptedStatus struct {
	results []provisioningservice.StatusResult
	calls   int
}

func (s *scriptedStatus) GetStatus(context.Context, uuid.UUID) (provisioningservice.StatusResult, error) {
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i], nil
}

func TestWaitForTerminalStopsWhenTenantActive(t *testing.T) {
	q := &scriptedStatus{results: []provisioningservice.StatusResult{
		{Status: provisioningservice.StatusQueued, TenantStatus: string(tenantsservice.StatusProvisioning)},
		{Status: provisioningservice.StatusQueued, TenantStatus: string(tenantsservice.StatusProvisioning)},
		{Status: "success", Step: provisioningservice.StepStatus, TenantStatus: string(tenantsservice.StatusActive)},
	}}
	var progress bytes.Buffer

	res, err := waitForTerminal(context.Background(), q, uuid.New(), watchFlags{interval: time.Millisecond, timeout: time.Second}, &progress)
	require.NoError(t, err)
	require.Equal(t, string(tenantsservice.StatusActive), res.TenantStatus)
	require.Equal(t, 3, q.calls)
	// unchanged statuses are reported once
	require.Equal(t, 2, strings.Count(progress.String(), "\n"))
}

func TestWaitForTerminalTimesOut(t *testing.T) {
	q := &scriptedStatus{results: []provisioningservice.StatusResult{
		{Status: provisioningservice.StatusQueued, TenantStatus: string(tenantsservice.StatusProvisioning)},
	}}

	_, err := waitForTerminal(context.Background(), q, uuid.New(), watchFlags{interval: time.Millisecond, timeout: 20 * time.Millisecond}, &bytes.Buffer{})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSettled(t *testing.T) {
	require.True(t, settled(provisioningservice.StatusResult{TenantStatus: string(tenantsservice.StatusProvisionFailed)}))
	require.True(t, settled(provisioningservice.StatusResult{Status: provisioningservice.StatusNotStarted, TenantStatus: string(tenantsservice.StatusPending)}))
	require.True(t, settled(provisioningservice.StatusResult{Status: provisioningservice.StatusExhausted, TenantStatus: string(tenantsservice.StatusProvisioning)}))
	require.False(t, settled(provisioningservice.StatusResult{Status: provisioningservice.StatusQueued, TenantStatus: string(tenantsservice.StatusProvisioning)}))
}

func TestProvisionRequiresTenantArgument(t *testing.T) {
	cmd := provisionCommand(nil)
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}

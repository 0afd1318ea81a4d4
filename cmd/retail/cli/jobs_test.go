package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/jobs"
)

func TestTriggerEnqueuesScan(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewJobsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	info, err := c.Trigger(context.Background(), jobs.TaskLowStockScan, jobs.ScanPayload{Threshold: 5})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskLowStockScan, info.Type)
	assert.Equal(t, jobs.QueueDefault, info.Queue)

	_, err = c.Trigger(context.Background(), "stock:unknown", jobs.ScanPayload{})
	assert.Error(t, err)
}

func TestNilCLIReportsMisconfiguration(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskExpiryScan, jobs.ScanPayload{})
	assert.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	assert.Error(t, err)
}

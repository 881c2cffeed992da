package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestQueueDepthGauge(t *testing.T) {
	SetQueueDepth(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(queueDepth))
	SetQueueDepth(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(queueDepth))
}

func TestObserveDeploymentCountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(deploymentsTotal.WithLabelValues("Ready"))
	ObserveDeployment("Ready", 2*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(deploymentsTotal.WithLabelValues("Ready")))
}

func TestObserveUploadFailure(t *testing.T) {
	before := testutil.ToFloat64(artifactUploadsTotal.WithLabelValues("failure"))
	ObserveUpload(false)
	assert.Equal(t, before+1, testutil.ToFloat64(artifactUploadsTotal.WithLabelValues("failure")))
}

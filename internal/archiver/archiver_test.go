package archiver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dossierline/internal/config"
	"dossierline/internal/metrics"
)

type fakeRunner struct {
	ids   []string
	err   error
	grace int
	calls int
}

func (f *fakeRunner) ArchiveExpired(_ context.Context, _ time.Time, graceDays int, _ string) ([]string, error) {
	f.calls++
	f.grace = graceDays
	return f.ids, f.err
}

func TestRunOnce(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	m := metrics.New()
	r := &fakeRunner{ids: []string{"s1", "s2"}}
	a, err := New(r, config.ArchiveConfig{Schedule: "@daily", GraceDays: 15}, logger, m)
	require.NoError(t, err)

	n, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 15, r.grace)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsArchived))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	r.err = errors.New("disk full")
	_, err = a.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiverRuns.WithLabelValues("error")))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&fakeRunner{}, config.ArchiveConfig{Schedule: "whenever"}, nil, nil)
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	a, err := New(&fakeRunner{}, config.ArchiveConfig{Schedule: "@hourly"}, nil, nil)
	require.NoError(t, err)
	a.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a.Stop(ctx)
}

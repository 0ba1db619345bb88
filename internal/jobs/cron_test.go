package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/config"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/repo"
	"github.com/BBVA/mirrorgate-jira-stories-collector/internal/services"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	stats services.RunStats
	err   error
	calls int
}

func (s *stubEngine) Run(context.Context) (services.RunStats, error) {
	s.calls++
	return s.stats, s.err
}

type stubStore struct {
	locked   bool
	unlocked bool
	started  []string
	finished []repo.RunCounts
	success  []bool
	errs     []string
}

func (s *stubStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if s.locked {
		return nil, false, nil
	}
	return func() { s.unlocked = true }, true, nil
}

func (s *stubStore) StartJobRun(_ context.Context, trigger string) (int64, error) {
	s.started = append(s.started, trigger)
	return int64(len(s.started)), nil
}

func (s *stubStore) FinishJobRun(_ context.Context, _ int64, c repo.RunCounts, success bool, errStr string) error {
	s.finished = append(s.finished, c)
	s.success = append(s.success, success)
	s.errs = append(s.errs, errStr)
	return nil
}

func (s *stubStore) GetLastRun(context.Context) (*repo.LastRun, error) {
	return &repo.LastRun{RunID: "from-db"}, nil
}

type stubNotifier struct{ texts []string }

func (n *stubNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return nil
}

func testConfig() config.Config {
	return config.Config{CollectorID: "jira", RunTimeout: time.Minute, SyncCron: "*/5 * * * *", TZ: "UTC"}
}

func TestRunOnceRecordsSuccess(t *testing.T) {
	eng := &stubEngine{stats: services.RunStats{RunID: "r1", Pages: 3, Upserted: 25}}
	store := &stubStore{}
	n := &stubNotifier{}
	stats, err := NewRunner(testConfig(), zerolog.Nop(), eng, store, n).RunOnce(context.Background(), "cron")
	require.NoError(t, err)
	assert.Equal(t, 25, stats.Upserted)
	assert.Equal(t, []string{"cron"}, store.started)
	require.Len(t, store.finished, 1)
	assert.Equal(t, "r1", store.finished[0].RunID)
	assert.Equal(t, 3, store.finished[0].Pages)
	assert.Equal(t, []bool{true}, store.success)
	assert.True(t, store.unlocked)
	assert.Empty(t, n.texts)
}

func TestRunOnceNotifiesFailure(t *testing.T) {
	eng := &stubEngine{stats: services.RunStats{RunID: "r2"}, err: errors.New("jira down")}
	store := &stubStore{}
	n := &stubNotifier{}
	_, err := NewRunner(testConfig(), zerolog.Nop(), eng, store, n).RunOnce(context.Background(), "admin")
	require.Error(t, err)
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "jira down")
	assert.Contains(t, n.texts[0], "r2")
	assert.Equal(t, []bool{false}, store.success)
	assert.Equal(t, []string{"jira down"}, store.errs)
}

func TestRunOnceSkipsWhenLockedElsewhere(t *testing.T) {
	eng := &stubEngine{}
	store := &stubStore{locked: true}
	_, err := NewRunner(testConfig(), zerolog.Nop(), eng, store, nil).RunOnce(context.Background(), "cron")
	require.ErrorIs(t, err, services.ErrRunInProgress)
	assert.Zero(t, eng.calls)
	assert.Empty(t, store.started)
}

func TestRunOnceWithoutStore(t *testing.T) {
	eng := &stubEngine{err: services.ErrRunInProgress}
	n := &stubNotifier{}
	_, err := NewRunner(testConfig(), zerolog.Nop(), eng, nil, n).RunOnce(context.Background(), "cron")
	require.ErrorIs(t, err, services.ErrRunInProgress)
	assert.Equal(t, 1, eng.calls)
	assert.Empty(t, n.texts)
}

func TestLastRunFallsBackToMemory(t *testing.T) {
	eng := &stubEngine{stats: services.RunStats{RunID: "mem", Upserted: 4}}
	r := NewRunner(testConfig(), zerolog.Nop(), eng, nil, nil)

	lr, err := r.LastRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, lr)

	_, err = r.RunOnce(context.Background(), "cli")
	require.NoError(t, err)
	lr, err = r.LastRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, lr)
	assert.Equal(t, "mem", lr.RunID)
	assert.Equal(t, "cli", lr.Trigger)
	assert.Equal(t, 4, lr.IssuesUpserted)
	assert.True(t, lr.Success)

	withStore := NewRunner(testConfig(), zerolog.Nop(), eng, &stubStore{}, nil)
	lr, err = withStore.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-db", lr.RunID)
}

func TestNewCronRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.SyncCron = "every tuesday"
	_, err := NewCron(cfg, zerolog.Nop(), NewRunner(cfg, zerolog.Nop(), &stubEngine{}, nil, nil))
	assert.Error(t, err)

	cr, err := NewCron(testConfig(), zerolog.Nop(), NewRunner(testConfig(), zerolog.Nop(), &stubEngine{}, nil, nil))
	require.NoError(t, err)
	cr.Start()
	cr.Stop()
}

func TestLockKeyIsStablePerCollector(t *testing.T) {
	assert.Equal(t, lockKey("a"), lockKey("a"))
	assert.NotEqual(t, lockKey("a"), lockKey("b"))
}

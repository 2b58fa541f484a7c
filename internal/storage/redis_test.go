package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/AndySung320/bucketstore/internal/clock"
)

// Create Mock Redis Client
type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	return m.Called(ctx, key).Get(0).(*redis.StringCmd)
}

func (m *MockRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return m.Called(ctx, keys).Get(0).(*redis.IntCmd)
}

func (m *MockRedisClient) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	return m.Called(ctx, cursor, match, count).Get(0).(*redis.ScanCmd)
}

func (m *MockRedisClient) EvalSha(ctx context.Context, sha string, keys []string, args ...interface{}) *redis.Cmd {
	mockArgs := m.Called(ctx, sha, keys, args)
	return mockArgs.Get(0).(*redis.Cmd)
}

func (m *MockRedisClient) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	mockArgs := m.Called(ctx, script)
	return mockArgs.Get(0).(*redis.StringCmd)
}

func (m *MockRedisClient) Time(ctx context.Context) *redis.TimeCmd {
	return m.Called(ctx).Get(0).(*redis.TimeCmd)
}

func (m *MockRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	mockArgs := m.Called(ctx)
	return mockArgs.Get(0).(*redis.StatusCmd)
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newMockedStorage(client *MockRedisClient, maxRetries int) *RedisStorage {
	r := newRedisStorage(client, RedisOptions{MaxRetries: maxRetries}, testLogger())
	r.scripts[scriptCompareAndSet] = &ScriptInfo{
		Name:    scriptCompareAndSet,
		SHA:     "abc123",
		Content: compareAndSetScript,
	}
	return r
}

func TestRedisStorage_Get(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Get", mock.Anything, "bucket:found").Return(redis.NewStringResult("value", nil))
	mockClient.On("Get", mock.Anything, "bucket:missing").Return(redis.NewStringResult("", redis.Nil))

	v, err := s.Get(ctx, "found")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	mockClient.AssertExpectations(t)
}

func TestRedisStorage_UpdateWritesWithCompareAndSet(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Get", mock.Anything, "bucket:api").Return(redis.NewStringResult("old", nil))
	mockClient.On("EvalSha",
		mock.Anything,
		"abc123",
		[]string{"bucket:api"},
		[]interface{}{"old", "1", []byte("new")},
	).Return(redis.NewCmdResult(int64(1), nil))

	err := s.Update(ctx, "api", func(current []byte, exists bool) ([]byte, error) {
		assert.True(t, exists)
		assert.Equal(t, []byte("old"), current)
		return []byte("new"), nil
	})
	require.NoError(t, err)

	mockClient.AssertExpectations(t)
}

func TestRedisStorage_UpdateAbsentKey(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Get", mock.Anything, "bucket:api").Return(redis.NewStringResult("", redis.Nil))
	mockClient.On("EvalSha", mock.Anything, "abc123", []string{"bucket:api"},
		[]interface{}{"", "0", []byte("new")},
	).Return(redis.NewCmdResult(int64(1), nil))

	err := s.Update(ctx, "api", func(current []byte, exists bool) ([]byte, error) {
		assert.False(t, exists)
		assert.Nil(t, current)
		return []byte("new"), nil
	})
	require.NoError(t, err)
	mockClient.AssertExpectations(t)
}

func TestRedisStorage_UpdateNoChangeSkipsWrite(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Get", mock.Anything, "bucket:api").Return(redis.NewStringResult("old", nil))

	err := s.Update(ctx, "api", func([]byte, bool) ([]byte, error) { return nil, nil })
	require.NoError(t, err)

	mockClient.AssertNotCalled(t, "EvalSha", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRedisStorage_UpdateRetriesLostRace(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Get", mock.Anything, "bucket:api").Return(redis.NewStringResult("old", nil)).Twice()
	mockClient.On("EvalSha", mock.Anything, "abc123", mock.Anything, mock.Anything).
		Return(redis.NewCmdResult(int64(0), nil)).Once()
	mockClient.On("EvalSha", mock.Anything, "abc123", mock.Anything, mock.Anything).
		Return(redis.NewCmdResult(int64(1), nil)).Once()

	calls := 0
	err := s.Update(ctx, "api", func([]byte, bool) ([]byte, error) {
		calls++
		return []byte("new"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	mockClient.AssertExpectations(t)
}

func TestRedisStorage_UpdateGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 3)

	mockClient.On("Get", mock.Anything, "bucket:api").Return(redis.NewStringResult("old", nil))
	mockClient.On("EvalSha", mock.Anything, "abc123", mock.Anything, mock.Anything).
		Return(redis.NewCmdResult(int64(0), nil))

	err := s.Update(ctx, "api", func([]byte, bool) ([]byte, error) { return []byte("new"), nil })
	assert.ErrorIs(t, err, ErrConflict)
	mockClient.AssertNumberOfCalls(t, "EvalSha", 3)
}

func TestRedisStorage_UpdatePropagatesCallbackError(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Get", mock.Anything, "bucket:api").Return(redis.NewStringResult("", redis.Nil))

	err := s.Update(ctx, "api", func([]byte, bool) ([]byte, error) { return nil, ErrKeyNotFound })
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisStorage_ReloadsScriptOnNoScript(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Get", mock.Anything, "bucket:api").Return(redis.NewStringResult("old", nil))
	mockClient.On("EvalSha", mock.Anything, "abc123", mock.Anything, mock.Anything).
		Return(redis.NewCmdResult(nil, errors.New("NOSCRIPT No matching script. Please use EVAL.")))
	mockClient.On("ScriptLoad", mock.Anything, compareAndSetScript).Return(redis.NewStringResult("def456", nil))
	mockClient.On("EvalSha", mock.Anything, "def456", mock.Anything, mock.Anything).
		Return(redis.NewCmdResult(int64(1), nil))

	err := s.Update(ctx, "api", func([]byte, bool) ([]byte, error) { return []byte("new"), nil })
	require.NoError(t, err)
	assert.Equal(t, "def456", s.scripts[scriptCompareAndSet].SHA)
	mockClient.AssertExpectations(t)
}

func TestRedisStorage_ExecuteUnknownScript(t *testing.T) {
	s := newRedisStorage(new(MockRedisClient), RedisOptions{}, testLogger())

	_, err := s.ExecuteScript(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestRedisStorage_Delete(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Del", mock.Anything, []string{"bucket:api"}).Return(redis.NewIntResult(1, nil)).Once()
	mockClient.On("Del", mock.Anything, []string{"bucket:api"}).Return(redis.NewIntResult(0, nil)).Once()

	deleted, err := s.Delete(ctx, "api")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "api")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisStorage_ScanFollowsCursor(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Scan", mock.Anything, uint64(0), "bucket:*", int64(defaultScanCount)).
		Return(redis.NewScanCmdResult([]string{"bucket:a", "bucket:gone"}, 7, nil))
	mockClient.On("Scan", mock.Anything, uint64(7), "bucket:*", int64(defaultScanCount)).
		Return(redis.NewScanCmdResult([]string{"bucket:b"}, 0, nil))
	mockClient.On("Get", mock.Anything, "bucket:a").Return(redis.NewStringResult("A", nil))
	mockClient.On("Get", mock.Anything, "bucket:gone").Return(redis.NewStringResult("", redis.Nil))
	mockClient.On("Get", mock.Anything, "bucket:b").Return(redis.NewStringResult("B", nil))

	seen := map[string]string{}
	err := s.Scan(ctx, func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "A", "b": "B"}, seen)
}

func TestRedisStorage_Clock(t *testing.T) {
	ctx := context.Background()
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Time", mock.Anything).Return(redis.NewTimeCmdResult(time.UnixMilli(1_700_000_000_123), nil)).Once()
	mockClient.On("Time", mock.Anything).Return(redis.NewTimeCmdResult(time.Time{}, errors.New("connection refused"))).Once()

	clk := s.Clock()
	now, err := clk.NowMillis(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_123), now)

	_, err = clk.NowMillis(ctx)
	assert.ErrorIs(t, err, clock.ErrClockUnavailable)
}

func TestRedisStorage_Ping(t *testing.T) {
	mockClient := new(MockRedisClient)
	s := newMockedStorage(mockClient, 0)

	mockClient.On("Ping", mock.Anything).Return(redis.NewStatusResult("PONG", nil))
	assert.NoError(t, s.Ping(context.Background()))
}

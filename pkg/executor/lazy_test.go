package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockExecutor records statements and close calls. It is safe for concurrent use.
type MockExecutor struct {
	mu         sync.Mutex
	Statements []string
	CloseCalls int
	ExecErr    error
}

func (m *MockExecutor) Execute(_ context.Context, statement string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statements = append(m.Statements, statement)
	return m.ExecErr
}

func (m *MockExecutor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	return nil
}

func (m *MockExecutor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Statements)
}

func TestLazy_InitializesOnce(t *testing.T) {
	mock := &MockExecutor{}
	var builds atomic.Int32
	lazy := NewLazy(func(context.Context) (Executor, error) {
		builds.Add(1)
		return mock, nil
	})
	assert.False(t, lazy.Initialized())

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, lazy.Execute(context.Background(), "select 1"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	assert.Equal(t, 25, mock.Count())
	assert.True(t, lazy.Initialized())

	require.NoError(t, lazy.Close())
	require.NoError(t, lazy.Close())
	assert.Equal(t, 1, mock.CloseCalls)
	assert.ErrorIs(t, lazy.Execute(context.Background(), "select 1"), ErrClosed)
}

func TestLazy_InitErrorIsSticky(t *testing.T) {
	var builds atomic.Int32
	boom := errors.New("connection refused")
	lazy := NewLazy(func(context.Context) (Executor, error) {
		builds.Add(1)
		return nil, boom
	})

	assert.ErrorIs(t, lazy.Execute(context.Background(), "select 1"), boom)
	assert.ErrorIs(t, lazy.Execute(context.Background(), "select 1"), boom)
	assert.Equal(t, int32(1), builds.Load())
	assert.NoError(t, lazy.Close())
}

func TestLazy_CloseBeforeUse(t *testing.T) {
	lazy := NewLazy(func(context.Context) (Executor, error) {
		t.Fatal("factory must not run")
		return nil, nil
	})
	assert.NoError(t, lazy.Close())
	assert.False(t, lazy.Initialized())
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{in: "pooled", want: ModePooled},
		{in: "JDBC", want: ModePooled},
		{in: " http ", want: ModeHTTP},
		{in: "grpc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMode(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory(ModeHTTP, PooledConfig{}, HTTPConfig{URL: "http://localhost:6041/rest/sql", Token: "root:taosdata"}, zerolog.Nop())
	require.NoError(t, err)
	e, err := f(context.Background())
	require.NoError(t, err)
	assert.IsType(t, &HTTPExecutor{}, e)
	assert.NoError(t, e.Close())

	_, err = NewFactory(Mode("grpc"), PooledConfig{}, HTTPConfig{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownMode)
}

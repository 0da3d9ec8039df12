package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeScanner counts scans and records the highest number running at once.
type fakeScanner struct {
	calls      atomic.Int32
	running    atomic.Int32
	maxRunning atomic.Int32
	delay      time.Duration
	err        error
	scanned    chan struct{}
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{scanned: make(chan struct{}, 100)}
}

func (s *fakeScanner) Execute(ctx context.Context, filesPath string) (models.ScanSummary, error) {
	now := s.running.Add(1)
	for {
		prev := s.maxRunning.Load()
		if now <= prev || s.maxRunning.CompareAndSwap(prev, now) {
			break
		}
	}
	time.Sleep(s.delay)
	s.running.Add(-1)
	s.calls.Add(1)
	s.scanned <- struct{}{}
	return models.ScanSummary{FilesSeen: 1}, s.err
}

func waitForScan(t *testing.T, s *fakeScanner) {
	t.Helper()
	select {
	case <-s.scanned:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for scan")
	}
}

func TestNewAgent(t *testing.T) {
	agent := NewAgent(newFakeScanner(), AgentConfig{Dir: "landing", Interval: time.Minute}, zap.NewNop())

	assert.NotNil(t, agent)
	assert.Equal(t, defaultSettleDelay, agent.config.SettleDelay)
	assert.Equal(t, "landing", agent.config.Dir)
}

func TestAgent_ScanOnce(t *testing.T) {
	t.Run("Success case - returns the summary", func(t *testing.T) {
		scanner := newFakeScanner()
		agent := NewAgent(scanner, AgentConfig{Dir: "landing", Interval: time.Minute}, zap.NewNop())

		summary, err := agent.ScanOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, summary.FilesSeen)
		assert.Equal(t, int32(1), scanner.calls.Load())
	})

	t.Run("Error case - scan error is returned", func(t *testing.T) {
		scanner := newFakeScanner()
		scanner.err = errors.New("landing missing")
		agent := NewAgent(scanner, AgentConfig{Dir: "landing", Interval: time.Minute}, zap.NewNop())

		_, err := agent.ScanOnce(context.Background())
		assert.EqualError(t, err, "landing missing")
	})

	t.Run("Concurrent calls never overlap", func(t *testing.T) {
		scanner := newFakeScanner()
		scanner.delay = 20 * time.Millisecond
		agent := NewAgent(scanner, AgentConfig{Dir: "landing", Interval: time.Minute}, zap.NewNop())

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				agent.ScanOnce(context.Background())
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(5), scanner.calls.Load())
		assert.Equal(t, int32(1), scanner.maxRunning.Load())
	})

	t.Run("Cancelled context skips the scan", func(t *testing.T) {
		scanner := newFakeScanner()
		agent := NewAgent(scanner, AgentConfig{Dir: "landing", Interval: time.Minute}, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := agent.ScanOnce(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), scanner.calls.Load())
	})
}

func TestAgent_Trigger(t *testing.T) {
	agent := NewAgent(newFakeScanner(), AgentConfig{Dir: "landing", Interval: time.Minute}, zap.NewNop())

	agent.Trigger()
	agent.Trigger()
	agent.Trigger()

	assert.Len(t, agent.trigger, 1)
}

func TestAgent_Run(t *testing.T) {
	t.Run("Scans at start, on trigger and stops on cancel", func(t *testing.T) {
		scanner := newFakeScanner()
		agent := NewAgent(scanner, AgentConfig{Dir: t.TempDir(), Interval: time.Hour}, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- agent.Run(ctx) }()

		waitForScan(t, scanner)
		agent.Trigger()
		waitForScan(t, scanner)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("agent did not stop")
		}
		assert.Equal(t, int32(2), scanner.calls.Load())
	})

	t.Run("Interval ticks trigger scans", func(t *testing.T) {
		scanner := newFakeScanner()
		agent := NewAgent(scanner, AgentConfig{Dir: t.TempDir(), Interval: 10 * time.Millisecond}, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go agent.Run(ctx)

		for i := 0; i < 3; i++ {
			waitForScan(t, scanner)
		}
	})

	t.Run("New csv file in landing triggers a scan", func(t *testing.T) {
		dir := t.TempDir()
		scanner := newFakeScanner()
		agent := NewAgent(scanner, AgentConfig{Dir: dir, Interval: time.Hour, Watch: true, SettleDelay: 10 * time.Millisecond}, zap.NewNop())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go agent.Run(ctx)
		waitForScan(t, scanner)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "new.csv"), []byte(csvHeader+"\n"), 0o644))
		waitForScan(t, scanner)
	})
}

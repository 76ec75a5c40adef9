// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/kv4sh0x/capture-cli/internal/browser/readiness"
	"github.com/kv4sh0x/capture-cli/internal/config"
	"github.com/kv4sh0x/capture-cli/internal/faults"
)

// -- Mock Implementations for Testing --

// mockSession records the pipeline calls in order and fails on demand.
type mockSession struct {
	mu    sync.Mutex
	calls []string

	initErr    error
	navErr     error
	readyErr   map[readiness.Phase]error
	captureErr error
}

func (m *mockSession) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockSession) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockSession) ID() string               { return "test-session" }
func (m *mockSession) Context() context.Context { return context.Background() }

func (m *mockSession) Initialize(context.Context) error {
	m.record("initialize")
	return m.initErr
}

func (m *mockSession) Navigate(context.Context) error {
	m.record("navigate")
	return m.navErr
}

func (m *mockSession) WaitReady(_ context.Context, phase readiness.Phase) error {
	m.record("ready:" + phase.String())
	return m.readyErr[phase]
}

func (m *mockSession) CaptureScreenshot(_ context.Context, path string) error {
	m.record("capture:" + path)
	return m.captureErr
}

func (m *mockSession) Close(context.Context) error {
	m.record("close")
	return nil
}

// mockInjector fails on demand and remembers whether it ran.
type mockInjector struct {
	session *mockSession
	err     error
}

func (m *mockInjector) Apply(context.Context) error {
	m.session.record("inject")
	return m.err
}

func newTestRunner(t *testing.T, session *mockSession, injector *mockInjector) *Runner {
	t.Helper()

	r, err := New(config.NewDefaultConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	r.newSession = func(context.Context, *config.Config, *config.CaptureConfig, *zap.Logger) CaptureSession {
		return session
	}
	r.newInjector = func(*config.CaptureConfig, string, *zap.Logger) Injector {
		return injector
	}
	return r
}

func testJob(t *testing.T) *config.CaptureConfig {
	t.Helper()
	job, err := config.ParseCaptureConfig([]byte(`{"targetUrl":"https://example.test/"}`), zaptest.NewLogger(t))
	require.NoError(t, err)
	return job
}

func TestNewRejectsNilDependencies(t *testing.T) {
	_, err := New(nil, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = New(config.NewDefaultConfig(), nil)
	assert.Error(t, err)
}

func TestRunExecutesStagesInOrder(t *testing.T) {
	session := &mockSession{}
	injector := &mockInjector{session: session}
	r := newTestRunner(t, session, injector)

	err := r.Run(context.Background(), testJob(t), "out.png")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"initialize",
		"navigate",
		"ready:initial-load",
		"inject",
		"ready:capture",
		"capture:out.png",
		"close",
	}, session.Calls())
}

func TestRunShortCircuitsOnStageFailure(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		configure func(*mockSession, *mockInjector)
		wantClass faults.Class
		wantLast  string
	}{
		{
			name:      "initialize failure",
			configure: func(s *mockSession, _ *mockInjector) { s.initErr = boom },
			wantClass: faults.ClassNavigation,
			wantLast:  "initialize",
		},
		{
			name:      "navigation failure",
			configure: func(s *mockSession, _ *mockInjector) { s.navErr = boom },
			wantClass: faults.ClassNavigation,
			wantLast:  "navigate",
		},
		{
			name: "initial readiness interrupted",
			configure: func(s *mockSession, _ *mockInjector) {
				s.readyErr = map[readiness.Phase]error{readiness.PhaseInitialLoad: boom}
			},
			wantClass: faults.ClassNavigation,
			wantLast:  "ready:initial-load",
		},
		{
			name:      "injection failure",
			configure: func(_ *mockSession, i *mockInjector) { i.err = boom },
			wantClass: faults.ClassInjection,
			wantLast:  "inject",
		},
		{
			name: "settle readiness interrupted",
			configure: func(s *mockSession, _ *mockInjector) {
				s.readyErr = map[readiness.Phase]error{readiness.PhaseCapture: boom}
			},
			wantClass: faults.ClassCapture,
			wantLast:  "ready:capture",
		},
		{
			name:      "capture failure",
			configure: func(s *mockSession, _ *mockInjector) { s.captureErr = boom },
			wantClass: faults.ClassCapture,
			wantLast:  "capture:out.png",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session := &mockSession{}
			injector := &mockInjector{session: session}
			tc.configure(session, injector)
			r := newTestRunner(t, session, injector)

			err := r.Run(context.Background(), testJob(t), "out.png")
			require.Error(t, err)
			assert.Equal(t, tc.wantClass, faults.ClassOf(err))
			assert.ErrorIs(t, err, boom)

			calls := session.Calls()
			require.NotEmpty(t, calls)
			assert.Equal(t, "close", calls[len(calls)-1], "session must be closed on failure")
			require.GreaterOrEqual(t, len(calls), 2)
			assert.Equal(t, tc.wantLast, calls[len(calls)-2], "no stage may run after the failing one")
		})
	}
}

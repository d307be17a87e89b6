package exposure

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/retry"
)

var testPolicy = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, CallTimeout: time.Second}

type stubProvider struct {
	mu          sync.Mutex
	requestErrs []error
	requests    int
	addressErr  error
	addressFrom int
	reads       int
	released    []string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) RequestExternalAddress(_ context.Context, id string, _ *unstructured.Unstructured) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if len(s.requestErrs) > 0 {
		err := s.requestErrs[0]
		s.requestErrs = s.requestErrs[1:]
		return Handle{}, err
	}
	return Handle{ID: id, Provider: "stub", Ref: id}, nil
}

func (s *stubProvider) GetAssignedAddress(context.Context, Handle) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.addressErr != nil {
		return "", false, s.addressErr
	}
	if s.addressFrom > 0 && s.reads >= s.addressFrom {
		return "203.0.113.7", true, nil
	}
	return "", false, nil
}

func (s *stubProvider) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, id)
	return nil
}

func exposureSpec(id string) *environment.Spec {
	svc := &unstructured.Unstructured{}
	svc.SetAPIVersion("v1")
	svc.SetKind("Service")
	svc.SetName(id + "-external")
	return environment.NewSpec(id, id, []environment.Resource{{Role: environment.RoleExposure, Object: svc}})
}

func TestManager_ExposeRetriesTransient(t *testing.T) {
	t.Parallel()
	p := &stubProvider{requestErrs: []error{environment.Transient("expose", errors.New("rate limited"))}}
	m := NewManager(p, testPolicy, time.Millisecond, time.Second)

	h, err := m.Expose(context.Background(), exposureSpec("e"))
	require.NoError(t, err)
	assert.Equal(t, "e", h.ID)
	assert.Equal(t, 2, p.requests)
}

func TestManager_ExposePermanentNotRetried(t *testing.T) {
	t.Parallel()
	p := &stubProvider{requestErrs: []error{environment.Permanent("expose", errors.New("bad descriptor"))}}
	m := NewManager(p, testPolicy, time.Millisecond, time.Second)

	_, err := m.Expose(context.Background(), exposureSpec("e"))
	require.Error(t, err)
	assert.True(t, environment.IsPermanent(err))
	assert.Equal(t, 1, p.requests)
}

func TestManager_WaitForAddress(t *testing.T) {
	t.Parallel()
	p := &stubProvider{addressFrom: 3}
	m := NewManager(p, testPolicy, 5*time.Millisecond, 5*time.Second)

	addr, err := m.WaitForAddress(context.Background(), Handle{ID: "e"})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", addr)
	assert.Equal(t, 3, p.reads)
}

func TestManager_WaitForAddressTimeout(t *testing.T) {
	t.Parallel()
	p := &stubProvider{}
	m := NewManager(p, testPolicy, 10*time.Millisecond, 50*time.Millisecond)

	_, err := m.WaitForAddress(context.Background(), Handle{ID: "e"})
	var timeout *environment.ExposureTimeoutError
	require.True(t, errors.As(err, &timeout), "got %v", err)
	assert.Equal(t, "e", timeout.ID)
	assert.True(t, environment.IsTimeout(err))
	assert.False(t, environment.IsTransient(err), "exposure timeouts are never retried")
}

func TestManager_WaitForAddressPermanentAborts(t *testing.T) {
	t.Parallel()
	p := &stubProvider{addressErr: environment.Permanent("get address", errors.New("gone"))}
	m := NewManager(p, testPolicy, 5*time.Millisecond, 5*time.Second)

	_, err := m.WaitForAddress(context.Background(), Handle{ID: "e"})
	require.Error(t, err)
	assert.True(t, environment.IsPermanent(err))
	assert.Equal(t, 1, p.reads)
}

func TestManager_WaitForAddressToleratesTransient(t *testing.T) {
	t.Parallel()
	p := &stubProvider{addressErr: environment.Transient("get address", errors.New("blip"))}
	m := NewManager(p, testPolicy, 5*time.Millisecond, 30*time.Millisecond)

	_, err := m.WaitForAddress(context.Background(), Handle{ID: "e"})
	assert.True(t, environment.IsTimeout(err))
	assert.Greater(t, p.reads, 1)
}

func TestManager_Release(t *testing.T) {
	t.Parallel()
	p := &stubProvider{}
	m := NewManager(p, testPolicy, time.Millisecond, time.Second)
	require.NoError(t, m.Release(context.Background(), "e"))
	assert.Equal(t, []string{"e"}, p.released)
}

package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/retry"
)

var testPolicy = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, CallTimeout: time.Second}

func testSpec(id string) *environment.Spec {
	obj := func(kind, name string) *unstructured.Unstructured {
		u := &unstructured.Unstructured{}
		u.SetAPIVersion("v1")
		u.SetKind(kind)
		u.SetName(name)
		return u
	}
	return environment.NewSpec(id, id, []environment.Resource{
		{Role: environment.RoleNamespace, Object: obj("Namespace", id)},
		{Role: environment.RoleDatabase, Object: obj("Secret", "db")},
		{Role: environment.RoleService, Object: obj("Service", "db-internal")},
		{Role: environment.RoleExposure, Object: obj("Service", id+"-external")},
	})
}

func TestReconciler_ApplyIdempotent(t *testing.T) {
	t.Parallel()
	api := NewFakeAPI()
	r := NewReconciler(api, testPolicy)
	ctx := context.Background()

	first, err := r.Apply(ctx, testSpec("e"))
	require.NoError(t, err)
	second, err := r.Apply(ctx, testSpec("e"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Namespace/e", "Secret/db", "Service/db-internal"}, first.Applied)
	assert.Equal(t, 2, api.AppliedCount("e"))

	envs, err := api.ListEnvironments(ctx)
	require.NoError(t, err)
	assert.Len(t, envs, 1, "repeated apply converges on one environment")
}

func TestReconciler_RetriesTransient(t *testing.T) {
	t.Parallel()
	api := NewFakeAPI()
	api.InjectError(OpApply, apierrors.NewTooManyRequests("slow down", 1), 2)
	r := NewReconciler(api, testPolicy)

	_, err := r.Apply(context.Background(), testSpec("e"))
	require.NoError(t, err)
	assert.Equal(t, 3, api.Calls(OpApply))
}

func TestReconciler_TransientExhausted(t *testing.T) {
	t.Parallel()
	api := NewFakeAPI()
	api.InjectError(OpDelete, apierrors.NewServiceUnavailable("down"), 10)
	r := NewReconciler(api, testPolicy)

	_, err := r.Delete(context.Background(), "e")
	require.Error(t, err)
	assert.True(t, environment.IsTransient(err))
	assert.Equal(t, 3, api.Calls(OpDelete))
}

func TestReconciler_PermanentNotRetried(t *testing.T) {
	t.Parallel()
	api := NewFakeAPI()
	api.InjectError(OpApply, apierrors.NewForbidden(schema.GroupResource{Resource: "namespaces"}, "e", errors.New("rbac")), 10)
	r := NewReconciler(api, testPolicy)

	_, err := r.Apply(context.Background(), testSpec("e"))
	require.Error(t, err)
	assert.True(t, environment.IsPermanent(err))
	assert.Equal(t, 1, api.Calls(OpApply))
}

func TestReconciler_DeleteAbsent(t *testing.T) {
	t.Parallel()
	r := NewReconciler(NewFakeAPI(), testPolicy)
	result, err := r.Delete(context.Background(), "never-existed")
	require.NoError(t, err)
	assert.True(t, result.AlreadyAbsent)
}

func TestReconciler_StatusNotRetried(t *testing.T) {
	t.Parallel()
	api := NewFakeAPI()
	api.InjectError(OpStatus, apierrors.NewServiceUnavailable("down"), 1)
	r := NewReconciler(api, testPolicy)

	_, err := r.Status(context.Background(), "e")
	require.Error(t, err)
	assert.True(t, environment.IsTransient(err))
	assert.Equal(t, 1, api.Calls(OpStatus))

	status, err := r.Status(context.Background(), "e")
	require.NoError(t, err)
	assert.True(t, status.Gone())
}

func TestFakeAPI_Lifecycle(t *testing.T) {
	t.Parallel()
	api := NewFakeAPI()
	api.SetReadyAfter(1)
	ctx := context.Background()

	_, err := api.ApplyResources(ctx, testSpec("e"))
	require.NoError(t, err)

	status, err := api.GetResourceStatus(ctx, "e")
	require.NoError(t, err)
	assert.False(t, status.Database.Ready)

	status, err = api.GetResourceStatus(ctx, "e")
	require.NoError(t, err)
	assert.True(t, status.Database.Ready)

	api.SetStuck("e", true)
	_, err = api.DeleteNamespace(ctx, "e")
	require.NoError(t, err)

	status, err = api.GetResourceStatus(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, NamespaceTerminating, status.Namespace)

	require.NoError(t, api.ClearFinalizers(ctx, "e"))
	status, err = api.GetResourceStatus(ctx, "e")
	require.NoError(t, err)
	assert.True(t, status.Gone())
	assert.False(t, api.Exists("e"))
}

package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func obj(kind, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("v1")
	u.SetKind(kind)
	u.SetName(name)
	return u
}

func TestSpec_Immutable(t *testing.T) {
	t.Parallel()
	db := obj("Database", "db")
	spec := NewSpec("e", "e", []Resource{
		{Role: RoleNamespace, Object: obj("Namespace", "e")},
		{Role: RoleDatabase, Object: db},
		{Role: RoleExposure, Object: obj("Service", "e-external")},
		{Role: RoleCredentials, Object: obj("Secret", "db-creds")},
	})

	db.SetName("mutated")
	assert.Equal(t, "db", spec.Database().GetName())

	got := spec.Database()
	got.SetName("also-mutated")
	assert.Equal(t, "db", spec.Database().GetName())
}

func TestSpec_Accessors(t *testing.T) {
	t.Parallel()
	spec := NewSpec("e", "e", []Resource{
		{Role: RoleNamespace, Object: obj("Namespace", "e")},
		{Role: RoleDatabase, Object: obj("Database", "db")},
		{Role: RoleExposure, Object: obj("Service", "e-external")},
		{Role: RoleCredentials, Object: obj("Secret", "db-creds")},
	})

	assert.Equal(t, "e", spec.ID())
	assert.Equal(t, "e-external", spec.Exposure().GetName())
	assert.Equal(t, []string{"db-creds"}, spec.CredentialRefs())

	objs := spec.Objects()
	require.Len(t, objs, 3, "exposure descriptor is not part of the apply set")
	for _, o := range objs {
		assert.NotEqual(t, "e-external", o.GetName())
	}

	manifest, err := spec.Manifest()
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "kind: Namespace")
	assert.Contains(t, string(manifest), "---\n")
}

package environment

import (
	"bytes"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

// Role identifies the purpose of a rendered resource.
type Role string

const (
	RoleNamespace   Role = "namespace"
	RoleDatabase    Role = "database"
	RoleService     Role = "service"
	RoleExposure    Role = "exposure"
	RoleCredentials Role = "credentials"
	RoleOther       Role = ""
)

// RequiredRoles must be present in every base template.
var RequiredRoles = []Role{RoleDatabase, RoleService, RoleExposure}

// Resource is one rendered object together with its role.
type Resource struct {
	Role   Role
	Object *unstructured.Unstructured
}

// Spec is the fully rendered resource set of one environment.
// It is treated as an immutable value: accessors hand out deep copies.
type Spec struct {
	id        string
	namespace string
	resources []Resource
}

// NewSpec builds a Spec from rendered resources. The resources are copied.
func NewSpec(id, namespace string, resources []Resource) *Spec {
	copied := make([]Resource, len(resources))
	for i, r := range resources {
		copied[i] = Resource{Role: r.Role, Object: r.Object.DeepCopy()}
	}
	return &Spec{id: id, namespace: namespace, resources: copied}
}

// ID returns the environment identifier.
func (s *Spec) ID() string { return s.id }

// Namespace returns the namespace all namespaced resources live in.
func (s *Spec) Namespace() string { return s.namespace }

// Resources returns copies of every resource in apply order.
func (s *Spec) Resources() []Resource {
	out := make([]Resource, len(s.resources))
	for i, r := range s.resources {
		out[i] = Resource{Role: r.Role, Object: r.Object.DeepCopy()}
	}
	return out
}

// Objects returns copies of the resources the cluster reconciler applies.
// The exposure descriptor is excluded; it is owned by the exposure stage.
func (s *Spec) Objects() []*unstructured.Unstructured {
	var out []*unstructured.Unstructured
	for _, r := range s.resources {
		if r.Role == RoleExposure {
			continue
		}
		out = append(out, r.Object.DeepCopy())
	}
	return out
}

// First returns a copy of the first resource with the given role.
func (s *Spec) First(role Role) (*unstructured.Unstructured, bool) {
	for _, r := range s.resources {
		if r.Role == role {
			return r.Object.DeepCopy(), true
		}
	}
	return nil, false
}

// Database returns the database instance descriptor.
func (s *Spec) Database() *unstructured.Unstructured {
	obj, _ := s.First(RoleDatabase)
	return obj
}

// Exposure returns the external exposure descriptor.
func (s *Spec) Exposure() *unstructured.Unstructured {
	obj, _ := s.First(RoleExposure)
	return obj
}

// CredentialRefs returns the names of the credential objects.
func (s *Spec) CredentialRefs() []string {
	var refs []string
	for _, r := range s.resources {
		if r.Role == RoleCredentials {
			refs = append(refs, r.Object.GetName())
		}
	}
	return refs
}

// Manifest serializes every resource as multi-document YAML.
func (s *Spec) Manifest() ([]byte, error) {
	var buf bytes.Buffer
	for i, r := range s.resources {
		data, err := yaml.Marshal(r.Object.Object)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s %s: %w", r.Object.GetKind(), r.Object.GetName(), err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

package exposure

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/naming"
)

// Handle refers to a pending or fulfilled exposure request.
type Handle struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Ref      string `json:"ref"`
}

// Provider allocates external addresses.
type Provider interface {
	// Name identifies the provider in handles and logs.
	Name() string

	// RequestExternalAddress requests exposure of the environment described
	// by descriptor. Requesting an already exposed environment returns the
	// existing exposure.
	RequestExternalAddress(ctx context.Context, id string, descriptor *unstructured.Unstructured) (Handle, error)

	// GetAssignedAddress returns the address once assigned.
	GetAssignedAddress(ctx context.Context, h Handle) (string, bool, error)

	// Release frees everything allocated for id. Nothing allocated is success.
	Release(ctx context.Context, id string) error
}

// serviceFrom converts the rendered exposure descriptor into a Service.
func serviceFrom(descriptor *unstructured.Unstructured, id string) (*corev1.Service, error) {
	if descriptor == nil {
		return nil, environment.Permanent("expose", fmt.Errorf("environment %s has no exposure descriptor", id))
	}
	if descriptor.GetKind() != "Service" {
		return nil, environment.Permanent("expose", fmt.Errorf("exposure descriptor must be a Service, got %s", descriptor.GetKind()))
	}

	svc := &corev1.Service{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(descriptor.Object, svc); err != nil {
		return nil, environment.Permanent("expose", fmt.Errorf("invalid exposure descriptor: %w", err))
	}
	if svc.Namespace == "" {
		svc.Namespace = id
	}
	if svc.Name == "" {
		svc.Name = naming.ExposureService
	}
	if len(svc.Spec.Ports) == 0 {
		return nil, environment.Permanent("expose", fmt.Errorf("exposure service %s declares no ports", svc.Name))
	}
	return svc, nil
}

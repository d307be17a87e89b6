package exposure

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/kubernetes"

	"github.com/imamik/branchenv/internal/cluster"
	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/labels"
)

// KubeProvider exposes environments through Services of type LoadBalancer
// and reads the address assigned by the cluster's load balancer controller.
type KubeProvider struct {
	clientset kubernetes.Interface
}

// NewKubeProvider creates a provider on clientset.
func NewKubeProvider(clientset kubernetes.Interface) *KubeProvider {
	return &KubeProvider{clientset: clientset}
}

// Name implements Provider.
func (p *KubeProvider) Name() string { return "kubernetes" }

// RequestExternalAddress implements Provider.
func (p *KubeProvider) RequestExternalAddress(ctx context.Context, id string, descriptor *unstructured.Unstructured) (Handle, error) {
	svc, err := serviceFrom(descriptor, id)
	if err != nil {
		return Handle{}, err
	}
	svc.Spec.Type = corev1.ServiceTypeLoadBalancer

	got, err := p.EnsureService(ctx, svc)
	if err != nil {
		return Handle{}, err
	}
	return Handle{ID: id, Provider: p.Name(), Ref: got.Namespace + "/" + got.Name}, nil
}

// EnsureService creates svc unless a Service of that name already exists,
// in which case the existing one is returned.
func (p *KubeProvider) EnsureService(ctx context.Context, svc *corev1.Service) (*corev1.Service, error) {
	services := p.clientset.CoreV1().Services(svc.Namespace)
	created, err := services.Create(ctx, svc, metav1.CreateOptions{FieldManager: cluster.DefaultFieldManager})
	if err == nil {
		return created, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return nil, cluster.Classify("expose", fmt.Errorf("failed to create service %s/%s: %w", svc.Namespace, svc.Name, err))
	}

	existing, err := services.Get(ctx, svc.Name, metav1.GetOptions{})
	if err != nil {
		return nil, cluster.Classify("expose", fmt.Errorf("failed to get service %s/%s: %w", svc.Namespace, svc.Name, err))
	}
	return existing, nil
}

// GetAssignedAddress implements Provider.
func (p *KubeProvider) GetAssignedAddress(ctx context.Context, h Handle) (string, bool, error) {
	namespace, name, ok := strings.Cut(h.Ref, "/")
	if !ok {
		return "", false, environment.Permanent("get address", fmt.Errorf("malformed handle %q", h.Ref))
	}

	svc, err := p.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", false, environment.Permanent("get address", fmt.Errorf("service %s disappeared", h.Ref))
	}
	if err != nil {
		return "", false, cluster.Classify("get address", err)
	}

	for _, ingress := range svc.Status.LoadBalancer.Ingress {
		if ingress.IP != "" {
			return ingress.IP, true, nil
		}
		if ingress.Hostname != "" {
			return ingress.Hostname, true, nil
		}
	}
	return "", false, nil
}

// Release implements Provider by deleting the environment's exposure services.
func (p *KubeProvider) Release(ctx context.Context, id string) error {
	services := p.clientset.CoreV1().Services(id)
	list, err := services.List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorForComponent(id, string(environment.RoleExposure)),
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return cluster.Classify("release", fmt.Errorf("failed to list exposure services: %w", err))
	}

	for _, svc := range list.Items {
		err := services.Delete(ctx, svc.Name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return cluster.Classify("release", fmt.Errorf("failed to delete service %s: %w", svc.Name, err))
		}
	}
	return nil
}

package exposure

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/labels"
	"github.com/imamik/branchenv/internal/util/naming"
)

// ServiceEnsurer creates a cluster Service idempotently.
type ServiceEnsurer interface {
	EnsureService(ctx context.Context, svc *corev1.Service) (*corev1.Service, error)
}

// HCloudOptions configures the Hetzner Cloud load balancers.
type HCloudOptions struct {
	Location         string
	LoadBalancerType string
	// TargetSelector selects the servers (cluster nodes) the load balancer
	// forwards to.
	TargetSelector string
	UsePrivateIP   bool
}

// HCloudProvider exposes an environment through a dedicated Hetzner Cloud
// load balancer forwarding to a NodePort Service.
type HCloudProvider struct {
	client   *hcloud.Client
	services ServiceEnsurer
	opts     HCloudOptions
}

// NewHCloudProvider creates a provider. services applies the NodePort
// Service the load balancer forwards to.
func NewHCloudProvider(client *hcloud.Client, services ServiceEnsurer, opts HCloudOptions) *HCloudProvider {
	return &HCloudProvider{client: client, services: services, opts: opts}
}

// Name implements Provider.
func (p *HCloudProvider) Name() string { return "hcloud" }

// RequestExternalAddress implements Provider.
func (p *HCloudProvider) RequestExternalAddress(ctx context.Context, id string, descriptor *unstructured.Unstructured) (Handle, error) {
	svc, err := serviceFrom(descriptor, id)
	if err != nil {
		return Handle{}, err
	}
	svc.Spec.Type = corev1.ServiceTypeNodePort

	ensured, err := p.services.EnsureService(ctx, svc)
	if err != nil {
		return Handle{}, err
	}
	port := ensured.Spec.Ports[0]
	if port.NodePort == 0 {
		return Handle{}, environment.Transient("expose", fmt.Errorf("service %s has no node port yet", ensured.Name))
	}

	name := naming.ExposureLoadBalancer(id)
	handle := Handle{ID: id, Provider: p.Name(), Ref: name}

	lb, _, err := p.client.LoadBalancer.Get(ctx, name)
	if err != nil {
		return Handle{}, classifyHCloud("get load balancer", err)
	}
	if lb != nil {
		return handle, nil
	}

	lbType, _, err := p.client.LoadBalancerType.Get(ctx, p.opts.LoadBalancerType)
	if err != nil {
		return Handle{}, classifyHCloud("get load balancer type", err)
	}
	if lbType == nil {
		return Handle{}, environment.Permanent("expose", fmt.Errorf("load balancer type %q not found", p.opts.LoadBalancerType))
	}
	location, _, err := p.client.Location.Get(ctx, p.opts.Location)
	if err != nil {
		return Handle{}, classifyHCloud("get location", err)
	}
	if location == nil {
		return Handle{}, environment.Permanent("expose", fmt.Errorf("location %q not found", p.opts.Location))
	}

	_, _, err = p.client.LoadBalancer.Create(ctx, hcloud.LoadBalancerCreateOpts{
		Name:             name,
		LoadBalancerType: lbType,
		Location:         location,
		Algorithm:        &hcloud.LoadBalancerAlgorithm{Type: hcloud.LoadBalancerAlgorithmTypeRoundRobin},
		Labels:           labels.NewLabelBuilder(id).WithComponent(string(environment.RoleExposure)).Build(),
		PublicInterface:  hcloud.Ptr(true),
		Services: []hcloud.LoadBalancerCreateOptsService{{
			Protocol:        hcloud.LoadBalancerServiceProtocolTCP,
			ListenPort:      hcloud.Ptr(int(port.Port)),
			DestinationPort: hcloud.Ptr(int(port.NodePort)),
		}},
		Targets: []hcloud.LoadBalancerCreateOptsTarget{{
			Type:          hcloud.LoadBalancerTargetTypeLabelSelector,
			LabelSelector: hcloud.LoadBalancerCreateOptsTargetLabelSelector{Selector: p.opts.TargetSelector},
			UsePrivateIP:  hcloud.Ptr(p.opts.UsePrivateIP),
		}},
	})
	if err != nil {
		return Handle{}, classifyHCloud("create load balancer", err)
	}
	return handle, nil
}

// GetAssignedAddress implements Provider.
func (p *HCloudProvider) GetAssignedAddress(ctx context.Context, h Handle) (string, bool, error) {
	lb, _, err := p.client.LoadBalancer.Get(ctx, h.Ref)
	if err != nil {
		return "", false, classifyHCloud("get load balancer", err)
	}
	if lb == nil {
		return "", false, environment.Permanent("get address", fmt.Errorf("load balancer %s not found", h.Ref))
	}
	ip := lb.PublicNet.IPv4.IP
	if ip == nil || ip.IsUnspecified() {
		return "", false, nil
	}
	return ip.String(), true, nil
}

// Release implements Provider by deleting the environment's load balancer.
func (p *HCloudProvider) Release(ctx context.Context, id string) error {
	name := naming.ExposureLoadBalancer(id)
	lb, _, err := p.client.LoadBalancer.Get(ctx, name)
	if err != nil {
		return classifyHCloud("get load balancer", err)
	}
	if lb == nil {
		return nil
	}
	if _, err := p.client.LoadBalancer.Delete(ctx, lb); err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
			return nil
		}
		return classifyHCloud("delete load balancer", err)
	}
	return nil
}

// Codes not exported under a stable name by every hcloud-go release.
const (
	errorCodeResourceLimitExceeded hcloud.ErrorCode = "resource_limit_exceeded"
	errorCodeTimeout               hcloud.ErrorCode = "timeout"
	errorCodeServiceError          hcloud.ErrorCode = "service_error"
)

// classifyHCloud maps Hetzner Cloud errors onto the transient/permanent
// taxonomy. Locks, rate limits and exhausted quota are transient.
func classifyHCloud(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		switch hcloudErr.Code {
		case hcloud.ErrorCodeLocked,
			hcloud.ErrorCodeConflict,
			hcloud.ErrorCodeResourceLocked,
			hcloud.ErrorCodeResourceUnavailable,
			hcloud.ErrorCodeRateLimitExceeded,
			errorCodeResourceLimitExceeded,
			errorCodeTimeout,
			errorCodeServiceError:
			return environment.Transient(op, err)
		default:
			return environment.Permanent(op, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return environment.Transient(op, err)
	}
	return environment.Permanent(op, err)
}

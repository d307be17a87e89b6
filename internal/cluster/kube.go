package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/labels"
)

// DefaultFieldManager identifies branchenv in server-side apply.
const DefaultFieldManager = "branchenv"

// KubeOptions configures a KubeAPI.
type KubeOptions struct {
	// FieldManager is the server-side apply field owner.
	FieldManager string
	// DatabaseKind is the custom resource that represents the database
	// instance. When empty, readiness is derived from pods.
	DatabaseKind schema.GroupVersionKind
	// FinalizerKinds are the namespaced kinds whose finalizers are cleared
	// during recovery, in addition to the database kind.
	FinalizerKinds []schema.GroupVersionKind
}

// DefaultFinalizerKinds are cleared during recovery unless overridden.
var DefaultFinalizerKinds = []schema.GroupVersionKind{
	{Version: "v1", Kind: "Service"},
	{Version: "v1", Kind: "PersistentVolumeClaim"},
	{Version: "v1", Kind: "Secret"},
}

// KubeAPI implements API against a Kubernetes cluster.
type KubeAPI struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	mapper    meta.RESTMapper
	opts      KubeOptions
}

// NewKubeAPIFromKubeconfig builds a KubeAPI from a kubeconfig path.
// An empty path uses the default loading rules (KUBECONFIG, ~/.kube/config,
// in-cluster).
func NewKubeAPIFromKubeconfig(path string, opts KubeOptions) (*KubeAPI, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path != "" {
		rules.ExplicitPath = path
	}
	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return NewKubeAPIFromConfig(restConfig, opts)
}

// NewKubeAPIFromConfig builds a KubeAPI from a REST config.
func NewKubeAPIFromConfig(restConfig *rest.Config, opts KubeOptions) (*KubeAPI, error) {
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	// Deferred so CRDs installed after startup are picked up on a mapping miss.
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(discoveryClient))

	return NewKubeAPI(clientset, dynamicClient, mapper, opts), nil
}

// NewKubeAPI creates a KubeAPI from pre-configured clients.
// This is useful for testing with fake clients.
func NewKubeAPI(clientset kubernetes.Interface, dynamicClient dynamic.Interface, mapper meta.RESTMapper, opts KubeOptions) *KubeAPI {
	if opts.FieldManager == "" {
		opts.FieldManager = DefaultFieldManager
	}
	if opts.FinalizerKinds == nil {
		opts.FinalizerKinds = DefaultFinalizerKinds
	}
	return &KubeAPI{
		clientset: clientset,
		dynamic:   dynamicClient,
		mapper:    mapper,
		opts:      opts,
	}
}

// ApplyResources applies every object of spec with server-side apply.
func (k *KubeAPI) ApplyResources(ctx context.Context, spec *environment.Spec) (ApplyResult, error) {
	var result ApplyResult
	for _, obj := range spec.Objects() {
		if err := k.applyObject(ctx, obj); err != nil {
			return result, fmt.Errorf("failed to apply %s %s/%s: %w", obj.GetKind(), obj.GetNamespace(), obj.GetName(), err)
		}
		result.Applied = append(result.Applied, obj.GetKind()+"/"+obj.GetName())
	}
	return result, nil
}

func (k *KubeAPI) applyObject(ctx context.Context, obj *unstructured.Unstructured) error {
	resource, err := k.resourceFor(obj.GroupVersionKind(), obj.GetNamespace())
	if err != nil {
		return err
	}

	data, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal object to JSON: %w", err)
	}

	force := true
	_, err = resource.Patch(ctx, obj.GetName(), types.ApplyPatchType, data, metav1.PatchOptions{
		FieldManager: k.opts.FieldManager,
		Force:        &force,
	})
	if err != nil {
		return fmt.Errorf("server-side apply failed: %w", err)
	}
	return nil
}

// resourceFor maps gvk to a dynamic resource client, scoped to namespace
// when the kind is namespaced.
func (k *KubeAPI) resourceFor(gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	if gvk.Kind == "" {
		return nil, fmt.Errorf("object has no kind set")
	}
	mapping, err := k.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to get REST mapping for %v: %w", gvk, err)
	}
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		return k.dynamic.Resource(mapping.Resource).Namespace(namespace), nil
	}
	return k.dynamic.Resource(mapping.Resource), nil
}

// DeleteNamespace deletes the environment namespace with background
// propagation. A missing namespace is success.
func (k *KubeAPI) DeleteNamespace(ctx context.Context, id string) (DeleteResult, error) {
	policy := metav1.DeletePropagationBackground
	err := k.clientset.CoreV1().Namespaces().Delete(ctx, id, metav1.DeleteOptions{PropagationPolicy: &policy})
	if apierrors.IsNotFound(err) {
		return DeleteResult{AlreadyAbsent: true}, nil
	}
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete namespace %s: %w", id, err)
	}
	return DeleteResult{}, nil
}

// GetResourceStatus observes the namespace and the database instance.
func (k *KubeAPI) GetResourceStatus(ctx context.Context, id string) (Status, error) {
	ns, err := k.clientset.CoreV1().Namespaces().Get(ctx, id, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return Status{Namespace: NamespaceAbsent}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("failed to get namespace %s: %w", id, err)
	}

	if ns.DeletionTimestamp != nil || ns.Status.Phase == corev1.NamespaceTerminating {
		status := Status{Namespace: NamespaceTerminating}
		if ns.DeletionTimestamp != nil {
			status.TerminatingSince = ns.DeletionTimestamp.Time
		}
		return status, nil
	}

	db, err := k.databaseStatus(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return Status{Namespace: NamespaceActive, Database: db}, nil
}

func (k *KubeAPI) databaseStatus(ctx context.Context, namespace string) (DatabaseStatus, error) {
	pods, err := k.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return DatabaseStatus{}, fmt.Errorf("failed to list pods in %s: %w", namespace, err)
	}
	for i := range pods.Items {
		if reason, failed := podFailure(&pods.Items[i]); failed {
			return DatabaseStatus{Failed: true, Reason: reason}, nil
		}
	}

	if k.opts.DatabaseKind.Kind == "" {
		return podsReady(pods.Items), nil
	}

	resource, err := k.resourceFor(k.opts.DatabaseKind, namespace)
	if err != nil {
		return DatabaseStatus{}, err
	}
	list, err := resource.List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorForComponent(namespace, string(environment.RoleDatabase)),
	})
	if err != nil {
		return DatabaseStatus{}, fmt.Errorf("failed to list %s in %s: %w", k.opts.DatabaseKind.Kind, namespace, err)
	}
	if len(list.Items) == 0 {
		return DatabaseStatus{Reason: "database resource not found"}, nil
	}
	for i := range list.Items {
		if st := conditionStatus(&list.Items[i]); !st.Ready {
			return st, nil
		}
	}
	return DatabaseStatus{Ready: true}, nil
}

// podFailure detects containers that will not recover on their own.
func podFailure(pod *corev1.Pod) (string, bool) {
	statuses := append([]corev1.ContainerStatus{}, pod.Status.InitContainerStatuses...)
	statuses = append(statuses, pod.Status.ContainerStatuses...)
	for _, cs := range statuses {
		if cs.State.Waiting == nil {
			continue
		}
		switch cs.State.Waiting.Reason {
		case "CrashLoopBackOff", "ImagePullBackOff", "ErrImagePull", "InvalidImageName", "CreateContainerConfigError":
			return fmt.Sprintf("pod %s container %s: %s", pod.Name, cs.Name, cs.State.Waiting.Reason), true
		}
	}
	return "", false
}

func podsReady(pods []corev1.Pod) DatabaseStatus {
	if len(pods) == 0 {
		return DatabaseStatus{Reason: "no pods scheduled"}
	}
	for i := range pods {
		if !isPodReady(&pods[i]) {
			return DatabaseStatus{Reason: fmt.Sprintf("pod %s not ready", pods[i].Name)}
		}
	}
	return DatabaseStatus{Ready: true}
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// conditionStatus reads the Ready condition of a custom resource.
func conditionStatus(obj *unstructured.Unstructured) DatabaseStatus {
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, c := range conditions {
		cond, ok := c.(map[string]any)
		if !ok || cond["type"] != "Ready" {
			continue
		}
		if cond["status"] == string(metav1.ConditionTrue) {
			return DatabaseStatus{Ready: true}
		}
		msg, _ := cond["message"].(string)
		return DatabaseStatus{Reason: fmt.Sprintf("%s not ready: %s", obj.GetName(), msg)}
	}
	return DatabaseStatus{Reason: fmt.Sprintf("%s has no Ready condition", obj.GetName())}
}

// ClearFinalizers strips finalizers from the environment's objects and
// finalizes the namespace. A missing namespace is success.
func (k *KubeAPI) ClearFinalizers(ctx context.Context, id string) error {
	ns, err := k.clientset.CoreV1().Namespaces().Get(ctx, id, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get namespace %s: %w", id, err)
	}

	kinds := k.opts.FinalizerKinds
	if k.opts.DatabaseKind.Kind != "" {
		kinds = append([]schema.GroupVersionKind{k.opts.DatabaseKind}, kinds...)
	}
	for _, gvk := range kinds {
		if err := k.clearObjectFinalizers(ctx, gvk, id); err != nil {
			return err
		}
	}

	if len(ns.Finalizers) > 0 {
		patched, err := k.clientset.CoreV1().Namespaces().Patch(ctx, id, types.MergePatchType, clearFinalizersPatch, metav1.PatchOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to clear namespace metadata finalizers: %w", err)
		}
		// Finalize needs the patched resourceVersion.
		ns = patched
	}

	if len(ns.Spec.Finalizers) > 0 {
		ns = ns.DeepCopy()
		ns.Spec.Finalizers = nil
		if _, err := k.clientset.CoreV1().Namespaces().Finalize(ctx, ns, metav1.UpdateOptions{}); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to finalize namespace %s: %w", id, err)
		}
	}
	return nil
}

var clearFinalizersPatch = []byte(`{"metadata":{"finalizers":null}}`)

func (k *KubeAPI) clearObjectFinalizers(ctx context.Context, gvk schema.GroupVersionKind, namespace string) error {
	resource, err := k.resourceFor(gvk, namespace)
	if meta.IsNoMatchError(err) {
		return nil
	}
	if err != nil {
		return err
	}

	list, err := resource.List(ctx, metav1.ListOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list %s in %s: %w", gvk.Kind, namespace, err)
	}

	for _, item := range list.Items {
		if len(item.GetFinalizers()) == 0 {
			continue
		}
		_, err := resource.Patch(ctx, item.GetName(), types.MergePatchType, clearFinalizersPatch, metav1.PatchOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to clear finalizers of %s %s: %w", gvk.Kind, item.GetName(), err)
		}
	}
	return nil
}

// ListEnvironments returns every namespace managed by branchenv.
func (k *KubeAPI) ListEnvironments(ctx context.Context) ([]Environment, error) {
	list, err := k.clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorManaged(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list managed namespaces: %w", err)
	}

	envs := make([]Environment, 0, len(list.Items))
	for _, ns := range list.Items {
		envs = append(envs, Environment{
			ID:          ns.Name,
			Branch:      ns.Annotations[labels.AnnotationBranch],
			Terminating: ns.DeletionTimestamp != nil || ns.Status.Phase == corev1.NamespaceTerminating,
			CreatedAt:   ns.CreationTimestamp.Time,
		})
	}
	return envs, nil
}

// Clientset exposes the typed client for components sharing the connection.
func (k *KubeAPI) Clientset() kubernetes.Interface { return k.clientset }

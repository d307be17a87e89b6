package labels

// Standard label keys for environment resources.
const (
	// KeyEnvironment identifies which environment a resource belongs to
	KeyEnvironment = "branchenv.io/environment"

	// KeyComponent identifies the role of a resource (database, service, ...)
	KeyComponent = "branchenv.io/component"

	// KeyManagedBy identifies the management system
	KeyManagedBy = "app.kubernetes.io/managed-by"

	// AnnotationBranch carries the source branch name
	AnnotationBranch = "branchenv.io/branch"

	// AnnotationRole marks base template resources with their role
	AnnotationRole = "branchenv.io/role"
)

// ManagedBy values
const (
	ManagedByBranchenv = "branchenv"
)

// LabelBuilder provides a fluent interface for building resource labels.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a new label builder with the environment pre-set.
func NewLabelBuilder(environment string) *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeyEnvironment: environment,
			KeyManagedBy:   ManagedByBranchenv,
		},
	}
}

// WithComponent adds a component label (e.g., "database", "service").
func (lb *LabelBuilder) WithComponent(component string) *LabelBuilder {
	if component != "" {
		lb.labels[KeyComponent] = component
	}
	return lb
}

// WithManagedBy sets who manages this resource.
func (lb *LabelBuilder) WithManagedBy(manager string) *LabelBuilder {
	lb.labels[KeyManagedBy] = manager
	return lb
}

// Merge adds all labels from the provided map. Existing keys are kept.
func (lb *LabelBuilder) Merge(extra map[string]string) *LabelBuilder {
	for k, v := range extra {
		if _, exists := lb.labels[k]; !exists {
			lb.labels[k] = v
		}
	}
	return lb
}

// Build returns a copy of the labels map.
func (lb *LabelBuilder) Build() map[string]string {
	result := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		result[k] = v
	}
	return result
}

// SelectorForEnvironment returns a label selector for all resources of an environment.
func SelectorForEnvironment(environment string) string {
	return KeyEnvironment + "=" + environment
}

// SelectorForComponent narrows SelectorForEnvironment to one component.
func SelectorForComponent(environment, component string) string {
	return SelectorForEnvironment(environment) + "," + KeyComponent + "=" + component
}

// SelectorManaged matches every resource created by branchenv.
func SelectorManaged() string {
	return KeyManagedBy + "=" + ManagedByBranchenv
}

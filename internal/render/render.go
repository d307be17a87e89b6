package render

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/kustomize/api/krusty"
	"sigs.k8s.io/kustomize/kyaml/filesys"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/labels"
)

// Token is replaced by the environment identifier in every string value.
const Token = "${ENVIRONMENT_ID}"

const (
	baseDir    = "/base"
	overlayDir = "/overlay"
)

// Target selects the base resource a patch applies to.
type Target struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
}

// Patch is a strategic-merge or JSON6902 patch applied to one base resource.
type Patch struct {
	Target Target `yaml:"target"`
	Patch  string `yaml:"patch"`
}

// Overrides are the per-environment adjustments layered over the base.
type Overrides struct {
	Labels      map[string]string `yaml:"labels,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
	Patches     []Patch           `yaml:"patches,omitempty"`
}

var knownRoles = map[environment.Role]bool{
	environment.RoleDatabase:    true,
	environment.RoleService:     true,
	environment.RoleExposure:    true,
	environment.RoleCredentials: true,
}

// Render produces the environment spec for id from the base template.
func Render(base []byte, id string, overrides Overrides) (*environment.Spec, error) {
	if id == "" {
		return nil, templateErrorf(nil, "environment id is empty")
	}

	objs, err := Decode(base)
	if err != nil {
		return nil, templateErrorf(err, "invalid base template")
	}
	if err := validateBase(objs, overrides); err != nil {
		return nil, err
	}

	order := make(map[string]int, len(objs))
	for i, obj := range objs {
		order[resourceKey(obj)] = i
	}

	fSys, err := layout(objs, id, overrides)
	if err != nil {
		return nil, err
	}

	k := krusty.MakeKustomizer(krusty.MakeDefaultOptions())
	resMap, err := k.Run(fSys, overlayDir)
	if err != nil {
		return nil, templateErrorf(err, "overlay failed")
	}
	out, err := resMap.AsYaml()
	if err != nil {
		return nil, templateErrorf(err, "failed to serialize overlay output")
	}
	rendered, err := Decode(out)
	if err != nil {
		return nil, templateErrorf(err, "failed to decode overlay output")
	}

	ordered := make([]*unstructured.Unstructured, len(objs))
	for _, obj := range rendered {
		idx, ok := order[resourceKey(obj)]
		if !ok {
			return nil, templateErrorf(nil, "overlay produced unexpected resource %s", resourceKey(obj))
		}
		ordered[idx] = obj
	}

	resources := []environment.Resource{{Role: environment.RoleNamespace, Object: namespaceObject(id, overrides)}}
	for _, obj := range ordered {
		if obj == nil {
			return nil, templateErrorf(nil, "overlay dropped a base resource")
		}
		obj.Object = substitute(obj.Object, id).(map[string]any)
		if obj.GetKind() == "Service" {
			if errs := validation.IsDNS1035Label(obj.GetName()); len(errs) > 0 {
				return nil, templateErrorf(nil, "service name %q is invalid: %s", obj.GetName(), strings.Join(errs, "; "))
			}
		}
		role := roleOf(obj)
		if role != environment.RoleOther {
			obj.SetLabels(labels.NewLabelBuilder(id).
				WithComponent(string(role)).
				Merge(obj.GetLabels()).
				Build())
		}
		resources = append(resources, environment.Resource{Role: role, Object: obj})
	}

	return environment.NewSpec(id, id, resources), nil
}

func validateBase(objs []*unstructured.Unstructured, overrides Overrides) error {
	if len(objs) == 0 {
		return templateErrorf(nil, "base template is empty")
	}

	seen := make(map[environment.Role]bool)
	keys := make(map[string]bool)
	for _, obj := range objs {
		if obj.GetKind() == "Namespace" {
			return templateErrorf(nil, "base template must not declare a Namespace (%s)", obj.GetName())
		}
		key := resourceKey(obj)
		if keys[key] {
			return templateErrorf(nil, "duplicate resource %s", key)
		}
		keys[key] = true

		role := roleOf(obj)
		if role != environment.RoleOther && !knownRoles[role] {
			return templateErrorf(nil, "%s has unknown role %q", key, role)
		}
		seen[role] = true
	}

	var missing []string
	for _, role := range environment.RequiredRoles {
		if !seen[role] {
			missing = append(missing, string(role))
		}
	}
	if len(missing) > 0 {
		return templateErrorf(nil, "missing required patch targets: no resource with role %s", strings.Join(missing, ", "))
	}

	for _, p := range overrides.Patches {
		if strings.TrimSpace(p.Patch) == "" {
			return templateErrorf(nil, "patch for %s/%s is empty", p.Target.Kind, p.Target.Name)
		}
		if !keys[p.Target.Kind+"/"+p.Target.Name] {
			return templateErrorf(nil, "patch target %s/%s not found in base template", p.Target.Kind, p.Target.Name)
		}
	}
	return nil
}

// layout writes the base and overlay kustomizations to an in-memory filesystem.
func layout(objs []*unstructured.Unstructured, id string, overrides Overrides) (filesys.FileSystem, error) {
	fSys := filesys.MakeFsInMemory()
	for _, dir := range []string{baseDir, overlayDir} {
		if err := fSys.MkdirAll(dir); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	resources, err := encode(objs)
	if err != nil {
		return nil, templateErrorf(err, "failed to encode base resources")
	}

	patches := make([]map[string]any, 0, len(overrides.Patches))
	for _, p := range overrides.Patches {
		patches = append(patches, map[string]any{
			"target": map[string]any{"kind": p.Target.Kind, "name": p.Target.Name},
			"patch":  p.Patch,
		})
	}

	overlay := map[string]any{
		"apiVersion": "kustomize.config.k8s.io/v1beta1",
		"kind":       "Kustomization",
		"resources":  []string{".." + baseDir},
		"namespace":  id,
		"labels": []map[string]any{{
			"pairs":            environmentLabels(id, overrides),
			"includeSelectors": false,
			"includeTemplates": true,
		}},
	}
	if len(overrides.Annotations) > 0 {
		overlay["commonAnnotations"] = overrides.Annotations
	}
	if len(patches) > 0 {
		overlay["patches"] = patches
	}

	files := map[string]any{
		baseDir + "/kustomization.yaml": map[string]any{
			"apiVersion": "kustomize.config.k8s.io/v1beta1",
			"kind":       "Kustomization",
			"resources":  []string{"resources.yaml"},
		},
		overlayDir + "/kustomization.yaml": overlay,
	}
	for path, content := range files {
		data, err := sigsyaml.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", path, err)
		}
		if err := fSys.WriteFile(path, data); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	if err := fSys.WriteFile(baseDir+"/resources.yaml", resources); err != nil {
		return nil, fmt.Errorf("failed to write base resources: %w", err)
	}
	return fSys, nil
}

func environmentLabels(id string, overrides Overrides) map[string]string {
	return labels.NewLabelBuilder(id).Merge(overrides.Labels).Build()
}

func namespaceObject(id string, overrides Overrides) *unstructured.Unstructured {
	ns := &unstructured.Unstructured{}
	ns.SetAPIVersion("v1")
	ns.SetKind("Namespace")
	ns.SetName(id)
	ns.SetLabels(labels.NewLabelBuilder(id).
		WithComponent(string(environment.RoleNamespace)).
		Merge(overrides.Labels).
		Build())
	if len(overrides.Annotations) > 0 {
		annotations := make(map[string]string, len(overrides.Annotations))
		for k, v := range overrides.Annotations {
			annotations[k] = v
		}
		ns.SetAnnotations(annotations)
	}
	return ns
}

func roleOf(obj *unstructured.Unstructured) environment.Role {
	return environment.Role(obj.GetAnnotations()[labels.AnnotationRole])
}

func resourceKey(obj *unstructured.Unstructured) string {
	return obj.GetKind() + "/" + obj.GetName()
}

// substitute replaces Token in every string value of v.
func substitute(v any, id string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, Token, id)
	case map[string]any:
		for k, val := range t {
			t[k] = substitute(val, id)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = substitute(val, id)
		}
		return t
	default:
		return v
	}
}

// Template is a base template with its overrides, ready to render
// environments for any branch.
type Template struct {
	Base      []byte
	Overrides Overrides
}

// Render renders the environment id of branch. The branch name is recorded
// as an annotation so managed environments can be mapped back to it.
func (t Template) Render(id, branch string) (*environment.Spec, error) {
	overrides := t.Overrides
	annotations := make(map[string]string, len(t.Overrides.Annotations)+1)
	for k, v := range t.Overrides.Annotations {
		annotations[k] = v
	}
	if branch != "" {
		annotations[labels.AnnotationBranch] = branch
	}
	overrides.Annotations = annotations
	return Render(t.Base, id, overrides)
}

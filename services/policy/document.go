package policy

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/upb/request-shield/services"
	"github.com/upb/request-shield/utils"
	"gopkg.in/yaml.v3"
)

// Condition operators
const (
	OpEq        = "eq"
	OpNeq       = "neq"
	OpIn        = "in"
	OpPrefix    = "prefix"
	OpExists    = "exists"
	OpSubjectEq = "subject_eq"
)

// Document is the on-disk policy format
type Document struct {
	Policies []PolicySpec `yaml:"policies" validate:"required,min=1,dive"`
}

// PolicySpec describes one policy in a Document
type PolicySpec struct {
	ID            string          `yaml:"id" validate:"required"`
	Effect        string          `yaml:"effect" validate:"required,oneof=allow deny"`
	Description   string          `yaml:"description"`
	Actions       []string        `yaml:"actions"`
	ResourceTypes []string        `yaml:"resource_types"`
	Conditions    []ConditionSpec `yaml:"conditions" validate:"dive"`
}

// ConditionSpec is a single attribute test. All conditions of a policy must hold.
//
// Attributes are addressed as "action", "subject.id", "subject.tenant",
// "subject.authenticated", "subject.<attribute>", "resource.type",
// "resource.id" and "resource.tenant".
type ConditionSpec struct {
	Attribute string   `yaml:"attribute" validate:"required"`
	Op        string   `yaml:"op" validate:"required,oneof=eq neq in prefix exists subject_eq"`
	Value     string   `yaml:"value"`
	Values    []string `yaml:"values" validate:"required_if=Op in"`
	Ref       string   `yaml:"ref" validate:"required_if=Op subject_eq"`
}

// LoadFile reads and compiles a YAML policy document
func LoadFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "failed to read policy file", err).
			WithDetail("path", path)
	}
	return Parse(data)
}

// Parse decodes, validates and compiles a YAML policy document
func Parse(data []byte) ([]Policy, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid policy document", err)
	}
	return Compile(doc)
}

// Compile validates a Document and turns it into engine policies
func Compile(doc Document) ([]Policy, error) {
	if err := utils.ValidateStruct(doc); err != nil {
		derr := services.NewDomainError(services.ErrorTypeValidation, "invalid policy document", err)
		for field, msg := range utils.GetValidationFields(err) {
			derr.WithDetail(field, msg)
		}
		return nil, derr
	}

	policies := make([]Policy, 0, len(doc.Policies))
	for _, spec := range doc.Policies {
		for i, c := range spec.Conditions {
			if err := checkCondition(c); err != nil {
				return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid policy condition", err).
					WithDetail("policy_id", spec.ID).
					WithDetail("condition", i)
			}
		}
		policies = append(policies, Policy{
			ID:          spec.ID,
			Effect:      Effect(spec.Effect),
			Description: spec.Description,
			When:        compiledPredicate{spec: spec},
		})
	}
	return policies, nil
}

func checkCondition(c ConditionSpec) error {
	if !knownAttribute(c.Attribute) {
		return fmt.Errorf("unknown attribute %q", c.Attribute)
	}
	switch c.Op {
	case OpEq, OpNeq, OpPrefix:
		if c.Value == "" {
			return fmt.Errorf("op %s requires value", c.Op)
		}
	case OpSubjectEq:
		if !knownAttribute(c.Ref) {
			return fmt.Errorf("unknown ref attribute %q", c.Ref)
		}
	}
	return nil
}

func knownAttribute(attr string) bool {
	switch attr {
	case "action", "resource.type", "resource.id", "resource.tenant":
		return true
	}
	return strings.HasPrefix(attr, "subject.") && len(attr) > len("subject.")
}

// compiledPredicate evaluates a PolicySpec against a request
type compiledPredicate struct {
	spec PolicySpec
}

// Matches implements Predicate
func (p compiledPredicate) Matches(req Request) bool {
	if !matchesAny(p.spec.Actions, req.Action) {
		return false
	}
	if !matchesAny(p.spec.ResourceTypes, req.Resource.Type) {
		return false
	}
	for _, c := range p.spec.Conditions {
		if !evalCondition(c, req) {
			return false
		}
	}
	return true
}

// matchesAny treats an empty list or "*" as a wildcard
func matchesAny(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, item := range list {
		if item == "*" || item == v {
			return true
		}
	}
	return false
}

func evalCondition(c ConditionSpec, req Request) bool {
	v, ok := lookupAttribute(req, c.Attribute)
	switch c.Op {
	case OpExists:
		return ok
	case OpEq:
		return ok && v == c.Value
	case OpNeq:
		return !ok || v != c.Value
	case OpPrefix:
		return ok && strings.HasPrefix(v, c.Value)
	case OpIn:
		if !ok {
			return false
		}
		for _, candidate := range c.Values {
			if v == candidate {
				return true
			}
		}
		return false
	case OpSubjectEq:
		ref, refOK := lookupAttribute(req, c.Ref)
		return ok && refOK && v == ref
	}
	return false
}

// lookupAttribute resolves an attribute path; ok is false when the value is absent
func lookupAttribute(req Request, attr string) (string, bool) {
	switch attr {
	case "action":
		return req.Action, req.Action != ""
	case "resource.type":
		return req.Resource.Type, req.Resource.Type != ""
	case "resource.id":
		return req.Resource.ID, req.Resource.ID != ""
	case "resource.tenant":
		return req.Resource.TenantID, req.Resource.TenantID != ""
	case "subject.id":
		return req.Subject.SubjectID(), req.Subject.IsAuthenticated()
	case "subject.tenant":
		return req.Subject.TenantID(), req.Subject.TenantID() != ""
	case "subject.authenticated":
		return strconv.FormatBool(req.Subject.IsAuthenticated()), true
	}
	if name, found := strings.CutPrefix(attr, "subject."); found {
		return req.Subject.Attribute(name)
	}
	return "", false
}

// Package transforms defines the transform contract used by the augmentation
// dataset, a small library of concrete volume transforms, and the
// classification logic that splits transforms into deterministic and
// randomizable kinds.
//
// A transform is a pure function from one float32 tensor to a new one; it
// never mutates its input. Randomizable transforms additionally support joint
// application over a keyed group of tensors (image + mask), drawing their
// random parameters exactly once per joint call so that spatial correspondence
// between the group members is preserved.
package transforms

import (
	"reflect"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Keys used for joint (dictionary-style) application.
const (
	KeyImage = "img"
	KeyMask  = "mask"
)

// Transform is a named, opaque operation producing a new tensor from an input
// tensor. Apply must not mutate its input; chained transforms rely on that.
type Transform interface {
	Apply(t *tensors.Tensor) (*tensors.Tensor, error)
}

// Randomizable marks a transform whose output depends on internal randomness.
// ApplyJoint applies the transform to every tensor in data using a single
// random draw, so that e.g. an image and its mask receive the same rotation.
// The returned map has the same keys as data.
type Randomizable interface {
	Transform
	ApplyJoint(data map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error)
}

// Info is the structured descriptor returned by introspectable transforms.
type Info struct {
	// Class is a short identifier for the transform, safe to use as a
	// file-path segment (e.g. "RandFlip").
	Class string
}

// Introspectable is the optional self-description contract. Transforms that
// implement it control their own display name; all others get a name derived
// from their Go type.
type Introspectable interface {
	TransformInfo() Info
}

// Kind tags a classified transform.
type Kind int

const (
	// KindDeterministic transforms are applied independently per tensor.
	KindDeterministic Kind = iota
	// KindRandomizable transforms require joint application over image+mask.
	KindRandomizable
)

func (k Kind) String() string {
	if k == KindRandomizable {
		return "randomizable"
	}
	return "deterministic"
}

// Classified wraps a transform together with its kind and resolved name, so
// the application branches downstream are exhaustive and decided once, at
// construction time, rather than re-discovered per case.
type Classified struct {
	Kind Kind
	Name string

	// Det is always set. Rand is set only when Kind == KindRandomizable.
	Det  Transform
	Rand Randomizable
}

// Classify determines the kind of a transform and resolves its name. A
// transform is randomizable iff it implements the Randomizable capability.
func Classify(t Transform) Classified {
	c := Classified{
		Kind: KindDeterministic,
		Name: NameOf(t),
		Det:  t,
	}
	if r, ok := t.(Randomizable); ok {
		c.Kind = KindRandomizable
		c.Rand = r
	}
	return c
}

// ClassifyAll classifies a configured transform list, preserving order.
func ClassifyAll(ts []Transform) []Classified {
	out := make([]Classified, len(ts))
	for i, t := range ts {
		out[i] = Classify(t)
	}
	return out
}

// NameOf returns a short, non-empty, path-safe name for a transform. It
// prefers the Introspectable contract and falls back to the sanitized Go type
// name.
func NameOf(t Transform) string {
	if it, ok := t.(Introspectable); ok {
		if name := sanitizeName(it.TransformInfo().Class); name != "" {
			return name
		}
	}
	return sanitizeName(typeName(t))
}

func typeName(t Transform) string {
	rt := reflect.TypeOf(t)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil {
		return ""
	}
	name := rt.Name()
	// Strip the redundant suffix from types named like GaussianNoiseTransform.
	if trimmed := strings.TrimSuffix(name, "Transform"); trimmed != "" {
		name = trimmed
	}
	return name
}

// sanitizeName reduces a candidate name to characters safe in a path segment.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "transform"
	}
	return out
}

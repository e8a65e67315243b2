// Package relocate moves image payloads between documents and object storage. The traversal
// works on any JSON-like tree, since client payloads may be partial or shaped differently.
package relocate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/vitalik-svt/tomata/internal/model"
)

// Func transforms one target element.
type Func func(value any) any

// ContextFunc transforms one target element and may perform I/O.
type ContextFunc func(ctx context.Context, value any) (any, error)

// Apply returns a copy of tree in which fn has been applied to every value found under one of
// targets: each element when the value is a sequence, the value itself when it is a mapping.
// Scalars under a target key and everything else are copied unchanged.
func Apply(tree any, targets []string, fn Func) any {
	out, _ := ApplyContext(context.Background(), tree, targets, 1, func(_ context.Context, v any) (any, error) {
		return fn(v), nil
	})
	return out
}

// ApplyContext is Apply for I/O bound transforms. Up to limit transforms run at once
// (limit < 1 means sequential); results land in the same positions they were taken from.
// The first error cancels the remaining transforms and is returned.
func ApplyContext(ctx context.Context, tree any, targets []string, limit int, fn ContextFunc) (any, error) {
	w := &walk{targets: make(map[string]struct{}, len(targets))}
	for _, t := range targets {
		w.targets[t] = struct{}{}
	}
	out := w.copy(tree)
	if len(w.jobs) == 0 {
		return out, nil
	}

	if limit < 1 {
		limit = 1
	}
	results := make([]any, len(w.jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, j := range w.jobs {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := fn(gctx, j.value)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, j := range w.jobs {
		j.set(results[i])
	}
	return out, nil
}

// ApplyDocument runs ApplyContext over a document.
func ApplyDocument(ctx context.Context, doc model.Document, targets []string, limit int, fn ContextFunc) (model.Document, error) {
	if doc == nil {
		return nil, nil
	}
	out, err := ApplyContext(ctx, map[string]any(doc), targets, limit, fn)
	if err != nil {
		return nil, err
	}
	return model.Document(out.(map[string]any)), nil
}

type job struct {
	value any
	set   func(any)
}

type walk struct {
	targets map[string]struct{}
	jobs    []job
}

func (w *walk) copy(node any) any {
	switch v := node.(type) {
	case model.Document:
		return model.Document(w.copyMap(v))
	case map[string]any:
		return w.copyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = w.copy(item)
		}
		return out
	default:
		return v
	}
}

func (w *walk) copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, item := range m {
		k := k
		if _, hit := w.targets[k]; !hit {
			out[k] = w.copy(item)
			continue
		}
		switch v := item.(type) {
		case []any:
			elems := make([]any, len(v))
			for i, elem := range v {
				i := i
				elems[i] = model.CloneValue(elem)
				w.jobs = append(w.jobs, job{value: elems[i], set: func(res any) { elems[i] = res }})
			}
			out[k] = elems
		case map[string]any:
			out[k] = model.CloneValue(v)
			w.jobs = append(w.jobs, job{value: out[k], set: func(res any) { out[k] = res }})
		default:
			out[k] = model.CloneValue(v)
		}
	}
	return out
}

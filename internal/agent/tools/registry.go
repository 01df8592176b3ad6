package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Registry is the fixed catalog of callable tools, keyed by unique name.
// Lookup is O(1); Infos preserves registration order for the model
// catalog so prompts stay deterministic.
type Registry struct {
	byName map[string]tool.InvokableTool
	infos  []*schema.ToolInfo
}

func NewRegistry(ctx context.Context, ts ...tool.InvokableTool) (*Registry, error) {
	r := &Registry{byName: make(map[string]tool.InvokableTool, len(ts))}
	for _, t := range ts {
		if err := r.Register(ctx, t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("get tool info: %w", err)
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}
	if _, exists := r.byName[info.Name]; exists {
		return fmt.Errorf("duplicate tool name %q", info.Name)
	}
	r.byName[info.Name] = t
	r.infos = append(r.infos, info)
	return nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (tool.InvokableTool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Infos returns the tool catalog in registration order.
func (r *Registry) Infos() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(r.infos))
	copy(out, r.infos)
	return out
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	return len(r.byName)
}

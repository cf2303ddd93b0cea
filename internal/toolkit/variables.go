package toolkit

import (
	"context"

	"toolgate/internal/schema"
	"toolgate/internal/tools"
)

func (k *kit) setVariable() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "set_variable",
		Description: "Stores a named value in the caller's persistent context",
		// value is required but deliberately untyped so callers can store
		// any JSON shape.
		InputSchema: schema.NewInput(map[string]schema.Property{
			"name": {Type: "string", Description: "Variable name"},
		}, "name", "value"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"name":   {Type: "string"},
			"stored": {Type: "boolean"},
		}},
		Handler: func(_ context.Context, caller tools.Caller, params map[string]any) (any, error) {
			name, _ := params["name"].(string)
			sbx, err := k.deps.Contexts.Get(caller.ClientID)
			if err != nil {
				return nil, err
			}
			sbx.SetVariable(name, params["value"])
			if err := k.deps.Contexts.Persist(caller.ClientID); err != nil {
				return nil, err
			}
			return map[string]any{"name": name, "stored": true}, nil
		},
	}
}

func (k *kit) getVariable() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "get_variable",
		Description: "Reads a named value from the caller's persistent context",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"name": {Type: "string", Description: "Variable name"},
		}, "name"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"name":  {Type: "string"},
			"found": {Type: "boolean"},
		}},
		Handler: func(_ context.Context, caller tools.Caller, params map[string]any) (any, error) {
			name, _ := params["name"].(string)
			sbx, err := k.deps.Contexts.Get(caller.ClientID)
			if err != nil {
				return nil, err
			}
			value, found := sbx.GetVariable(name)
			return map[string]any{"name": name, "value": value, "found": found}, nil
		},
	}
}

func (k *kit) listVariables() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "list_variables",
		Description: "Lists every variable in the caller's persistent context",
		InputSchema: schema.NewInput(nil),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"variables": {Type: "object"},
			"count":     {Type: "integer"},
		}},
		Handler: func(_ context.Context, caller tools.Caller, _ map[string]any) (any, error) {
			sbx, err := k.deps.Contexts.Get(caller.ClientID)
			if err != nil {
				return nil, err
			}
			vars := sbx.Variables()
			return map[string]any{"variables": vars, "count": len(vars)}, nil
		},
	}
}

func (k *kit) deleteVariable() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "delete_variable",
		Description: "Removes a named value from the caller's persistent context",
		InputSchema: schema.NewInput(map[string]schema.Property{
			"name": {Type: "string", Description: "Variable name"},
		}, "name"),
		OutputSchema: schema.Output{Type: "object", Properties: map[string]schema.Property{
			"name":    {Type: "string"},
			"deleted": {Type: "boolean"},
		}},
		Handler: func(_ context.Context, caller tools.Caller, params map[string]any) (any, error) {
			name, _ := params["name"].(string)
			sbx, err := k.deps.Contexts.Get(caller.ClientID)
			if err != nil {
				return nil, err
			}
			deleted := sbx.DeleteVariable(name)
			if deleted {
				if err := k.deps.Contexts.Persist(caller.ClientID); err != nil {
					return nil, err
				}
			}
			return map[string]any{"name": name, "deleted": deleted}, nil
		},
	}
}

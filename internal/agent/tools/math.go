package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolAdd      = "add"
	ToolMultiply = "multiply"
)

// Arithmetic demo tools. They exist to exercise the dispatch path with
// cheap deterministic calls.

type ArithmeticInput struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ArithmeticOutput struct {
	Result float64 `json:"result"`
}

func NewAddTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolAdd,
			Desc: "Add two numbers and return the sum.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"x": {Type: "number", Desc: "First addend", Required: true},
				"y": {Type: "number", Desc: "Second addend", Required: true},
			}),
		},
		func(ctx context.Context, in *ArithmeticInput) (*ArithmeticOutput, error) {
			return &ArithmeticOutput{Result: in.X + in.Y}, nil
		},
	)
}

func NewMultiplyTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolMultiply,
			Desc: "Multiply two numbers and return the product.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"x": {Type: "number", Desc: "First factor", Required: true},
				"y": {Type: "number", Desc: "Second factor", Required: true},
			}),
		},
		func(ctx context.Context, in *ArithmeticInput) (*ArithmeticOutput, error) {
			return &ArithmeticOutput{Result: in.X * in.Y}, nil
		},
	)
}

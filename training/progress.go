package training

import (
	"fmt"
	"io"

	"github.com/tsawler/tumor-detect/layers"
)

// ModelArchitecturePrinter prints PyTorch-style model architecture
type ModelArchitecturePrinter struct {
	modelName string
	out       io.Writer
}

// NewModelArchitecturePrinter creates a printer writing to out
func NewModelArchitecturePrinter(modelName string, out io.Writer) *ModelArchitecturePrinter {
	return &ModelArchitecturePrinter{
		modelName: modelName,
		out:       out,
	}
}

// PrintArchitecture prints the model architecture in PyTorch style
func (p *ModelArchitecturePrinter) PrintArchitecture(modelSpec *layers.ModelSpec) {
	fmt.Fprintf(p.out, "%s(\n", p.modelName)
	for _, layer := range modelSpec.Layers {
		fmt.Fprintf(p.out, "  %s\n", formatLayer(layer))
	}
	fmt.Fprintf(p.out, ")\n")

	fmt.Fprintf(p.out, "Total parameters: %s\n", formatParameterCount(modelSpec.TotalParameters))
	fmt.Fprintf(p.out, "Input size (MB): %.3f\n", tensorSizeMB(modelSpec.InputShape))
	fmt.Fprintf(p.out, "Params size (MB): %.3f\n", float64(modelSpec.TotalParameters*8)/1024/1024) // float64 weights
}

func formatLayer(layer layers.LayerSpec) string {
	params := layer.Parameters
	switch layer.Type {
	case layers.Conv2D:
		k := layers.GetIntParam(params, "kernel_size", 0)
		s := layers.GetIntParam(params, "stride", 1)
		pad := layers.GetIntParam(params, "padding", 0)
		return fmt.Sprintf("(%s): Conv2d(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d), bias=%t)",
			layer.Name,
			layers.GetIntParam(params, "input_channels", 0), layers.GetIntParam(params, "output_channels", 0),
			k, k, s, s, pad, pad, layers.GetBoolParam(params, "use_bias", true))
	case layers.Dense:
		return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
			layer.Name, layers.GetIntParam(params, "input_size", 0), layers.GetIntParam(params, "output_size", 0),
			layers.GetBoolParam(params, "use_bias", true))
	case layers.MaxPool2D:
		return fmt.Sprintf("(%s): MaxPool2d(kernel_size=%d, stride=%d)",
			layer.Name, layers.GetIntParam(params, "kernel_size", 2), layers.GetIntParam(params, "stride", 2))
	case layers.Dropout:
		return fmt.Sprintf("(%s): Dropout(p=%g)", layer.Name, layers.GetFloatParam(params, "rate", 0))
	case layers.Softmax:
		return fmt.Sprintf("(%s): Softmax(dim=%d)", layer.Name, layers.GetIntParam(params, "axis", -1))
	case layers.ReLU:
		return fmt.Sprintf("(%s): ReLU()", layer.Name)
	case layers.Flatten:
		return fmt.Sprintf("(%s): Flatten(start_dim=1)", layer.Name)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type.String())
	}
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

func tensorSizeMB(shape []int) float64 {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return float64(size*8) / 1024 / 1024
}

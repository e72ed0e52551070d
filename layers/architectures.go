package layers

import (
	"fmt"
	"sort"
)

// Architecture names the candidate network designs for tumor classification.
type Architecture string

const (
	// Baseline is the small three-conv network: conv(6) conv(16) conv(64),
	// each followed by ReLU and 2x2 pooling, then 120-84-classes dense head.
	Baseline Architecture = "baseline"
	// VGGLite stacks padded 3x3 convolutions in three blocks
	// (64x2, 128x2, 256x3) with a 2048-2048-classes head.
	VGGLite Architecture = "vgg-lite"
	// VGG19 extends VGGLite with a fourth 256 conv and a 512x4 block,
	// using a 4096-4096-classes head.
	VGG19 Architecture = "vgg19"
)

type architectureFunc func(mb *ModelBuilder, numClasses int) *ModelBuilder

var registry = map[Architecture]architectureFunc{
	Baseline: buildBaseline,
	VGGLite:  buildVGGLite,
	VGG19:    buildVGG19,
}

// Architectures lists the registered architecture names in sorted order.
func Architectures() []Architecture {
	names := make([]Architecture, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ParseArchitecture validates an architecture name.
func ParseArchitecture(name string) (Architecture, error) {
	arch := Architecture(name)
	if _, ok := registry[arch]; !ok {
		return "", fmt.Errorf("unknown architecture %q (known: %v)", name, Architectures())
	}
	return arch, nil
}

// Build compiles the named architecture for square RGB images of imageSize
// pixels and numClasses outputs.
func Build(arch Architecture, imageSize, numClasses int) (*ModelSpec, error) {
	fn, ok := registry[arch]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q", arch)
	}
	if imageSize <= 0 || numClasses <= 0 {
		return nil, fmt.Errorf("image size and class count must be positive (got %d, %d)", imageSize, numClasses)
	}
	mb := NewModelBuilder([]int{1, 3, imageSize, imageSize}).Named(string(arch))
	return fn(mb, numClasses).Compile()
}

func buildBaseline(mb *ModelBuilder, numClasses int) *ModelBuilder {
	return mb.
		AddConv2D(6, 3, 1, 0, true, "conv1").AddReLU("relu1").AddMaxPool2D(2, 2, "pool1").
		AddConv2D(16, 3, 1, 0, true, "conv2").AddReLU("relu2").AddMaxPool2D(2, 2, "pool2").
		AddConv2D(64, 3, 1, 0, true, "conv3").AddReLU("relu3").AddMaxPool2D(2, 2, "pool3").
		AddFlatten("flatten").
		AddDense(120, true, "fc1").AddReLU("relu4").
		AddDense(84, true, "fc2").AddReLU("relu5").
		AddDense(numClasses, true, "fc3")
}

func buildVGGLite(mb *ModelBuilder, numClasses int) *ModelBuilder {
	return mb.
		AddConv2D(64, 3, 1, 1, true, "conv1").AddReLU("relu1").
		AddConv2D(64, 3, 1, 1, true, "conv2").AddReLU("relu2").
		AddMaxPool2D(2, 2, "pool1").
		AddConv2D(128, 3, 1, 1, true, "conv3").AddReLU("relu3").
		AddConv2D(128, 3, 1, 1, true, "conv4").AddReLU("relu4").
		AddMaxPool2D(2, 2, "pool2").
		AddConv2D(256, 3, 1, 1, true, "conv5").AddReLU("relu5").
		AddConv2D(256, 3, 1, 1, true, "conv6").AddReLU("relu6").
		AddConv2D(256, 3, 1, 1, true, "conv7").AddReLU("relu7").
		AddMaxPool2D(2, 2, "pool3").
		AddFlatten("flatten").
		AddDense(2048, true, "fc1").AddReLU("relu8").
		AddDense(2048, true, "fc2").AddReLU("relu9").
		AddDense(numClasses, true, "fc3")
}

func buildVGG19(mb *ModelBuilder, numClasses int) *ModelBuilder {
	return mb.
		AddConv2D(64, 3, 1, 1, true, "conv1").AddReLU("relu1").
		AddConv2D(64, 3, 1, 1, true, "conv2").AddReLU("relu2").
		AddMaxPool2D(2, 2, "pool1").
		AddConv2D(128, 3, 1, 1, true, "conv3").AddReLU("relu3").
		AddConv2D(128, 3, 1, 1, true, "conv4").AddReLU("relu4").
		AddMaxPool2D(2, 2, "pool2").
		AddConv2D(256, 3, 1, 1, true, "conv5").AddReLU("relu5").
		AddConv2D(256, 3, 1, 1, true, "conv6").AddReLU("relu6").
		AddConv2D(256, 3, 1, 1, true, "conv7").AddReLU("relu7").
		AddConv2D(256, 3, 1, 1, true, "conv8").AddReLU("relu8").
		AddMaxPool2D(2, 2, "pool3").
		AddConv2D(512, 3, 1, 1, true, "conv9").AddReLU("relu9").
		AddConv2D(512, 3, 1, 1, true, "conv10").AddReLU("relu10").
		AddConv2D(512, 3, 1, 1, true, "conv11").AddReLU("relu11").
		AddConv2D(512, 3, 1, 1, true, "conv12").AddReLU("relu12").
		AddMaxPool2D(2, 2, "pool4").
		AddFlatten("flatten").
		AddDense(4096, true, "fc1").AddReLU("relu13").
		AddDense(4096, true, "fc2").AddReLU("relu14").
		AddDense(numClasses, true, "fc3")
}

package engine

import (
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/tensor"
)

// maxPoolLayer is 2D max pooling without padding (floor mode).
type maxPoolLayer struct {
	kernel int
	stride int

	inputShape []int
	argmax     []int // flat input index chosen for each output element
}

func newMaxPoolLayer(spec *layers.LayerSpec) (*maxPoolLayer, error) {
	k := layers.GetIntParam(spec.Parameters, "kernel_size", 2)
	s := layers.GetIntParam(spec.Parameters, "stride", k)
	if k <= 0 || s <= 0 {
		return nil, errors.Errorf("invalid pooling window %d stride %d", k, s)
	}
	return &maxPoolLayer{kernel: k, stride: s}, nil
}

func (l *maxPoolLayer) forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, errors.Errorf("maxpool expects 4D input, got %v", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	oh := (h-l.kernel)/l.stride + 1
	ow := (w-l.kernel)/l.stride + 1
	if oh <= 0 || ow <= 0 {
		return nil, errors.Errorf("maxpool input %v too small for window %d", x.Shape, l.kernel)
	}

	out := tensor.Zeros([]int{n, c, oh, ow})
	l.argmax = make([]int, len(out.Data))
	l.inputShape = x.Shape

	o := 0
	for plane := 0; plane < n*c; plane++ {
		base := plane * h * w
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				best := math.Inf(-1)
				bestIdx := -1
				for ky := 0; ky < l.kernel; ky++ {
					iy := oy*l.stride + ky
					for kx := 0; kx < l.kernel; kx++ {
						idx := base + iy*w + ox*l.stride + kx
						if v := x.Data[idx]; v > best || bestIdx < 0 {
							best, bestIdx = v, idx
						}
					}
				}
				out.Data[o] = best
				l.argmax[o] = bestIdx
				o++
			}
		}
	}
	return out, nil
}

func (l *maxPoolLayer) backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.argmax == nil {
		return nil, errors.New("backward called before forward")
	}
	if len(gradOut.Data) != len(l.argmax) {
		return nil, errors.Errorf("maxpool gradient has %d elements, want %d", len(gradOut.Data), len(l.argmax))
	}
	gradIn := tensor.Zeros(l.inputShape)
	for o, idx := range l.argmax {
		gradIn.Data[idx] += gradOut.Data[o]
	}
	return gradIn, nil
}

func (l *maxPoolLayer) parameters() []*tensor.Parameter { return nil }

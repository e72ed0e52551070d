package engine

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/tumor-detect/layers"
	"github.com/tsawler/tumor-detect/tensor"
)

// conv2DLayer is a square-kernel convolution computed per sample as a
// matrix product over an im2col buffer.
type conv2DLayer struct {
	inChannels  int
	outChannels int
	kernel      int
	stride      int
	padding     int
	weight      *tensor.Parameter // [out, in, k, k]
	bias        *tensor.Parameter // [out]

	inputShape []int
	outH, outW int
	cols       []*mat.Dense // one [in*k*k, outH*outW] buffer per sample
}

func newConv2DLayer(spec *layers.LayerSpec, rng *rand.Rand) (*conv2DLayer, error) {
	l := &conv2DLayer{
		inChannels:  layers.GetIntParam(spec.Parameters, "input_channels", 0),
		outChannels: layers.GetIntParam(spec.Parameters, "output_channels", 0),
		kernel:      layers.GetIntParam(spec.Parameters, "kernel_size", 0),
		stride:      layers.GetIntParam(spec.Parameters, "stride", 1),
		padding:     layers.GetIntParam(spec.Parameters, "padding", 0),
	}
	if l.inChannels <= 0 || l.outChannels <= 0 || l.kernel <= 0 || l.stride <= 0 {
		return nil, errors.Errorf("invalid conv2d parameters %v", spec.Parameters)
	}

	fanIn := l.inChannels * l.kernel * l.kernel
	l.weight = tensor.NewParameter(spec.Name+".weight", spec.Name, "weight",
		tensor.KaimingUniform([]int{l.outChannels, l.inChannels, l.kernel, l.kernel}, fanIn, rng))
	if layers.GetBoolParam(spec.Parameters, "use_bias", true) {
		l.bias = tensor.NewParameter(spec.Name+".bias", spec.Name, "bias",
			tensor.KaimingUniform([]int{l.outChannels}, fanIn, rng))
	}
	return l, nil
}

func (l *conv2DLayer) forward(x *tensor.Tensor, _ bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != l.inChannels {
		return nil, errors.Errorf("conv2d expects [N %d H W], got %v", l.inChannels, x.Shape)
	}
	batch, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	l.outH = (h+2*l.padding-l.kernel)/l.stride + 1
	l.outW = (w+2*l.padding-l.kernel)/l.stride + 1
	if l.outH <= 0 || l.outW <= 0 {
		return nil, errors.Errorf("conv2d input %v too small for kernel %d", x.Shape, l.kernel)
	}

	spatial := l.outH * l.outW
	patch := l.inChannels * l.kernel * l.kernel
	wm := mat.NewDense(l.outChannels, patch, l.weight.Value.Data)

	out := tensor.Zeros([]int{batch, l.outChannels, l.outH, l.outW})
	l.cols = make([]*mat.Dense, batch)
	l.inputShape = x.Shape

	for n := 0; n < batch; n++ {
		col := mat.NewDense(patch, spatial, nil)
		l.im2col(x.Row(n), h, w, col.RawMatrix().Data)
		l.cols[n] = col

		om := mat.NewDense(l.outChannels, spatial, out.Row(n))
		om.Mul(wm, col)
		if l.bias != nil {
			for c := 0; c < l.outChannels; c++ {
				b := l.bias.Value.Data[c]
				row := om.RawRowView(c)
				for i := range row {
					row[i] += b
				}
			}
		}
	}
	return out, nil
}

func (l *conv2DLayer) backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.cols == nil {
		return nil, errors.New("backward called before forward")
	}
	batch := len(l.cols)
	if !tensor.SameShape(gradOut.Shape, []int{batch, l.outChannels, l.outH, l.outW}) {
		return nil, errors.Errorf("conv2d gradient shape %v does not match output", gradOut.Shape)
	}

	spatial := l.outH * l.outW
	patch := l.inChannels * l.kernel * l.kernel
	wm := mat.NewDense(l.outChannels, patch, l.weight.Value.Data)
	gw := mat.NewDense(l.outChannels, patch, l.weight.Grad.Data)

	gradIn := tensor.Zeros(l.inputShape)
	h, w := l.inputShape[2], l.inputShape[3]
	var dw, dcol mat.Dense

	for n := 0; n < batch; n++ {
		dy := mat.NewDense(l.outChannels, spatial, gradOut.Row(n))

		dw.Reset()
		dw.Mul(dy, l.cols[n].T())
		gw.Add(gw, &dw)

		if l.bias != nil {
			for c := 0; c < l.outChannels; c++ {
				sum := 0.0
				for _, v := range dy.RawRowView(c) {
					sum += v
				}
				l.bias.Grad.Data[c] += sum
			}
		}

		dcol.Reset()
		dcol.Mul(wm.T(), dy)
		l.col2im(dcol.RawMatrix().Data, h, w, gradIn.Row(n))
	}
	return gradIn, nil
}

// im2col unrolls one [C, H, W] sample into [C*k*k, outH*outW] columns.
func (l *conv2DLayer) im2col(img []float64, h, w int, col []float64) {
	spatial := l.outH * l.outW
	for c := 0; c < l.inChannels; c++ {
		for ky := 0; ky < l.kernel; ky++ {
			for kx := 0; kx < l.kernel; kx++ {
				row := ((c*l.kernel+ky)*l.kernel + kx) * spatial
				for oy := 0; oy < l.outH; oy++ {
					iy := oy*l.stride - l.padding + ky
					for ox := 0; ox < l.outW; ox++ {
						ix := ox*l.stride - l.padding + kx
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							col[row+oy*l.outW+ox] = img[(c*h+iy)*w+ix]
						}
					}
				}
			}
		}
	}
}

// col2im scatters column gradients back into one [C, H, W] sample.
func (l *conv2DLayer) col2im(col []float64, h, w int, img []float64) {
	spatial := l.outH * l.outW
	for c := 0; c < l.inChannels; c++ {
		for ky := 0; ky < l.kernel; ky++ {
			for kx := 0; kx < l.kernel; kx++ {
				row := ((c*l.kernel+ky)*l.kernel + kx) * spatial
				for oy := 0; oy < l.outH; oy++ {
					iy := oy*l.stride - l.padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for ox := 0; ox < l.outW; ox++ {
						ix := ox*l.stride - l.padding + kx
						if ix >= 0 && ix < w {
							img[(c*h+iy)*w+ix] += col[row+oy*l.outW+ox]
						}
					}
				}
			}
		}
	}
}

func (l *conv2DLayer) parameters() []*tensor.Parameter {
	if l.bias == nil {
		return []*tensor.Parameter{l.weight}
	}
	return []*tensor.Parameter{l.weight, l.bias}
}

package nn

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/embedshard/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features] (trailing axes are
//     flattened, so pooled embeddings [B, T, D] can be fed directly)
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the bias vector with shape [out_features]
//   - y is the output tensor with shape [batch_size, out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features]
	device      tensor.Device
}

// NewLinear creates a new Linear layer. rng may be nil.
func NewLinear(inFeatures, outFeatures int, device tensor.Device, rng *rand.Rand) *Linear {
	return &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", Xavier(inFeatures, outFeatures, tensor.Shape{outFeatures, inFeatures}, device, rng)),
		bias:        NewParameter("bias", Zeros(tensor.Shape{outFeatures}, device)),
		device:      device,
	}
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// Parameters returns weight and bias.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// matrix views x as [batch, in_features].
func (l *Linear) matrix(x *tensor.RawTensor) (blas32.General, error) {
	if x == nil || x.DType() != tensor.Float32 || len(x.Shape()) < 2 {
		return blas32.General{}, errors.Wrapf(ErrInvalidShape, "linear: input must be float32 [batch, ...], got %v", x)
	}
	batch := x.Shape()[0]
	if x.NumElements() != batch*l.inFeatures {
		return blas32.General{}, errors.Wrapf(ErrInvalidShape, "linear: input %v does not flatten to [%d, %d]",
			x.Shape(), batch, l.inFeatures)
	}
	return blas32.General{Rows: batch, Cols: l.inFeatures, Stride: l.inFeatures, Data: x.AsFloat32()}, nil
}

func (l *Linear) weightMatrix(t *tensor.RawTensor) blas32.General {
	return blas32.General{Rows: l.outFeatures, Cols: l.inFeatures, Stride: l.inFeatures, Data: t.AsFloat32()}
}

// Forward computes y = x @ W.T + b.
func (l *Linear) Forward(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	xm, err := l.matrix(x)
	if err != nil {
		return nil, err
	}
	y := Zeros(tensor.Shape{xm.Rows, l.outFeatures}, l.device)
	ym := blas32.General{Rows: xm.Rows, Cols: l.outFeatures, Stride: l.outFeatures, Data: y.AsFloat32()}

	bias := l.bias.Tensor().AsFloat32()
	for r := 0; r < ym.Rows; r++ {
		copy(ym.Data[r*ym.Stride:r*ym.Stride+ym.Cols], bias)
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1, xm, l.weightMatrix(l.weight.Tensor()), 1, ym)
	return y, nil
}

// Backward sets the weight and bias gradients for the output gradient gradY [batch,
// out_features] and returns the input gradient, shaped like x.
//
//	dW = gradY.T @ x
//	db = Σ_batch gradY
//	dx = gradY @ W
func (l *Linear) Backward(x, gradY *tensor.RawTensor) (*tensor.RawTensor, error) {
	xm, err := l.matrix(x)
	if err != nil {
		return nil, err
	}
	want := tensor.Shape{xm.Rows, l.outFeatures}
	if gradY == nil || !gradY.Shape().Equal(want) {
		return nil, errors.Wrapf(ErrInvalidShape, "linear backward: gradient must be %v", want)
	}
	gm := blas32.General{Rows: xm.Rows, Cols: l.outFeatures, Stride: l.outFeatures, Data: gradY.AsFloat32()}

	dW := Zeros(tensor.Shape{l.outFeatures, l.inFeatures}, l.device)
	blas32.Gemm(blas.Trans, blas.NoTrans, 1, gm, xm, 0, l.weightMatrix(dW))

	db := Zeros(tensor.Shape{l.outFeatures}, l.device)
	dbData := db.AsFloat32()
	for r := 0; r < gm.Rows; r++ {
		for c := 0; c < gm.Cols; c++ {
			dbData[c] += gm.Data[r*gm.Stride+c]
		}
	}

	dx := Zeros(x.Shape(), l.device)
	dxm := blas32.General{Rows: xm.Rows, Cols: l.inFeatures, Stride: l.inFeatures, Data: dx.AsFloat32()}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, gm, l.weightMatrix(l.weight.Tensor()), 0, dxm)

	l.weight.SetGrad(dW, nil)
	l.bias.SetGrad(db, nil)
	return dx, nil
}

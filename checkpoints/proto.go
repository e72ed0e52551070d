package checkpoints

import (
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tsawler/tumor-detect/layers"
)

// Binary checkpoints use the protobuf wire format with the following
// message layout (field numbers in parentheses):
//
//	Checkpoint      { model_spec_json(1) bytes, weights(2) repeated Tensor,
//	                  training_state(3) TrainingState, optimizer_state(4) OptimizerState,
//	                  metadata(5) Metadata }
//	Tensor          { name(1), shape(2) packed varint, data(3) packed double,
//	                  layer(4), kind(5) }
//	TrainingState   { epoch(1), step(2), learning_rate(3) double, best_loss(4) double,
//	                  val_loss(5) double, best_accuracy(6) double, total_steps(7) }
//	OptimizerState  { type(1), parameters(2) repeated {key(1), value(2) double},
//	                  state(3) repeated Tensor }
//	Metadata        { version(1), framework(2), created_at_unix_nano(3) sint64,
//	                  run_id(4), description(5), tags(6) repeated string }
//
// The model spec travels as embedded JSON because its layer parameters are
// free-form.

const (
	fieldModelSpec     protowire.Number = 1
	fieldWeights       protowire.Number = 2
	fieldTrainingState protowire.Number = 3
	fieldOptimizer     protowire.Number = 4
	fieldMetadata      protowire.Number = 5
)

func encodeProto(c *Checkpoint) ([]byte, error) {
	var b []byte

	if c.ModelSpec != nil {
		spec, err := json.Marshal(c.ModelSpec)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode model spec")
		}
		b = protowire.AppendTag(b, fieldModelSpec, protowire.BytesType)
		b = protowire.AppendBytes(b, spec)
	}

	for i := range c.Weights {
		w := &c.Weights[i]
		b = protowire.AppendTag(b, fieldWeights, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, w.Name, w.Shape, w.Data, w.Layer, w.Type))
	}

	b = protowire.AppendTag(b, fieldTrainingState, protowire.BytesType)
	b = protowire.AppendBytes(b, appendTrainingState(nil, &c.TrainingState))

	if c.OptimizerState != nil {
		b = protowire.AppendTag(b, fieldOptimizer, protowire.BytesType)
		b = protowire.AppendBytes(b, appendOptimizerState(nil, c.OptimizerState))
	}

	b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, appendMetadata(nil, &c.Metadata))
	return b, nil
}

func decodeProto(b []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldModelSpec:
			var spec layers.ModelSpec
			if err := json.Unmarshal(v, &spec); err != nil {
				return errors.Wrap(err, "failed to decode model spec")
			}
			c.ModelSpec = &spec
		case fieldWeights:
			t, err := consumeTensor(v)
			if err != nil {
				return errors.Wrap(err, "weight tensor")
			}
			c.Weights = append(c.Weights, WeightTensor{
				Name: t.name, Shape: t.shape, Data: t.data, Layer: t.layer, Type: t.kind,
			})
		case fieldTrainingState:
			return consumeTrainingState(v, &c.TrainingState)
		case fieldOptimizer:
			state, err := consumeOptimizerState(v)
			if err != nil {
				return errors.Wrap(err, "optimizer state")
			}
			c.OptimizerState = state
		case fieldMetadata:
			return consumeMetadata(v, &c.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode checkpoint")
	}
	return c, nil
}

// walkFields visits every field of a message. Length-delimited values are
// passed as v; varint and fixed64 values are passed as scalar.
func walkFields(b []byte, visit func(num protowire.Number, typ protowire.Type, v []byte, scalar uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var v []byte
		var scalar uint64
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			scalar, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			scalar, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := visit(num, typ, v, scalar); err != nil {
			return err
		}
	}
	return nil
}

type wireTensor struct {
	name  string
	shape []int
	data  []float64
	layer string
	kind  string
}

func appendTensor(b []byte, name string, shape []int, data []float64, layer, kind string) []byte {
	b = appendString(b, 1, name)

	var packedShape []byte
	for _, d := range shape {
		packedShape = protowire.AppendVarint(packedShape, uint64(d))
	}
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, packedShape)

	packedData := make([]byte, 0, 8*len(data))
	for _, x := range data {
		packedData = protowire.AppendFixed64(packedData, math.Float64bits(x))
	}
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, packedData)

	b = appendString(b, 4, layer)
	b = appendString(b, 5, kind)
	return b
}

func consumeTensor(b []byte) (*wireTensor, error) {
	t := &wireTensor{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case 1:
			t.name = string(v)
		case 2:
			for len(v) > 0 {
				d, n := protowire.ConsumeVarint(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.shape = append(t.shape, int(d))
				v = v[n:]
			}
		case 3:
			if len(v)%8 != 0 {
				return errors.Errorf("packed data length %d is not a multiple of 8", len(v))
			}
			t.data = make([]float64, 0, len(v)/8)
			for len(v) > 0 {
				bits, n := protowire.ConsumeFixed64(v)
				if n < 0 {
					return protowire.ParseError(n)
				}
				t.data = append(t.data, math.Float64frombits(bits))
				v = v[n:]
			}
		case 4:
			t.layer = string(v)
		case 5:
			t.kind = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	want := 1
	for _, d := range t.shape {
		want *= d
	}
	if len(t.shape) == 0 || want != len(t.data) {
		return nil, errors.Errorf("tensor %s: shape %v does not match %d values", t.name, t.shape, len(t.data))
	}
	return t, nil
}

func appendTrainingState(b []byte, s *TrainingState) []byte {
	b = appendVarint(b, 1, uint64(s.Epoch))
	b = appendVarint(b, 2, uint64(s.Step))
	b = appendDouble(b, 3, s.LearningRate)
	b = appendDouble(b, 4, s.BestLoss)
	b = appendDouble(b, 5, s.ValLoss)
	b = appendDouble(b, 6, s.BestAccuracy)
	b = appendVarint(b, 7, uint64(s.TotalSteps))
	return b
}

func consumeTrainingState(b []byte, s *TrainingState) error {
	return walkFields(b, func(num protowire.Number, _ protowire.Type, _ []byte, x uint64) error {
		switch num {
		case 1:
			s.Epoch = int(x)
		case 2:
			s.Step = int(x)
		case 3:
			s.LearningRate = math.Float64frombits(x)
		case 4:
			s.BestLoss = math.Float64frombits(x)
		case 5:
			s.ValLoss = math.Float64frombits(x)
		case 6:
			s.BestAccuracy = math.Float64frombits(x)
		case 7:
			s.TotalSteps = int(x)
		}
		return nil
	})
}

func appendOptimizerState(b []byte, s *OptimizerState) []byte {
	b = appendString(b, 1, s.Type)
	for key, value := range s.Parameters {
		var entry []byte
		entry = appendString(entry, 1, key)
		entry = appendDouble(entry, 2, value)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	for i := range s.StateData {
		t := &s.StateData[i]
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensor(nil, t.Name, t.Shape, t.Data, "", t.StateType))
	}
	return b
}

func consumeOptimizerState(b []byte) (*OptimizerState, error) {
	s := &OptimizerState{Parameters: map[string]float64{}}
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case 1:
			s.Type = string(v)
		case 2:
			var key string
			var value float64
			err := walkFields(v, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
				switch num {
				case 1:
					key = string(v)
				case 2:
					value = math.Float64frombits(x)
				}
				return nil
			})
			if err != nil {
				return err
			}
			s.Parameters[key] = value
		case 3:
			t, err := consumeTensor(v)
			if err != nil {
				return err
			}
			s.StateData = append(s.StateData, OptimizerTensor{
				Name: t.name, Shape: t.shape, Data: t.data, StateType: t.kind,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func appendMetadata(b []byte, m *CheckpointMetadata) []byte {
	b = appendString(b, 1, m.Version)
	b = appendString(b, 2, m.Framework)
	if !m.CreatedAt.IsZero() {
		b = appendVarint(b, 3, protowire.EncodeZigZag(m.CreatedAt.UnixNano()))
	}
	b = appendString(b, 4, m.RunID)
	b = appendString(b, 5, m.Description)
	for _, tag := range m.Tags {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	return b
}

func consumeMetadata(b []byte, m *CheckpointMetadata) error {
	return walkFields(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			m.Version = string(v)
		case 2:
			m.Framework = string(v)
		case 3:
			m.CreatedAt = time.Unix(0, protowire.DecodeZigZag(x))
		case 4:
			m.RunID = string(v)
		case 5:
			m.Description = string(v)
		case 6:
			m.Tags = append(m.Tags, string(v))
		}
		return nil
	})
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

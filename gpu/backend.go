package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/luxfi/kanon"
)

var _ kanon.Backend = (*Backend)(nil)

// Backend runs comparisons on the device. Every call uploads its inputs,
// evaluates with kernels fanned out over the scheduler streams and downloads
// the result; uploads are released when the call returns.
type Backend struct {
	engine *Engine
	closed atomic.Bool
}

// NewBackend creates a device backend sharing the key set of kc.
func NewBackend(kc *kanon.Context, cfg Config) (*Backend, error) {
	engine, err := NewEngine(kc, cfg)
	if err != nil {
		return nil, err
	}
	return &Backend{engine: engine}, nil
}

// Name returns "device"
func (b *Backend) Name() string {
	return "device"
}

// Engine returns the underlying device engine
func (b *Backend) Engine() *Engine {
	return b.engine
}

// Sync waits for all in-flight kernels
func (b *Backend) Sync() {
	b.engine.Sync()
}

// call uploads the inputs, runs fn on the device and downloads its result.
func (b *Backend) call(op string, inputs []*kanon.Ciphertext, fn func(c *kanon.Comparator, kc *kanon.Context, dev []*kanon.Ciphertext) (*kanon.Ciphertext, error)) (*kanon.Ciphertext, error) {
	if b.closed.Load() {
		return nil, kanon.ErrBackendClosed
	}

	session := b.engine.NewSession()
	defer session.Close()

	dev, err := session.UploadAll(inputs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	kc := b.engine.Context()
	out, err := fn(kanon.NewComparator(kc, b.engine.Scheduler()), kc, dev)
	if err != nil {
		return nil, err
	}

	host, err := b.engine.ToHost(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return host, nil
}

// withOperand appends the ciphertext of an encrypted operand to inputs and
// returns a rebuilder for its device twin.
func withOperand(inputs []*kanon.Ciphertext, y kanon.Operand) ([]*kanon.Ciphertext, func(dev []*kanon.Ciphertext) kanon.Operand) {
	ct, ok := kanon.OperandCiphertext(y)
	if !ok {
		return inputs, func([]*kanon.Ciphertext) kanon.Operand { return y }
	}
	idx := len(inputs)
	return append(inputs, ct), func(dev []*kanon.Ciphertext) kanon.Operand {
		return kanon.Encrypted(dev[idx])
	}
}

// EncryptDataset encrypts rows on the streams and returns host ciphertexts
func (b *Backend) EncryptDataset(rows [][]uint64) ([]*kanon.Ciphertext, error) {
	if b.closed.Load() {
		return nil, kanon.ErrBackendClosed
	}

	out := make([]*kanon.Ciphertext, len(rows))
	futures := make([]*Future, len(rows))
	for i := range rows {
		i := i
		f, err := b.engine.Scheduler().Submit(KernelEncrypt, func(kc *kanon.Context) error {
			ct, err := kc.EncryptValues(rows[i])
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			out[i], err = b.engine.ToHost(ct)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("encrypt dataset: %w", err)
		}
		futures[i] = f
	}

	errs := make([]error, len(rows))
	for i, f := range futures {
		errs[i] = f.Wait()
	}
	if err := kanon.FirstError(errs); err != nil {
		return nil, fmt.Errorf("encrypt dataset: %w", err)
	}
	return out, nil
}

// AddMany sums ciphertexts on the device
func (b *Backend) AddMany(cts []*kanon.Ciphertext) (*kanon.Ciphertext, error) {
	return b.call("add many", cts, func(_ *kanon.Comparator, kc *kanon.Context, dev []*kanon.Ciphertext) (*kanon.Ciphertext, error) {
		return kc.AddMany(dev)
	})
}

// Multiply returns relin(a*b)
func (b *Backend) Multiply(x, y *kanon.Ciphertext) (*kanon.Ciphertext, error) {
	return b.call("multiply", []*kanon.Ciphertext{x, y}, func(_ *kanon.Comparator, kc *kanon.Context, dev []*kanon.Ciphertext) (*kanon.Ciphertext, error) {
		return kc.MultiplyRelin(dev[0], dev[1])
	})
}

// ModExp returns x^e
func (b *Backend) ModExp(x *kanon.Ciphertext, e uint64) (*kanon.Ciphertext, error) {
	return b.call("modexp", []*kanon.Ciphertext{x}, func(c *kanon.Comparator, _ *kanon.Context, dev []*kanon.Ciphertext) (*kanon.Ciphertext, error) {
		return c.ModExp(dev[0], e)
	})
}

// EqualityTest returns EQ(x, y)
func (b *Backend) EqualityTest(x *kanon.Ciphertext, y kanon.Operand) (*kanon.Ciphertext, error) {
	inputs, operand := withOperand([]*kanon.Ciphertext{x}, y)
	return b.call("equality", inputs, func(c *kanon.Comparator, _ *kanon.Context, dev []*kanon.Ciphertext) (*kanon.Ciphertext, error) {
		return c.EqualityTest(dev[0], operand(dev))
	})
}

// RangeCompare returns [x < k]
func (b *Backend) RangeCompare(x *kanon.Ciphertext, k uint64) (*kanon.Ciphertext, error) {
	return b.call("range compare", []*kanon.Ciphertext{x}, func(c *kanon.Comparator, _ *kanon.Context, dev []*kanon.Ciphertext) (*kanon.Ciphertext, error) {
		return c.RangeCompare(dev[0], k)
	})
}

// PolynomialCompare returns [x < y]
func (b *Backend) PolynomialCompare(x *kanon.Ciphertext, y kanon.Operand, table *kanon.CoefficientTable) (*kanon.Ciphertext, error) {
	inputs, operand := withOperand([]*kanon.Ciphertext{x}, y)
	return b.call("polynomial compare", inputs, func(c *kanon.Comparator, _ *kanon.Context, dev []*kanon.Ciphertext) (*kanon.Ciphertext, error) {
		return c.PolynomialCompare(dev[0], operand(dev), table)
	})
}

// Close stops the engine
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.engine.Close()
}

package pipeline

import (
	"fmt"
	"time"

	"github.com/luxfi/kanon"
)

// Method selects the comparator used against the threshold.
type Method string

const (
	// MethodRange sums equality tests against 0..K-1.
	MethodRange Method = "range"
	// MethodPolynomial evaluates the less-than polynomial against a public K.
	MethodPolynomial Method = "polynomial"
	// MethodPolynomialEncrypted evaluates the less-than polynomial against
	// an encrypted K.
	MethodPolynomialEncrypted Method = "polynomial-encrypted"
)

// ParseMethod maps a method name to a Method. The empty string selects
// MethodPolynomial.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "":
		return MethodPolynomial, nil
	case MethodRange, MethodPolynomial, MethodPolynomialEncrypted:
		return Method(s), nil
	}
	return "", fmt.Errorf("%w: unknown method %q", kanon.ErrInvalidParameter, s)
}

func (m Method) polynomial() bool {
	return m == MethodPolynomial || m == MethodPolynomialEncrypted
}

// Request is one k-anonymity query: which of the regions User is in hold
// fewer than Threshold users of Rows?
type Request struct {
	Rows      [][]uint64
	User      int
	Threshold uint64
	Method    Method

	// Table is required by the polynomial methods.
	Table *kanon.CoefficientTable
}

// Timings records the wall time of each stage.
type Timings struct {
	Encrypt   time.Duration
	Aggregate time.Duration
	Filter    time.Duration
	Compare   time.Duration
	Decrypt   time.Duration
}

// Total is the sum of all stages
func (t Timings) Total() time.Duration {
	return t.Encrypt + t.Aggregate + t.Filter + t.Compare + t.Decrypt
}

// Result of a request.
type Result struct {
	// Indicator holds the decrypted comparison per region: 1 where the
	// filtered population is below the threshold. Regions the user is not
	// in have a filtered population of 0 and read 1.
	Indicator []uint64
	// Below lists the regions of the user whose population is below the
	// threshold.
	Below   []int
	Timings Timings
}

// validate checks that the request is answerable under modulus p with the
// given slot count. Populations are bounded by the row count, which must stay
// inside the comparator's domain.
func (r *Request) validate(p uint64, slots int) error {
	if len(r.Rows) == 0 {
		return fmt.Errorf("%w: empty dataset", kanon.ErrInvalidParameter)
	}
	cols := len(r.Rows[0])
	if cols == 0 || cols > slots {
		return fmt.Errorf("%w: %d regions, %d slots", kanon.ErrInvalidParameter, cols, slots)
	}
	for i, row := range r.Rows {
		if len(row) != cols {
			return fmt.Errorf("%w: row %d has %d regions, want %d", kanon.ErrInvalidParameter, i, len(row), cols)
		}
	}
	if r.User < 0 || r.User >= len(r.Rows) {
		return fmt.Errorf("%w: user %d out of %d", kanon.ErrInvalidParameter, r.User, len(r.Rows))
	}

	n := uint64(len(r.Rows))
	switch {
	case r.Method == MethodRange:
		if r.Threshold == 0 || r.Threshold >= p {
			return fmt.Errorf("%w: threshold %d outside (0, %d)", kanon.ErrInvalidParameter, r.Threshold, p)
		}
		if n >= p {
			return fmt.Errorf("%w: %d rows overflow modulus %d", kanon.ErrInvalidParameter, n, p)
		}
	case r.Method.polynomial():
		half := (p - 1) / 2
		if r.Threshold == 0 {
			return fmt.Errorf("%w: threshold must be positive", kanon.ErrInvalidParameter)
		}
		if r.Threshold > half || n > half {
			return fmt.Errorf("%w: threshold %d and %d rows must not exceed (p-1)/2 = %d",
				kanon.ErrInvalidParameter, r.Threshold, n, half)
		}
		if r.Table == nil || r.Table.Modulus() != p {
			return fmt.Errorf("%w: coefficient table for modulus %d required", kanon.ErrInvalidParameter, p)
		}
	default:
		return fmt.Errorf("%w: unknown method %q", kanon.ErrInvalidParameter, r.Method)
	}
	return nil
}

// Run answers req on backend b. kc holds the key set shared with b and is
// used for threshold encryption and for decrypting the result; it must not
// be shared with concurrent calls.
func Run(b kanon.Backend, kc *kanon.Context, req Request) (*Result, error) {
	if err := req.validate(kc.Modulus(), kc.Slots()); err != nil {
		return nil, err
	}
	var (
		res   Result
		start time.Time
	)
	lap := func(d *time.Duration) { *d = time.Since(start); start = time.Now() }

	start = time.Now()
	cts, err := b.EncryptDataset(req.Rows)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	lap(&res.Timings.Encrypt)

	agg, err := b.AddMany(cts)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	lap(&res.Timings.Aggregate)

	filtered, err := b.Multiply(cts[req.User], agg)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	lap(&res.Timings.Filter)

	var cmp *kanon.Ciphertext
	switch req.Method {
	case MethodRange:
		cmp, err = b.RangeCompare(filtered, req.Threshold)
	case MethodPolynomial:
		cmp, err = b.PolynomialCompare(filtered, kanon.Scalar(req.Threshold), req.Table)
	case MethodPolynomialEncrypted:
		var encK *kanon.Ciphertext
		if encK, err = kc.Encrypt(req.Threshold); err == nil {
			cmp, err = b.PolynomialCompare(filtered, kanon.Encrypted(encK), req.Table)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	lap(&res.Timings.Compare)

	vals, err := kc.DecryptValues(cmp)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	cols := len(req.Rows[0])
	res.Indicator = vals[:cols:cols]
	res.Below = []int{}
	for j, in := range req.Rows[req.User] {
		if in != 0 && res.Indicator[j] == 1 {
			res.Below = append(res.Below, j)
		}
	}
	lap(&res.Timings.Decrypt)

	return &res, nil
}

package service

import (
	"math"

	"github.com/Harshitk-cp/reconledger/internal/domain"
)

const (
	DefaultPriorWeight = 2.0
	DefaultBaseRate    = 0.5
	opinionTolerance   = 1e-9
)

// VacuousOpinion is total ignorance: all mass on uncertainty.
func VacuousOpinion(a float64) domain.Opinion {
	return domain.Opinion{B: 0, D: 0, U: 1, A: clampUnit(a)}
}

// ExpectedProbability is E = b + a·u.
func ExpectedProbability(o domain.Opinion) float64 {
	return o.B + o.A*o.U
}

// AggregateEvidence maps an evidence vector (r, s) to an opinion using a
// non-informative prior weight w. A non-positive w falls back to
// DefaultPriorWeight; negative r or s are treated as zero.
func AggregateEvidence(r, s, a, w float64) domain.Opinion {
	if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		w = DefaultPriorWeight
	}
	r = math.Max(0, r)
	s = math.Max(0, s)
	total := r + s + w
	return domain.Opinion{
		B: r / total,
		D: s / total,
		U: w / total,
		A: clampUnit(a),
	}
}

// Fuse merges two independent opinions about the same claim with cumulative
// fusion. When both are dogmatic (u=0) the belief and disbelief masses are
// averaged instead.
func Fuse(o1, o2 domain.Opinion) domain.Opinion {
	a := (o1.A + o2.A) / 2
	if o1.U == 0 && o2.U == 0 {
		return domain.Opinion{
			B: (o1.B + o2.B) / 2,
			D: (o1.D + o2.D) / 2,
			U: 0,
			A: a,
		}
	}
	k := o1.U + o2.U - o1.U*o2.U
	if k == 0 {
		return domain.Opinion{B: (o1.B + o2.B) / 2, D: (o1.D + o2.D) / 2, U: 0, A: a}
	}
	return domain.Opinion{
		B: (o1.B*o2.U + o2.B*o1.U) / k,
		D: (o1.D*o2.U + o2.D*o1.U) / k,
		U: (o1.U * o2.U) / k,
		A: a,
	}
}

// Discount attenuates an opinion by the trust t placed in its source. It only
// ever moves mass toward uncertainty.
func Discount(o domain.Opinion, t float64) domain.Opinion {
	t = clampUnit(t)
	return domain.Opinion{
		B: t * o.B,
		D: t * o.D,
		U: 1 - t*(o.B+o.D),
		A: o.A,
	}
}

// Controversy is b·d: high only when belief and disbelief are both
// substantial.
func Controversy(o domain.Opinion) float64 {
	return o.B * o.D
}

// ValidateOpinion checks every component is in [0,1] and b+d+u sums to 1.
func ValidateOpinion(o domain.Opinion) error {
	for name, v := range map[string]float64{"b": o.B, "d": o.D, "u": o.U, "a": o.A} {
		if math.IsNaN(v) || v < -opinionTolerance || v > 1+opinionTolerance {
			return &domain.ValidationError{Field: name, Reason: "must be in [0,1]"}
		}
	}
	if math.Abs(o.B+o.D+o.U-1) > opinionTolerance {
		return &domain.ValidationError{Field: "opinion", Reason: "b+d+u must equal 1"}
	}
	return nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

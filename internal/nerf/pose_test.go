package nerf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"
)

const tol = 1e-9

func unitQuaternion(t *rapid.T) [4]float64 {
	var q [4]float64
	var norm float64
	for norm < 1e-6 {
		for i := range q {
			q[i] = rapid.Float64Range(-1, 1).Draw(t, "q")
		}
		norm = math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
	}
	for i := range q {
		q[i] /= norm
	}
	return q
}

func TestQvecToRotationOrthonormal(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := QvecToRotation(unitQuaternion(rt))

		var rtr mat.Dense
		rtr.Mul(r.T(), r)
		if !mat.EqualApprox(&rtr, identity(3), tol) {
			rt.Fatalf("RᵀR differs from identity:\n%v", mat.Formatted(&rtr))
		}

		if det := mat.Det(r); math.Abs(det-1) > tol {
			rt.Fatalf("det = %v, want 1", det)
		}
	})
}

func TestQvecToRotationIdentity(t *testing.T) {
	r := QvecToRotation([4]float64{1, 0, 0, 0})
	assert.True(t, mat.EqualApprox(r, identity(3), tol))
}

func TestQvecToRotationKnownValue(t *testing.T) {
	// 90 degrees about Z.
	s := math.Sqrt(0.5)
	r := QvecToRotation([4]float64{s, 0, 0, s})
	want := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	assert.True(t, mat.EqualApprox(r, want, tol), "got:\n%v", mat.Formatted(r))
}

func TestInvertRigidComposesToIdentity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var tvec [3]float64
		for i := range tvec {
			tvec[i] = rapid.Float64Range(-100, 100).Draw(rt, "t")
		}
		w2c := WorldToCamera(QvecToRotation(unitQuaternion(rt)), tvec)
		inv := InvertRigid(w2c)

		var prod mat.Dense
		prod.Mul(inv, w2c)
		if !mat.EqualApprox(&prod, identity(4), 1e-6) {
			rt.Fatalf("inv*m differs from identity:\n%v", mat.Formatted(&prod))
		}
	})
}

func TestCorrectConventionInvolution(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		vals := make([]float64, 16)
		for i := range vals {
			vals[i] = rapid.Float64Range(-10, 10).Draw(rt, "m")
		}
		m := mat.NewDense(4, 4, vals)

		twice := CorrectConvention(CorrectConvention(m))
		if !mat.EqualApprox(twice, m, tol) {
			rt.Fatalf("double application changed the matrix:\n%v", mat.Formatted(twice))
		}
	})
}

func TestCorrectConventionOfIdentity(t *testing.T) {
	got := CorrectConvention(identity(4))
	want := mat.NewDense(4, 4, []float64{
		0, -1, 0, 0,
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	assert.True(t, mat.Equal(got, want), "got:\n%v", mat.Formatted(got))
}

func TestCorrectConventionDoesNotMutateInput(t *testing.T) {
	m := mat.NewDense(4, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		0, 0, 0, 1,
	})
	orig := mat.DenseCopyOf(m)
	_ = CorrectConvention(m)
	assert.True(t, mat.Equal(m, orig))
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

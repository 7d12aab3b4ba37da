package nerf

import "gonum.org/v1/gonum/mat"

// QvecToRotation converts a unit quaternion in [w, x, y, z] order into a 3x3
// rotation matrix. The element layout matches COLMAP's qvec2rotmat.
func QvecToRotation(q [4]float64) *mat.Dense {
	w, x, y, z := q[0], q[1], q[2], q[3]
	return mat.NewDense(3, 3, []float64{
		1 - 2*y*y - 2*z*z, 2*x*y - 2*z*w, 2*z*x + 2*y*w,
		2*x*y + 2*z*w, 1 - 2*x*x - 2*z*z, 2*y*z - 2*x*w,
		2*z*x - 2*y*w, 2*y*z + 2*x*w, 1 - 2*x*x - 2*y*y,
	})
}

// WorldToCamera assembles the homogeneous transform [R | t; 0 0 0 1].
func WorldToCamera(r *mat.Dense, t [3]float64) *mat.Dense {
	w2c := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			w2c.Set(i, j, r.At(i, j))
		}
		w2c.Set(i, 3, t[i])
	}
	w2c.Set(3, 3, 1)
	return w2c
}

// InvertRigid inverts a rigid 4x4 transform: the rotation block is
// transposed and the translation becomes -Rᵀt. This is exact for
// rotation+translation inputs, unlike a general inverse.
func InvertRigid(m *mat.Dense) *mat.Dense {
	inv := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv.Set(i, j, m.At(j, i))
		}
	}
	for i := 0; i < 3; i++ {
		var v float64
		for j := 0; j < 3; j++ {
			v -= m.At(j, i) * m.At(j, 3)
		}
		inv.Set(i, 3, v)
	}
	inv.Set(3, 3, 1)
	return inv
}

// CorrectConvention rewrites a camera-to-world transform from COLMAP's
// camera axes (right-down-forward) into the rendering convention
// (right-up-back): negate columns 1 and 2 of the rotation block, swap rows 0
// and 1, then negate row 2. The input is not modified.
func CorrectConvention(c2w *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(c2w)
	for i := 0; i < 3; i++ {
		out.Set(i, 1, -out.At(i, 1))
		out.Set(i, 2, -out.At(i, 2))
	}
	for j := 0; j < 4; j++ {
		r0, r1 := out.At(0, j), out.At(1, j)
		out.Set(0, j, r1)
		out.Set(1, j, r0)
		out.Set(2, j, -out.At(2, j))
	}
	return out
}

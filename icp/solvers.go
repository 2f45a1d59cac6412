package icp

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/griwodz/Indoor-reconstruction-plus-plus/spatialmath"
)

const (
	// planeEpsilon is the variance along the normal of a plane covariance.
	planeEpsilon = 1e-3
	// bfgsIterations bounds the quasi-Newton steps taken on one set of pairs.
	bfgsIterations = 50
	// gradientThreshold ends the quasi-Newton loop once the cost is this flat.
	gradientThreshold = 1e-12
	// gnIterations bounds the Gauss-Newton steps taken on one set of pairs.
	gnIterations = 3
	// minStep ends the inner loops once the update is this small.
	minStep = 1e-12
)

// ErrDegenerateSystem is returned when the pairs do not constrain all six motions.
var ErrDegenerateSystem = errors.New("normal equations are not positive definite")

// normalEquations accumulates JᵀJ and Jᵀr for rows of a 6-column Jacobian.
type normalEquations struct {
	jtj *mat.SymDense
	jtr *mat.VecDense
}

func newNormalEquations() *normalEquations {
	return &normalEquations{jtj: mat.NewSymDense(6, nil), jtr: mat.NewVecDense(6, nil)}
}

func (ne *normalEquations) addRow(row []float64, residual float64) {
	v := mat.NewVecDense(6, row)
	ne.jtj.SymRankOne(ne.jtj, 1, v)
	ne.jtr.AddScaledVec(ne.jtr, residual, v)
}

// solve returns x with (JᵀJ + λ diag(JᵀJ)) x = -Jᵀr.
func (ne *normalEquations) solve(lambda float64) ([]float64, error) {
	return solveSystem(ne.jtj, ne.jtr, lambda)
}

// solveSystem solves (A + λ diag(A) + ridge) x = -b with a Cholesky factorization.
func solveSystem(a *mat.SymDense, b *mat.VecDense, lambda float64) ([]float64, error) {
	damped := mat.NewSymDense(6, nil)
	damped.CopySym(a)
	ridge := 1e-12 * (1 + mat.Trace(a)/6)
	for i := 0; i < 6; i++ {
		damped.SetSym(i, i, a.At(i, i)*(1+lambda)+ridge)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(damped); !ok {
		return nil, ErrDegenerateSystem
	}
	rhs := mat.NewVecDense(6, nil)
	rhs.ScaleVec(-1, b)
	x := mat.NewVecDense(6, nil)
	if err := chol.SolveVecTo(x, rhs); err != nil {
		return nil, errors.Wrap(ErrDegenerateSystem, err.Error())
	}
	return x.RawVector().Data, nil
}

// twist turns [ω, t] into the transform that rotates by ExpMap(ω) and then translates by t.
func twist(x []float64) spatialmath.RigidTransform {
	rot := spatialmath.ExpMap(r3.Vector{X: x[0], Y: x[1], Z: x[2]}).Rotation()
	return spatialmath.NewRigidTransform(rot, r3.Vector{X: x[3], Y: x[4], Z: x[5]})
}

func stepSize(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func pointToPlaneCost(pairs []correspondence, rt spatialmath.RigidTransform) float64 {
	var cost float64
	for _, c := range pairs {
		r := rt.Apply(c.source).Sub(c.target).Dot(c.targetNormal)
		cost += r * r
	}
	return cost
}

// solvePointToPlane minimizes Σ((Rs+t-q)·n_q)² over the twist [ω, t] with L-BFGS. The
// gradient is taken by central differences.
func solvePointToPlane(pairs []correspondence) (spatialmath.RigidTransform, error) {
	cost := func(x []float64) float64 {
		return pointToPlaneCost(pairs, twist(x))
	}
	x0 := make([]float64, 6)
	start := cost(x0)
	if start == 0 {
		return spatialmath.NewIdentityTransform(), nil
	}
	if math.IsNaN(start) || math.IsInf(start, 0) {
		return spatialmath.RigidTransform{}, errors.Wrap(spatialmath.ErrNonFiniteTransform, "point to plane cost")
	}

	problem := optimize.Problem{
		Func: cost,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, cost, x, &fd.Settings{Formula: fd.Central})
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: gradientThreshold,
		MajorIterations:   bfgsIterations,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-16, Iterations: 5},
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if res == nil {
		return spatialmath.RigidTransform{}, errors.Wrap(err, "minimizing point to plane cost")
	}
	// a line search that cannot improve on the start means the estimate is already a minimum
	if !(res.F < start) {
		return spatialmath.NewIdentityTransform(), nil
	}
	// res holds the best location found even when the line search stopped early
	step := twist(res.X)
	if !step.IsFinite() {
		return spatialmath.RigidTransform{}, errors.Wrap(spatialmath.ErrNonFiniteTransform, "point to plane step")
	}
	return step, nil
}

// planeCovariance returns I - (1-ε)nnᵀ, a disc spread in the plane orthogonal to n.
func planeCovariance(n r3.Vector) *mat.SymDense {
	nv := mat.NewVecDense(3, []float64{n.X, n.Y, n.Z})
	c := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	c.SymRankOne(c, -(1 - planeEpsilon), nv)
	return c
}

func skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// solveGeneralized minimizes the Mahalanobis distance Σ dᵀ(C_q + C_s)⁻¹d with d = q - (Rs+t)
// and plane covariances built from the normals. The residual linearizes as d₀ + Jξ with
// J = [[s]×, -I].
func solveGeneralized(pairs []correspondence) (spatialmath.RigidTransform, error) {
	weights := make([]*mat.SymDense, len(pairs))
	for i, c := range pairs {
		sum := mat.NewSymDense(3, nil)
		sum.AddSym(planeCovariance(c.targetNormal), planeCovariance(c.sourceNormal))
		var chol mat.Cholesky
		if ok := chol.Factorize(sum); !ok {
			return spatialmath.RigidTransform{}, errors.Errorf("pair %d has a singular covariance", i)
		}
		inv := mat.NewSymDense(3, nil)
		if err := chol.InverseTo(inv); err != nil {
			return spatialmath.RigidTransform{}, errors.Wrapf(err, "pair %d", i)
		}
		weights[i] = inv
	}

	total := spatialmath.NewIdentityTransform()
	jac := mat.NewDense(3, 6, nil)
	var mj, jtmj mat.Dense
	var md mat.VecDense
	jtmd := mat.NewVecDense(6, nil)
	for it := 0; it < gnIterations; it++ {
		h := mat.NewDense(6, 6, nil)
		g := mat.NewVecDense(6, nil)
		for i, c := range pairs {
			s := total.Apply(c.source)
			d := c.target.Sub(s)
			jac.Slice(0, 3, 0, 3).(*mat.Dense).Copy(skew(s))
			jac.Slice(0, 3, 3, 6).(*mat.Dense).Copy(mat.NewDiagDense(3, []float64{-1, -1, -1}))

			mj.Mul(weights[i], jac)
			jtmj.Mul(jac.T(), &mj)
			h.Add(h, &jtmj)

			md.MulVec(weights[i], mat.NewVecDense(3, []float64{d.X, d.Y, d.Z}))
			jtmd.MulVec(jac.T(), &md)
			g.AddVec(g, jtmd)
		}
		sym := mat.NewSymDense(6, nil)
		for r := 0; r < 6; r++ {
			for col := r; col < 6; col++ {
				sym.SetSym(r, col, (h.At(r, col)+h.At(col, r))/2)
			}
		}
		x, err := solveSystem(sym, g, 0)
		if err != nil {
			return spatialmath.RigidTransform{}, err
		}
		total = twist(x).Compose(total)
		if stepSize(x) < minStep {
			break
		}
	}
	return total, nil
}

// solveSymmetric minimizes the symmetric point-to-plane objective Σ((s-q)·(n_s+n_q))², in
// which source and target rotate half way toward each other. The linearized problem is
// solved once around the pair centroid and the half rotation applied on both sides of the
// translation.
func solveSymmetric(pairs []correspondence) (spatialmath.RigidTransform, error) {
	var center r3.Vector
	for _, c := range pairs {
		center = center.Add(c.source.Add(c.target))
	}
	center = center.Mul(1 / float64(2*len(pairs)))

	ne := newNormalEquations()
	used := 0
	for _, c := range pairs {
		ns := c.sourceNormal
		if ns.Dot(c.targetNormal) < 0 {
			ns = ns.Mul(-1)
		}
		n := ns.Add(c.targetNormal)
		if n.Norm() < 1e-6 {
			continue
		}
		s := c.source.Sub(center)
		q := c.target.Sub(center)
		a := s.Add(q).Cross(n)
		ne.addRow([]float64{a.X, a.Y, a.Z, n.X, n.Y, n.Z}, s.Sub(q).Dot(n))
		used++
	}
	if used < minCorrespondences {
		return spatialmath.RigidTransform{}, errors.Wrapf(ErrTooFewCorrespondences, "%d pairs with usable normals", used)
	}
	x, err := ne.solve(0)
	if err != nil {
		return spatialmath.RigidTransform{}, err
	}

	axis := r3.Vector{X: x[0], Y: x[1], Z: x[2]}
	half := spatialmath.NewIdentityTransform()
	cos := 1.0
	if tan := axis.Norm(); tan > 0 {
		theta := math.Atan(tan)
		cos = math.Cos(theta)
		half = spatialmath.ExpMap(axis.Mul(theta / tan))
	}
	shift := spatialmath.NewTransformFromTranslation(r3.Vector{X: x[3], Y: x[4], Z: x[5]}.Mul(cos))
	toCenter := spatialmath.NewTransformFromTranslation(center)
	fromCenter := spatialmath.NewTransformFromTranslation(center.Mul(-1))
	return toCenter.Compose(half).Compose(shift).Compose(half).Compose(fromCenter), nil
}

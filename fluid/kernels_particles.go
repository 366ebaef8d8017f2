package fluid

import (
	"math"

	"github.com/pthm-cable/flip/compute"
	"github.com/pthm-cable/flip/terrain"
)

type pushApartBinding struct {
	p        *params
	terrain  terrain.Provider
	index    csr
	src, dst *compute.Buffer
}

func (b pushApartBinding) Slots() []compute.Slot {
	n := 2 * b.p.particleCount
	return append(b.index.slots(b.p),
		compute.RO("src", b.src, compute.F32, n),
		compute.RW("dst", b.dst, compute.F32, n),
	)
}

// pushParticlesApart moves each particle half the overlap away from every
// neighbour closer than minDistance. All particles read src and write dst, so
// an unobstructed pair moves symmetrically. Velocities are left as they are;
// the next grid transfer absorbs the displacement. Only the 3x3 cell block
// is searched, which config validation guarantees covers minDistance.
func pushParticlesApart(b pushApartBinding, lo, hi int) {
	g := &b.p.grid
	src, dst := b.src.F32(), b.dst.F32()
	minD := b.p.minDistance
	minD2 := minD * minD
	for i := lo; i < min(hi, b.p.particleCount); i++ {
		x, y := src[2*i], src[2*i+1]
		ci, cj := g.cellOf(x, y)

		var mx, my float32
		self := uint32(i)
		b.index.gather(g, ci-1, ci+1, cj-1, cj+1, func(id uint32) {
			if id == self {
				return
			}
			dx := x - src[2*id]
			dy := y - src[2*id+1]
			d2 := dx*dx + dy*dy
			if d2 >= minD2 {
				return
			}
			if d2 == 0 {
				// Coincident: split along x by id order.
				if self < id {
					mx -= 0.5 * minD
				} else {
					mx += 0.5 * minD
				}
				return
			}
			d := float32(math.Sqrt(float64(d2)))
			s := 0.5 * (minD - d) / d
			mx += s * dx
			my += s * dy
		})

		dst[2*i], dst[2*i+1] = b.p.clampPosition(b.terrain, x+mx, y+my)
	}
}

type advectBinding struct {
	p              *params
	terrain        terrain.Provider
	posSrc, velSrc *compute.Buffer
	posDst, velDst *compute.Buffer
}

func (b advectBinding) Slots() []compute.Slot {
	n := 2 * b.p.particleCount
	return []compute.Slot{
		compute.RO("posSrc", b.posSrc, compute.F32, n),
		compute.RO("velSrc", b.velSrc, compute.F32, n),
		compute.RW("posDst", b.posDst, compute.F32, n),
		compute.RW("velDst", b.velDst, compute.F32, n),
	}
}

// advectParticles damps and integrates velocities, then resolves wall and
// terrain contacts with normal and tangential restitution.
func advectParticles(b advectBinding, lo, hi int) {
	g := &b.p.grid
	ph := &b.p.phys
	r := b.p.radius
	posSrc, velSrc := b.posSrc.F32(), b.velSrc.F32()
	posDst, velDst := b.posDst.F32(), b.velDst.F32()

	minX, maxX := g.hx+r, g.lx-g.hx-r
	minY, maxY := g.hy+r, g.ly-g.hy-r
	nr, tr := ph.NormalRestitution, ph.TangentRestitution

	for i := lo; i < min(hi, b.p.particleCount); i++ {
		vx := velSrc[2*i] * ph.VelocityDamping
		vy := velSrc[2*i+1] * ph.VelocityDamping
		x := posSrc[2*i] + vx*ph.DT
		y := posSrc[2*i+1] + vy*ph.DT

		if x < minX {
			x = minX
			if vx < 0 {
				vx, vy = -vx*nr, vy*tr
			}
		} else if x > maxX {
			x = maxX
			if vx > 0 {
				vx, vy = -vx*nr, vy*tr
			}
		}
		if y < minY {
			y = minY
			if vy < 0 {
				vx, vy = vx*tr, -vy*nr
			}
		} else if y > maxY {
			y = maxY
			if vy > 0 {
				vx, vy = vx*tr, -vy*nr
			}
		}

		s := b.terrain.Sample(x)
		if floor := s.Height + r; y < floor {
			y = min(floor, maxY)
			vn := vx*s.NormalX + vy*s.NormalY
			if vn < 0 {
				tx, ty := vx-vn*s.NormalX, vy-vn*s.NormalY
				vx = tx*tr - vn*nr*s.NormalX
				vy = ty*tr - vn*nr*s.NormalY
			}
		}

		posDst[2*i], posDst[2*i+1] = x, y
		velDst[2*i], velDst[2*i+1] = vx, vy
	}
}

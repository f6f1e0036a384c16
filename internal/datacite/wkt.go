package datacite

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type geometryKind int

const (
	kindPoint geometryKind = iota
	kindPolygon
)

// geometry is a flattened point or polygon. Points have one ring with one
// coordinate; polygons keep their exterior ring first.
type geometry struct {
	kind  geometryKind
	rings [][][2]float64
}

// parseWKT reads POINT, POLYGON, MULTIPOINT, MULTIPOLYGON and
// GEOMETRYCOLLECTION text and flattens multipart geometries.
func parseWKT(wkt string) ([]geometry, error) {
	p := &wktParser{s: strings.TrimSpace(wkt)}
	geoms, err := p.geometry()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("unexpected %q at %d", p.s[p.pos:], p.pos)
	}
	return geoms, nil
}

type wktParser struct {
	s   string
	pos int
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.s) && (p.s[p.pos] == ' ' || p.s[p.pos] == '\t' || p.s[p.pos] == '\n' || p.s[p.pos] == '\r') {
		p.pos++
	}
}

func (p *wktParser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return fmt.Errorf("expected %q at %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *wktParser) peek(c byte) bool {
	p.skipSpace()
	return p.pos < len(p.s) && p.s[p.pos] == c
}

func (p *wktParser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') {
			break
		}
		p.pos++
	}
	return strings.ToUpper(p.s[start:p.pos])
}

func (p *wktParser) number() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte("+-.0123456789eE", p.s[p.pos]) >= 0 {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at %d", start)
	}
	return strconv.ParseFloat(p.s[start:p.pos], 64)
}

func (p *wktParser) coord() ([2]float64, error) {
	x, err := p.number()
	if err != nil {
		return [2]float64{}, err
	}
	y, err := p.number()
	if err != nil {
		return [2]float64{}, err
	}
	// Z and M values are ignored.
	for !p.peek(',') && !p.peek(')') && p.pos < len(p.s) {
		if _, err := p.number(); err != nil {
			return [2]float64{}, err
		}
	}
	return [2]float64{x, y}, nil
}

func (p *wktParser) list(item func() error) error {
	if err := p.expect('('); err != nil {
		return err
	}
	for {
		if err := item(); err != nil {
			return err
		}
		if !p.peek(',') {
			break
		}
		p.pos++
	}
	return p.expect(')')
}

func (p *wktParser) ring() ([][2]float64, error) {
	var ring [][2]float64
	err := p.list(func() error {
		c, err := p.coord()
		ring = append(ring, c)
		return err
	})
	return ring, err
}

func (p *wktParser) polygon() (geometry, error) {
	g := geometry{kind: kindPolygon}
	err := p.list(func() error {
		r, err := p.ring()
		g.rings = append(g.rings, r)
		return err
	})
	return g, err
}

func (p *wktParser) geometry() ([]geometry, error) {
	kind := p.word()
	save := p.pos
	switch p.word() {
	case "Z", "M", "ZM":
	case "EMPTY":
		return nil, nil
	default:
		p.pos = save
	}
	switch kind {
	case "POINT":
		var c [2]float64
		err := p.list(func() error {
			var err error
			c, err = p.coord()
			return err
		})
		return []geometry{{kind: kindPoint, rings: [][][2]float64{{c}}}}, err
	case "MULTIPOINT":
		var out []geometry
		err := p.list(func() error {
			parens := p.peek('(')
			if parens {
				p.pos++
			}
			c, err := p.coord()
			if err != nil {
				return err
			}
			out = append(out, geometry{kind: kindPoint, rings: [][][2]float64{{c}}})
			if parens {
				return p.expect(')')
			}
			return nil
		})
		return out, err
	case "POLYGON":
		g, err := p.polygon()
		return []geometry{g}, err
	case "MULTIPOLYGON":
		var out []geometry
		err := p.list(func() error {
			g, err := p.polygon()
			out = append(out, g)
			return err
		})
		return out, err
	case "GEOMETRYCOLLECTION":
		var out []geometry
		err := p.list(func() error {
			gs, err := p.geometry()
			out = append(out, gs...)
			return err
		})
		return out, err
	case "LINESTRING":
		// Lines have no DataCite representation.
		_, err := p.ring()
		return nil, err
	case "":
		return nil, errors.New("missing geometry type")
	default:
		return nil, fmt.Errorf("unsupported geometry %s", kind)
	}
}

func toPoint(c [2]float64) (Point, error) {
	x, y := c[0], c[1]
	if x < -180 || x > 180 {
		return Point{}, fmt.Errorf("longitude %v is not in range [-180, 180]", x)
	}
	if y < -90 || y > 90 {
		return Point{}, fmt.Errorf("latitude %v is not in range [-90, 90]", y)
	}
	return Point{
		PointLongitude: strconv.FormatFloat(x, 'f', -1, 64),
		PointLatitude:  strconv.FormatFloat(y, 'f', -1, 64),
	}, nil
}

// NearPoint reports whether wkt is a point closer than tolerance to the
// point ref. Unparseable input is never near.
func NearPoint(ref, wkt string, tolerance float64) bool {
	a, err := parseWKT(ref)
	if err != nil || len(a) != 1 || a[0].kind != kindPoint {
		return false
	}
	b, err := parseWKT(wkt)
	if err != nil || len(b) != 1 || b[0].kind != kindPoint {
		return false
	}
	p, q := a[0].rings[0][0], b[0].rings[0][0]
	return math.Hypot(p[0]-q[0], p[1]-q[1]) < tolerance
}

package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("PCDType(%d)", int(t))
	}
}

// pcdField is one entry of the FIELDS, SIZE, TYPE and COUNT header lines.
type pcdField struct {
	name  string
	size  int
	typ   string
	count int
}

func (f pcdField) bytes() int {
	return f.size * f.count
}

type pcdHeader struct {
	fields    []pcdField
	width     uint64
	height    uint64
	viewpoint [7]float64
	points    uint64
	data      PCDType
}

// pointBytes is the size of one point record.
func (h *pcdHeader) pointBytes() int {
	total := 0
	for _, f := range h.fields {
		total += f.bytes()
	}
	return total
}

// fieldIndex returns the index of the named field or -1.
func (h *pcdHeader) fieldIndex(name string) int {
	for i, f := range h.fields {
		if f.name == name {
			return i
		}
	}
	return -1
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	checkTokens := func() error {
		if len(tokens) != len(header.fields) {
			return errors.Errorf("unexpected number of fields in %s line, expected %d got %d", name, len(header.fields), len(tokens))
		}
		return nil
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		if len(tokens) == 0 {
			return errors.New("pcd FIELDS line is empty")
		}
		header.fields = make([]pcdField, len(tokens))
		for i, token := range tokens {
			// COUNT is optional in some writers
			header.fields[i] = pcdField{name: token, count: 1}
		}
	case "SIZE":
		if err := checkTokens(); err != nil {
			return err
		}
		for i, token := range tokens {
			size, err := strconv.Atoi(token)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
			switch size {
			case 1, 2, 4, 8:
			default:
				return errors.Errorf("unsupported SIZE %d for field %s", size, header.fields[i].name)
			}
			header.fields[i].size = size
		}
	case "TYPE":
		if err := checkTokens(); err != nil {
			return err
		}
		for i, token := range tokens {
			switch token {
			case "F", "I", "U":
			default:
				return errors.Errorf("unsupported TYPE %s for field %s", token, header.fields[i].name)
			}
			header.fields[i].typ = token
		}
	case "COUNT":
		if err := checkTokens(); err != nil {
			return err
		}
		for i, token := range tokens {
			count, err := strconv.Atoi(token)
			if err != nil || count < 1 {
				return errors.Errorf("invalid COUNT field %s", token)
			}
			header.fields[i].count = count
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
		for i, token := range tokens {
			header.viewpoint[i], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid VIEWPOINT field %s", token)
			}
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// pcdLayout maps the fields the cloud understands to their header positions.
type pcdLayout struct {
	x, y, z    int
	label      int
	normal     [3]int
	curvature  int
	hasNormals bool
}

func newPCDLayout(header *pcdHeader) (pcdLayout, error) {
	l := pcdLayout{
		x:         header.fieldIndex("x"),
		y:         header.fieldIndex("y"),
		z:         header.fieldIndex("z"),
		label:     header.fieldIndex("label"),
		curvature: header.fieldIndex("curvature"),
		normal: [3]int{
			header.fieldIndex("normal_x"),
			header.fieldIndex("normal_y"),
			header.fieldIndex("normal_z"),
		},
	}
	if l.x < 0 || l.y < 0 || l.z < 0 {
		return pcdLayout{}, errors.New("pcd file must have x, y and z fields")
	}
	l.hasNormals = l.normal[0] >= 0 && l.normal[1] >= 0 && l.normal[2] >= 0
	return l, nil
}

// toPoint assembles a point from the first value of each field.
func (l pcdLayout) toPoint(value func(field int) float64) (r3.Vector, Data) {
	pos := r3.Vector{X: value(l.x), Y: value(l.y), Z: value(l.z)}
	d := NewBasicData()
	if l.label >= 0 {
		d = d.SetLabel(int(value(l.label)))
	}
	if l.hasNormals {
		n := r3.Vector{X: value(l.normal[0]), Y: value(l.normal[1]), Z: value(l.normal[2])}
		var curvature float64
		if l.curvature >= 0 {
			curvature = value(l.curvature)
		}
		if !math.IsNaN(n.X) && !math.IsNaN(n.Y) && !math.IsNaN(n.Z) {
			d = d.SetNormal(n, curvature)
		}
	}
	return pos, d
}

// ReadPCD reads a cloud in any of the three PCD data encodings.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	var line string
	var err error
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err = in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	for _, f := range header.fields {
		if f.size == 0 || f.typ == "" {
			return nil, errors.Errorf("pcd field %s is missing SIZE or TYPE", f.name)
		}
	}
	layout, err := newPCDLayout(&header)
	if err != nil {
		return nil, err
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, &header, layout)
	case PCDBinary:
		return readPCDBinary(in, &header, layout)
	case PCDCompressed:
		return readPCDCompressed(in, &header, layout)
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

func readPCDAscii(in *bufio.Reader, header *pcdHeader, layout pcdLayout) (PointCloud, error) {
	tokenIndex := make([]int, len(header.fields))
	numTokens := 0
	for i, f := range header.fields {
		tokenIndex[i] = numTokens
		numTokens += f.count
	}

	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != numTokens {
			return nil, errors.Errorf("unexpected number of fields in point %d, expected %d got %d", i, numTokens, len(tokens))
		}
		var parseErr error
		pos, data := layout.toPoint(func(field int) float64 {
			token := tokens[tokenIndex[field]]
			v, err := strconv.ParseFloat(token, 64)
			if err != nil && parseErr == nil {
				parseErr = errors.Errorf("invalid point %d field %s: %s", i, token, err)
			}
			return v
		})
		if parseErr != nil {
			return nil, parseErr
		}
		pc.Append(pos, data)
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header *pcdHeader, layout pcdLayout) (PointCloud, error) {
	offsets := make([]int, len(header.fields))
	recordSize := 0
	for i, f := range header.fields {
		offsets[i] = recordSize
		recordSize += f.bytes()
	}

	pc := NewWithPrealloc(int(header.points))
	buf := make([]byte, recordSize)
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		pos, data := layout.toPoint(func(field int) float64 {
			f := header.fields[field]
			return decodePCDValue(buf[offsets[field]:offsets[field]+f.size], f)
		})
		pc.Append(pos, data)
	}
	return pc, nil
}

// readPCDCompressed reads LZF compressed data. The decompressed payload is laid out field by
// field: all values of the first field, then all values of the second and so on.
func readPCDCompressed(in *bufio.Reader, header *pcdHeader, layout pcdLayout) (PointCloud, error) {
	var sizes [8]byte
	if _, err := io.ReadFull(in, sizes[:]); err != nil {
		return nil, errors.Wrap(err, "reading compressed sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes[:4])
	uncompressedSize := binary.LittleEndian.Uint32(sizes[4:])

	points := int(header.points)
	expected := points * header.pointBytes()
	if int(uncompressedSize) != expected {
		return nil, errors.Errorf("compressed pcd holds %d bytes, expected %d", uncompressedSize, expected)
	}
	pc := NewWithPrealloc(points)
	if points == 0 {
		return pc, nil
	}

	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return nil, errors.Wrap(err, "reading compressed data")
	}
	raw := make([]byte, uncompressedSize)
	n, err := lzf.Decompress(compressed, raw)
	if err != nil {
		return nil, errors.Wrap(err, "decompressing pcd data")
	}
	if n != expected {
		return nil, errors.Errorf("decompressed %d bytes, expected %d", n, expected)
	}

	starts := make([]int, len(header.fields))
	offset := 0
	for i, f := range header.fields {
		starts[i] = offset
		offset += points * f.bytes()
	}
	for i := 0; i < points; i++ {
		pos, data := layout.toPoint(func(field int) float64 {
			f := header.fields[field]
			at := starts[field] + i*f.bytes()
			return decodePCDValue(raw[at:at+f.size], f)
		})
		pc.Append(pos, data)
	}
	return pc, nil
}

func decodePCDValue(b []byte, f pcdField) float64 {
	switch f.typ {
	case "F":
		if f.size == 8 {
			return math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case "I":
		switch f.size {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(binary.LittleEndian.Uint16(b)))
		case 4:
			return float64(int32(binary.LittleEndian.Uint32(b)))
		default:
			return float64(int64(binary.LittleEndian.Uint64(b)))
		}
	default:
		switch f.size {
		case 1:
			return float64(b[0])
		case 2:
			return float64(binary.LittleEndian.Uint16(b))
		case 4:
			return float64(binary.LittleEndian.Uint32(b))
		default:
			return float64(binary.LittleEndian.Uint64(b))
		}
	}
}

// pcdFieldsFor returns the fields written for a cloud with the given meta data.
func pcdFieldsFor(meta MetaData) []pcdField {
	fields := []pcdField{
		{name: "x", size: 4, typ: "F", count: 1},
		{name: "y", size: 4, typ: "F", count: 1},
		{name: "z", size: 4, typ: "F", count: 1},
	}
	if meta.HasLabel {
		fields = append(fields, pcdField{name: "label", size: 4, typ: "U", count: 1})
	}
	if meta.HasNormal {
		fields = append(fields,
			pcdField{name: "normal_x", size: 4, typ: "F", count: 1},
			pcdField{name: "normal_y", size: 4, typ: "F", count: 1},
			pcdField{name: "normal_z", size: 4, typ: "F", count: 1},
			pcdField{name: "curvature", size: 4, typ: "F", count: 1},
		)
	}
	return fields
}

// pcdValues returns the values of one point in field order. Points without a normal in a
// cloud that has normals get NaN normals, as PCL does.
func pcdValues(p r3.Vector, d Data, meta MetaData) []float64 {
	values := []float64{p.X, p.Y, p.Z}
	if meta.HasLabel {
		values = append(values, float64(d.Label()))
	}
	if meta.HasNormal {
		if d.HasNormal() {
			n := d.Normal()
			values = append(values, n.X, n.Y, n.Z, d.Curvature())
		} else {
			values = append(values, math.NaN(), math.NaN(), math.NaN(), 0)
		}
	}
	return values
}

func encodePCDValue(b []byte, v float64, f pcdField) {
	if f.typ == "U" {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return
	}
	binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
}

// ToPCD writes the cloud in the given PCD encoding.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	meta := cloud.MetaData()
	fields := pcdFieldsFor(meta)

	names := make([]string, len(fields))
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
		sizes[i] = strconv.Itoa(f.size)
		types[i] = f.typ
		counts[i] = strconv.Itoa(f.count)
	}
	switch outputType {
	case PCDAscii, PCDBinary, PCDCompressed:
	default:
		return errors.Errorf("unsupported pcd output type %v", outputType)
	}

	_, err := fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		strings.Join(names, " "),
		strings.Join(sizes, " "),
		strings.Join(types, " "),
		strings.Join(counts, " "),
		cloud.Size(),
		1,
		cloud.Size(),
		outputType)
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType, fields)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType, fields []pcdField) error {
	meta := cloud.MetaData()
	recordSize := 4 * len(fields)

	switch pcdtype {
	case PCDAscii:
		var err error
		cloud.Iterate(0, 0, func(_ int, p r3.Vector, d Data) bool {
			values := pcdValues(p, d, meta)
			tokens := make([]string, len(values))
			for i, v := range values {
				if fields[i].typ == "U" {
					tokens[i] = strconv.FormatUint(uint64(uint32(v)), 10)
				} else {
					tokens[i] = strconv.FormatFloat(v, 'g', -1, 32)
				}
			}
			_, err = fmt.Fprintln(out, strings.Join(tokens, " "))
			return err == nil
		})
		return err
	case PCDBinary:
		var err error
		buf := make([]byte, recordSize)
		cloud.Iterate(0, 0, func(_ int, p r3.Vector, d Data) bool {
			for i, v := range pcdValues(p, d, meta) {
				encodePCDValue(buf[4*i:], v, fields[i])
			}
			_, err = out.Write(buf)
			return err == nil
		})
		return err
	default:
		n := cloud.Size()
		raw := make([]byte, n*recordSize)
		cloud.Iterate(0, 0, func(i int, p r3.Vector, d Data) bool {
			for j, v := range pcdValues(p, d, meta) {
				encodePCDValue(raw[4*(j*n+i):], v, fields[j])
			}
			return true
		})
		compressed := make([]byte, len(raw)+len(raw)/16+64)
		size := 0
		if len(raw) > 0 {
			var err error
			size, err = lzf.Compress(raw, compressed)
			if err != nil {
				return errors.Wrap(err, "compressing pcd data")
			}
		}
		var sizes [8]byte
		binary.LittleEndian.PutUint32(sizes[:4], uint32(size))
		binary.LittleEndian.PutUint32(sizes[4:], uint32(len(raw)))
		if _, err := out.Write(sizes[:]); err != nil {
			return err
		}
		_, err := out.Write(compressed[:size])
		return err
	}
}

package moc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/sky-coverage/internal/mapper/healpix"
)

// Format selects a serialization.
type Format string

const (
	// FormatJSON is the IVOA MOC JSON form {"order":[index,...]}, read by
	// sky viewers.
	FormatJSON Format = "json"
	// FormatASCII is the IVOA ASCII form "0/5 3/1-4,7 8/".
	FormatASCII Format = "ascii"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "ascii", "txt", "text":
		return FormatASCII, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json or ascii)", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatASCII {
		return "text/plain; charset=utf-8"
	}
	return "application/json"
}

// Serialize encodes the set deterministically: orders ascending, indices
// ascending. When maxOrder is deeper than every stored cell (or the set is
// empty) an empty entry for maxOrder is appended so it survives a round trip.
func (m *MOC) Serialize(f Format) ([]byte, error) {
	orders := m.Orders()
	keys := make([]int, 0, len(orders)+1)
	for o := range orders {
		keys = append(keys, o)
	}
	slices.Sort(keys)
	if len(keys) == 0 || keys[len(keys)-1] < m.maxOrder {
		keys = append(keys, m.maxOrder)
	}

	var buf bytes.Buffer
	switch f {
	case FormatJSON:
		buf.WriteByte('{')
		for i, o := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte('"')
			buf.WriteString(strconv.Itoa(o))
			buf.WriteString(`":[`)
			for j, idx := range orders[o] {
				if j > 0 {
					buf.WriteByte(',')
				}
				buf.WriteString(strconv.FormatUint(idx, 10))
			}
			buf.WriteByte(']')
		}
		buf.WriteByte('}')
	case FormatASCII:
		for i, o := range keys {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(strconv.Itoa(o))
			buf.WriteByte('/')
			writeASCIIRuns(&buf, orders[o])
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
	return buf.Bytes(), nil
}

// writeASCIIRuns writes sorted indices with consecutive runs collapsed.
func writeASCIIRuns(buf *bytes.Buffer, idx []uint64) {
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && idx[j+1] == idx[j]+1 {
			j++
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.FormatUint(idx[i], 10))
		if j > i {
			buf.WriteByte('-')
			buf.WriteString(strconv.FormatUint(idx[j], 10))
		}
		i = j + 1
	}
}

// Deserialize decodes a JSON or ASCII payload, detected from its first
// non-space byte. The payload must be normalized: no cell may be listed
// twice or together with one of its ancestors.
func Deserialize(data []byte, frame Frame) (*MOC, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return DeserializeFormat(trimmed, FormatJSON, frame)
	}
	return DeserializeFormat(trimmed, FormatASCII, frame)
}

func DeserializeFormat(data []byte, f Format, frame Frame) (*MOC, error) {
	fr, err := ParseFrame(string(frame))
	if err != nil {
		return nil, err
	}
	var p parsed
	switch f {
	case FormatJSON:
		err = p.parseJSON(data)
	case FormatASCII:
		err = p.parseASCII(string(data))
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
	if err != nil {
		return nil, err
	}
	if err := p.checkNormalized(); err != nil {
		return nil, err
	}
	return fromRanges(fr, p.maxOrder, normalizeRanges(p.spans)), nil
}

type parsed struct {
	maxOrder int
	spans    []Range
}

func (p *parsed) add(order int, first, last uint64) error {
	if err := healpix.ValidateOrder(order); err != nil {
		return malformed("%v", err)
	}
	if first > last {
		return malformed("descending range %d-%d at order %d", first, last, order)
	}
	if last >= healpix.NPix(order) {
		return malformed("index %d out of range at order %d", last, order)
	}
	shift := 2 * uint(healpix.MaxOrder-order)
	p.spans = append(p.spans, Range{Start: first << shift, End: (last + 1) << shift})
	p.maxOrder = max(p.maxOrder, order)
	return nil
}

// parseJSON walks the object key by key so a repeated order, which a map
// decode would silently collapse, is rejected.
func (p *parsed) parseJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return malformed("json: expected an object")
	}
	seen := make(map[int]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return malformed("json: %v", err)
		}
		k, _ := tok.(string)
		order, err := strconv.Atoi(k)
		if err != nil {
			return malformed("order key %q is not an integer", k)
		}
		if err := healpix.ValidateOrder(order); err != nil {
			return malformed("%v", err)
		}
		if seen[order] {
			return malformed("order %d listed twice", order)
		}
		seen[order] = true

		var idx []uint64
		if err := dec.Decode(&idx); err != nil {
			return malformed("json: order %d: %v", order, err)
		}
		p.maxOrder = max(p.maxOrder, order)
		for _, i := range idx {
			if err := p.add(order, i, i); err != nil {
				return err
			}
		}
	}
	if _, err := dec.Token(); err != nil {
		return malformed("json: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return malformed("json: trailing data after object")
	}
	return nil
}

func (p *parsed) parseASCII(s string) error {
	order := -1
	for _, tok := range strings.Fields(strings.ReplaceAll(s, ",", " ")) {
		if o, rest, ok := strings.Cut(tok, "/"); ok {
			n, err := strconv.Atoi(o)
			if err != nil {
				return malformed("order %q is not an integer", o)
			}
			if err := healpix.ValidateOrder(n); err != nil {
				return malformed("%v", err)
			}
			order = n
			p.maxOrder = max(p.maxOrder, order)
			tok = rest
			if tok == "" {
				continue
			}
		}
		if order < 0 {
			return malformed("index %q before any order", tok)
		}
		first, last, err := parseRun(tok)
		if err != nil {
			return err
		}
		if err := p.add(order, first, last); err != nil {
			return err
		}
	}
	return nil
}

func parseRun(tok string) (uint64, uint64, error) {
	a, b, isRange := strings.Cut(tok, "-")
	first, err := strconv.ParseUint(a, 10, 64)
	if err != nil {
		return 0, 0, malformed("index %q is not an unsigned integer", a)
	}
	if !isRange {
		return first, first, nil
	}
	last, err := strconv.ParseUint(b, 10, 64)
	if err != nil {
		return 0, 0, malformed("index %q is not an unsigned integer", b)
	}
	return first, last, nil
}

// checkNormalized rejects overlapping entries. Two HEALPix cells overlap only
// when one is the other or its ancestor.
func (p *parsed) checkNormalized() error {
	spans := slices.Clone(p.spans)
	slices.SortFunc(spans, func(a, b Range) int {
		if a.Start != b.Start {
			if a.Start < b.Start {
				return -1
			}
			return 1
		}
		// wider first so a parent precedes its children
		switch {
		case a.End > b.End:
			return -1
		case a.End < b.End:
			return 1
		}
		return 0
	})
	var end uint64
	for i, r := range spans {
		if i > 0 && r.Start < end {
			return malformed("overlapping cells at nested index %d (cell listed with its ancestor or twice)", r.Start)
		}
		end = max(end, r.End)
	}
	return nil
}

package build

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tova-lang/tova/internal/compiler"
)

// SourceMap is a standard version 3 source map. Sources lists every file
// contributing to the unit, SourcesContent mirrors it with raw text.
type SourceMap struct {
	Version        int      `json:"version"`
	File           string   `json:"file"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Names          []string `json:"names"`
	Mappings       string   `json:"mappings"`
}

// AssembleMap builds the map for one emitted artifact from the position
// tuples recorded during generation.
func AssembleMap(file string, sources, contents []string, tuples []compiler.Mapping) *SourceMap {
	return &SourceMap{
		Version:        3,
		File:           file,
		Sources:        sources,
		SourcesContent: contents,
		Names:          []string{},
		Mappings:       EncodeMappings(tuples),
	}
}

// JSON renders the map for writing beside its artifact.
func (m *SourceMap) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// EncodeMappings encodes position tuples as semicolon-separated output
// lines of comma-separated base64-VLQ segments. Each segment stores
// deltas against the previous one; the output-column delta resets at the
// start of every line, while source index, line and column accumulate
// across the whole map.
func EncodeMappings(tuples []compiler.Mapping) string {
	sorted := make([]compiler.Mapping, len(tuples))
	copy(sorted, tuples)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OutLine != sorted[j].OutLine {
			return sorted[i].OutLine < sorted[j].OutLine
		}
		return sorted[i].OutCol < sorted[j].OutCol
	})

	var b strings.Builder
	line := 0
	prevOutCol := 0
	prevSrcIndex := 0
	prevSrcLine := 0
	prevSrcCol := 0
	first := true

	for _, t := range sorted {
		for line < t.OutLine {
			b.WriteByte(';')
			line++
			prevOutCol = 0
			first = true
		}
		if !first {
			b.WriteByte(',')
		}
		first = false

		b.WriteString(encodeVLQ(t.OutCol - prevOutCol))
		b.WriteString(encodeVLQ(t.SrcIndex - prevSrcIndex))
		b.WriteString(encodeVLQ(t.SrcLine - prevSrcLine))
		b.WriteString(encodeVLQ(t.SrcCol - prevSrcCol))

		prevOutCol = t.OutCol
		prevSrcIndex = t.SrcIndex
		prevSrcLine = t.SrcLine
		prevSrcCol = t.SrcCol
	}
	return b.String()
}

// DecodeMappings is the inverse of EncodeMappings. Used by tests and by
// tooling that inspects emitted maps.
func DecodeMappings(mappings string) ([]compiler.Mapping, error) {
	var tuples []compiler.Mapping
	srcIndex := 0
	srcLine := 0
	srcCol := 0

	for outLine, lineStr := range strings.Split(mappings, ";") {
		outCol := 0
		if lineStr == "" {
			continue
		}
		for _, seg := range strings.Split(lineStr, ",") {
			fields, err := decodeVLQSegment(seg)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", outLine, err)
			}
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: segment %q has %d fields", outLine, seg, len(fields))
			}
			outCol += fields[0]
			srcIndex += fields[1]
			srcLine += fields[2]
			srcCol += fields[3]
			tuples = append(tuples, compiler.Mapping{
				OutLine:  outLine,
				OutCol:   outCol,
				SrcIndex: srcIndex,
				SrcLine:  srcLine,
				SrcCol:   srcCol,
			})
		}
	}
	return tuples, nil
}

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

const (
	vlqBaseShift       = 5
	vlqBase            = 1 << vlqBaseShift
	vlqBaseMask        = vlqBase - 1
	vlqContinuationBit = vlqBase
)

// encodeVLQ encodes a signed integer as base64 VLQ: sign in the lowest
// bit, then 5-bit groups, least significant first, with bit 6 marking
// continuation.
func encodeVLQ(value int) string {
	vlq := value << 1
	if value < 0 {
		vlq = (-value << 1) | 1
	}

	var b strings.Builder
	for {
		digit := vlq & vlqBaseMask
		vlq >>= vlqBaseShift
		if vlq > 0 {
			digit |= vlqContinuationBit
		}
		b.WriteByte(base64Chars[digit])
		if vlq == 0 {
			return b.String()
		}
	}
}

// decodeVLQSegment decodes every VLQ value in one segment.
func decodeVLQSegment(seg string) ([]int, error) {
	var values []int
	shift := 0
	value := 0
	for i := 0; i < len(seg); i++ {
		digit := strings.IndexByte(base64Chars, seg[i])
		if digit < 0 {
			return nil, fmt.Errorf("invalid VLQ character %q", seg[i])
		}
		value |= (digit & vlqBaseMask) << shift
		if digit&vlqContinuationBit != 0 {
			shift += vlqBaseShift
			continue
		}
		if value&1 != 0 {
			values = append(values, -(value >> 1))
		} else {
			values = append(values, value>>1)
		}
		value = 0
		shift = 0
	}
	if shift != 0 {
		return nil, fmt.Errorf("truncated VLQ segment %q", seg)
	}
	return values, nil
}

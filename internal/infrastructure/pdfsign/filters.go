package pdfsign

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// decodeStream returns the decoded data of a stream. Only FlateDecode,
// optionally with a PNG predictor, is supported.
func decodeStream(s *Stream) ([]byte, error) {
	filters := filterNames(s.Dict["Filter"])
	if len(filters) == 0 {
		return s.Data, nil
	}
	if len(filters) > 1 || filters[0] != "FlateDecode" {
		return nil, parseErr("unsupported stream filter %v", filters)
	}

	zr, err := zlib.NewReader(bytes.NewReader(s.Data))
	if err != nil {
		return nil, parseErr("flate: %v", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil && len(data) == 0 {
		return nil, parseErr("flate: %v", err)
	}

	parms, _ := s.Dict["DecodeParms"].(Dict)
	if arr, ok := s.Dict["DecodeParms"].(Array); ok && len(arr) > 0 {
		parms, _ = arr[0].(Dict)
	}
	if parms == nil {
		return data, nil
	}
	predictor, _ := toInt(parms["Predictor"])
	if predictor < 10 {
		if predictor > 1 {
			return nil, parseErr("unsupported predictor %d", predictor)
		}
		return data, nil
	}
	columns, ok := toInt(parms["Columns"])
	if !ok {
		columns = 1
	}
	colors, ok := toInt(parms["Colors"])
	if !ok {
		colors = 1
	}
	bpc, ok := toInt(parms["BitsPerComponent"])
	if !ok {
		bpc = 8
	}
	return unpredictPNG(data, int(columns), int((colors*bpc+7)/8))
}

func filterNames(o Object) []Name {
	switch v := o.(type) {
	case Name:
		return []Name{v}
	case Array:
		var names []Name
		for _, item := range v {
			if n, ok := item.(Name); ok {
				names = append(names, n)
			}
		}
		return names
	}
	return nil
}

// unpredictPNG reverses the PNG row filters used by xref and object streams
func unpredictPNG(data []byte, columns, bpp int) ([]byte, error) {
	rowLen := columns * bpp
	if rowLen <= 0 || len(data)%(rowLen+1) != 0 {
		return nil, parseErr("png predictor: %d bytes do not fill rows of %d", len(data), rowLen)
	}

	out := make([]byte, 0, len(data)/(rowLen+1)*rowLen)
	prev := make([]byte, rowLen)
	for i := 0; i < len(data); i += rowLen + 1 {
		filter := data[i]
		row := make([]byte, rowLen)
		copy(row, data[i+1:i+1+rowLen])

		for j := 0; j < rowLen; j++ {
			var left, upLeft byte
			if j >= bpp {
				left = row[j-bpp]
				upLeft = prev[j-bpp]
			}
			up := prev[j]
			switch filter {
			case 0:
			case 1:
				row[j] += left
			case 2:
				row[j] += up
			case 3:
				row[j] += byte((int(left) + int(up)) / 2)
			case 4:
				row[j] += paeth(left, up, upLeft)
			default:
				return nil, parseErr("png predictor: unknown row filter %d", filter)
			}
		}
		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

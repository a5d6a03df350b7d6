// Package pdfsigntest builds small PDF documents and checks the signatures
// embedded in them.
package pdfsigntest

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"regexp"
	"strconv"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// Options shape the generated document
type Options struct {
	Pages      int
	XRefStream bool
	// MediaBox overrides the inherited Letter box on the page tree root
	MediaBox string
}

// Build writes a small document. The xref stream flavour keeps the catalog
// and page tree root in a compressed object stream.
func Build(t testing.TB, opts Options) []byte {
	t.Helper()
	if opts.Pages == 0 {
		opts.Pages = 1
	}
	if opts.MediaBox == "" {
		opts.MediaBox = "[0 0 612 792]"
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	offsets := map[int]int{}
	writeObj := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	var kids []string
	for i := 0; i < opts.Pages; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 3+2*i))
	}
	catalog := "<< /Type /Catalog /Pages 2 0 R >>"
	pageTree := fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox %s >>",
		joinWords(kids), opts.Pages, opts.MediaBox)

	for i := 0; i < opts.Pages; i++ {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (Page %d) Tj ET", i+1)
		writeObj(3+2*i, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /Contents %d 0 R /Resources << >> >>", 4+2*i))
		writeObj(4+2*i, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	next := 3 + 2*opts.Pages

	if !opts.XRefStream {
		writeObj(1, catalog)
		writeObj(2, pageTree)
		xrefAt := buf.Len()
		fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f\r\n", next)
		for n := 1; n < next; n++ {
			fmt.Fprintf(&buf, "%010d 00000 n\r\n", offsets[n])
		}
		fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", next, xrefAt)
		return buf.Bytes()
	}

	// object stream holding objects 1 and 2
	stmNum := next
	header := fmt.Sprintf("1 0 2 %d ", len(catalog)+1)
	body := catalog + "\n" + pageTree
	packed, err := deflate([]byte(header + body))
	require.NoError(t, err)
	offsets[stmNum] = buf.Len()
	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /ObjStm /N 2 /First %d /Filter /FlateDecode /Length %d >>\nstream\n",
		stmNum, len(header), len(packed))
	buf.Write(packed)
	buf.WriteString("\nendstream\nendobj\n")

	xrefNum := stmNum + 1
	size := xrefNum + 1
	xrefAt := buf.Len()
	offsets[xrefNum] = xrefAt

	// rows of W [1 4 2] encoded with the PNG Up predictor
	const rowLen = 7
	var raw []byte
	prev := make([]byte, rowLen)
	for n := 0; n < size; n++ {
		row := make([]byte, 0, rowLen)
		switch {
		case n == 0:
			row = append(row, 0)
			row = binary.BigEndian.AppendUint32(row, 0)
			row = binary.BigEndian.AppendUint16(row, 65535)
		case n == 1 || n == 2:
			row = append(row, 2)
			row = binary.BigEndian.AppendUint32(row, uint32(stmNum))
			row = binary.BigEndian.AppendUint16(row, uint16(n-1))
		default:
			row = append(row, 1)
			row = binary.BigEndian.AppendUint32(row, uint32(offsets[n]))
			row = binary.BigEndian.AppendUint16(row, 0)
		}
		raw = append(raw, 2)
		for j := range row {
			raw = append(raw, row[j]-prev[j])
		}
		prev = row
	}
	packed, err = deflate(raw)
	require.NoError(t, err)
	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Root 1 0 R /Filter /FlateDecode /DecodeParms << /Predictor 12 /Columns %d >> /Length %d >>\nstream\n",
		xrefNum, size, rowLen, len(packed))
	buf.Write(packed)
	fmt.Fprintf(&buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", xrefAt)
	return buf.Bytes()
}

func joinWords(words []string) string {
	var b bytes.Buffer
	for i, w := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	return b.String()
}

// SignatureImage saves a w x h PNG with a transparent border and returns
// its path
func SignatureImage(t testing.TB, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signature.png")
	require.NoError(t, imaging.Save(signatureImage(w, h), path))
	return path
}

// SignatureImagePNG returns the same image PNG encoded
func SignatureImagePNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, signatureImage(w, h), imaging.PNG))
	return buf.Bytes()
}

func signatureImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x > 4 && x < w-4 && y > 4 && y < h-4 {
				img.SetNRGBA(x, y, color.NRGBA{R: 20, G: 30, B: 140, A: 255})
			}
		}
	}
	return img
}

var byteRangePattern = regexp.MustCompile(`/ByteRange \[0 (\d+) (\d+) (\d+)\]`)

// Signature is one embedded CMS signature and the bytes it covers
type Signature struct {
	ByteRange [4]int
	Signed    []byte
	DER       []byte
}

// Extract returns every signature in file order
func Extract(t testing.TB, pdf []byte) []Signature {
	t.Helper()
	var out []Signature
	for _, m := range byteRangePattern.FindAllSubmatch(pdf, -1) {
		var br [4]int
		for i := 1; i <= 3; i++ {
			v, err := strconv.Atoi(string(m[i]))
			require.NoError(t, err)
			br[i] = v
		}
		require.Equal(t, byte('<'), pdf[br[1]])
		require.Equal(t, byte('>'), pdf[br[2]-1])
		require.LessOrEqual(t, br[2]+br[3], len(pdf))

		raw := make([]byte, (br[2]-br[1]-2)/2)
		_, err := hex.Decode(raw, pdf[br[1]+1:br[2]-1])
		require.NoError(t, err)

		// the placeholder is zero padded after the DER
		var der cryptobyte.String
		s := cryptobyte.String(raw)
		require.True(t, s.ReadASN1Element(&der, asn1.SEQUENCE))

		signed := append(append([]byte{}, pdf[:br[1]]...), pdf[br[2]:br[2]+br[3]]...)
		out = append(out, Signature{ByteRange: br, Signed: signed, DER: der})
	}
	return out
}

// Verify checks sig with an independent PKCS#7 implementation and returns
// the parsed message
func Verify(t testing.TB, sig Signature) *pkcs7.PKCS7 {
	t.Helper()
	p7, err := pkcs7.Parse(sig.DER)
	require.NoError(t, err)
	p7.Content = sig.Signed
	require.NoError(t, p7.Verify())
	return p7
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

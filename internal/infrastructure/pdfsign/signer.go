package pdfsign

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"regexp"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"flujos-esign/internal/infrastructure/identity"
)

// annotation flags: Print | Locked
const widgetFlags = 132

// Params describes one visible signature
type Params struct {
	// ImagePath is the composed PNG drawn in the widget
	ImagePath    string
	Position     string
	SignAllPages bool
	Role         string
	SignerName   string
	ContactInfo  string
	Location     string
	// DocumentID keeps field names unique across documents
	DocumentID  string
	SigningTime time.Time
}

// Signer applies visible CMS signatures to PDF documents
type Signer struct {
	logger *zap.Logger
}

func NewSigner(logger *zap.Logger) *Signer {
	return &Signer{logger: logger}
}

// Sign signs pdf and logs the outcome
func (s *Signer) Sign(pdf []byte, id *identity.SigningIdentity, p Params) ([]byte, error) {
	start := time.Now()
	out, err := Sign(pdf, id, p)
	if err != nil {
		s.logger.Error("Failed to sign document",
			zap.String("document_id", p.DocumentID),
			zap.String("role", p.Role),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Document signed",
		zap.String("document_id", p.DocumentID),
		zap.String("role", p.Role),
		zap.String("position", p.Position),
		zap.Bool("all_pages", p.SignAllPages),
		zap.Int("input_size", len(pdf)),
		zap.Int("output_size", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// Sign appends one signature per target page, each in its own incremental
// update layered on the previous result. Only the last page is signed unless
// p.SignAllPages is set.
func Sign(pdf []byte, id *identity.SigningIdentity, p Params) ([]byte, error) {
	if id == nil || id.Key == nil || id.Certificate == nil {
		return nil, signErr("signing identity is incomplete")
	}
	if p.SigningTime.IsZero() {
		p.SigningTime = time.Now()
	}

	img, err := imaging.Open(p.ImagePath)
	if err != nil {
		return nil, signErr("open signature image: %v", err)
	}
	encoded, err := encodeImage(img)
	if err != nil {
		return nil, err
	}

	r, err := NewReader(pdf)
	if err != nil {
		return nil, err
	}
	pages, err := r.Pages()
	if err != nil {
		return nil, err
	}

	targets := []int{len(pages) - 1}
	if p.SignAllPages {
		targets = targets[:0]
		for i := range pages {
			targets = append(targets, i)
		}
	}

	out := pdf
	for _, idx := range targets {
		out, err = signPage(out, id, encoded, p, idx)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type encodedImage struct {
	width  int
	height int
	rgb    []byte
	alpha  []byte
}

func encodeImage(img image.Image) (*encodedImage, error) {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, signErr("signature image is empty")
	}

	rgb := make([]byte, 0, w*h*3)
	alpha := make([]byte, 0, w*h)
	opaque := true
	for i := 0; i < len(nrgba.Pix); i += 4 {
		rgb = append(rgb, nrgba.Pix[i], nrgba.Pix[i+1], nrgba.Pix[i+2])
		alpha = append(alpha, nrgba.Pix[i+3])
		if nrgba.Pix[i+3] != 0xFF {
			opaque = false
		}
	}

	e := &encodedImage{width: w, height: h}
	var err error
	if e.rgb, err = deflate(rgb); err != nil {
		return nil, signErr("compress image: %v", err)
	}
	if !opaque {
		if e.alpha, err = deflate(alpha); err != nil {
			return nil, signErr("compress image mask: %v", err)
		}
	}
	return e, nil
}

var fieldNameUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// fieldName is unique per document, page and role
func fieldName(p Params, page int) string {
	doc := p.DocumentID
	if len(doc) > 8 {
		doc = doc[:8]
	}
	role := fieldNameUnsafe.ReplaceAllString(p.Role, "_")
	return fmt.Sprintf("Signature_%s_p%d_%s", doc, page, role)
}

func pdfDate(t time.Time) string {
	return "D:" + t.UTC().Format("20060102150405") + "+00'00'"
}

const byteRangeFormat = "[0 %010d %010d %010d]"

func signPage(base []byte, id *identity.SigningIdentity, img *encodedImage, p Params, pageIndex int) ([]byte, error) {
	r, err := NewReader(base)
	if err != nil {
		return nil, err
	}
	pages, err := r.Pages()
	if err != nil {
		return nil, err
	}
	if pageIndex >= len(pages) {
		return nil, signErr("page %d out of range", pageIndex+1)
	}
	page := pages[pageIndex]

	catalogRef, catalog, err := r.Catalog()
	if err != nil {
		return nil, err
	}
	acroForm, fields, err := existingForm(r, catalog)
	if err != nil {
		return nil, err
	}
	name := uniqueFieldName(r, fields, fieldName(p, pageIndex+1))

	u := newUpdate(base, r)

	// image and soft mask
	imgRef := u.alloc()
	imgDict := Dict{
		"Type":             Name("XObject"),
		"Subtype":          Name("Image"),
		"Width":            int64(img.width),
		"Height":           int64(img.height),
		"ColorSpace":       Name("DeviceRGB"),
		"BitsPerComponent": int64(8),
		"Filter":           Name("FlateDecode"),
	}
	if img.alpha != nil {
		maskRef := u.alloc()
		u.put(maskRef, &Stream{Dict: Dict{
			"Type":             Name("XObject"),
			"Subtype":          Name("Image"),
			"Width":            int64(img.width),
			"Height":           int64(img.height),
			"ColorSpace":       Name("DeviceGray"),
			"BitsPerComponent": int64(8),
			"Filter":           Name("FlateDecode"),
		}, Data: img.alpha})
		imgDict["SMask"] = maskRef
	}
	u.put(imgRef, &Stream{Dict: imgDict, Data: img.rgb})

	rect := Placement(page.Width(), p.Position, img.width, img.height).offset(page.MediaBox[0], page.MediaBox[1])

	// appearance
	apRef := u.alloc()
	u.put(apRef, &Stream{
		Dict: Dict{
			"Type":      Name("XObject"),
			"Subtype":   Name("Form"),
			"BBox":      Array{int64(0), int64(0), rect.Width(), rect.Height()},
			"Resources": Dict{"XObject": Dict{"Img": imgRef}},
		},
		Data: []byte(fmt.Sprintf("q %s 0 0 %s 0 0 cm /Img Do Q", formatReal(rect.Width()), formatReal(rect.Height()))),
	})

	// signature dictionary with placeholders
	reserved := reservedSize(id)
	sigRef := u.alloc()
	u.begin(sigRef)
	u.buf.WriteString("<</Type /Sig /Filter /Adobe.PPKLite /SubFilter /adbe.pkcs7.detached /ByteRange ")
	byteRangeAt := u.offset()
	fmt.Fprintf(&u.buf, byteRangeFormat, 0, 0, 0)
	u.buf.WriteString(" /Contents ")
	contentsAt := u.offset()
	u.buf.WriteByte('<')
	u.buf.Write(bytes.Repeat([]byte{'0'}, 2*reserved))
	u.buf.WriteByte('>')
	for _, kv := range []struct {
		key   Name
		value Object
	}{
		{"M", String(pdfDate(p.SigningTime))},
		{"Name", textString("Signed by: " + p.SignerName)},
		{"Reason", textString("Digital Signature - " + p.Role)},
		{"ContactInfo", textString(p.ContactInfo)},
		{"Location", textString(p.Location)},
	} {
		u.buf.WriteByte(' ')
		writeName(&u.buf, kv.key)
		u.buf.WriteByte(' ')
		writeObject(&u.buf, kv.value)
	}
	u.buf.WriteString(">>")
	u.end()
	contentsEnd := contentsAt + int64(2*reserved+2)

	// widget annotation merged with its field
	widgetRef := u.alloc()
	u.put(widgetRef, Dict{
		"Type":    Name("Annot"),
		"Subtype": Name("Widget"),
		"FT":      Name("Sig"),
		"T":       textString(name),
		"F":       int64(widgetFlags),
		"P":       page.Ref,
		"Rect":    rect.array(),
		"V":       sigRef,
		"AP":      Dict{"N": apRef},
	})

	// page with the new annotation
	annots, err := r.ResolveArray(page.Dict["Annots"])
	if err != nil {
		return nil, err
	}
	newPage := page.Dict.Clone()
	newPage["Annots"] = append(append(Array{}, annots...), widgetRef)
	u.put(page.Ref, newPage)

	// form with the new field
	form := acroForm.dict.Clone()
	form["Fields"] = append(append(Array{}, fields...), widgetRef)
	form["SigFlags"] = int64(3)
	switch {
	case acroForm.ref != nil:
		u.put(*acroForm.ref, form)
	default:
		ref := u.alloc()
		u.put(ref, form)
		newCatalog := catalog.Clone()
		newCatalog["AcroForm"] = ref
		u.put(catalogRef, newCatalog)
	}

	out, err := u.finish()
	if err != nil {
		return nil, err
	}

	// fill in the byte range and the signature
	tail := int64(len(out)) - contentsEnd
	byteRange := fmt.Sprintf(byteRangeFormat, contentsAt, contentsEnd, tail)
	copy(out[byteRangeAt:], byteRange)

	h := sha256.New()
	h.Write(out[:contentsAt])
	h.Write(out[contentsEnd:])

	der, err := buildCMS(id, h.Sum(nil), p.SigningTime)
	if err != nil {
		return nil, err
	}
	if len(der) > reserved {
		return nil, signErr("signature of %d bytes exceeds the %d reserved", len(der), reserved)
	}
	hex.Encode(out[contentsAt+1:], der)

	return out, nil
}

type formEntry struct {
	ref  *Ref
	dict Dict
}

// existingForm returns the AcroForm (indirect or not) and its fields
func existingForm(r *Reader, catalog Dict) (formEntry, Array, error) {
	var form formEntry
	switch af := catalog["AcroForm"].(type) {
	case Ref:
		d, err := r.ResolveDict(af)
		if err != nil {
			return form, nil, err
		}
		form = formEntry{ref: &af, dict: d}
	case Dict:
		form = formEntry{dict: af}
	default:
		form = formEntry{dict: Dict{}}
	}

	fields, err := r.ResolveArray(form.dict["Fields"])
	if err != nil {
		return form, nil, err
	}
	return form, fields, nil
}

func uniqueFieldName(r *Reader, fields Array, name string) string {
	taken := map[string]bool{}
	for _, f := range fields {
		d, err := r.ResolveDict(f)
		if err != nil {
			continue
		}
		if t, ok := toBytes(d["T"]); ok {
			taken[string(t)] = true
		}
	}
	candidate := name
	for i := 2; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	return candidate
}

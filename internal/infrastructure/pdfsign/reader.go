package pdfsign

import (
	"bytes"
	"regexp"
	"strconv"
)

const (
	xrefFree       = 0
	xrefOffset     = 1
	xrefCompressed = 2

	maxPageDepth = 64
)

type xrefEntry struct {
	kind   int
	offset int64 // byte offset, or object stream number when compressed
	gen    int
	index  int // position inside the object stream
}

// Reader gives random access to the objects of a PDF file
type Reader struct {
	data      []byte
	xref      map[int]xrefEntry
	trailer   Dict
	startxref int64
	// xrefStream is true when the newest section is a cross-reference stream
	xrefStream bool

	cache     map[int]Object
	objStms   map[int]*objectStream
	resolving map[int]bool
}

type objectStream struct {
	data    []byte
	offsets []int64
	nums    []int
}

// Page is a leaf of the page tree with its inherited media box
type Page struct {
	Ref      Ref
	Dict     Dict
	MediaBox [4]float64
}

func (p Page) Width() float64 {
	return p.MediaBox[2] - p.MediaBox[0]
}

func (p Page) Height() float64 {
	return p.MediaBox[3] - p.MediaBox[1]
}

var letter = [4]float64{0, 0, 612, 792}

// NewReader parses the cross-reference chain of data
func NewReader(data []byte) (*Reader, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\n\f\r "), []byte("%PDF-")) {
		return nil, parseErr("missing %%PDF header")
	}

	r := &Reader{
		data:      data,
		xref:      map[int]xrefEntry{},
		cache:     map[int]Object{},
		objStms:   map[int]*objectStream{},
		resolving: map[int]bool{},
	}

	if err := r.readXRefChain(); err != nil {
		// Damaged cross-reference data: rebuild from the object headers
		r.xref = map[int]xrefEntry{}
		r.trailer = nil
		r.startxref = 0
		r.xrefStream = false
		r.cache = map[int]Object{}
		if rerr := r.reconstruct(); rerr != nil {
			return nil, err
		}
	}

	if _, ok := r.trailer["Encrypt"]; ok {
		return nil, parseErr("encrypted documents are not supported")
	}
	if _, ok := r.trailer["Root"].(Ref); !ok {
		return nil, parseErr("trailer has no /Root reference")
	}
	return r, nil
}

// Trailer returns the newest trailer dictionary
func (r *Reader) Trailer() Dict {
	return r.trailer
}

// Size is the object count declared by the newest trailer
func (r *Reader) Size() int {
	size, _ := toInt(r.trailer["Size"])
	for num := range r.xref {
		if int64(num) >= size {
			size = int64(num) + 1
		}
	}
	return int(size)
}

func (r *Reader) findStartXRef() (int64, error) {
	tail := r.data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	i := bytes.LastIndex(tail, []byte("startxref"))
	if i < 0 {
		return 0, parseErr("startxref not found")
	}
	l := newLexer(tail, i+len("startxref"))
	off, err := l.readInt()
	if err != nil {
		return 0, err
	}
	if off <= 0 || off >= int64(len(r.data)) {
		return 0, parseErr("startxref %d out of range", off)
	}
	return off, nil
}

func (r *Reader) readXRefChain() error {
	start, err := r.findStartXRef()
	if err != nil {
		return err
	}
	r.startxref = start

	seen := map[int64]bool{}
	for off := start; off > 0; {
		if seen[off] {
			return parseErr("cross-reference loop at offset %d", off)
		}
		seen[off] = true

		var trailer Dict
		l := newLexer(r.data, int(off))
		l.skipSpace()
		if l.hasPrefix("xref") {
			trailer, err = r.readXRefTable(l)
			if err == nil {
				if stm, ok := toInt(trailer["XRefStm"]); ok {
					if _, err := r.readXRefStream(stm); err != nil {
						return err
					}
				}
			}
		} else {
			trailer, err = r.readXRefStream(off)
			if r.trailer == nil {
				r.xrefStream = true
			}
		}
		if err != nil {
			return err
		}
		if r.trailer == nil {
			r.trailer = trailer
		}

		prev, ok := toInt(trailer["Prev"])
		if !ok {
			break
		}
		off = prev
	}
	return nil
}

// setEntry keeps the first definition seen since sections are read newest
// first. A hybrid file's stream entries may replace the table's free ones.
func (r *Reader) setEntry(num int, e xrefEntry) {
	if old, ok := r.xref[num]; !ok || (old.kind == xrefFree && e.kind == xrefCompressed) {
		r.xref[num] = e
	}
}

func (r *Reader) readXRefTable(l *lexer) (Dict, error) {
	if err := l.expectKeyword("xref"); err != nil {
		return nil, err
	}
	for {
		l.skipSpace()
		if l.hasPrefix("trailer") {
			l.pos += len("trailer")
			break
		}
		first, err := l.readInt()
		if err != nil {
			return nil, err
		}
		count, err := l.readInt()
		if err != nil {
			return nil, err
		}
		for i := int64(0); i < count; i++ {
			offset, err := l.readInt()
			if err != nil {
				return nil, err
			}
			gen, err := l.readInt()
			if err != nil {
				return nil, err
			}
			l.skipSpace()
			kind := l.regularToken()
			num := int(first + i)
			switch kind {
			case "n":
				r.setEntry(num, xrefEntry{kind: xrefOffset, offset: offset, gen: int(gen)})
			case "f":
				r.setEntry(num, xrefEntry{kind: xrefFree, gen: int(gen)})
			default:
				return nil, parseErr("bad xref entry type %q", kind)
			}
		}
	}

	obj, err := l.readObject()
	if err != nil {
		return nil, err
	}
	trailer, ok := obj.(Dict)
	if !ok {
		return nil, parseErr("trailer is not a dictionary")
	}
	return trailer, nil
}

func (r *Reader) readXRefStream(off int64) (Dict, error) {
	_, obj, err := r.parseIndirectAt(off)
	if err != nil {
		return nil, err
	}
	stm, ok := obj.(*Stream)
	if !ok {
		return nil, parseErr("object at %d is not a cross-reference stream", off)
	}
	if t, _ := stm.Dict.Name("Type"); t != "XRef" {
		return nil, parseErr("object at %d has type %q, expected XRef", off, t)
	}

	data, err := decodeStream(stm)
	if err != nil {
		return nil, err
	}

	wArr, ok := stm.Dict["W"].(Array)
	if !ok || len(wArr) != 3 {
		return nil, parseErr("xref stream /W must have three entries")
	}
	var w [3]int
	for i := range w {
		v, _ := toInt(wArr[i])
		if v < 0 || v > 8 {
			return nil, parseErr("xref stream /W entry %d out of range", v)
		}
		w[i] = int(v)
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return nil, parseErr("xref stream rows are empty")
	}

	index := Array{int64(0), stm.Dict["Size"]}
	if idx, ok := stm.Dict["Index"].(Array); ok {
		index = idx
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		first, _ := toInt(index[i])
		count, _ := toInt(index[i+1])
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(data) {
				return nil, parseErr("xref stream data truncated")
			}
			row := data[pos : pos+rowLen]
			pos += rowLen

			kind := int64(1)
			if w[0] > 0 {
				kind = readField(row[:w[0]])
			}
			f2 := readField(row[w[0] : w[0]+w[1]])
			f3 := readField(row[w[0]+w[1]:])
			num := int(first + j)
			switch kind {
			case 0:
				r.setEntry(num, xrefEntry{kind: xrefFree, gen: int(f3)})
			case 1:
				r.setEntry(num, xrefEntry{kind: xrefOffset, offset: f2, gen: int(f3)})
			case 2:
				r.setEntry(num, xrefEntry{kind: xrefCompressed, offset: f2, index: int(f3)})
			}
		}
	}

	return stm.Dict, nil
}

func readField(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

var objHeader = regexp.MustCompile(`(?m)(?:^|[\r\n\s])(\d+)\s+(\d+)\s+obj\b`)

// reconstruct rebuilds the cross-reference table by scanning for object
// headers. The trailer is the last one found, or a synthetic one pointing
// at the catalog.
func (r *Reader) reconstruct() error {
	for _, m := range objHeader.FindAllSubmatchIndex(r.data, -1) {
		num, _ := strconv.Atoi(string(r.data[m[2]:m[3]]))
		gen, _ := strconv.Atoi(string(r.data[m[4]:m[5]]))
		// later definitions win
		r.xref[num] = xrefEntry{kind: xrefOffset, offset: int64(m[2]), gen: gen}
	}
	if len(r.xref) == 0 {
		return parseErr("no objects found")
	}

	if i := bytes.LastIndex(r.data, []byte("trailer")); i >= 0 {
		if obj, err := newLexer(r.data, i+len("trailer")).readObject(); err == nil {
			if d, ok := obj.(Dict); ok {
				r.trailer = d
			}
		}
	}
	if r.trailer != nil {
		delete(r.trailer, "Prev")
		delete(r.trailer, "XRefStm")
		if _, ok := r.trailer["Root"].(Ref); ok {
			return nil
		}
	}

	for num, e := range r.xref {
		_, obj, err := r.parseIndirectAt(e.offset)
		if err != nil {
			continue
		}
		if d, ok := obj.(Dict); ok {
			if t, _ := d.Name("Type"); t == "Catalog" {
				r.trailer = Dict{"Root": Ref{Num: num, Gen: e.gen}}
				return nil
			}
		}
	}
	return parseErr("no document catalog found")
}

// parseIndirectAt parses "n g obj ... endobj" at off
func (r *Reader) parseIndirectAt(off int64) (Ref, Object, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return Ref{}, nil, parseErr("object offset %d out of range", off)
	}
	l := newLexer(r.data, int(off))
	num, err := l.readInt()
	if err != nil {
		return Ref{}, nil, err
	}
	gen, err := l.readInt()
	if err != nil {
		return Ref{}, nil, err
	}
	if err := l.expectKeyword("obj"); err != nil {
		return Ref{}, nil, err
	}
	ref := Ref{Num: int(num), Gen: int(gen)}

	obj, err := l.readObject()
	if err != nil {
		return ref, nil, err
	}

	dict, isDict := obj.(Dict)
	l.skipSpace()
	if !isDict || !l.hasPrefix("stream") {
		return ref, obj, nil
	}

	l.pos += len("stream")
	if l.hasPrefix("\r\n") {
		l.pos += 2
	} else if l.hasPrefix("\n") || l.hasPrefix("\r") {
		l.pos++
	}
	start := l.pos

	length := int64(-1)
	if n, ok := toInt(dict["Length"]); ok {
		length = n
	} else if lref, ok := dict["Length"].(Ref); ok && lref.Num != ref.Num {
		if v, err := r.Resolve(lref); err == nil {
			if n, ok := toInt(v); ok {
				length = n
			}
		}
	}

	end := start + int(length)
	if length < 0 || end > len(r.data) || !bytes.HasPrefix(bytes.TrimLeft(r.data[end:], "\r\n \t"), []byte("endstream")) {
		i := bytes.Index(r.data[start:], []byte("endstream"))
		if i < 0 {
			return ref, nil, parseErr("stream of object %d has no endstream", num)
		}
		end = start + i
		for end > start && (r.data[end-1] == '\n' || r.data[end-1] == '\r') {
			end--
		}
	}

	return ref, &Stream{Dict: dict, Data: r.data[start:end]}, nil
}

// Object loads object num
func (r *Reader) Object(num int) (Object, error) {
	if obj, ok := r.cache[num]; ok {
		return obj, nil
	}
	e, ok := r.xref[num]
	if !ok || e.kind == xrefFree {
		return nil, nil
	}
	if r.resolving[num] {
		return nil, parseErr("object %d refers to itself", num)
	}
	r.resolving[num] = true
	defer delete(r.resolving, num)

	var obj Object
	switch e.kind {
	case xrefOffset:
		ref, o, err := r.parseIndirectAt(e.offset)
		if err != nil {
			return nil, err
		}
		if ref.Num != num {
			return nil, parseErr("xref points object %d at object %d", num, ref.Num)
		}
		obj = o
	case xrefCompressed:
		o, err := r.compressedObject(int(e.offset), e.index, num)
		if err != nil {
			return nil, err
		}
		obj = o
	}

	r.cache[num] = obj
	return obj, nil
}

func (r *Reader) compressedObject(stmNum, index, num int) (Object, error) {
	ostm, ok := r.objStms[stmNum]
	if !ok {
		obj, err := r.Object(stmNum)
		if err != nil {
			return nil, err
		}
		stm, ok := obj.(*Stream)
		if !ok {
			return nil, parseErr("object stream %d is not a stream", stmNum)
		}
		data, err := decodeStream(stm)
		if err != nil {
			return nil, err
		}
		n, _ := toInt(stm.Dict["N"])
		first, _ := toInt(stm.Dict["First"])

		ostm = &objectStream{data: data}
		l := newLexer(data, 0)
		for i := int64(0); i < n; i++ {
			objNum, err := l.readInt()
			if err != nil {
				return nil, err
			}
			off, err := l.readInt()
			if err != nil {
				return nil, err
			}
			ostm.nums = append(ostm.nums, int(objNum))
			ostm.offsets = append(ostm.offsets, first+off)
		}
		r.objStms[stmNum] = ostm
	}

	if index < 0 || index >= len(ostm.offsets) || ostm.nums[index] != num {
		// tolerate a wrong index by searching the header
		index = -1
		for i, n := range ostm.nums {
			if n == num {
				index = i
				break
			}
		}
		if index < 0 {
			return nil, parseErr("object %d missing from object stream %d", num, stmNum)
		}
	}
	return newLexer(ostm.data, int(ostm.offsets[index])).readObject()
}

// Resolve follows references until a direct object is reached
func (r *Reader) Resolve(o Object) (Object, error) {
	for i := 0; i < 32; i++ {
		ref, ok := o.(Ref)
		if !ok {
			return o, nil
		}
		obj, err := r.Object(ref.Num)
		if err != nil {
			return nil, err
		}
		o = obj
	}
	return nil, parseErr("reference chain too long")
}

// ResolveDict resolves o and returns it as a dictionary (or a stream's dictionary)
func (r *Reader) ResolveDict(o Object) (Dict, error) {
	obj, err := r.Resolve(o)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case Dict:
		return v, nil
	case *Stream:
		return v.Dict, nil
	}
	return nil, parseErr("expected dictionary, found %T", obj)
}

// ResolveArray resolves o as an array; a missing value yields an empty array
func (r *Reader) ResolveArray(o Object) (Array, error) {
	obj, err := r.Resolve(o)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case nil:
		return Array{}, nil
	case Array:
		return v, nil
	}
	return nil, parseErr("expected array, found %T", obj)
}

// Catalog returns the document catalog and its reference
func (r *Reader) Catalog() (Ref, Dict, error) {
	ref := r.trailer["Root"].(Ref)
	dict, err := r.ResolveDict(ref)
	if err != nil {
		return ref, nil, err
	}
	return ref, dict, nil
}

// Pages walks the page tree in document order
func (r *Reader) Pages() ([]Page, error) {
	_, catalog, err := r.Catalog()
	if err != nil {
		return nil, err
	}
	root, ok := catalog["Pages"].(Ref)
	if !ok {
		return nil, parseErr("catalog has no /Pages reference")
	}

	var pages []Page
	visited := map[int]bool{}
	var walk func(ref Ref, inherited Object, depth int) error
	walk = func(ref Ref, inherited Object, depth int) error {
		if depth > maxPageDepth || visited[ref.Num] {
			return parseErr("page tree loop at object %d", ref.Num)
		}
		visited[ref.Num] = true

		node, err := r.ResolveDict(ref)
		if err != nil {
			return err
		}
		if mb, ok := node["MediaBox"]; ok {
			inherited = mb
		}

		kids, hasKids := node["Kids"]
		if t, _ := node.Name("Type"); t == "Page" || (!hasKids && t != "Pages") {
			pages = append(pages, Page{Ref: ref, Dict: node, MediaBox: r.mediaBox(inherited)})
			return nil
		}

		arr, err := r.ResolveArray(kids)
		if err != nil {
			return err
		}
		for _, kid := range arr {
			kref, ok := kid.(Ref)
			if !ok {
				return parseErr("page tree kid %v is not a reference", kid)
			}
			if err := walk(kref, inherited, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, nil, 0); err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, parseErr("document has no pages")
	}
	return pages, nil
}

// mediaBox normalizes a /MediaBox value, falling back to US Letter
func (r *Reader) mediaBox(o Object) [4]float64 {
	arr, err := r.ResolveArray(o)
	if err != nil || len(arr) != 4 {
		return letter
	}
	var box [4]float64
	for i, v := range arr {
		rv, err := r.Resolve(v)
		if err != nil {
			return letter
		}
		f, ok := toFloat(rv)
		if !ok {
			return letter
		}
		box[i] = f
	}
	if box[0] > box[2] {
		box[0], box[2] = box[2], box[0]
	}
	if box[1] > box[3] {
		box[1], box[3] = box[3], box[1]
	}
	if box[2]-box[0] <= 0 || box[3]-box[1] <= 0 {
		return letter
	}
	return box
}

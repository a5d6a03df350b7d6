package pdfsign

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// writeObject serializes o in PDF syntax
func writeObject(buf *bytes.Buffer, o Object) {
	switch v := o.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case int:
		buf.WriteString(strconv.Itoa(v))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case float64:
		buf.WriteString(formatReal(v))
	case Name:
		writeName(buf, v)
	case String:
		writeLiteral(buf, v)
	case HexString:
		buf.WriteByte('<')
		buf.WriteString(hex.EncodeToString(v))
		buf.WriteByte('>')
	case Ref:
		fmt.Fprintf(buf, "%d %d R", v.Num, v.Gen)
	case Array:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			writeObject(buf, item)
		}
		buf.WriteByte(']')
	case Dict:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		buf.WriteString("<<")
		for _, k := range keys {
			writeName(buf, Name(k))
			buf.WriteByte(' ')
			writeObject(buf, v[Name(k)])
		}
		buf.WriteString(">>")
	case *Stream:
		d := v.Dict.Clone()
		d["Length"] = int64(len(v.Data))
		writeObject(buf, d)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	case keyword:
		buf.WriteString(string(v))
	default:
		panic(fmt.Sprintf("pdfsign: cannot serialize %T", o))
	}
}

func formatReal(f float64) string {
	s := strconv.FormatFloat(f, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func writeName(buf *bytes.Buffer, n Name) {
	buf.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < 0x21 || c > 0x7e || c == '#' || isDelimiter(c) {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}

func writeLiteral(buf *bytes.Buffer, s []byte) {
	buf.WriteByte('(')
	for _, c := range s {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\r':
			buf.WriteString(`\r`)
		case '\n':
			buf.WriteString(`\n`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

// textString encodes s as a PDF text string: PDFDocEncoding-safe ASCII stays
// literal, anything else becomes UTF-16BE with a byte order mark
func textString(s string) Object {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return String(s)
	}
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2, 2+2*len(units))
	out[0], out[1] = 0xFE, 0xFF
	for _, u := range units {
		out = binary.BigEndian.AppendUint16(out, u)
	}
	return HexString(out)
}

// update accumulates one incremental update on top of a base file
type update struct {
	base    []byte
	reader  *Reader
	buf     bytes.Buffer
	offsets map[int]int64
	gens    map[int]int
	next    int
}

func newUpdate(base []byte, r *Reader) *update {
	u := &update{
		base:    base,
		reader:  r,
		offsets: map[int]int64{},
		gens:    map[int]int{},
		next:    r.Size(),
	}
	if len(base) > 0 && base[len(base)-1] != '\n' && base[len(base)-1] != '\r' {
		u.buf.WriteByte('\n')
	}
	return u
}

// offset is the absolute file offset of the next byte written
func (u *update) offset() int64 {
	return int64(len(u.base) + u.buf.Len())
}

func (u *update) alloc() Ref {
	ref := Ref{Num: u.next}
	u.next++
	return ref
}

// put writes obj as indirect object ref
func (u *update) put(ref Ref, obj Object) {
	u.begin(ref)
	writeObject(&u.buf, obj)
	u.end()
}

func (u *update) begin(ref Ref) {
	u.offsets[ref.Num] = u.offset()
	u.gens[ref.Num] = ref.Gen
	fmt.Fprintf(&u.buf, "%d %d obj\n", ref.Num, ref.Gen)
}

func (u *update) end() {
	u.buf.WriteString("\nendobj\n")
}

// trailerFields copies the entries every new trailer carries over
func (u *update) trailerFields() Dict {
	old := u.reader.Trailer()
	t := Dict{
		"Root": old["Root"],
		"Prev": u.reader.startxref,
	}
	if info, ok := old["Info"]; ok {
		t["Info"] = info
	}
	if id, ok := old["ID"].(Array); ok && len(id) == 2 {
		t["ID"] = id
	} else {
		sum := sha256.Sum256(u.base)
		t["ID"] = Array{HexString(sum[:16]), HexString(sum[16:])}
	}
	if u.reader.startxref == 0 {
		delete(t, "Prev")
	}
	return t
}

// finish writes the cross-reference section and trailer and returns the
// complete file
func (u *update) finish() ([]byte, error) {
	if u.reader.xrefStream {
		if err := u.finishStream(); err != nil {
			return nil, err
		}
	} else {
		u.finishTable()
	}

	out := make([]byte, 0, len(u.base)+u.buf.Len())
	out = append(out, u.base...)
	out = append(out, u.buf.Bytes()...)
	return out, nil
}

// sortedNums lists the objects the new section must index. A base whose
// cross-reference data had to be rebuilt has no usable /Prev, so every
// object it contains is indexed again.
func (u *update) sortedNums() []int {
	if u.reader.startxref == 0 {
		for n, e := range u.reader.xref {
			if _, ok := u.offsets[n]; !ok && e.kind == xrefOffset {
				u.offsets[n] = e.offset
				u.gens[n] = e.gen
			}
		}
	}
	nums := make([]int, 0, len(u.offsets))
	for n := range u.offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// subsections groups sorted object numbers into runs of consecutive numbers
func subsections(nums []int) [][]int {
	var runs [][]int
	for i := 0; i < len(nums); {
		j := i + 1
		for j < len(nums) && nums[j] == nums[j-1]+1 {
			j++
		}
		runs = append(runs, nums[i:j])
		i = j
	}
	return runs
}

func (u *update) finishTable() {
	xrefOff := u.offset()
	u.buf.WriteString("xref\n")
	for _, run := range subsections(u.sortedNums()) {
		fmt.Fprintf(&u.buf, "%d %d\n", run[0], len(run))
		for _, n := range run {
			fmt.Fprintf(&u.buf, "%010d %05d n\r\n", u.offsets[n], u.gens[n])
		}
	}

	t := u.trailerFields()
	t["Size"] = int64(u.next)
	u.buf.WriteString("trailer\n")
	writeObject(&u.buf, t)
	fmt.Fprintf(&u.buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOff)
}

func (u *update) finishStream() error {
	ref := u.alloc()
	xrefOff := u.offset()
	u.offsets[ref.Num] = xrefOff
	u.gens[ref.Num] = 0

	var rows []byte
	var index Array
	for _, run := range subsections(u.sortedNums()) {
		index = append(index, int64(run[0]), int64(len(run)))
		for _, n := range run {
			rows = append(rows, 1)
			rows = binary.BigEndian.AppendUint32(rows, uint32(u.offsets[n]))
			rows = binary.BigEndian.AppendUint16(rows, uint16(u.gens[n]))
		}
	}
	data, err := deflate(rows)
	if err != nil {
		return signErr("compress xref stream: %v", err)
	}

	d := u.trailerFields()
	d["Type"] = Name("XRef")
	d["Size"] = int64(u.next)
	d["W"] = Array{int64(1), int64(4), int64(2)}
	d["Index"] = index
	d["Filter"] = Name("FlateDecode")

	u.begin(ref)
	writeObject(&u.buf, &Stream{Dict: d, Data: data})
	u.end()
	fmt.Fprintf(&u.buf, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return nil
}

package pdfsign

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flujos-esign/internal/infrastructure/pdfsign/pdfsigntest"
)

func TestLexer_ReadObject(t *testing.T) {
	l := newLexer([]byte(`<< /A 1 /B [2 0 R (x\)y\n) <41 42 4>] /C#20D /E -1.5 /F true /G null >>`), 0)
	obj, err := l.readObject()
	require.NoError(t, err)

	d, ok := obj.(Dict)
	require.True(t, ok)
	assert.Equal(t, int64(1), d["A"])
	assert.Equal(t, Array{Ref{Num: 2}, String("x)y\n"), HexString("AB@")}, d["B"])
	assert.Contains(t, d, Name("C D"))
	assert.Equal(t, -1.5, d["E"])
	assert.Equal(t, true, d["F"])
	assert.Nil(t, d["G"])
}

func TestLexer_UnterminatedString(t *testing.T) {
	_, err := newLexer([]byte("(never closed"), 0).readObject()
	assert.ErrorIs(t, err, ErrPDFParse)
}

func TestReader_ClassicXRef(t *testing.T) {
	r, err := NewReader(pdfsigntest.Build(t, pdfsigntest.Options{Pages: 3}))
	require.NoError(t, err)
	assert.False(t, r.xrefStream)

	pages, err := r.Pages()
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, 612.0, pages[0].Width())
	assert.Equal(t, 792.0, pages[2].Height())
	assert.Equal(t, 9, r.Size())
}

func TestReader_XRefStreamWithObjectStream(t *testing.T) {
	r, err := NewReader(pdfsigntest.Build(t, pdfsigntest.Options{Pages: 2, XRefStream: true, MediaBox: "[0 0 595 842]"}))
	require.NoError(t, err)
	assert.True(t, r.xrefStream)

	_, catalog, err := r.Catalog()
	require.NoError(t, err)
	typ, _ := catalog.Name("Type")
	assert.Equal(t, Name("Catalog"), typ)

	pages, err := r.Pages()
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 595.0, pages[1].Width())
}

func TestReader_ReconstructsBrokenXRef(t *testing.T) {
	pdf := pdfsigntest.Build(t, pdfsigntest.Options{Pages: 2})
	i := bytes.LastIndex(pdf, []byte("startxref\n"))
	broken := append(append([]byte{}, pdf[:i]...), []byte("startxref\n99999999\n%%EOF\n")...)

	r, err := NewReader(broken)
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.startxref)

	pages, err := r.Pages()
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestReader_RejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     {},
		"no header": []byte("hello world"),
		"no objects": []byte("%PDF-1.4\nnothing here\n%%EOF"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewReader(data)
			assert.ErrorIs(t, err, ErrPDFParse)
		})
	}
}

func TestReader_EncryptedRejected(t *testing.T) {
	pdf := pdfsigntest.Build(t, pdfsigntest.Options{})
	pdf = bytes.Replace(pdf, []byte("/Root 1 0 R >>\nstartxref"), []byte("/Root 1 0 R /Encrypt 99 0 R >>\nstartxref"), 1)
	_, err := NewReader(pdf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encrypted")
}

func TestTextString(t *testing.T) {
	assert.Equal(t, String("Signed by: Ana"), textString("Signed by: Ana"))
	assert.Equal(t, HexString{0xFE, 0xFF, 0x00, 0xD1, 0x00, 'u'}, textString("Ñu"))
}

func TestFormatReal(t *testing.T) {
	assert.Equal(t, "133", formatReal(133))
	assert.Equal(t, "51.9024", formatReal(51.90243902))
	assert.Equal(t, "0", formatReal(-0.00001))
}

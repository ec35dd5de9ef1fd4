package escpos

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// International character sets selectable with ESC R, by index.
var charsets = [...]string{
	"U.S.A.",
	"France",
	"Germany",
	"U.K.",
	"Denmark I",
	"Sweden",
	"Italy",
	"Spain",
	"Japan",
	"Norway",
	"Denmark II",
	"Spain II",
	"Latin America",
	"Korea",
}

const charsetReserved = "reserved"

// CharsetName maps an ESC R selector to its name. Selectors past the table
// are reported as reserved.
func CharsetName(n byte) string {
	if int(n) >= len(charsets) {
		return charsetReserved
	}
	return charsets[n]
}

// CodePage is one ESC t character code table.
type CodePage struct {
	N    byte
	Name string
	// Charmap is nil for pages without an x/text table.
	Charmap *charmap.Charmap
}

// Label is the printable description of the page.
func (p CodePage) Label() string {
	if p.Charmap != nil {
		return fmt.Sprintf("%s (%s)", p.Name, p.Charmap.String())
	}
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("page %d", p.N)
}

// Decode converts text printed under this page to UTF-8. Pages without a
// table pass bytes through unchanged.
func (p CodePage) Decode(b []byte) (string, error) {
	if p.Charmap == nil {
		return string(b), nil
	}
	out, err := p.Charmap.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var codePages = map[byte]CodePage{
	0:  {N: 0, Name: "PC437 USA, Standard Europe", Charmap: charmap.CodePage437},
	1:  {N: 1, Name: "Katakana"},
	2:  {N: 2, Name: "PC850 Multilingual", Charmap: charmap.CodePage850},
	3:  {N: 3, Name: "PC860 Portuguese", Charmap: charmap.CodePage860},
	4:  {N: 4, Name: "PC863 Canadian-French", Charmap: charmap.CodePage863},
	5:  {N: 5, Name: "PC865 Nordic", Charmap: charmap.CodePage865},
	16: {N: 16, Name: "WPC1252", Charmap: charmap.Windows1252},
	17: {N: 17, Name: "PC866 Cyrillic #2", Charmap: charmap.CodePage866},
	18: {N: 18, Name: "PC852 Latin 2", Charmap: charmap.CodePage852},
	19: {N: 19, Name: "PC858 Euro", Charmap: charmap.CodePage858},
}

// LookupCodePage resolves an ESC t selector. Unlisted pages keep their
// number and no table.
func LookupCodePage(n byte) CodePage {
	if p, ok := codePages[n]; ok {
		return p
	}
	return CodePage{N: n}
}

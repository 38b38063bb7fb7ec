package module

// Magic identifies an encoded loom module: "LMOD".
var Magic = [4]byte{'L', 'M', 'O', 'D'}

// FormatVersion is the current module format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// Header flags
const (
	FlagNone uint16 = 0
)

// HeaderSize is magic(4) + version(2) + flags(2) + mvid(16).
const HeaderSize = 24

// Metadata token tables. A token is table<<24 | row, rows are 1-based.
const (
	TableTypeRef    byte = 0x01
	TableFieldDef   byte = 0x04
	TableMethodDef  byte = 0x06
	TableMemberRef  byte = 0x0A
	TableMethodSpec byte = 0x2B
	TableString     byte = 0x70
)

// MakeToken builds a metadata token.
func MakeToken(table byte, row int) uint32 {
	return uint32(table)<<24 | uint32(row)&0x00FFFFFF
}

// SplitToken returns the table and row of a metadata token.
func SplitToken(tok uint32) (table byte, row int) {
	return byte(tok >> 24), int(tok & 0x00FFFFFF)
}

// MethodTokens returns the MethodDef token of every method in m, in the
// order the writer assigns them.
func MethodTokens(m *Module) map[*MethodDecl]uint32 {
	tokens := make(map[*MethodDecl]uint32)
	row := 1
	for _, t := range m.Types {
		for _, md := range t.Methods {
			tokens[md] = MakeToken(TableMethodDef, row)
			row++
		}
	}
	return tokens
}

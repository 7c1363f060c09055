package kip

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ldclabs/anda-db/value"
)

// Substitute replaces every `$name` placeholder outside double-quoted
// string literals in src (so a literal such as "$ConceptType" is left
// untouched) with its typed
// literal rendering from params, before lexing (spec §4.5: "substitution
// is typed ... never textual concatenation of unquoted user input").
// Strings are emitted quoted (with internal quotes/backslashes escaped);
// numbers and booleans are emitted raw; null becomes the null keyword.
// An unresolved placeholder is a parse error rather than being silently
// left in place, so a typo never reaches the planner as a bare
// identifier.
func Substitute(src string, params map[string]value.Value) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(src) {
		if src[i] == '"' {
			j := i + 1
			for j < len(src) && src[j] != '"' {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				j++
			}
			if j < len(src) {
				j++
			}
			out.WriteString(src[i:j])
			i = j
			continue
		}
		if src[i] != '$' {
			out.WriteByte(src[i])
			i++
			continue
		}
		j := i + 1
		for j < len(src) && isParamNameByte(src[j]) {
			j++
		}
		name := src[i+1 : j]
		if name == "" {
			out.WriteByte(src[i])
			i++
			continue
		}
		v, ok := params[name]
		if !ok {
			return "", fmt.Errorf("kip: unresolved parameter $%s", name)
		}
		rendered, err := renderParam(v)
		if err != nil {
			return "", fmt.Errorf("kip: parameter $%s: %w", name, err)
		}
		out.WriteString(rendered)
		i = j
	}
	return out.String(), nil
}

func isParamNameByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func renderParam(v value.Value) (string, error) {
	switch v.Kind {
	case value.KindString:
		return strconv.Quote(v.Str), nil
	case value.KindI64:
		return strconv.FormatInt(v.I64, 10), nil
	case value.KindU64:
		return strconv.FormatUint(v.U64, 10), nil
	case value.KindF32:
		return strconv.FormatFloat(float64(v.F32), 'g', -1, 32), nil
	case value.KindF64:
		return strconv.FormatFloat(v.F64, 'g', -1, 64), nil
	case value.KindBool:
		return strconv.FormatBool(v.Bool), nil
	case value.KindNull:
		return "null", nil
	default:
		return "", fmt.Errorf("parameter kind %s is not substitutable into command text", v.Kind)
	}
}

//
// Copyright 2023 Bytedance Ltd. and/or its affiliates
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package expression

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Format serializes a tree back to its text form. Parse(Format(n)) yields a
// tree equivalent to n.
func Format(n Node) string {
	if IsEmpty(n) {
		return "[]"
	}
	terms := make([]string, 0)
	// the top level conjunction stays implicit
	if a, ok := n.(And); ok {
		for _, c := range a {
			terms = appendTerms(terms, c)
		}
	} else {
		terms = appendTerms(terms, n)
	}
	return "[" + strings.Join(terms, ", ") + "]"
}

func appendTerms(terms []string, n Node) []string {
	switch v := n.(type) {
	case And:
		if len(v) == 0 {
			return append(terms, formatConst(true))
		}
		for i := 1; i < len(v); i++ {
			terms = append(terms, quote(andToken))
		}
		for _, c := range v {
			terms = appendTerms(terms, c)
		}
	case Or:
		if len(v) == 0 {
			return append(terms, formatConst(false))
		}
		for i := 1; i < len(v); i++ {
			terms = append(terms, quote(orToken))
		}
		for _, c := range v {
			terms = appendTerms(terms, c)
		}
	case Not:
		terms = append(terms, quote(notToken))
		terms = appendTerms(terms, v.X)
	case Const:
		terms = append(terms, formatConst(bool(v)))
	case Condition:
		terms = append(terms, fmt.Sprintf("(%s, %s, %s)", quote(v.Field), quote(string(v.Operator)), FormatValue(v.Value)))
	}
	return terms
}

func formatConst(b bool) string {
	if b {
		return "(1, '=', 1)"
	}
	return "(0, '=', 1)"
}

// FormatValue renders a literal value the way the parser reads it back
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return quote(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case decimal.Decimal:
		if t.IsInteger() {
			return t.String() + ".0"
		}
		return t.String()
	case time.Time:
		return quote(t.UTC().Format(time.DateTime))
	case []any:
		items := make([]string, len(t))
		for i, item := range t {
			items[i] = FormatValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case []string:
		items := make([]string, len(t))
		for i, item := range t {
			items[i] = quote(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	}
	return quote(fmt.Sprint(v))
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !math.IsInf(f, 0) && !math.IsNaN(f) && !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'', '\\':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

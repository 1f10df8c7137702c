// Package ppm fits log-linear Poisson point process models
//
//	log lambda(u) = beta_0 + sum_t f_t(Z_t(u))
//
// by maximum likelihood on a Berman-Turner quadrature, and provides the
// comparison and residual diagnostics used to refine them.
package ppm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// TermKind identifies how a covariate enters the linear predictor.
type TermKind int

// Term kinds.
const (
	Linear TermKind = iota
	Power
	Poly
	Spline
)

// Term is one additive component of a formula.
type Term struct {
	Kind TermKind
	Var  string
	// Degree is the exponent of a Power term or the order of a Poly term.
	Degree int
	// DF is the number of B-spline basis columns of a Spline term.
	DF int
}

// String returns the canonical spelling of the term.
func (t Term) String() string {
	switch t.Kind {
	case Power:
		return fmt.Sprintf("I(%s^%d)", t.Var, t.Degree)
	case Poly:
		return fmt.Sprintf("poly(%s, %d)", t.Var, t.Degree)
	case Spline:
		return fmt.Sprintf("bs(%s, %d)", t.Var, t.DF)
	default:
		return t.Var
	}
}

// Columns is the number of design columns the term contributes.
func (t Term) Columns() int {
	switch t.Kind {
	case Poly:
		return t.Degree
	case Spline:
		return t.DF
	default:
		return 1
	}
}

// Formula is the right-hand side of a model. The intercept is implicit.
type Formula struct {
	Terms []Term
}

// String returns the formula in canonical form.
func (f Formula) String() string {
	if len(f.Terms) == 0 {
		return "~ 1"
	}
	parts := make([]string, len(f.Terms))
	for i, t := range f.Terms {
		parts[i] = t.String()
	}
	return "~ " + strings.Join(parts, " + ")
}

// Variables returns the distinct covariates the formula uses, in order of
// first appearance.
func (f Formula) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range f.Terms {
		if !seen[t.Var] {
			seen[t.Var] = true
			out = append(out, t.Var)
		}
	}
	return out
}

// Has reports whether the formula contains a term with the same spelling.
func (f Formula) Has(t Term) bool {
	s := t.String()
	for _, u := range f.Terms {
		if u.String() == s {
			return true
		}
	}
	return false
}

// Contains reports whether every term of sub also appears in f.
func (f Formula) Contains(sub Formula) bool {
	for _, t := range sub.Terms {
		if !f.Has(t) {
			return false
		}
	}
	return true
}

// ParseFormula parses formulas such as
//
//	Elevation + I(Elevation^2) + poly(HFI, 3) + bs(Forest, 5)
//
// An optional "~" prefix (with or without a response name) is accepted.
// An empty formula or "1" is the intercept-only model.
func ParseFormula(s string) (Formula, error) {
	if i := strings.Index(s, "~"); i >= 0 {
		s = s[i+1:]
	}
	var f Formula
	for _, raw := range splitTerms(s) {
		tok := strings.TrimSpace(raw)
		if tok == "" || tok == "1" {
			continue
		}
		t, err := parseTerm(tok)
		if err != nil {
			return Formula{}, eris.Wrapf(err, "ppm: parse formula %q", s)
		}
		if f.Has(t) {
			return Formula{}, eris.Errorf("ppm: term %s repeated in formula", t)
		}
		f.Terms = append(f.Terms, t)
	}
	return f, nil
}

// MustParseFormula is ParseFormula for formulas known to be valid.
func MustParseFormula(s string) Formula {
	f, err := ParseFormula(s)
	if err != nil {
		panic(err)
	}
	return f
}

// splitTerms splits on '+' outside parentheses.
func splitTerms(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case '+':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

func parseTerm(tok string) (Term, error) {
	open := strings.IndexByte(tok, '(')
	if open < 0 {
		if !isIdent(tok) {
			return Term{}, eris.Errorf("invalid term %q", tok)
		}
		return Term{Kind: Linear, Var: tok}, nil
	}
	if !strings.HasSuffix(tok, ")") {
		return Term{}, eris.Errorf("unbalanced parentheses in %q", tok)
	}
	fn := strings.TrimSpace(tok[:open])
	inner := strings.TrimSpace(tok[open+1 : len(tok)-1])

	switch fn {
	case "I":
		base, exp, ok := strings.Cut(inner, "^")
		base = strings.TrimSpace(base)
		if !ok || !isIdent(base) {
			return Term{}, eris.Errorf("I() expects name^power, got %q", inner)
		}
		k, err := strconv.Atoi(strings.TrimSpace(exp))
		if err != nil || k < 1 {
			return Term{}, eris.Errorf("invalid power in %q", tok)
		}
		if k == 1 {
			return Term{Kind: Linear, Var: base}, nil
		}
		return Term{Kind: Power, Var: base, Degree: k}, nil
	case "poly", "bs":
		name, arg, ok := strings.Cut(inner, ",")
		name = strings.TrimSpace(name)
		if !ok || !isIdent(name) {
			return Term{}, eris.Errorf("%s() expects name, n; got %q", fn, inner)
		}
		arg = strings.TrimSpace(arg)
		if k, v, named := strings.Cut(arg, "="); named {
			if key := strings.TrimSpace(k); key != "df" && key != "degree" {
				return Term{}, eris.Errorf("unknown argument %q in %q", key, tok)
			}
			arg = strings.TrimSpace(v)
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return Term{}, eris.Errorf("invalid count in %q", tok)
		}
		if fn == "poly" {
			if n < 1 {
				return Term{}, eris.Errorf("poly() order must be at least 1 in %q", tok)
			}
			return Term{Kind: Poly, Var: name, Degree: n}, nil
		}
		if n < splineDegree {
			return Term{}, eris.Errorf("bs() needs df >= %d in %q", splineDegree, tok)
		}
		return Term{Kind: Spline, Var: name, DF: n}, nil
	default:
		return Term{}, eris.Errorf("unknown function %q", fn)
	}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '.' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

package kip

import (
	"strconv"
	"strings"

	"github.com/ldclabs/anda-db/value"
)

// Parser is a recursive-descent parser over a fully-lexed token stream.
type Parser struct {
	tokens []Token
	pos    int
}

// Parse lexes and parses src into a Command.
func Parse(src string) (Command, error) {
	toks, err := lexAll(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{tokens: toks}
	return p.parseCommand()
}

func lexAll(src string) ([]Token, error) {
	l := NewLexer(src)
	var toks []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == EOF {
			break
		}
	}
	return toks, nil
}

func (p *Parser) cur() Token  { return p.tokens[p.pos] }
func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) expectKeyword(kw string) (Token, error) {
	tok := p.cur()
	if tok.Kind != Keyword || tok.Text != kw {
		return tok, newParseError(tok, "expected %q, got %s", kw, tok)
	}
	return p.advance(), nil
}

func (p *Parser) expect(kind Kind) (Token, error) {
	tok := p.cur()
	if tok.Kind != kind {
		return tok, newParseError(tok, "expected %s, got %s", kind, tok)
	}
	return p.advance(), nil
}

func (p *Parser) atKeyword(kw string) bool {
	return p.cur().Kind == Keyword && p.cur().Text == kw
}

func (p *Parser) parseCommand() (Command, error) {
	switch {
	case p.atKeyword("FIND"):
		return p.parseFind()
	case p.atKeyword("UPSERT"):
		return p.parseUpsert()
	case p.atKeyword("DELETE"):
		return p.parseDelete()
	case p.atKeyword("DESCRIBE"):
		return p.parseDescribe()
	default:
		return nil, newParseError(p.cur(), "expected FIND, UPSERT, DELETE, or DESCRIBE, got %s", p.cur())
	}
}

// ---- KQL: FIND ----

func (p *Parser) parseFind() (*FindQuery, error) {
	if _, err := p.expectKeyword("FIND"); err != nil {
		return nil, err
	}
	if _, err := p.expect(LParen); err != nil {
		return nil, err
	}
	var projections []Projection
	for {
		v, err := p.expect(Variable)
		if err != nil {
			return nil, err
		}
		proj := Projection{Var: v.Text}
		if p.cur().Kind == Dot {
			p.advance()
			field, err := p.expect(Ident)
			if err != nil {
				return nil, err
			}
			proj.Field = field.Text
		}
		projections = append(projections, proj)
		if p.cur().Kind == Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(RParen); err != nil {
		return nil, err
	}

	if _, err := p.expectKeyword("WHERE"); err != nil {
		return nil, err
	}
	patterns, err := p.parsePatternBlock()
	if err != nil {
		return nil, err
	}

	fq := &FindQuery{Projections: projections, Patterns: patterns}

	if p.atKeyword("ORDER") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			v, err := p.expect(Variable)
			if err != nil {
				return nil, err
			}
			term := OrderTerm{Var: v.Text}
			if p.cur().Kind == Dot {
				p.advance()
				f, err := p.expect(Ident)
				if err != nil {
					return nil, err
				}
				term.Field = f.Text
			}
			if p.atKeyword("DESC") {
				p.advance()
				term.Desc = true
			} else if p.atKeyword("ASC") {
				p.advance()
			}
			fq.OrderBy = append(fq.OrderBy, term)
			if p.cur().Kind == Comma {
				p.advance()
				continue
			}
			break
		}
	}

	if p.atKeyword("LIMIT") {
		p.advance()
		n, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		fq.Limit = &n
	}
	if p.atKeyword("OFFSET") {
		p.advance()
		n, err := p.expectInt()
		if err != nil {
			return nil, err
		}
		fq.Offset = &n
	}
	return fq, nil
}

func (p *Parser) expectInt() (int, error) {
	tok, err := p.expect(Number)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(tok.Text)
	if convErr != nil {
		return 0, newParseError(tok, "invalid integer %q", tok.Text)
	}
	return n, nil
}

// parsePatternBlock parses `{ <pattern>+ }`.
func (p *Parser) parsePatternBlock() ([]Pattern, error) {
	if _, err := p.expect(LBrace); err != nil {
		return nil, err
	}
	var patterns []Pattern
	for p.cur().Kind != RBrace {
		pat, err := p.parsePattern()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pat)
	}
	if _, err := p.expect(RBrace); err != nil {
		return nil, err
	}
	return patterns, nil
}

func (p *Parser) parsePattern() (Pattern, error) {
	if p.cur().Kind == LParen {
		return p.parseTriplePattern()
	}
	v, err := p.expect(Variable)
	if err != nil {
		return nil, err
	}
	fields, err := p.parseObjectLiteral()
	if err != nil {
		return nil, err
	}
	return ConceptPattern{Var: v.Text, Fields: fields}, nil
}

func (p *Parser) parseTriplePattern() (Pattern, error) {
	if _, err := p.expect(LParen); err != nil {
		return nil, err
	}
	subj, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(Comma); err != nil {
		return nil, err
	}
	predTok, err := p.expect(String)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(Comma); err != nil {
		return nil, err
	}
	obj, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RParen); err != nil {
		return nil, err
	}
	return TriplePattern{Subj: subj, Pred: predTok.Text, Obj: obj}, nil
}

func (p *Parser) parseTerm() (Term, error) {
	if p.cur().Kind == Variable {
		v := p.advance()
		return Term{Var: v.Text}, nil
	}
	fields, err := p.parseObjectLiteral()
	if err != nil {
		return Term{}, err
	}
	return Term{Fields: fields}, nil
}

// parseObjectLiteral parses `{ key: value, ... }`.
func (p *Parser) parseObjectLiteral() (map[string]value.Value, error) {
	if _, err := p.expect(LBrace); err != nil {
		return nil, err
	}
	fields := make(map[string]value.Value)
	for p.cur().Kind != RBrace {
		keyTok := p.cur()
		var key string
		switch keyTok.Kind {
		case Ident, Keyword:
			key = keyTok.Text
			p.advance()
		default:
			return nil, newParseError(keyTok, "expected field name, got %s", keyTok)
		}
		if _, err := p.expect(Colon); err != nil {
			return nil, err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		fields[key] = val
		if p.cur().Kind == Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(RBrace); err != nil {
		return nil, err
	}
	return fields, nil
}

func (p *Parser) parseLiteral() (value.Value, error) {
	tok := p.cur()
	switch tok.Kind {
	case String:
		p.advance()
		return value.String(tok.Text), nil
	case Number:
		p.advance()
		if strings.ContainsAny(tok.Text, ".") {
			f, err := strconv.ParseFloat(tok.Text, 64)
			if err != nil {
				return value.Value{}, newParseError(tok, "invalid number %q", tok.Text)
			}
			return value.F64(f), nil
		}
		n, err := strconv.ParseInt(tok.Text, 10, 64)
		if err != nil {
			return value.Value{}, newParseError(tok, "invalid number %q", tok.Text)
		}
		return value.I64(n), nil
	case Keyword:
		switch tok.Text {
		case "true":
			p.advance()
			return value.Bool(true), nil
		case "false":
			p.advance()
			return value.Bool(false), nil
		case "null":
			p.advance()
			return value.Null, nil
		}
		return value.Value{}, newParseError(tok, "expected literal, got keyword %q", tok.Text)
	case LBrace:
		fields, err := p.parseObjectLiteral()
		if err != nil {
			return value.Value{}, err
		}
		return value.Map(fields), nil
	default:
		return value.Value{}, newParseError(tok, "expected literal, got %s", tok)
	}
}

// ---- KML: UPSERT ----

func (p *Parser) parseUpsert() (*UpsertCommand, error) {
	if _, err := p.expectKeyword("UPSERT"); err != nil {
		return nil, err
	}
	if _, err := p.expect(LBrace); err != nil {
		return nil, err
	}
	var blocks []ConceptBlock
	for p.atKeyword("CONCEPT") {
		block, err := p.parseConceptBlock()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if _, err := p.expect(RBrace); err != nil {
		return nil, err
	}

	var metadata map[string]value.Value
	if p.atKeyword("WITH") {
		p.advance()
		if _, err := p.expectKeyword("METADATA"); err != nil {
			return nil, err
		}
		m, err := p.parseObjectLiteral()
		if err != nil {
			return nil, err
		}
		metadata = m
	}
	return &UpsertCommand{Blocks: blocks, Metadata: metadata}, nil
}

func (p *Parser) parseConceptBlock() (ConceptBlock, error) {
	if _, err := p.expectKeyword("CONCEPT"); err != nil {
		return ConceptBlock{}, err
	}
	v, err := p.expect(Variable)
	if err != nil {
		return ConceptBlock{}, err
	}
	if _, err := p.expect(LBrace); err != nil {
		return ConceptBlock{}, err
	}

	head, err := p.parseObjectLiteral()
	if err != nil {
		return ConceptBlock{}, err
	}
	block := ConceptBlock{Var: v.Text, Head: head}

	for p.atKeyword("SET") {
		p.advance()
		switch {
		case p.atKeyword("ATTRIBUTES"):
			p.advance()
			attrs, err := p.parseObjectLiteral()
			if err != nil {
				return ConceptBlock{}, err
			}
			block.Attributes = attrs
		case p.atKeyword("PROPOSITIONS"):
			p.advance()
			pairs, err := p.parsePropositionSet()
			if err != nil {
				return ConceptBlock{}, err
			}
			block.Propositions = append(block.Propositions, pairs...)
		default:
			return ConceptBlock{}, newParseError(p.cur(), "expected ATTRIBUTES or PROPOSITIONS, got %s", p.cur())
		}
	}

	if _, err := p.expect(RBrace); err != nil {
		return ConceptBlock{}, err
	}
	return block, nil
}

func (p *Parser) parsePropositionSet() ([]PropPair, error) {
	if _, err := p.expect(LBrace); err != nil {
		return nil, err
	}
	var pairs []PropPair
	for p.cur().Kind != RBrace {
		if _, err := p.expect(LParen); err != nil {
			return nil, err
		}
		predTok, err := p.expect(String)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Comma); err != nil {
			return nil, err
		}
		target, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RParen); err != nil {
			return nil, err
		}
		pairs = append(pairs, PropPair{Pred: predTok.Text, Target: target})
		if p.cur().Kind == Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(RBrace); err != nil {
		return nil, err
	}
	return pairs, nil
}

// ---- KML: DELETE ----

func (p *Parser) parseDelete() (Command, error) {
	if _, err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	switch {
	case p.atKeyword("CONCEPT"):
		p.advance()
		v, err := p.expect(Variable)
		if err != nil {
			return nil, err
		}
		detach := false
		if p.atKeyword("DETACH") {
			p.advance()
			detach = true
		}
		if _, err := p.expectKeyword("WHERE"); err != nil {
			return nil, err
		}
		patterns, err := p.parsePatternBlock()
		if err != nil {
			return nil, err
		}
		return &DeleteConceptCommand{Var: v.Text, Detach: detach, Patterns: patterns}, nil
	case p.atKeyword("PROPOSITION"):
		p.advance()
		triple, err := p.parseTriplePattern()
		if err != nil {
			return nil, err
		}
		var patterns []Pattern
		if p.atKeyword("WHERE") {
			p.advance()
			patterns, err = p.parsePatternBlock()
			if err != nil {
				return nil, err
			}
		}
		return &DeletePropositionCommand{Triple: triple.(TriplePattern), Patterns: patterns}, nil
	default:
		return nil, newParseError(p.cur(), "expected CONCEPT or PROPOSITION, got %s", p.cur())
	}
}

// ---- META: DESCRIBE ----

func (p *Parser) parseDescribe() (*DescribeCommand, error) {
	if _, err := p.expectKeyword("DESCRIBE"); err != nil {
		return nil, err
	}
	if _, err := p.expect(LBrace); err != nil {
		return nil, err
	}
	cmd := &DescribeCommand{}
	switch {
	case p.atKeyword("PRIMER"):
		p.advance()
		cmd.Kind = DescribePrimerKind
	case p.atKeyword("CONCEPT"):
		p.advance()
		if p.atKeyword("TYPES") {
			p.advance()
			cmd.Kind = DescribeConceptTypes
		} else if p.atKeyword("TYPE") {
			p.advance()
			tok, err := p.expect(String)
			if err != nil {
				return nil, err
			}
			cmd.Kind = DescribeConceptType
			cmd.TypeName = tok.Text
		} else {
			return nil, newParseError(p.cur(), "expected TYPES or TYPE, got %s", p.cur())
		}
	case p.atKeyword("PROPOSITION"):
		p.advance()
		if _, err := p.expectKeyword("TYPES"); err != nil {
			return nil, err
		}
		cmd.Kind = DescribePropositionTypes
	default:
		return nil, newParseError(p.cur(), "expected PRIMER, CONCEPT, or PROPOSITION, got %s", p.cur())
	}
	if _, err := p.expect(RBrace); err != nil {
		return nil, err
	}
	return cmd, nil
}

package provider

// Clone returns an independent copy of ps.
func Clone(ps []Provider) []Provider {
	if ps == nil {
		return nil
	}
	out := make([]Provider, len(ps))
	copy(out, ps)
	return out
}

// Has reports whether any provider in ps is bound to tok.
func Has(ps []Provider, tok Token) bool {
	for _, p := range ps {
		if p.Token == tok {
			return true
		}
	}
	return false
}

// Filter returns the providers bound to tok, in order.
func Filter(ps []Provider, tok Token) []Provider {
	var out []Provider
	for _, p := range ps {
		if p.Token == tok {
			out = append(out, p)
		}
	}
	return out
}

// HasMulti reports whether tok is declared as a multi-provider in ps.
func HasMulti(ps []Provider, tok Token) bool {
	for _, p := range ps {
		if p.Token == tok && p.Multi {
			return true
		}
	}
	return false
}

// Tokens returns the distinct tokens of ps in first-seen order.
func Tokens(ps []Provider) []Token {
	seen := make(map[Token]bool, len(ps))
	var out []Token
	for _, p := range ps {
		if seen[p.Token] {
			continue
		}
		seen[p.Token] = true
		out = append(out, p.Token)
	}
	return out
}

// Dedupe keeps the last single provider registered for each token and every
// multi-provider. Output order follows the position of each kept entry, so
// "last registered wins" holds for anyone walking the result.
func Dedupe(ps []Provider) []Provider {
	last := make(map[Token]int, len(ps))
	for i, p := range ps {
		if !p.Multi {
			last[p.Token] = i
		}
	}
	out := make([]Provider, 0, len(ps))
	for i, p := range ps {
		if p.Multi || last[p.Token] == i {
			out = append(out, p)
		}
	}
	return out
}

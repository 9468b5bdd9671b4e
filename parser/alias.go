package parser

import "fmt"

// 查询内的别名表：alias -> token，token -> alias
type TokenAlias struct {
	alias2token map[string]SQLToken
	token2alias map[string]string
	aliased     map[string]struct{}
	sealed      bool
}

func NewTokenAlias() *TokenAlias {
	return &TokenAlias{
		alias2token: map[string]SQLToken{},
		token2alias: map[string]string{},
		aliased:     map[string]struct{}{},
	}
}

// 注册别名。Seal之前同名别名后写覆盖前写，Seal之后不允许改指向
func (a *TokenAlias) Register(alias string, tok SQLToken) (err error) {
	if alias == "" {
		return
	}
	if old, ok := a.alias2token[alias]; ok && a.sealed && old.String() != tok.String() {
		err = fmt.Errorf("alias [%v] already refers to [%v]", alias, old.String())
		return
	}
	a.alias2token[alias] = tok
	a.token2alias[tok.String()] = alias
	a.aliased[alias] = struct{}{}
	return
}

// SELECT列表解析完成后调用
func (a *TokenAlias) Seal() {
	a.sealed = true
}

func (a *TokenAlias) Lookup(alias string) (tok SQLToken, ok bool) {
	tok, ok = a.alias2token[alias]
	return
}

func (a *TokenAlias) AliasOf(tok SQLToken) (alias string, ok bool) {
	alias, ok = a.token2alias[tok.String()]
	return
}

func (a *TokenAlias) IsAliased(name string) bool {
	_, ok := a.aliased[name]
	return ok
}

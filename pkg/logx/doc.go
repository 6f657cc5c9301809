// Package logx is a thin structured-logging facade over zerolog.
//
// Components hold a logx.Logger value; the zero value is a safe no-op.
// Fields are applied in order, so later fields win on duplicate keys.
package logx

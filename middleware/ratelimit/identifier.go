package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

const (
	userPrefix     = "user_"
	ipPrefix       = "ip_"
	tokenPrefixLen = 16

	UnknownIdentifier = ipPrefix + "unknown"
)

// IdentifierFunc resolve o chamador lógico de uma request.
type IdentifierFunc func(r *http.Request) string

// IdentifierFromHeaders deriva o identificador do chamador a partir dos headers:
//
//  1. Authorization: Bearer <token>  -> "user_" + 16 primeiros caracteres
//  2. X-Forwarded-For (primeiro IP)   -> "ip_<addr>"
//  3. X-Real-IP                      -> "ip_<addr>"
//  4. nada disso                     -> "ip_unknown"
//
// Só um prefixo do token é guardado; o token em si nunca vira chave.
func IdentifierFromHeaders(h http.Header) string {
	if token, ok := bearerToken(h.Get("Authorization")); ok {
		return userPrefix + prefixRunes(token, tokenPrefixLen)
	}

	// pega o primeiro IP do X-Forwarded-For (cliente original)
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ipPrefix + ip
		}
	}

	if ip := strings.TrimSpace(h.Get("X-Real-IP")); ip != "" {
		return ipPrefix + ip
	}

	return UnknownIdentifier
}

// DefaultIdentifierFunc usa IdentifierFromHeaders e, opcionalmente, cai para o
// host de RemoteAddr em vez de agrupar todo mundo em "ip_unknown".
func DefaultIdentifierFunc(useRemoteAddr bool) IdentifierFunc {
	return func(r *http.Request) string {
		id := IdentifierFromHeaders(r.Header)
		if id != UnknownIdentifier || !useRemoteAddr {
			return id
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return ipPrefix + host
		}
		if r.RemoteAddr != "" {
			return ipPrefix + r.RemoteAddr
		}
		return UnknownIdentifier
	}
}

func bearerToken(v string) (string, bool) {
	const scheme = "Bearer "
	if len(v) < len(scheme) || !strings.EqualFold(v[:len(scheme)], scheme) {
		return "", false
	}
	token := strings.TrimSpace(v[len(scheme):])
	return token, token != ""
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

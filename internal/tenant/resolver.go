// Package tenant maps inbound requests and sockets to a station.
package tenant

import (
	"errors"
	"net/http"
	"strings"
)

const (
	// HeaderStationID carries an explicit station choice.
	HeaderStationID = "X-Station-Id"
	// HeaderKioskToken carries a station-locked kiosk token.
	HeaderKioskToken = "X-Kiosk-Token"
	// QueryStationID is the query-string form of HeaderStationID.
	QueryStationID = "stationId"
	// QueryKioskToken is the query-string form of HeaderKioskToken, used by
	// browsers opening a websocket where custom headers are unavailable.
	QueryKioskToken = "kioskToken"
)

// ErrInvalidToken is returned when a kiosk token is present but cannot be
// resolved to a station.
var ErrInvalidToken = errors.New("tenant: invalid kiosk token")

// TokenResolver resolves a kiosk token to the station it is locked to.
type TokenResolver interface {
	ResolveStationFromToken(token string) (string, error)
}

// Source records which rule produced a station id.
type Source string

const (
	SourceToken    Source = "token"
	SourceExplicit Source = "explicit"
	SourceDefault  Source = "default"
)

// Resolution is the outcome of resolving a station.
type Resolution struct {
	StationID string
	Source    Source
}

// Locked reports whether the station came from a kiosk token and therefore
// cannot be changed by the caller.
func (r Resolution) Locked() bool {
	return r.Source == SourceToken
}

// Inputs are the raw values a station may be taken from.
type Inputs struct {
	Token    string
	Explicit string
}

// Resolver applies the precedence kiosk token, explicit choice, default.
// It holds no mutable state.
type Resolver struct {
	tokens         TokenResolver
	defaultStation string
}

// NewResolver creates a Resolver. tokens may be nil when kiosk mode is not
// configured; any token presented is then rejected.
func NewResolver(tokens TokenResolver, defaultStation string) *Resolver {
	return &Resolver{tokens: tokens, defaultStation: defaultStation}
}

// DefaultStation returns the process-wide default tenant.
func (r *Resolver) DefaultStation() string {
	return r.defaultStation
}

// Resolve picks the station for in.
func (r *Resolver) Resolve(in Inputs) (Resolution, error) {
	if token := strings.TrimSpace(in.Token); token != "" {
		if r.tokens == nil {
			return Resolution{}, ErrInvalidToken
		}
		stationID, err := r.tokens.ResolveStationFromToken(token)
		if err != nil || stationID == "" {
			return Resolution{}, ErrInvalidToken
		}
		return Resolution{StationID: stationID, Source: SourceToken}, nil
	}
	if explicit := strings.TrimSpace(in.Explicit); explicit != "" {
		return Resolution{StationID: explicit, Source: SourceExplicit}, nil
	}
	return Resolution{StationID: r.defaultStation, Source: SourceDefault}, nil
}

// InputsFromRequest extracts token and explicit station from an HTTP request.
// Headers win over query parameters.
func InputsFromRequest(req *http.Request) Inputs {
	q := req.URL.Query()
	token := req.Header.Get(HeaderKioskToken)
	if token == "" {
		token = q.Get(QueryKioskToken)
	}
	explicit := req.Header.Get(HeaderStationID)
	if explicit == "" {
		explicit = q.Get(QueryStationID)
	}
	return Inputs{Token: token, Explicit: explicit}
}

// FromRequest resolves the station for an HTTP request.
func (r *Resolver) FromRequest(req *http.Request) (Resolution, error) {
	return r.Resolve(InputsFromRequest(req))
}

// ForJoin resolves the station for a socket join-station frame. A socket
// opened with a kiosk token stays on that token's station whatever it asks for.
func (r *Resolver) ForJoin(conn Resolution, requested string) Resolution {
	if conn.Locked() {
		return conn
	}
	if requested = strings.TrimSpace(requested); requested != "" {
		return Resolution{StationID: requested, Source: SourceExplicit}
	}
	if conn.StationID != "" {
		return conn
	}
	return Resolution{StationID: r.defaultStation, Source: SourceDefault}
}

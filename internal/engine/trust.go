package engine

import (
	"strings"

	"rfwatch/internal/config"
	"rfwatch/internal/normalize"
)

// TrustSet holds operator-vetted emitters and the watchlist.
type TrustSet struct {
	TrustedIDs   map[string]struct{}
	TrustedNames map[string]struct{}
	Watchlist    map[string]struct{}
}

func buildTrustSet(cfg *config.Config) *TrustSet {
	return &TrustSet{
		TrustedIDs:   buildIDSet(cfg.Trust.TrustedIDs),
		TrustedNames: buildNameSet(cfg.Trust.TrustedNames),
		Watchlist:    buildIDSet(cfg.Trust.Watchlist),
	}
}

func buildIDSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		id := normalize.CanonicalID(v)
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func buildNameSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		name := strings.ToLower(strings.TrimSpace(v))
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (t *TrustSet) IsTrustedID(id string) bool {
	if t == nil || t.TrustedIDs == nil {
		return false
	}
	_, ok := t.TrustedIDs[id]
	return ok
}

func (t *TrustSet) IsTrustedName(name string) bool {
	if t == nil || t.TrustedNames == nil || name == "" {
		return false
	}
	_, ok := t.TrustedNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (t *TrustSet) IsWatched(id string) bool {
	if t == nil || t.Watchlist == nil {
		return false
	}
	_, ok := t.Watchlist[id]
	return ok
}

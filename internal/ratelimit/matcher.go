package ratelimit

import "slices"

// KeyMatcher decides whether a key belongs to a whitelist or blacklist.
type KeyMatcher interface {
	Match(key string) bool
}

// KeyList matches keys by membership.
type KeyList []string

func (l KeyList) Match(key string) bool {
	return slices.Contains(l, key)
}

// KeyFunc matches keys with a predicate.
type KeyFunc func(key string) bool

func (f KeyFunc) Match(key string) bool {
	return f(key)
}

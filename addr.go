package coalition

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressMatcher matches to a range of ips or domains.
// It is used to check whether a worker belongs to a worker group.
type AddressMatcher interface {
	Match(string) bool
}

// IPMatcher matches to an ip or more.
type IPMatcher []ipPartMatcher

func (m IPMatcher) Match(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return false
		}
		if n < 0 || n >= 256 {
			return false
		}
		if !m[i].Match(n) {
			return false
		}
	}
	return true
}

type ipPartMatcher interface {
	Match(int) bool
}

type ipPartAny struct{}

func (ipPartAny) Match(n int) bool {
	return true
}

type ipPartRange struct {
	start, end int
}

func (m ipPartRange) Match(n int) bool {
	return m.start <= n && n <= m.end
}

// parseIPPart parses one part of ip pattern, which is a number, '*' or range like '[10-20]'.
func parseIPPart(p string) (ipPartMatcher, error) {
	if p == "*" {
		return ipPartAny{}, nil
	}
	octet := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return -1, err
		}
		if n < 0 || n >= 256 {
			return -1, fmt.Errorf("an ip part should be 0-255: %v", n)
		}
		return n, nil
	}
	if !strings.HasPrefix(p, "[") || !strings.HasSuffix(p, "]") {
		n, err := octet(p)
		if err != nil {
			return nil, fmt.Errorf("unknown formatting for ip part: %v", p)
		}
		return ipPartRange{n, n}, nil
	}
	rng := strings.Split(p[1:len(p)-1], "-")
	if len(rng) != 2 {
		return nil, fmt.Errorf("invalid ip range: %v", p)
	}
	s, err := octet(rng[0])
	if err != nil {
		return nil, fmt.Errorf("invalid ip range: %v", p)
	}
	e, err := octet(rng[1])
	if err != nil {
		return nil, fmt.Errorf("invalid ip range: %v", p)
	}
	if s > e {
		return nil, fmt.Errorf("ip range start is bigger than end: %v", p)
	}
	return ipPartRange{s, e}, nil
}

// IPMatcherFromString creates an IPMatcher from a pattern like "10.0.[1-3].*".
// Only IPv4 is supported for now.
func IPMatcherFromString(s string) (IPMatcher, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("ip does not consists of 4 parts: %v", s)
	}
	m := make(IPMatcher, 4)
	for i, p := range parts {
		pm, err := parseIPPart(p)
		if err != nil {
			return nil, err
		}
		m[i] = pm
	}
	return m, nil
}

// DomainMatcher matches to a range of domains, like "*.render.example.com".
// Each '*' matches exactly one part of a domain.
type DomainMatcher []string

// DomainMatcherFromString creates a DomainMatcher.
func DomainMatcherFromString(s string) (DomainMatcher, error) {
	if s == "" {
		return nil, fmt.Errorf("cannot create a domain matcher from empty string")
	}
	return DomainMatcher(strings.Split(s, ".")), nil
}

func (m DomainMatcher) Match(s string) bool {
	if len(m) == 0 || s == "" {
		return false
	}
	parts := strings.Split(s, ".")
	if len(m) != len(parts) {
		return false
	}
	for i, p := range parts {
		if m[i] != "*" && m[i] != p {
			return false
		}
	}
	return true
}

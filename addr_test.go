package coalition

import "testing"

func TestIPMatcherMatch(t *testing.T) {
	cases := []struct {
		matcher   string
		matches   []string
		unmatches []string
	}{
		{
			matcher:   "127.0.0.1",
			matches:   []string{"127.0.0.1"},
			unmatches: []string{"127.0.0.2", "127.0.0.3", "localhost"},
		},
		{
			matcher:   "127.0.0.*",
			matches:   []string{"127.0.0.1", "127.0.0.2", "127.0.0.3"},
			unmatches: []string{"127.0.1.1", "127.0.0.256", "127.0.0.-1"},
		},
		{
			matcher:   "*.*.*.*",
			matches:   []string{"0.0.0.0", "255.255.255.255"},
			unmatches: []string{"127.0.0.256", "127.0.256.0"},
		},
		{
			matcher:   "127.0.[0-2].*",
			matches:   []string{"127.0.0.1", "127.0.1.1", "127.0.2.1"},
			unmatches: []string{"127.0.3.1", "127.0.4.1"},
		},
	}
	for _, c := range cases {
		m, err := IPMatcherFromString(c.matcher)
		if err != nil {
			t.Fatalf("matcher %v: IPMatcherFromString: %v", c.matcher, err)
		}
		for _, s := range c.matches {
			if !m.Match(s) {
				t.Fatalf("matcher %v: want match, got unmatch: %v", c.matcher, s)
			}
		}
		for _, s := range c.unmatches {
			if m.Match(s) {
				t.Fatalf("matcher %v: want unmatch, got match: %v", c.matcher, s)
			}
		}
	}
}

func TestIPMatcherFromStringInvalid(t *testing.T) {
	for _, s := range []string{"", "127.0.0", "127.0.0.256", "127.0.[2-1].*", "127.0.[0-300].*", "a.b.c.d"} {
		_, err := IPMatcherFromString(s)
		if err == nil {
			t.Fatalf("%q: want error, got nil", s)
		}
	}
}

func TestDomainMatcherMatch(t *testing.T) {
	cases := []struct {
		matcher   string
		matches   []string
		unmatches []string
	}{
		{
			matcher:   "localhost",
			matches:   []string{"localhost"},
			unmatches: []string{"remotehost", "mylocalhost"},
		},
		{
			matcher:   "*.render.imagvfx.com",
			matches:   []string{"a.render.imagvfx.com", "b.render.imagvfx.com"},
			unmatches: []string{"render.imagvfx.com", "a.comp.imagvfx.com"},
		},
	}
	for _, c := range cases {
		m, err := DomainMatcherFromString(c.matcher)
		if err != nil {
			t.Fatalf("matcher %v: DomainMatcherFromString: %v", c.matcher, err)
		}
		for _, s := range c.matches {
			if !m.Match(s) {
				t.Fatalf("matcher %v: want match, got unmatch: %v", c.matcher, s)
			}
		}
		for _, s := range c.unmatches {
			if m.Match(s) {
				t.Fatalf("matcher %v: want unmatch, got match: %v", c.matcher, s)
			}
		}
	}
}

package provider

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// ProxyList is a fixed set of outbound HTTP proxies. One is chosen at random
// for every upstream request.
type ProxyList struct {
	proxies []*url.URL
}

// ParseProxy parses a "host:port:user:pass" or "host:port" line.
func ParseProxy(line string) (*url.URL, error) {
	parts := strings.Split(strings.TrimSpace(line), ":")
	switch len(parts) {
	case 2:
		return &url.URL{Scheme: "http", Host: parts[0] + ":" + parts[1]}, nil
	case 4:
		return &url.URL{
			Scheme: "http",
			User:   url.UserPassword(parts[2], parts[3]),
			Host:   parts[0] + ":" + parts[1],
		}, nil
	default:
		return nil, fmt.Errorf("proxy %q: want host:port:user:pass", line)
	}
}

// NewProxyList builds a list from already parsed proxies.
func NewProxyList(proxies ...*url.URL) *ProxyList {
	return &ProxyList{proxies: proxies}
}

// LoadProxies reads one proxy per line from path. Blank lines and lines
// starting with # are skipped. An empty path yields an empty list.
func LoadProxies(path string) (*ProxyList, error) {
	if path == "" {
		return &ProxyList{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxies: %w", err)
	}
	defer f.Close()

	list := &ProxyList{}
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		u, err := ParseProxy(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		list.proxies = append(list.proxies, u)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read proxies: %w", err)
	}
	return list, nil
}

// Len returns the number of proxies.
func (l *ProxyList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.proxies)
}

// Random returns a random proxy, or nil when the list is empty.
func (l *ProxyList) Random() *url.URL {
	if l.Len() == 0 {
		return nil
	}
	return l.proxies[rand.IntN(len(l.proxies))]
}

// ProxyFunc is suitable for http.Transport.Proxy. With an empty list it
// falls back to the environment.
func (l *ProxyList) ProxyFunc() func(*http.Request) (*url.URL, error) {
	if l.Len() == 0 {
		return http.ProxyFromEnvironment
	}
	return func(*http.Request) (*url.URL, error) {
		return l.Random(), nil
	}
}

package fetch

import (
	"net/url"
	"strings"
)

// Route names reported in results, logs and metrics
const (
	RouteDirect        = "direct"
	RouteNoReferer     = "direct-no-referer"
	RouteOriginReferer = "direct-origin-referer"
)

const (
	proxyRoutePrefix      = "proxy:"
	acceptImage           = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// route is one way of requesting the target within a pass
type route struct {
	name    string
	target  string
	headers map[string]string
	proxy   bool
}

// routes lists every route for target in the order they are tried
func (s *Strategy) routes(target *url.URL) []route {
	raw := target.String()
	origin := target.Scheme + "://" + target.Host + "/"

	base := map[string]string{
		"User-Agent":      s.policy.UserAgent,
		"Accept":          acceptImage,
		"Accept-Language": s.policy.AcceptLanguage,
	}
	if base["Accept-Language"] == "" {
		base["Accept-Language"] = defaultAcceptLanguage
	}

	referer := s.policy.Referer
	if referer == "" {
		referer = origin
	}
	routes := []route{{name: RouteDirect, target: raw, headers: withHeader(base, "Referer", referer)}}

	if s.policy.HeaderVariants {
		routes = append(routes, route{name: RouteNoReferer, target: raw, headers: base})
		if referer != origin {
			routes = append(routes, route{name: RouteOriginReferer, target: raw, headers: withHeader(base, "Referer", origin)})
		}
	}

	for _, tmpl := range s.policy.Proxies {
		proxied, name := expandProxy(tmpl, raw)
		if proxied == "" {
			continue
		}
		routes = append(routes, route{name: name, target: proxied, headers: base, proxy: true})
	}

	return routes
}

// expandProxy fills a relay template. {url} receives the query-escaped
// target and {rawurl} the target as is. A template with neither
// placeholder gets the escaped target appended.
func expandProxy(tmpl, target string) (string, string) {
	tmpl = strings.TrimSpace(tmpl)
	if tmpl == "" {
		return "", ""
	}

	var expanded string
	if strings.Contains(tmpl, "{url}") || strings.Contains(tmpl, "{rawurl}") {
		expanded = strings.NewReplacer("{url}", url.QueryEscape(target), "{rawurl}", target).Replace(tmpl)
	} else {
		expanded = tmpl + url.QueryEscape(target)
	}

	name := proxyRoutePrefix + tmpl
	if u, err := url.Parse(expanded); err == nil && u.Host != "" {
		name = proxyRoutePrefix + u.Hostname()
	}
	return expanded, name
}

func withHeader(h map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[key] = value
	return out
}

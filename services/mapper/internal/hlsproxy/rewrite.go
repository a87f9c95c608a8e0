package hlsproxy

import (
	"net/url"
	"strings"
)

// Rewrite points every URI of an HLS playlist at the proxy. Relative URIs
// are resolved against baseURL first. Tag lines are kept except for their
// URI="…" attribute.
func Rewrite(body, baseURL string, proxied func(target string) (string, error)) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trim := strings.TrimSpace(line)
		switch {
		case trim == "":
		case strings.HasPrefix(trim, "#"):
			if lines[i], err = rewriteURIAttr(line, base, proxied); err != nil {
				return "", err
			}
		default:
			if lines[i], err = proxied(resolve(base, trim)); err != nil {
				return "", err
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

func rewriteURIAttr(line string, base *url.URL, proxied func(string) (string, error)) (string, error) {
	const attr = `URI="`
	start := strings.Index(line, attr)
	if start < 0 {
		return line, nil
	}
	start += len(attr)
	end := strings.IndexByte(line[start:], '"')
	if end < 0 {
		return line, nil
	}
	u, err := proxied(resolve(base, line[start:start+end]))
	if err != nil {
		return "", err
	}
	return line[:start] + u + line[start+end:], nil
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

package matrix

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultPlatform is used when a browser token names no platform.
	DefaultPlatform = "Windows 10"
	// LatestVersion is submitted when a browser token names no version.
	LatestVersion = "latest"
)

var (
	// ErrUnsupportedPlatform is returned for platforms the cloud cannot run.
	ErrUnsupportedPlatform = errors.New("platform is not supported in Sauce Cloud")
	// ErrInvalidBrowser is returned for browser tokens that cannot be parsed.
	ErrInvalidBrowser = errors.New("invalid browser specification")
)

// disallowedPlatformPrefixes are matched case-insensitively against the start
// of the platform name.
var disallowedPlatformPrefixes = []string{"mac", "osx", "os x"}

// Browser is one parsed `browserName:browserVersion:platformName:screenResolution` token.
type Browser struct {
	Name       string
	Version    string // empty means latest
	Platform   string
	Resolution string
}

// ParseBrowser parses a single colon-delimited token. Only the browser name is
// mandatory; a missing platform becomes DefaultPlatform.
func ParseBrowser(token string) (Browser, error) {
	token = strings.TrimSpace(token)
	fields := strings.Split(token, ":")
	if len(fields) > 4 {
		return Browser{}, fmt.Errorf("%w '%s': expected at most 4 colon-separated fields (browserName:browserVersion:platformName:screenResolution)", ErrInvalidBrowser, token)
	}
	for len(fields) < 4 {
		fields = append(fields, "")
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	b := Browser{
		Name:       fields[0],
		Version:    fields[1],
		Platform:   normalizePlatform(fields[2]),
		Resolution: fields[3],
	}
	if b.Name == "" {
		return Browser{}, fmt.Errorf("%w '%s': browser name is required", ErrInvalidBrowser, token)
	}
	if err := ValidatePlatform(b.Platform); err != nil {
		return Browser{}, err
	}
	return b, nil
}

// ParseBrowsers parses a comma-separated list of tokens. Blank tokens are skipped.
func ParseBrowsers(list string) ([]Browser, error) {
	var browsers []Browser
	for _, token := range strings.Split(list, ",") {
		if strings.TrimSpace(token) == "" {
			continue
		}
		b, err := ParseBrowser(token)
		if err != nil {
			return nil, err
		}
		browsers = append(browsers, b)
	}
	if len(browsers) == 0 {
		return nil, fmt.Errorf("%w: no browser given", ErrInvalidBrowser)
	}
	return browsers, nil
}

// ValidatePlatform rejects platform families the cloud does not run Cypress on.
func ValidatePlatform(platform string) error {
	lower := strings.ToLower(strings.TrimSpace(platform))
	for _, prefix := range disallowedPlatformPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return fmt.Errorf("%w: platform '%s'. If you'd like to see this, request it at https://saucelabs.ideas.aha.io/", ErrUnsupportedPlatform, platform)
		}
	}
	return nil
}

// normalizePlatform maps the empty string and generic Windows spellings onto
// DefaultPlatform.
func normalizePlatform(platform string) string {
	switch strings.ToLower(platform) {
	case "", "windows", "win":
		return DefaultPlatform
	}
	return platform
}

// VersionOrLatest returns the version to submit for a possibly empty version.
func VersionOrLatest(v string) string {
	if v == "" {
		return LatestVersion
	}
	return v
}

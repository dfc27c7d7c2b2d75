package sauce

import (
	"errors"
	"fmt"
	"strings"
)

// Region is a Sauce Labs data center.
type Region string

const (
	RegionUSWest    Region = "us-west-1"
	RegionEUCentral Region = "eu-central-1"
	RegionStaging   Region = "staging"
)

// ErrUnsupportedRegion is returned by ParseRegion for unknown names.
var ErrUnsupportedRegion = errors.New("unsupported region")

// ParseRegion maps a user-supplied region name onto a Region. The empty
// string selects the US data center.
func ParseRegion(s string) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "us", "us-west-1":
		return RegionUSWest, nil
	case "eu", "eu-central-1":
		return RegionEUCentral, nil
	case "staging":
		return RegionStaging, nil
	}
	return "", fmt.Errorf("%w %s: use one of us, eu", ErrUnsupportedRegion, s)
}

func (r Region) domain() string {
	if r == RegionStaging {
		return "saucelabs.net"
	}
	return "saucelabs.com"
}

// APIURL is the REST endpoint of the region.
func (r Region) APIURL() string {
	return fmt.Sprintf("https://api.%s.%s", r, r.domain())
}

// AppURL is the web UI root of the region.
func (r Region) AppURL() string {
	if r == RegionUSWest {
		return "https://app.saucelabs.com"
	}
	return fmt.Sprintf("https://app.%s.%s", r, r.domain())
}

// BuildURL links to a build in the web UI.
func (r Region) BuildURL(buildID string) string {
	return r.AppURL() + "/builds/" + buildID
}

// JobURL links to a job in the web UI.
func (r Region) JobURL(jobID string) string {
	return r.AppURL() + "/tests/" + jobID
}

package salesforce

import (
	"regexp"
	"strconv"
)

// Usage is one used/total pair from the Sforce-Limit-Info response header.
type Usage struct {
	Used  int
	Total int
}

// PerAppUsage is the per-connected-app usage pair, when present.
type PerAppUsage struct {
	Used  int
	Total int
	Name  string
}

// APIUsage is the most recently observed rate-limit snapshot. It is
// overwritten on every call that returns the header; concurrent readers may
// see a stale value (last-write-wins, not historical).
type APIUsage struct {
	API    *Usage
	PerApp *PerAppUsage
}

var (
	apiUsageRe       = regexp.MustCompile(`[^-]?api-usage=(\d+)/(\d+)`)
	perAppAPIUsageRe = regexp.MustCompile(`.+per-app-api-usage=(\d+)/(\d+)\(appName=(.+)\)`)
)

// parseAPIUsage extracts usage pairs from the Sforce-Limit-Info header
// value, e.g. "api-usage=18/5000" or
// "api-usage=25/5000; per-app-api-usage=17/250(appName=sample-connected-app)".
func parseAPIUsage(limitInfo string) APIUsage {
	var usage APIUsage
	if m := apiUsageRe.FindStringSubmatch(limitInfo); m != nil {
		used, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		usage.API = &Usage{Used: used, Total: total}
	}
	if m := perAppAPIUsageRe.FindStringSubmatch(limitInfo); m != nil {
		used, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		usage.PerApp = &PerAppUsage{Used: used, Total: total, Name: m[3]}
	}
	return usage
}

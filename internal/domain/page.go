// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// PageKind tells whether the current page can carry the reputation panel.
type PageKind int

const (
	// KindNone is a page that never shows the panel.
	KindNone PageKind = iota
	// KindSubjectScope is a page about one contributor, optionally within a repository.
	KindSubjectScope
)

func (k PageKind) String() string {
	if k == KindSubjectScope {
		return "subject"
	}
	return "none"
}

// PageContext is derived from a location string and never changes afterwards.
type PageContext struct {
	Kind    PageKind `json:"kind"`
	Owner   string   `json:"owner,omitempty"`
	Repo    string   `json:"repo,omitempty"`
	Number  int      `json:"number,omitempty"`
	Subject string   `json:"subject,omitempty"`
}

// RequiresRepo reports whether metrics for this page are repository scoped.
// The subject of such a page is only known once its anchor has rendered.
func (p PageContext) RequiresRepo() bool {
	return p.Owner != "" && p.Repo != ""
}

// Qualifies reports whether the panel may be mounted for this page.
func (p PageContext) Qualifies() bool {
	return p.Kind == KindSubjectScope
}

func (p PageContext) String() string {
	switch {
	case !p.Qualifies():
		return "none"
	case p.RequiresRepo():
		return p.Owner + "/" + p.Repo + "#" + strconv.Itoa(p.Number)
	default:
		return "@" + p.Subject
	}
}

var (
	namePattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	loginPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)
)

// reservedPaths are first path segments on github.com that are not user profiles.
var reservedPaths = map[string]bool{
	"about": true, "apps": true, "codespaces": true, "collections": true,
	"dashboard": true, "enterprise": true, "explore": true, "features": true,
	"issues": true, "login": true, "logout": true, "marketplace": true,
	"new": true, "notifications": true, "orgs": true, "organizations": true,
	"pricing": true, "pulls": true, "search": true, "security": true,
	"settings": true, "signup": true, "sponsors": true, "topics": true,
	"trending": true,
}

// ParsePageContext derives the page context of a GitHub location.
// Pull request pages (/{owner}/{repo}/pull/{n}[/...]) are repository scoped,
// profile pages (/{login}) are globally scoped; everything else is KindNone.
func ParsePageContext(location string) PageContext {
	u, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return PageContext{}
	}
	host := strings.ToLower(u.Hostname())
	if host != "github.com" && host != "www.github.com" {
		return PageContext{}
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	switch {
	case len(segments) == 1:
		login := segments[0]
		if reservedPaths[strings.ToLower(login)] || !loginPattern.MatchString(login) {
			return PageContext{}
		}
		return PageContext{Kind: KindSubjectScope, Subject: login}
	case len(segments) >= 4 && segments[2] == "pull":
		owner, repo := segments[0], segments[1]
		if reservedPaths[strings.ToLower(owner)] || !namePattern.MatchString(owner) || !namePattern.MatchString(repo) {
			return PageContext{}
		}
		number, err := strconv.Atoi(segments[3])
		if err != nil || number <= 0 {
			return PageContext{}
		}
		return PageContext{Kind: KindSubjectScope, Owner: owner, Repo: repo, Number: number}
	default:
		return PageContext{}
	}
}

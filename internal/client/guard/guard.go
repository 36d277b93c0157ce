// Package guard decides whether a page may be shown for the current
// authentication state or where the user should be sent instead.
//
// The guard only shapes navigation. The server checks every privileged call
// on its own, so a bypassed guard exposes no data.
package guard

import "github.com/melotech/melotech/internal/client/session"

// Role is the kind of user a page is meant for.
type Role string

const (
	Public Role = "public"
	Artist Role = "artist"
	Admin  Role = "admin"
)

// Kind is what the caller should do with a page.
type Kind int

const (
	None Kind = iota
	Redirect
)

// Action is the outcome of Decide. Path is set only for Redirect.
type Action struct {
	Kind Kind
	Path string
}

// Landing pages.
const (
	SignInPath     = "/"
	AdminHomePath  = "/admin"
	ArtistHomePath = "/artist"
)

// Routes maps every page to the role it requires.
var Routes = map[string]Role{
	"/":                   Public,
	"/admin":              Admin,
	"/adminview":          Admin,
	"/artist":             Artist,
	"/submissions/create": Artist,
	"/submissions/view":   Artist,
}

// Decide is pure: the same inputs always give the same Action. While the state
// is loading it returns None; use Blocked to hold rendering.
func Decide(required Role, st session.State) Action {
	if st.Loading || required == Public {
		return Action{Kind: None}
	}
	if !st.IsAuthenticated {
		return redirect(SignInPath)
	}
	if required == Admin && !st.IsAdmin {
		return redirect(ArtistHomePath)
	}
	if required == Artist && st.IsAdmin {
		return redirect(AdminHomePath)
	}
	return Action{Kind: None}
}

// Blocked reports that nothing should be rendered yet.
func Blocked(st session.State) bool {
	return st.Loading
}

// DecidePath looks path up in Routes. Unknown paths are treated as public.
func DecidePath(path string, st session.State) Action {
	required, ok := Routes[path]
	if !ok {
		required = Public
	}
	return Decide(required, st)
}

// Home is where a resolved user lands after signing in.
func Home(st session.State) string {
	switch {
	case !st.IsAuthenticated:
		return SignInPath
	case st.IsAdmin:
		return AdminHomePath
	default:
		return ArtistHomePath
	}
}

func redirect(path string) Action {
	return Action{Kind: Redirect, Path: path}
}

package release

// CredentialProvider is one tier of the ordered authentication fallback:
// user-supplied token, embedded read-only token, anonymous.
type CredentialProvider struct {
	Name  string
	Token string
}

// Providers builds the tier list. Empty tokens are skipped except the final
// anonymous tier, which is always present.
func Providers(userToken, embeddedToken string) []CredentialProvider {
	var tiers []CredentialProvider
	if userToken != "" {
		tiers = append(tiers, CredentialProvider{Name: "user", Token: userToken})
	}
	if embeddedToken != "" {
		tiers = append(tiers, CredentialProvider{Name: "embedded", Token: embeddedToken})
	}
	return append(tiers, CredentialProvider{Name: "anonymous"})
}

// AuthOutcome is the tagged result of trying one credential tier. Keeping
// "wrong credential" distinct from "network down" is what lets the resolver
// fall through on the former and surface the latter immediately.
type AuthOutcome int

const (
	AuthSuccess AuthOutcome = iota
	AuthUnauthorized
	AuthNetworkError
)

type AuthResult struct {
	Outcome AuthOutcome
	Release *Release
	Err     error
}

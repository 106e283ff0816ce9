package secret

// Logical secret keys, each further namespaced by environment name.
const (
	KeyOAuthPrivateKey    = "environments.oauth.privateKey"
	KeyOAuthPublicKey     = "environments.oauth.publicKey"
	KeyOAuthAccessToken   = "environments.oauth.accesstoken"
	KeyOAuthExpiry        = "environments.oauth.expiry"
	KeyOAuthRefreshToken  = "environments.oauth.refreshtoken"
	KeyOAuthRefreshExpiry = "environments.oauth.refreshexpiry"

	KeyPATClientID     = "environments.pat.clientid"
	KeyPATClientSecret = "environments.pat.clientsecret"
	KeyPATAccessToken  = "environments.pat.accesstoken"
)

// AllKeys lists every secret key an environment may own. Environment
// deletion walks this list so no credential material survives the record.
var AllKeys = []string{
	KeyOAuthPrivateKey,
	KeyOAuthPublicKey,
	KeyOAuthAccessToken,
	KeyOAuthExpiry,
	KeyOAuthRefreshToken,
	KeyOAuthRefreshExpiry,
	KeyPATClientID,
	KeyPATClientSecret,
	KeyPATAccessToken,
}

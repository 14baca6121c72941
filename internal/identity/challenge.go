package identity

import "fmt"

// WWWAuthenticate builds the Bearer challenge header value for a 401
// response, pointing the agent at this gateway's own protected-resource
// metadata document so it can discover the OAuth Facade (C2), per
// spec.md §4.1 and RFC 9728. The gateway only writes this header;
// nothing in the repository parses one.
func WWWAuthenticate(resourceMetadataURL string, reason error) string {
	if reason == nil {
		return fmt.Sprintf(`Bearer resource_metadata=%q`, resourceMetadataURL)
	}

	errorCode := "invalid_token"
	switch reason {
	case ErrExpired:
		errorCode = "invalid_token"
	case ErrMissingCredential:
		return fmt.Sprintf(`Bearer resource_metadata=%q`, resourceMetadataURL)
	}

	return fmt.Sprintf(`Bearer error=%q, error_description=%q, resource_metadata=%q`,
		errorCode, reason.Error(), resourceMetadataURL)
}

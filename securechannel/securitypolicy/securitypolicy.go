// Package securitypolicy defines the seam through which a SecureChannel's
// OPN handling delegates cryptographic acceptance checks, keeping
// securechannel itself free of any specific cipher suite.
package securitypolicy

import "github.com/uacore/eventcore/status"

// Policy validates the security parameters offered in an OPN request.
type Policy interface {
	// URI is the canonical policy URI, e.g.
	// "http://opcfoundation.org/UA/SecurityPolicy#None".
	URI() string
	// Accept is called with the peer's offered security policy URI; a
	// non-nil error rejects the OPN with SecurityPolicyRejected.
	Accept(offeredURI string) error
}

// None implements the "no security" policy: every OPN is accepted as long
// as the offered URI is empty or matches this policy's own URI.
type None struct{}

const noneURI = "http://opcfoundation.org/UA/SecurityPolicy#None"

func (None) URI() string { return noneURI }

func (None) Accept(offeredURI string) error {
	if offeredURI != "" && offeredURI != noneURI {
		return status.Newf(status.SecurityPolicyRejected, "securitypolicy: %q rejected by None policy", offeredURI)
	}
	return nil
}

package port

import "crypto/tls"

// CertificateStore hands out the client certificate of a signaling user,
// provisioning one the first time a username is seen.
type CertificateStore interface {
	Certificate(username string) (tls.Certificate, error)
}

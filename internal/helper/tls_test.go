package helper_test

import (
	"crypto/x509"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/go-proxychain/internal/helper"
)

func TestNewSelfSignedCert(t *testing.T) {
	c := qt.New(t)

	cert, err := helper.NewSelfSignedCert("localhost", "127.0.0.1")
	c.Assert(err, qt.IsNil)
	c.Assert(cert.Certificate, qt.Not(qt.HasLen), 0)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	c.Assert(err, qt.IsNil)
	c.Assert(leaf.DNSNames, qt.DeepEquals, []string{"localhost"})
	c.Assert(leaf.IPAddresses, qt.HasLen, 1)
	c.Assert(leaf.VerifyHostname("localhost"), qt.IsNil)
}

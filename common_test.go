package anvil

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"reflect"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func assertTrue(t *testing.T, test bool, msg string) {
	t.Helper()
	if !test {
		t.Fatal(msg)
	}
}

func assertError(t *testing.T, err error, msg string) {
	t.Helper()
	assertTrue(t, err != nil, msg)
}

func assertNotError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		msg += ": " + err.Error()
	}
	assertTrue(t, err == nil, msg)
}

func assertNil(t *testing.T, x interface{}, msg string) {
	t.Helper()
	assertTrue(t, x == nil || reflect.ValueOf(x).IsNil(), msg)
}

func assertNotNil(t *testing.T, x interface{}, msg string) {
	t.Helper()
	assertTrue(t, x != nil && !reflect.ValueOf(x).IsNil(), msg)
}

func assertEquals(t *testing.T, a, b interface{}) {
	t.Helper()
	assertTrue(t, a == b, fmt.Sprintf("%+v != %+v", a, b))
}

func assertByteEquals(t *testing.T, a, b []byte) {
	t.Helper()
	assertTrue(t, bytes.Equal(a, b), fmt.Sprintf("%x != %x", a, b))
}

func assertNotByteEquals(t *testing.T, a, b []byte) {
	t.Helper()
	assertTrue(t, !bytes.Equal(a, b), fmt.Sprintf("%x == %x", a, b))
}

func assertDeepEquals(t *testing.T, a, b interface{}) {
	t.Helper()
	assertTrue(t, reflect.DeepEqual(a, b), fmt.Sprintf("%+v != %+v", a, b))
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	assertTrue(t, KindOf(err) == kind, fmt.Sprintf("error %v is not of kind %v", err, kind))
}

func unhex(h string) []byte {
	b, err := hex.DecodeString(h)
	if err != nil {
		panic(err)
	}
	return b
}

// makeTestCertificate returns a self-signed P-256 certificate for name.
func makeTestCertificate(name string) (*Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(0xa0a0a0a0),
		Subject:               pkix.Name{CommonName: name},
		DNSNames:              []string{name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &Certificate{Chain: []*x509.Certificate{cert}, PrivateKey: priv}, nil
}

var (
	serverName        = "example.com"
	serverCertificate *Certificate
)

func init() {
	var err error
	serverCertificate, err = makeTestCertificate(serverName)
	if err != nil {
		panic(err)
	}
}

// tls13Config signs with the P-256 test certificate.
func tls13Config() *Config {
	return &Config{
		ServerName:       serverName,
		Certificates:     []*Certificate{serverCertificate},
		CipherSuites:     []CipherSuite{TLS_AES_128_GCM_SHA256},
		SignatureSchemes: []SignatureScheme{ECDSA_P256_SHA256},
		Timeout:          50 * time.Millisecond,
	}
}

func tls12Config() *Config {
	return &Config{
		HighestProtocolVersion: VersionTLS12,
		ServerName:             serverName,
		Certificates:           []*Certificate{serverCertificate},
		CipherSuites:           []CipherSuite{TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256},
		SignatureSchemes:       []SignatureScheme{ECDSA_P256_SHA256},
		Timeout:                50 * time.Millisecond,
	}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

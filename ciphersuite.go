package anvil

import (
	"crypto"
	"fmt"
)

// uint8 CipherSuite[2];
type CipherSuite uint16

const (
	TLS_NULL_WITH_NULL_NULL                       CipherSuite = 0x0000
	TLS_RSA_WITH_NULL_MD5                         CipherSuite = 0x0001
	TLS_RSA_WITH_NULL_SHA                         CipherSuite = 0x0002
	TLS_RSA_WITH_RC4_128_MD5                      CipherSuite = 0x0004
	TLS_RSA_WITH_RC4_128_SHA                      CipherSuite = 0x0005
	TLS_RSA_WITH_DES_CBC_SHA                      CipherSuite = 0x0009
	TLS_RSA_WITH_3DES_EDE_CBC_SHA                 CipherSuite = 0x000a
	TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA             CipherSuite = 0x0016
	TLS_RSA_WITH_AES_128_CBC_SHA                  CipherSuite = 0x002f
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA              CipherSuite = 0x0033
	TLS_DH_anon_WITH_AES_128_CBC_SHA              CipherSuite = 0x0034
	TLS_RSA_WITH_AES_256_CBC_SHA                  CipherSuite = 0x0035
	TLS_DHE_RSA_WITH_AES_256_CBC_SHA              CipherSuite = 0x0039
	TLS_RSA_WITH_AES_128_CBC_SHA256               CipherSuite = 0x003c
	TLS_RSA_WITH_AES_256_CBC_SHA256               CipherSuite = 0x003d
	TLS_PSK_WITH_AES_128_CBC_SHA                  CipherSuite = 0x008c
	TLS_DHE_PSK_WITH_AES_128_CBC_SHA              CipherSuite = 0x0090
	TLS_RSA_PSK_WITH_AES_128_CBC_SHA              CipherSuite = 0x0094
	TLS_RSA_WITH_AES_128_GCM_SHA256               CipherSuite = 0x009c
	TLS_RSA_WITH_AES_256_GCM_SHA384               CipherSuite = 0x009d
	TLS_DHE_RSA_WITH_AES_128_GCM_SHA256           CipherSuite = 0x009e
	TLS_PSK_WITH_AES_128_GCM_SHA256               CipherSuite = 0x00a8
	TLS_EMPTY_RENEGOTIATION_INFO_SCSV             CipherSuite = 0x00ff
	TLS_AES_128_GCM_SHA256                        CipherSuite = 0x1301
	TLS_AES_256_GCM_SHA384                        CipherSuite = 0x1302
	TLS_CHACHA20_POLY1305_SHA256                  CipherSuite = 0x1303
	TLS_AES_128_CCM_SHA256                        CipherSuite = 0x1304
	TLS_AES_128_CCM_8_SHA256                      CipherSuite = 0x1305
	TLS_FALLBACK_SCSV                             CipherSuite = 0x5600
	TLS_ECDH_ECDSA_WITH_AES_128_CBC_SHA           CipherSuite = 0xc004
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA          CipherSuite = 0xc009
	TLS_ECDHE_RSA_WITH_RC4_128_SHA                CipherSuite = 0xc011
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA            CipherSuite = 0xc013
	TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA            CipherSuite = 0xc014
	TLS_SRP_SHA_WITH_AES_128_CBC_SHA              CipherSuite = 0xc01d
	TLS_SRP_SHA_RSA_WITH_AES_128_CBC_SHA          CipherSuite = 0xc01e
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256       CipherSuite = 0xc02b
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256         CipherSuite = 0xc02f
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384         CipherSuite = 0xc030
	TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA            CipherSuite = 0xc035
	TLS_RSA_WITH_AES_128_CCM                      CipherSuite = 0xc09c
	TLS_RSA_WITH_AES_128_CCM_8                    CipherSuite = 0xc0a0
	TLS_ECDHE_ECDSA_WITH_AES_128_CCM              CipherSuite = 0xc0ac
	TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8            CipherSuite = 0xc0ae
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256   CipherSuite = 0xcca8
	TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256 CipherSuite = 0xcca9
)

// KeyExchangeAlgorithm is the pre-TLS 1.3 key exchange of a suite.
type KeyExchangeAlgorithm uint8

const (
	KexNull KeyExchangeAlgorithm = iota
	KexRSA
	KexDHERSA
	KexDHAnon
	KexECDHERSA
	KexECDHEECDSA
	KexECDHECDSA
	KexPSK
	KexDHEPSK
	KexECDHEPSK
	KexRSAPSK
	KexSRPSHA
	KexSRPSHARSA
	// KexTLS13 marks suites whose key exchange lives in extensions.
	KexTLS13
)

func (k KeyExchangeAlgorithm) isDH() bool {
	return k == KexDHERSA || k == KexDHAnon || k == KexDHEPSK
}

func (k KeyExchangeAlgorithm) isECDH() bool {
	return k == KexECDHERSA || k == KexECDHEECDSA || k == KexECDHECDSA || k == KexECDHEPSK
}

func (k KeyExchangeAlgorithm) isPSK() bool {
	return k == KexPSK || k == KexDHEPSK || k == KexECDHEPSK || k == KexRSAPSK
}

func (k KeyExchangeAlgorithm) isSRP() bool {
	return k == KexSRPSHA || k == KexSRPSHARSA
}

// signed reports whether the ServerKeyExchange of this exchange carries a
// signature.
func (k KeyExchangeAlgorithm) signed() bool {
	switch k {
	case KexDHERSA, KexECDHERSA, KexECDHEECDSA, KexSRPSHARSA:
		return true
	}
	return false
}

// sendsServerKeyExchange reports whether a ServerKeyExchange is part of the
// flight. Plain PSK sends one if there is an identity hint.
func (k KeyExchangeAlgorithm) sendsServerKeyExchange() bool {
	switch k {
	case KexRSA, KexECDHECDSA, KexRSAPSK, KexNull, KexTLS13:
		return false
	}
	return true
}

type CipherType uint8

const (
	CipherTypeStream CipherType = iota
	CipherTypeBlock
	CipherTypeAEAD
)

type CipherAlgorithm uint8

const (
	CipherNull CipherAlgorithm = iota
	CipherRC4_128
	CipherDES_CBC
	CipherDES_EDE_CBC
	CipherAES_128_CBC
	CipherAES_256_CBC
	CipherAES_128_GCM
	CipherAES_256_GCM
	CipherAES_128_CCM
	CipherAES_128_CCM_8
	CipherChaCha20Poly1305
)

type cipherAlgorithmParams struct {
	keySize     int
	fixedIVLen  int // implicit part of the nonce / CBC IV from the key block
	recordIVLen int // explicit per-record nonce
	blockSize   int
	tagLen      int
	typ         CipherType
}

var cipherAlgorithms = map[CipherAlgorithm]cipherAlgorithmParams{
	CipherNull:             {0, 0, 0, 0, 0, CipherTypeStream},
	CipherRC4_128:          {16, 0, 0, 0, 0, CipherTypeStream},
	CipherDES_CBC:          {8, 8, 0, 8, 0, CipherTypeBlock},
	CipherDES_EDE_CBC:      {24, 8, 0, 8, 0, CipherTypeBlock},
	CipherAES_128_CBC:      {16, 16, 0, 16, 0, CipherTypeBlock},
	CipherAES_256_CBC:      {32, 16, 0, 16, 0, CipherTypeBlock},
	CipherAES_128_GCM:      {16, 4, 8, 16, 16, CipherTypeAEAD},
	CipherAES_256_GCM:      {32, 4, 8, 16, 16, CipherTypeAEAD},
	CipherAES_128_CCM:      {16, 4, 8, 16, 16, CipherTypeAEAD},
	CipherAES_128_CCM_8:    {16, 4, 8, 16, 8, CipherTypeAEAD},
	CipherChaCha20Poly1305: {32, 12, 0, 0, 16, CipherTypeAEAD},
}

func (c CipherAlgorithm) KeySize() int    { return cipherAlgorithms[c].keySize }
func (c CipherAlgorithm) BlockSize() int  { return cipherAlgorithms[c].blockSize }
func (c CipherAlgorithm) Type() CipherType { return cipherAlgorithms[c].typ }

type MacAlgorithm uint8

const (
	MacNull MacAlgorithm = iota
	MacAEAD
	MacHMAC_MD5
	MacHMAC_SHA1
	MacHMAC_SHA256
	MacHMAC_SHA384
)

func (m MacAlgorithm) hash() crypto.Hash {
	switch m {
	case MacHMAC_MD5:
		return crypto.MD5
	case MacHMAC_SHA1:
		return crypto.SHA1
	case MacHMAC_SHA256:
		return crypto.SHA256
	case MacHMAC_SHA384:
		return crypto.SHA384
	}
	return 0
}

// Size is the MAC length, which is also the MAC key length.
func (m MacAlgorithm) Size() int {
	h := m.hash()
	if h == 0 {
		return 0
	}
	return h.Size()
}

// CipherSuiteParams describes the algorithms a suite selects.
type CipherSuiteParams struct {
	Suite       CipherSuite
	Name        string
	KeyExchange KeyExchangeAlgorithm
	Cipher      CipherAlgorithm
	Mac         MacAlgorithm
	Hash        crypto.Hash // PRF / transcript hash for TLS 1.2 and 1.3
	TLS13       bool
}

func (p CipherSuiteParams) KeyLen() int { return p.Cipher.KeySize() }

func (p CipherSuiteParams) String() string {
	return p.Name
}

func suite(id CipherSuite, name string, kex KeyExchangeAlgorithm, c CipherAlgorithm, mac MacAlgorithm, h crypto.Hash) CipherSuiteParams {
	return CipherSuiteParams{
		Suite:       id,
		Name:        name,
		KeyExchange: kex,
		Cipher:      c,
		Mac:         mac,
		Hash:        h,
		TLS13:       kex == KexTLS13,
	}
}

var cipherSuiteMap = map[CipherSuite]CipherSuiteParams{}

func init() {
	for _, p := range []CipherSuiteParams{
		suite(TLS_NULL_WITH_NULL_NULL, "TLS_NULL_WITH_NULL_NULL", KexNull, CipherNull, MacNull, crypto.SHA256),
		suite(TLS_RSA_WITH_NULL_MD5, "TLS_RSA_WITH_NULL_MD5", KexRSA, CipherNull, MacHMAC_MD5, crypto.SHA256),
		suite(TLS_RSA_WITH_NULL_SHA, "TLS_RSA_WITH_NULL_SHA", KexRSA, CipherNull, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_RC4_128_MD5, "TLS_RSA_WITH_RC4_128_MD5", KexRSA, CipherRC4_128, MacHMAC_MD5, crypto.SHA256),
		suite(TLS_RSA_WITH_RC4_128_SHA, "TLS_RSA_WITH_RC4_128_SHA", KexRSA, CipherRC4_128, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_DES_CBC_SHA, "TLS_RSA_WITH_DES_CBC_SHA", KexRSA, CipherDES_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_3DES_EDE_CBC_SHA, "TLS_RSA_WITH_3DES_EDE_CBC_SHA", KexRSA, CipherDES_EDE_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA, "TLS_DHE_RSA_WITH_3DES_EDE_CBC_SHA", KexDHERSA, CipherDES_EDE_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_128_CBC_SHA, "TLS_RSA_WITH_AES_128_CBC_SHA", KexRSA, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_DHE_RSA_WITH_AES_128_CBC_SHA, "TLS_DHE_RSA_WITH_AES_128_CBC_SHA", KexDHERSA, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_DH_anon_WITH_AES_128_CBC_SHA, "TLS_DH_anon_WITH_AES_128_CBC_SHA", KexDHAnon, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_256_CBC_SHA, "TLS_RSA_WITH_AES_256_CBC_SHA", KexRSA, CipherAES_256_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_DHE_RSA_WITH_AES_256_CBC_SHA, "TLS_DHE_RSA_WITH_AES_256_CBC_SHA", KexDHERSA, CipherAES_256_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_128_CBC_SHA256, "TLS_RSA_WITH_AES_128_CBC_SHA256", KexRSA, CipherAES_128_CBC, MacHMAC_SHA256, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_256_CBC_SHA256, "TLS_RSA_WITH_AES_256_CBC_SHA256", KexRSA, CipherAES_256_CBC, MacHMAC_SHA256, crypto.SHA256),
		suite(TLS_PSK_WITH_AES_128_CBC_SHA, "TLS_PSK_WITH_AES_128_CBC_SHA", KexPSK, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_DHE_PSK_WITH_AES_128_CBC_SHA, "TLS_DHE_PSK_WITH_AES_128_CBC_SHA", KexDHEPSK, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_PSK_WITH_AES_128_CBC_SHA, "TLS_RSA_PSK_WITH_AES_128_CBC_SHA", KexRSAPSK, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_128_GCM_SHA256, "TLS_RSA_WITH_AES_128_GCM_SHA256", KexRSA, CipherAES_128_GCM, MacAEAD, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_256_GCM_SHA384, "TLS_RSA_WITH_AES_256_GCM_SHA384", KexRSA, CipherAES_256_GCM, MacAEAD, crypto.SHA384),
		suite(TLS_DHE_RSA_WITH_AES_128_GCM_SHA256, "TLS_DHE_RSA_WITH_AES_128_GCM_SHA256", KexDHERSA, CipherAES_128_GCM, MacAEAD, crypto.SHA256),
		suite(TLS_PSK_WITH_AES_128_GCM_SHA256, "TLS_PSK_WITH_AES_128_GCM_SHA256", KexPSK, CipherAES_128_GCM, MacAEAD, crypto.SHA256),
		suite(TLS_AES_128_GCM_SHA256, "TLS_AES_128_GCM_SHA256", KexTLS13, CipherAES_128_GCM, MacAEAD, crypto.SHA256),
		suite(TLS_AES_256_GCM_SHA384, "TLS_AES_256_GCM_SHA384", KexTLS13, CipherAES_256_GCM, MacAEAD, crypto.SHA384),
		suite(TLS_CHACHA20_POLY1305_SHA256, "TLS_CHACHA20_POLY1305_SHA256", KexTLS13, CipherChaCha20Poly1305, MacAEAD, crypto.SHA256),
		suite(TLS_AES_128_CCM_SHA256, "TLS_AES_128_CCM_SHA256", KexTLS13, CipherAES_128_CCM, MacAEAD, crypto.SHA256),
		suite(TLS_AES_128_CCM_8_SHA256, "TLS_AES_128_CCM_8_SHA256", KexTLS13, CipherAES_128_CCM_8, MacAEAD, crypto.SHA256),
		suite(TLS_ECDH_ECDSA_WITH_AES_128_CBC_SHA, "TLS_ECDH_ECDSA_WITH_AES_128_CBC_SHA", KexECDHECDSA, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA, "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA", KexECDHEECDSA, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_ECDHE_RSA_WITH_RC4_128_SHA, "TLS_ECDHE_RSA_WITH_RC4_128_SHA", KexECDHERSA, CipherRC4_128, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA, "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA", KexECDHERSA, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA, "TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA", KexECDHERSA, CipherAES_256_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_SRP_SHA_WITH_AES_128_CBC_SHA, "TLS_SRP_SHA_WITH_AES_128_CBC_SHA", KexSRPSHA, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_SRP_SHA_RSA_WITH_AES_128_CBC_SHA, "TLS_SRP_SHA_RSA_WITH_AES_128_CBC_SHA", KexSRPSHARSA, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256", KexECDHEECDSA, CipherAES_128_GCM, MacAEAD, crypto.SHA256),
		suite(TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", KexECDHERSA, CipherAES_128_GCM, MacAEAD, crypto.SHA256),
		suite(TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384, "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384", KexECDHERSA, CipherAES_256_GCM, MacAEAD, crypto.SHA384),
		suite(TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA, "TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA", KexECDHEPSK, CipherAES_128_CBC, MacHMAC_SHA1, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_128_CCM, "TLS_RSA_WITH_AES_128_CCM", KexRSA, CipherAES_128_CCM, MacAEAD, crypto.SHA256),
		suite(TLS_RSA_WITH_AES_128_CCM_8, "TLS_RSA_WITH_AES_128_CCM_8", KexRSA, CipherAES_128_CCM_8, MacAEAD, crypto.SHA256),
		suite(TLS_ECDHE_ECDSA_WITH_AES_128_CCM, "TLS_ECDHE_ECDSA_WITH_AES_128_CCM", KexECDHEECDSA, CipherAES_128_CCM, MacAEAD, crypto.SHA256),
		suite(TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8, "TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8", KexECDHEECDSA, CipherAES_128_CCM_8, MacAEAD, crypto.SHA256),
		suite(TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256, "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256", KexECDHERSA, CipherChaCha20Poly1305, MacAEAD, crypto.SHA256),
		suite(TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256, "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256", KexECDHEECDSA, CipherChaCha20Poly1305, MacAEAD, crypto.SHA256),
	} {
		cipherSuiteMap[p.Suite] = p
	}
}

// CipherSuiteParamsFor looks up a suite. Signalling values and unknown
// suites are reported as not found.
func CipherSuiteParamsFor(cs CipherSuite) (CipherSuiteParams, bool) {
	p, ok := cipherSuiteMap[cs]
	return p, ok
}

func (cs CipherSuite) String() string {
	if p, ok := cipherSuiteMap[cs]; ok {
		return p.Name
	}
	switch cs {
	case TLS_EMPTY_RENEGOTIATION_INFO_SCSV:
		return "TLS_EMPTY_RENEGOTIATION_INFO_SCSV"
	case TLS_FALLBACK_SCSV:
		return "TLS_FALLBACK_SCSV"
	}
	return fmt.Sprintf("0x%04x", uint16(cs))
}

// prfHash returns the hash the PRF and transcript use for a suite at a
// given version. Only TLS 1.2 and later honour the suite hash.
func prfHash(params CipherSuiteParams, version ProtocolVersion) crypto.Hash {
	if version.AtLeast(VersionTLS12) && params.Hash != 0 {
		return params.Hash
	}
	return crypto.SHA256
}

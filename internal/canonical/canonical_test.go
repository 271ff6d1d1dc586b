package canonical

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspect-build/attestproof/internal/claims"
)

const word = 32

func testClaims(t *testing.T, price string) *claims.Claims {
	t.Helper()
	p, err := claims.ParsePrice(price)
	require.NoError(t, err)
	ts := uint64(1734719094)
	nonce := "n-1"
	return &claims.Claims{
		Isolation: claims.Isolation{
			AttestationType:  "sevsnpvm",
			ComplianceStatus: "azure-compliant-cvm",
			Debuggable:       false,
			VMPL:             2,
		},
		ClientPayload: &claims.ClientPayload{Price: p, Timestamp: &ts, Nonce: &nonce},
	}
}

// keyMaterial returns a 2048-bit style modulus, its exponent and a signature
// of matching width.
func keyMaterial(t *testing.T) (sig, e, n []byte) {
	t.Helper()
	n = make([]byte, 256)
	_, err := rand.Read(n)
	require.NoError(t, err)
	n[0] |= 0x80
	sig = make([]byte, 256)
	_, err = rand.Read(sig)
	require.NoError(t, err)
	return sig, []byte{0x01, 0x00, 0x01}, n
}

func TestEncodeRoundTrip(t *testing.T) {
	sig, e, n := keyMaterial(t)
	msg := []byte("eyJhbGciOiJSUzI1NiJ9.eyJpc3MiOiJ4In0")

	rec, err := NewRecord(sig, msg, e, n, testClaims(t, "3500.5"))
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0x00, 0x01, 0x00, 0x01}, rec.Exponent)
	assert.Equal(t, uint64(350050000000), rec.Price.Uint64())

	out, err := Encode(rec)
	require.NoError(t, err)

	back, err := Decode(out)
	require.NoError(t, err)
	assert.True(t, back.Equal(rec))
	assert.Equal(t, sig, back.Signature)
	assert.Equal(t, msg, back.Message)
	assert.Equal(t, n, back.Modulus)
	assert.Equal(t, "n-1", back.Nonce)
	assert.Equal(t, "sevsnpvm", back.AttestationType)
	assert.Equal(t, "azure-compliant-cvm", back.ComplianceStatus)
	assert.False(t, back.Debuggable)
	assert.Equal(t, uint8(2), back.VMPL)
}

func TestEncodeIsDeterministic(t *testing.T) {
	sig, e, n := keyMaterial(t)
	c := testClaims(t, "0.00000001")

	r1, err := NewRecord(sig, []byte("h.p"), e, n, c)
	require.NoError(t, err)
	r2, err := NewRecord(sig, []byte("h.p"), e, n, c)
	require.NoError(t, err)

	b1, err := Encode(r1)
	require.NoError(t, err)
	b2, err := Encode(r2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
	assert.Equal(t, Digest(b1), Digest(b2))
}

func TestEncodeHeadLayout(t *testing.T) {
	sig, e, n := keyMaterial(t)
	rec, err := NewRecord(sig, []byte("h.p"), e, n, testClaims(t, "3500.5"))
	require.NoError(t, err)
	rec.Debuggable = true

	out, err := Encode(rec)
	require.NoError(t, err)
	require.Zero(t, len(out)%word)
	require.Greater(t, len(out), 11*word)

	headWord := func(i int) []byte { return out[i*word : (i+1)*word] }

	// bytes4 is left aligned in its word.
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x01}, headWord(2)[:4])
	assert.Equal(t, make([]byte, word-4), headWord(2)[4:])

	assert.Equal(t, big.NewInt(350050000000), new(big.Int).SetBytes(headWord(4)))
	assert.Equal(t, uint64(1734719094), new(big.Int).SetBytes(headWord(5)).Uint64())
	assert.Equal(t, int64(1), new(big.Int).SetBytes(headWord(9)).Int64())
	assert.Equal(t, int64(2), new(big.Int).SetBytes(headWord(10)).Int64())

	// The first dynamic field starts right after the 11-word head.
	assert.Equal(t, int64(11*word), new(big.Int).SetBytes(headWord(0)).Int64())
	sigLen := new(big.Int).SetBytes(out[11*word : 12*word]).Int64()
	assert.Equal(t, int64(256), sigLen)
}

func TestNewRecordNormalizesWidths(t *testing.T) {
	sig, _, n := keyMaterial(t)
	padded := append([]byte{0x00}, n...)

	rec, err := NewRecord(sig, []byte("m"), []byte{0x00, 0x00, 0x03}, padded, testClaims(t, "1"))
	require.NoError(t, err)
	assert.Equal(t, n, rec.Modulus)
	assert.Equal(t, [4]byte{0, 0, 0, 3}, rec.Exponent)
	assert.Equal(t, uint64(100000000), rec.Price.Uint64())
}

func TestNewRecordWidthErrors(t *testing.T) {
	sig, e, n := keyMaterial(t)

	cases := []struct {
		name  string
		sig   []byte
		e     []byte
		n     []byte
		price string
	}{
		{"exponent too wide", sig, []byte{0x01, 0x00, 0x00, 0x00, 0x01}, n, "1"},
		{"zero exponent", sig, []byte{0x00}, n, "1"},
		{"short signature", sig[:255], e, n, "1"},
		{"long signature", append(append([]byte(nil), sig...), 0x01), e, n, "1"},
		{"empty modulus", sig, e, []byte{0, 0}, "1"},
		{"negative price", sig, e, n, "-1"},
		{"too precise price", sig, e, n, "0.000000001"},
		{"price overflow", sig, e, n, "1e80"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewRecord(c.sig, []byte("m"), c.e, c.n, testClaims(t, c.price))
			require.ErrorIs(t, err, ErrEncodingWidth)
		})
	}
}

func TestScalePriceBoundary(t *testing.T) {
	maxText := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)).String()
	// 2^256-1 units of 1e-8 is the largest representable price.
	p, err := claims.ParsePrice(maxText[:len(maxText)-8] + "." + maxText[len(maxText)-8:])
	require.NoError(t, err)
	u, err := ScalePrice(p)
	require.NoError(t, err)
	assert.Equal(t, new(uint256.Int).SetAllOne(), u)

	p, err = claims.ParsePrice("3500.50000000")
	require.NoError(t, err)
	u, err = ScalePrice(p)
	require.NoError(t, err)
	assert.Equal(t, uint64(350050000000), u.Uint64())
}

func TestNewRecordRequiresClientPayload(t *testing.T) {
	sig, e, n := keyMaterial(t)

	c := testClaims(t, "1")
	c.ClientPayload = nil
	_, err := NewRecord(sig, []byte("m"), e, n, c)
	require.ErrorIs(t, err, claims.ErrClaimMissing)

	for _, field := range []string{"price", "timestamp", "nonce"} {
		c := testClaims(t, "1")
		switch field {
		case "price":
			c.ClientPayload.Price = nil
		case "timestamp":
			c.ClientPayload.Timestamp = nil
		case "nonce":
			c.ClientPayload.Nonce = nil
		}
		_, err := NewRecord(sig, []byte("m"), e, n, c)
		require.ErrorIs(t, err, claims.ErrClaimMissing, field)
		var ce *claims.Error
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, claims.ClientPayloadPath+"."+field, ce.Name)
	}
}

func TestEmptyNonceRoundTrips(t *testing.T) {
	sig, e, n := keyMaterial(t)
	c := testClaims(t, "1")
	empty := ""
	c.ClientPayload.Nonce = &empty

	rec, err := NewRecord(sig, []byte("m"), e, n, c)
	require.NoError(t, err)
	out, err := Encode(rec)
	require.NoError(t, err)
	back, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, "", back.Nonce)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
	_, err = Decode([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestDigestMatchesKeccak(t *testing.T) {
	b := []byte("abi encoded bytes")
	d := Digest(b)
	assert.Equal(t, crypto.Keccak256(b), d[:])

	empty := Digest(nil)
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", hex.EncodeToString(empty[:]))
}

func TestSchemaSignature(t *testing.T) {
	assert.Equal(t,
		"(bytes,bytes,bytes4,bytes,uint256,uint64,string,string,string,bool,uint8)",
		SchemaSignature())
	assert.Equal(t, "bytes4 exponent", Fields()[2])
	assert.Equal(t, 1, SchemaVersion)
}

func TestRecordJSON(t *testing.T) {
	sig, e, n := keyMaterial(t)
	rec, err := NewRecord(sig, []byte("h.p"), e, n, testClaims(t, "3500.5"))
	require.NoError(t, err)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "0x00010001", m["exponent"])
	assert.Equal(t, "0x682e70", m["message"])
	assert.Equal(t, "350050000000", m["price"])
}

func TestRecordJSONRoundTrip(t *testing.T) {
	sig, e, n := keyMaterial(t)
	rec, err := NewRecord(sig, []byte("h.p"), e, n, testClaims(t, "3500.5"))
	require.NoError(t, err)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	var back Record
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, rec.Equal(&back))

	require.Error(t, json.Unmarshal([]byte(`{"exponent":"0x0101","price":"1"}`), &back))
	require.Error(t, json.Unmarshal([]byte(`{"exponent":"0x00010001","price":"abc"}`), &back))
}

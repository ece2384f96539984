package keyless

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/aptospilot/aptospilot/internal/bcs"
	"github.com/aptospilot/aptospilot/internal/ephemeral"
	"github.com/aptospilot/aptospilot/internal/storage"
	"github.com/aptospilot/aptospilot/internal/tagged"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount(t *testing.T) *Account {
	t.Helper()
	kp, err := ephemeral.New(bytes.Repeat([]byte{5}, 32), 1735689600, bytes.Repeat([]byte{6}, ephemeral.BlinderSize))
	require.NoError(t, err)
	addr, err := ParseAddress("0xabc123")
	require.NoError(t, err)
	return &Account{
		Address:   addr,
		Ephemeral: kp,
		Issuer:    "https://accounts.google.com",
		Audience:  "client-id",
		UIDKey:    "sub",
		UIDVal:    "1234567890",
		Pepper:    bytes.Repeat([]byte{9}, 31),
		Proof:     []byte(`{"proof":{"a":"0x1"}}`),
		JWT:       "header.payload.signature",
	}
}

func TestAccountCanonicalRoundTrip(t *testing.T) {
	acct := testAccount(t)

	raw, err := acct.MarshalCanonical()
	require.NoError(t, err)

	var got Account
	require.NoError(t, got.UnmarshalCanonical(raw))

	again, err := got.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, raw, again, "canonical bytes must be stable across a round trip")
	assert.Equal(t, acct.AddressHex(), got.AddressHex())
	assert.True(t, acct.Ephemeral.Equal(got.Ephemeral))
	assert.Equal(t, acct.Ephemeral.Nonce(), got.Ephemeral.Nonce())
	assert.Equal(t, acct.PublicKeyHex(), got.PublicKeyHex())
	assert.Equal(t, acct.JWT, got.JWT)
	assert.Equal(t, acct.Proof, got.Proof)
}

func TestAccountTaggedEncoding(t *testing.T) {
	acct := testAccount(t)

	data, err := tagged.MarshalOpaque(acct)
	require.NoError(t, err)

	var generic struct {
		Type string `json:"__type"`
		Data []int  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "KeylessAccount", generic.Type)
	assert.NotEmpty(t, generic.Data)

	var back Account
	require.NoError(t, tagged.UnmarshalOpaque(data, &back))
	assert.Equal(t, acct.AddressHex(), back.AddressHex())
}

func TestAccountRejectsCorruptBytes(t *testing.T) {
	raw, err := testAccount(t).MarshalCanonical()
	require.NoError(t, err)

	var got Account
	assert.ErrorIs(t, got.UnmarshalCanonical(raw[:20]), ErrInvalidAccount)
	assert.ErrorIs(t, got.UnmarshalCanonical(append(raw, 1)), ErrInvalidAccount)
	assert.ErrorIs(t, got.UnmarshalCanonical(nil), ErrInvalidAccount)
}

func TestMarshalWithoutEphemeral(t *testing.T) {
	_, err := (&Account{}).MarshalCanonical()
	assert.ErrorIs(t, err, ErrInvalidAccount)
}

func TestPublicKeyDependsOnIdentity(t *testing.T) {
	a := testAccount(t)
	b := testAccount(t)
	b.UIDVal = "other-user"
	assert.NotEqual(t, a.PublicKeyHex(), b.PublicKeyHex())

	c := testAccount(t)
	c.Pepper = bytes.Repeat([]byte{1}, 31)
	assert.NotEqual(t, a.PublicKeyHex(), c.PublicKeyHex())
}

func TestPublicKeyLayout(t *testing.T) {
	acct := testAccount(t)

	var pk []byte
	require.NotPanics(t, func() { pk = acct.PublicKey() })

	r := bcs.NewReader(pk)
	assert.Equal(t, acct.Issuer, r.String())
	commitment := r.ByteString()
	require.NoError(t, r.Done())
	assert.Equal(t, 0, acct.IdentityCommitment().Cmp(new(big.Int).SetBytes(commitment)))
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0x1", want: "0x" + strings.Repeat("0", 63) + "1"},
		{in: "0X0A", want: "0x" + strings.Repeat("0", 62) + "0a"},
		{in: strings.Repeat("ab", 32), want: "0x" + strings.Repeat("ab", 32)},
		{in: " 0xabc ", want: "0x" + strings.Repeat("0", 61) + "abc"},
		{in: "", wantErr: true},
		{in: "0x", wantErr: true},
		{in: "0xzz", wantErr: true},
		{in: "0x" + strings.Repeat("a", 65), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			acct := Account{Address: got}
			assert.Equal(t, tt.want, acct.AddressHex())
		})
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryKV()
	store := NewStore(kv)

	_, ok := store.Load(ctx)
	assert.False(t, ok)

	acct := testAccount(t)
	require.NoError(t, store.Save(ctx, acct))

	raw, err := kv.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, `{"__type":"KeylessAccount","data":[`))

	loaded, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, acct.AddressHex(), loaded.AddressHex())

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	_, ok = store.Load(ctx)
	assert.False(t, ok)
}

func TestStoreLoadTreatsGarbageAsAbsent(t *testing.T) {
	ctx := context.Background()
	for name, raw := range map[string]string{
		"not json":     "nope",
		"wrong type":   `{"__type":"Uint8Array","value":[1]}`,
		"truncated":    `{"__type":"KeylessAccount","data":[1,2,3]}`,
		"out of range": `{"__type":"KeylessAccount","data":[300]}`,
	} {
		t.Run(name, func(t *testing.T) {
			kv := storage.NewMemoryKV()
			require.NoError(t, kv.Set(ctx, StorageKey, raw))
			_, ok := NewStore(kv).Load(ctx)
			assert.False(t, ok)
		})
	}
}

func TestExpiredEphemeralStillDecodes(t *testing.T) {
	acct := testAccount(t)
	assert.True(t, acct.Ephemeral.Expired(time.Now()), "fixture expiry is in the past")

	data, err := tagged.MarshalOpaque(acct)
	require.NoError(t, err)
	var back Account
	require.NoError(t, tagged.UnmarshalOpaque(data, &back))
}

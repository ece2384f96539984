package tagged

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBigInt(t *testing.T) {
	huge, ok := new(big.Int).SetString("340282366920938463463374607431768211457", 10)
	require.True(t, ok)

	tests := []struct {
		name string
		in   BigInt
		want string
	}{
		{name: "zero value", in: BigInt{}, want: `{"__type":"bigint","value":"0"}`},
		{name: "expiry seconds", in: Uint64(1735689600), want: `{"__type":"bigint","value":"1735689600"}`},
		{name: "beyond uint64", in: NewBigInt(huge), want: `{"__type":"bigint","value":"340282366920938463463374607431768211457"}`},
		{name: "negative", in: NewBigInt(big.NewInt(-42)), want: `{"__type":"bigint","value":"-42"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var got BigInt
			require.NoError(t, json.Unmarshal(data, &got))
			assert.True(t, tt.in.Equal(got), "got %s want %s", got, tt.in)
		})
	}
}

func TestBigIntRejects(t *testing.T) {
	tests := map[string]string{
		"wrong tag":      `{"__type":"Uint8Array","value":"1"}`,
		"numeric value":  `{"__type":"bigint","value":12}`,
		"not decimal":    `{"__type":"bigint","value":"0x10"}`,
		"plain string":   `"12"`,
		"missing fields": `{}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			var got BigInt
			assert.Error(t, json.Unmarshal([]byte(in), &got))
		})
	}

	var got BigInt
	err := json.Unmarshal([]byte(`{"__type":"Uint8Array","value":"1"}`), &got)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestBytes(t *testing.T) {
	data, err := json.Marshal(Bytes{1, 2, 3, 255})
	require.NoError(t, err)
	assert.JSONEq(t, `{"__type":"Uint8Array","value":[1,2,3,255]}`, string(data))

	var got Bytes
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, Bytes{1, 2, 3, 255}, got)

	empty, err := json.Marshal(Bytes(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"__type":"Uint8Array","value":[]}`, string(empty))
	require.NoError(t, json.Unmarshal(empty, &got))
	assert.Empty(t, got)

	assert.Error(t, json.Unmarshal([]byte(`{"__type":"Uint8Array","value":[256]}`), &got))
	assert.Error(t, json.Unmarshal([]byte(`{"__type":"Uint8Array","value":[-1]}`), &got))
	assert.Error(t, json.Unmarshal([]byte(`{"__type":"Uint8Array","value":"AQID"}`), &got))
}

// counter is a minimal Codec: a big-endian uint32 with a label.
type counter struct {
	n uint32
}

func (c *counter) TypeName() string { return "Counter" }

func (c *counter) MarshalCanonical() ([]byte, error) {
	return binary.BigEndian.AppendUint32(nil, c.n), nil
}

func (c *counter) UnmarshalCanonical(b []byte) error {
	if len(b) != 4 {
		return errors.New("counter needs 4 bytes")
	}
	c.n = binary.BigEndian.Uint32(b)
	return nil
}

func TestOpaque(t *testing.T) {
	data, err := MarshalOpaque(&counter{n: 258})
	require.NoError(t, err)
	assert.JSONEq(t, `{"__type":"Counter","data":[0,0,1,2]}`, string(data))

	var got counter
	require.NoError(t, UnmarshalOpaque(data, &got))
	assert.Equal(t, uint32(258), got.n)

	t.Run("wrong type name", func(t *testing.T) {
		err := UnmarshalOpaque([]byte(`{"__type":"KeylessAccount","data":[0,0,1,2]}`), &got)
		assert.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("canonical decode failure", func(t *testing.T) {
		err := UnmarshalOpaque([]byte(`{"__type":"Counter","data":[1]}`), &got)
		assert.Error(t, err)
	})

	t.Run("missing data", func(t *testing.T) {
		err := UnmarshalOpaque([]byte(`{"__type":"Counter"}`), &got)
		assert.Error(t, err)
	})
}

func TestNestedRecord(t *testing.T) {
	type record struct {
		Expiry  BigInt `json:"expiryDateSecs"`
		Blinder Bytes  `json:"blinder"`
		Nonce   string `json:"nonce"`
	}

	in := record{Expiry: Uint64(99), Blinder: Bytes{9, 8}, Nonce: "123"}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"expiryDateSecs": {"__type":"bigint","value":"99"},
		"blinder": {"__type":"Uint8Array","value":[9,8]},
		"nonce": "123"
	}`, string(data))

	var out record
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Expiry.Equal(out.Expiry))
	assert.Equal(t, in.Blinder, out.Blinder)
	assert.Equal(t, in.Nonce, out.Nonce)
}

package kvparams

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uacore/eventcore/status"
)

func TestValidateRequiredMissing(t *testing.T) {
	restrictions := []Restriction{
		{Name: "recv-bufsize", Type: reflect.TypeOf(int(0)), Required: true},
	}
	err := Validate(nil, "tcp.open", restrictions, Map{})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArgument))
}

func TestValidateTypeMismatch(t *testing.T) {
	restrictions := []Restriction{
		{Name: "recv-bufsize", Type: reflect.TypeOf(int(0)), Required: true},
	}
	err := Validate(nil, "tcp.open", restrictions, Map{"recv-bufsize": "not-an-int"})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArgument))
}

func TestValidateArrayWhereScalarExpected(t *testing.T) {
	restrictions := []Restriction{
		{Name: "recv-bufsize", Type: reflect.TypeOf(int(0)), Cardinality: Scalar, Required: true},
	}
	err := Validate(nil, "tcp.open", restrictions, Map{"recv-bufsize": []int{1, 2}})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.ConnectionRejected))
}

func TestValidateScalarWhereArrayExpected(t *testing.T) {
	restrictions := []Restriction{
		{Name: "vlan-ids", Type: reflect.TypeOf(int(0)), Cardinality: Array, Required: true},
	}
	err := Validate(nil, "eth.open", restrictions, Map{"vlan-ids": 7})
	require.Error(t, err)
	assert.True(t, status.Is(err, status.ConnectionRejected))
}

func TestValidateSuccess(t *testing.T) {
	restrictions := []Restriction{
		{Name: "recv-bufsize", Type: reflect.TypeOf(int(0)), Required: true},
		{Name: "endpoint-url", Type: reflect.TypeOf(""), Required: false},
	}
	m := Map{"recv-bufsize": 65536, "endpoint-url": "opc.tcp://localhost:4840"}
	err := Validate(nil, "tcp.open", restrictions, m)
	require.NoError(t, err)

	// Validation must not mutate the input map.
	assert.Equal(t, 65536, m["recv-bufsize"])
	assert.Len(t, m, 2)
}

func TestValidateOptionalAbsentIsFine(t *testing.T) {
	restrictions := []Restriction{
		{Name: "endpoint-url", Type: reflect.TypeOf(""), Required: false},
	}
	err := Validate(nil, "tcp.open", restrictions, Map{})
	require.NoError(t, err)
}

func TestValidateArraySuccess(t *testing.T) {
	restrictions := []Restriction{
		{Name: "vlan-ids", Type: reflect.TypeOf(int(0)), Cardinality: Array, Required: true},
	}
	err := Validate(nil, "eth.open", restrictions, Map{"vlan-ids": []int{10, 20}})
	require.NoError(t, err)
}

package state_test

import (
	"fmt"
	"testing"

	"github.com/statechannels/wallet/state"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
)

func TestAsset(t *testing.T) {
	testCases := []struct {
		Asset             state.Asset
		WantTxnbuildAsset txnbuild.Asset
		WantIsNative      bool
		WantCode          string
		WantIssuer        string
	}{
		{state.Asset(""), txnbuild.NativeAsset{}, true, "", ""},
		{state.Asset("native"), txnbuild.NativeAsset{}, true, "", ""},
		{state.NativeAsset, txnbuild.NativeAsset{}, true, "", ""},
		{state.Asset(":"), txnbuild.CreditAsset{}, false, "", ""},
		{state.Asset("USD"), txnbuild.CreditAsset{Code: "USD"}, false, "USD", ""},
		{state.Asset("ABCD:GABCD"), txnbuild.CreditAsset{Code: "ABCD", Issuer: "GABCD"}, false, "ABCD", "GABCD"},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprint(tc.Asset), func(t *testing.T) {
			assert.Equal(t, tc.WantTxnbuildAsset, tc.Asset.Asset())
			assert.Equal(t, tc.WantIsNative, tc.Asset.IsNative())
			assert.Equal(t, tc.WantCode, tc.Asset.Code())
			assert.Equal(t, tc.WantIssuer, tc.Asset.Issuer())
		})
	}
}

func TestStringCanonical(t *testing.T) {
	testCases := []struct {
		Asset               state.Asset
		WantStringCanonical string
	}{
		{state.Asset(""), "native"},
		{state.Asset("native"), "native"},
		{state.NativeAsset, "native"},
		{state.Asset("ABCD:GABCD"), "ABCD:GABCD"},
		{state.Asset("USD"), "USD:"},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprint(tc.Asset), func(t *testing.T) {
			assert.Equal(t, tc.WantStringCanonical, tc.Asset.StringCanonical())
		})
	}
}

func TestAsset_Validate(t *testing.T) {
	issuer := keypair.MustRandom().Address()

	assert.NoError(t, state.NativeAsset.Validate())
	assert.NoError(t, state.Asset("USD:"+issuer).Validate())
	assert.Error(t, state.Asset("USD:GABCD").Validate())
	assert.Error(t, state.Asset("TOOLONGASSETCODE:"+issuer).Validate())
	assert.Error(t, state.Asset("USD").Validate())
	assert.Error(t, state.Asset("Native").Validate())
}

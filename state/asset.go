package state

import (
	"fmt"
	"strings"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

// Asset identifies what an outcome allocates and what a channel is funded
// with. It is either "native" or "CODE:ISSUER".
type Asset string

const NativeAsset = Asset("native")

// IsNative returns true if the asset is the native asset of the stellar
// network.
func (a Asset) IsNative() bool {
	return a == "" || a == NativeAsset
}

// Code returns the asset code.
func (a Asset) Code() string {
	return a.Asset().GetCode()
}

// Issuer returns the issuer of the asset.
func (a Asset) Issuer() string {
	return a.Asset().GetIssuer()
}

// Asset returns an asset from the stellar/go/txnbuild package with the
// same asset code and issuer, or a native asset if a native asset. A
// string with no issuer is a credit asset without one.
func (a Asset) Asset() txnbuild.Asset {
	if a.IsNative() {
		return txnbuild.NativeAsset{}
	}
	parts := strings.SplitN(string(a), ":", 2)
	if len(parts) == 1 {
		return txnbuild.CreditAsset{Code: parts[0]}
	}
	return txnbuild.CreditAsset{
		Code:   parts[0],
		Issuer: parts[1],
	}
}

// StringCanonical returns a string friendly representation of the asset in
// canonical form. Funding records are keyed by this form so that "" and
// "native" refer to the same holdings.
func (a Asset) StringCanonical() string {
	if a.IsNative() {
		return xdr.AssetTypeToString[xdr.AssetTypeAssetTypeNative]
	}
	return fmt.Sprintf("%s:%s", a.Code(), a.Issuer())
}

// Validate checks that the asset is native, or a credit asset with a well
// formed code and issuer.
func (a Asset) Validate() error {
	if a.IsNative() {
		return nil
	}
	if !strings.Contains(string(a), ":") {
		return fmt.Errorf("asset %q unrecognized, expected native or CODE:ISSUER", string(a))
	}
	ca, ok := a.Asset().(txnbuild.CreditAsset)
	if !ok {
		return fmt.Errorf("asset %q unrecognized", string(a))
	}
	_, err := ca.ToXDR()
	if err != nil {
		return fmt.Errorf("asset %q invalid: %w", string(a), err)
	}
	return nil
}

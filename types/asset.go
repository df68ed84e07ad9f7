package types

import (
	"fmt"
	"strings"
)

// AssetID identifies which token was burned on the source ledger.
type AssetID uint8

const (
	AssetXENCAT AssetID = 1
	AssetDGN    AssetID = 2
)

var assetNames = map[AssetID]string{
	AssetXENCAT: "XENCAT",
	AssetDGN:    "DGN",
}

// AssetFromID returns the asset for a raw id, or ErrUnknownAsset.
func AssetFromID(id uint8) (AssetID, error) {
	a := AssetID(id)
	if _, ok := assetNames[a]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownAsset, id)
	}
	return a, nil
}

func AssetFromName(name string) (AssetID, error) {
	for id, n := range assetNames {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
}

func (a AssetID) Known() bool {
	_, ok := assetNames[a]
	return ok
}

func (a AssetID) String() string {
	if n, ok := assetNames[a]; ok {
		return n
	}
	return fmt.Sprintf("asset(%d)", uint8(a))
}
